package alm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Constructor builds the entity an identifier names. project is the owning
// project when the caller already holds it, or nil.
type Constructor func(ctx context.Context, c *Client, project *Project, uri string) (Entity, error)

// Registry maps identifier type tags to entity constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register associates a type tag (matched case-insensitively, as ParseURI
// lowercases it) with a constructor, replacing any earlier one.
func (r *Registry) Register(tag string, fn Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strings.ToLower(tag)] = fn
}

// Tags returns the registered type tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		tags = append(tags, t)
	}
	return tags
}

// Resolve parses the type tag out of uri and runs the constructor
// registered for it. A malformed identifier yields
// types.ErrMalformedIdentifier and an unregistered tag
// types.ErrUnknownEntityType; neither contacts the server.
func (r *Registry) Resolve(ctx context.Context, c *Client, project *Project, uri string) (Entity, error) {
	u, err := types.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	fn, ok := r.constructors[u.Tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", types.ErrUnknownEntityType, u.Tag, uri)
	}
	return fn(ctx, c, project, uri)
}

// RegisterDefaults registers the entity types of this package: work items,
// test runs, plans, documents and users.
func RegisterDefaults(r *Registry) {
	r.Register(types.TagWorkItem, func(ctx context.Context, c *Client, p *Project, uri string) (Entity, error) {
		w, err := c.workItemAt(ctx, p, uri)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
	r.Register(types.TagTestRun, func(ctx context.Context, c *Client, p *Project, uri string) (Entity, error) {
		t, err := c.testRunAt(ctx, p, uri)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	r.Register(types.TagPlan, func(ctx context.Context, c *Client, p *Project, uri string) (Entity, error) {
		pl, err := c.planAt(ctx, p, uri)
		if err != nil {
			return nil, err
		}
		return pl, nil
	})
	r.Register(types.TagModule, func(ctx context.Context, c *Client, p *Project, uri string) (Entity, error) {
		d, err := c.documentAt(ctx, p, uri)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	r.Register(types.TagUser, func(ctx context.Context, c *Client, _ *Project, uri string) (Entity, error) {
		u, err := c.UserByURI(ctx, uri)
		if err != nil {
			return nil, err
		}
		return u, nil
	})
}
