package alm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Service names, re-exported for HasService.
const (
	ServiceSession        = session.ServiceSession
	ServiceProject        = session.ServiceProject
	ServiceTracker        = session.ServiceTracker
	ServicePlanning       = session.ServicePlanning
	ServiceTestManagement = session.ServiceTestManagement
)

// Option configures a Client.
type Option func(*options)

type options struct {
	session  []session.Option
	registry *Registry
}

// WithTransport injects the HTTP round tripper used for every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.session = append(o.session, session.WithTransport(rt)) }
}

// WithRegistry replaces the default entity registry used by Resolve.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// Client is a connected session with an ALM server. It is safe for
// concurrent use; the entities it returns are not.
type Client struct {
	session  *session.Manager
	registry *Registry
}

// Connect validates cfg, discovers the server's services and logs in.
func Connect(ctx context.Context, cfg types.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
		RegisterDefaults(o.registry)
	}

	m, err := session.New(cfg, o.session...)
	if err != nil {
		return nil, err
	}
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	return &Client{session: m, registry: o.registry}, nil
}

// Close ends the remote session.
func (c *Client) Close(ctx context.Context) error {
	return c.session.Close(ctx)
}

// HasService reports whether the server publishes the named service.
func (c *Client) HasService(name string) bool {
	return c.session.HasService(name)
}

// Registry returns the registry Resolve dispatches through.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Resolve returns the entity an identifier names, typed by the constructor
// registered for its type tag.
func (c *Client) Resolve(ctx context.Context, uri string) (Entity, error) {
	return c.registry.Resolve(ctx, c, nil, uri)
}

// call invokes operation on service and decodes the result into out.
func (c *Client) call(ctx context.Context, service, operation string, out any, params ...any) error {
	svc, err := c.session.Service(ctx, service)
	if err != nil {
		return err
	}
	return svc.Call(ctx, operation, out, params...)
}

// Download returns the bytes of an attachment: fetched through the side
// channel when it carries a URL, decoded from its inline data otherwise.
func (c *Client) Download(ctx context.Context, a types.Attachment) ([]byte, error) {
	if a.URL != "" {
		return c.session.Download(ctx, a.URL)
	}
	if a.Data == "" {
		return nil, fmt.Errorf("%w: %s has no content", types.ErrAttachmentNotFound, a.ID)
	}
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", a.ID, err)
	}
	return data, nil
}
