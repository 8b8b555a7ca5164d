package alm

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// comments gives an entity a comment thread. Comments are server state:
// they are never diffed, and every change reloads the owner.
type comments struct {
	e    *entity
	list func() []types.Comment
}

// Comment is one comment of an entity.
type Comment struct {
	types.Comment
	owner *comments
}

// AddComment posts a comment on the entity, or a reply to parent when
// parent is not nil. Replies are untitled, so title is dropped for them.
// The entity is reloaded afterwards.
func (h *comments) AddComment(ctx context.Context, title string, body *types.Text, parent *Comment) error {
	if err := checkCommentText(body); err != nil {
		return err
	}
	target := h.e.uri
	var titleParam *string
	if parent != nil {
		target = parent.URI
	} else {
		titleParam = &title
	}

	if err := h.e.client.call(ctx, session.ServiceTracker, "addComment", nil, target, titleParam, body); err != nil {
		return fmt.Errorf("comment on %s: %w", h.e.uri, err)
	}
	return h.e.Reload(ctx)
}

// ListComments yields the comments of the entity in creation order, as of
// the last load.
func (h *comments) ListComments() iter.Seq[*Comment] {
	return func(yield func(*Comment) bool) {
		for _, c := range h.list() {
			if !yield(&Comment{Comment: c, owner: h}) {
				return
			}
		}
	}
}

// comment returns the comment at uri, or nil.
func (h *comments) comment(uri string) *Comment {
	for c := range h.ListComments() {
		if c.URI == uri {
			return c
		}
	}
	return nil
}

// Parent returns the comment this one replies to, or nil for a root
// comment.
func (c *Comment) Parent() *Comment {
	if c.ParentCommentURI == "" {
		return nil
	}
	return c.owner.comment(c.ParentCommentURI)
}

// Replies returns the direct replies to this comment.
func (c *Comment) Replies() []*Comment {
	var out []*Comment
	for other := range c.owner.ListComments() {
		if slices.Contains(c.ChildCommentURIs, other.URI) {
			out = append(out, other)
		}
	}
	return out
}

// Reply posts an untitled reply to this comment.
func (c *Comment) Reply(ctx context.Context, body *types.Text) error {
	return c.owner.AddComment(ctx, "", body, c)
}

// SetResolved marks the comment resolved or open again.
func (c *Comment) SetResolved(ctx context.Context, resolved bool) error {
	if err := c.owner.e.client.call(ctx, session.ServiceTracker, "setResolvedComment", nil, c.URI, resolved); err != nil {
		return fmt.Errorf("resolve comment %s: %w", c.URI, err)
	}
	return c.owner.e.Reload(ctx)
}

// SetTags replaces the tags of the comment.
func (c *Comment) SetTags(ctx context.Context, tags []string) error {
	if err := c.owner.e.client.call(ctx, session.ServiceTracker, "setCommentTags", nil, c.URI, tags); err != nil {
		return fmt.Errorf("tag comment %s: %w", c.URI, err)
	}
	return c.owner.e.Reload(ctx)
}

func checkCommentText(body *types.Text) error {
	if body == nil || (body.Type != types.TextHTML && body.Type != types.TextPlain) {
		return types.ErrInvalidCommentType
	}
	return nil
}
