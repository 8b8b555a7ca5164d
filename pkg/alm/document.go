package alm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// DocumentData holds the fields of a document record.
type DocumentData struct {
	Title             string             `json:"title"`
	Status            *types.EnumOption  `json:"status"`
	HomePageContent   *types.Text        `json:"homePageContent"`
	AllowedWITypes    []types.EnumOption `json:"allowedWITypes"`
	StructureLinkRole *types.EnumOption  `json:"structureLinkRole"`

	ModuleName          string          `json:"moduleName"`
	ModuleFolder        string          `json:"moduleFolder"`
	Location            string          `json:"location"`
	Revision            int             `json:"revision"`
	DerivedFromURI      string          `json:"derivedFromURI"`
	DerivedFromRevision int             `json:"derivedFromRevision"`
	DerivedFields       []string        `json:"derivedFields"`
	Stale               bool            `json:"stale"`
	Author              string          `json:"author"`
	Created             *time.Time      `json:"created"`
	Updated             *time.Time      `json:"updated"`
	Comments            []types.Comment `json:"comments"`
}

var documentDiffable = []string{"title", "status", "homePageContent", "allowedWITypes", "structureLinkRole"}

// Document is a change-tracked document: an ordered hierarchy of work
// items held together by its structure link role.
type Document struct {
	DocumentData
	entity
	comments
}

func newDocument(c *Client, p *Project) *Document {
	d := &Document{}
	d.entity = entity{client: c, name: "document", project: p, data: &d.DocumentData, diffable: documentDiffable}
	d.addressable(session.ServiceTracker, "getModuleByUri", "updateModule")
	d.comments = comments{e: &d.entity, list: func() []types.Comment { return d.Comments }}
	return d
}

// Document fetches the document an identifier names.
func (c *Client) Document(ctx context.Context, uri string) (*Document, error) {
	return c.documentAt(ctx, nil, uri)
}

func (c *Client) documentAt(ctx context.Context, p *Project, uri string) (*Document, error) {
	if err := checkTag(uri, types.TagModule); err != nil {
		return nil, err
	}
	d := newDocument(c, p)
	d.uri = uri
	if err := d.open(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) tracker(ctx context.Context, operation string, out any, params ...any) error {
	if d.deleted {
		return fmt.Errorf("%s on %s: %w", operation, d.uri, types.ErrStaleEntity)
	}
	if err := d.client.call(ctx, session.ServiceTracker, operation, out, params...); err != nil {
		return fmt.Errorf("%s on %s: %w", operation, d.uri, err)
	}
	return nil
}

// IsDerived reports whether the document was reused from another one.
func (d *Document) IsDerived() bool {
	return d.DerivedFromURI != ""
}

// IsStale reports whether the source of a derived document changed since
// the document was derived or last updated from it.
func (d *Document) IsStale() bool {
	return d.Stale
}

// Allows reports whether work items of typeID may be placed in the
// document. A document without allowed types accepts any.
func (d *Document) Allows(typeID string) bool {
	if len(d.AllowedWITypes) == 0 {
		return true
	}
	return slices.ContainsFunc(d.AllowedWITypes, func(o types.EnumOption) bool { return o.ID == typeID })
}

func (d *Document) checkType(typeID string) error {
	if !d.Allows(typeID) {
		return fmt.Errorf("%w: %q in document %s", types.ErrTypeNotAllowed, typeID, d.Location)
	}
	return nil
}

// WorkItemURIs returns the work items directly below parent, or below the
// top level when parent is nil, in document order. With deep set every
// descendant is included, depth first.
func (d *Document) WorkItemURIs(ctx context.Context, parent *WorkItem, deep bool) ([]string, error) {
	parentURI := ""
	if parent != nil {
		parentURI = parent.uri
	}
	var uris []string
	if err := d.tracker(ctx, "getModuleWorkItemUris", &uris, d.uri, parentURI, deep); err != nil {
		return nil, err
	}
	return uris, nil
}

// WorkItems fetches the work items WorkItemURIs names.
func (d *Document) WorkItems(ctx context.Context, parent *WorkItem, deep bool) ([]*WorkItem, error) {
	uris, err := d.WorkItemURIs(ctx, parent, deep)
	if err != nil {
		return nil, err
	}
	return fetchAll(ctx, uris, func(ctx context.Context, uri string) (*WorkItem, error) {
		return d.client.WorkItem(ctx, uri)
	})
}

// TopLevelWorkItem fetches the first work item at the top of the document.
func (d *Document) TopLevelWorkItem(ctx context.Context) (*WorkItem, error) {
	uris, err := d.WorkItemURIs(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	if len(uris) == 0 {
		return nil, fmt.Errorf("%w: document %s is empty", types.ErrNotFound, d.Location)
	}
	return d.client.WorkItem(ctx, uris[0])
}

// CreateWorkItem creates a work item of typeID inside the document, below
// parent or at the top level when parent is nil.
func (d *Document) CreateWorkItem(ctx context.Context, parent *WorkItem, typeID string, data *WorkItemData) (*WorkItem, error) {
	if err := d.checkType(typeID); err != nil {
		return nil, err
	}
	values, err := creationValues(typeID, data)
	if err != nil {
		return nil, err
	}
	parentURI := ""
	if parent != nil {
		parentURI = parent.uri
	}
	var uri string
	if err := d.tracker(ctx, "createWorkItemInModule", &uri, d.uri, parentURI, values); err != nil {
		return nil, err
	}
	return d.client.WorkItem(ctx, uri)
}

// AddWorkItem moves an existing work item into the document.
func (d *Document) AddWorkItem(ctx context.Context, w *WorkItem, parent *WorkItem) error {
	if err := d.checkType(types.OptionID(w.Type)); err != nil {
		return err
	}
	return w.MoveToDocument(ctx, d, parent)
}

// AddDocumentComment posts a comment on the document itself.
func (d *Document) AddDocumentComment(ctx context.Context, body *types.Text) error {
	if err := checkCommentText(body); err != nil {
		return err
	}
	if err := d.tracker(ctx, "createDocumentComment", nil, d.uri, body); err != nil {
		return err
	}
	return d.Reload(ctx)
}

// CommentOnWorkItem posts a document comment that refers to w.
func (d *Document) CommentOnWorkItem(ctx context.Context, w *WorkItem, body *types.Text) error {
	if err := checkCommentText(body); err != nil {
		return err
	}
	if err := d.tracker(ctx, "createDocumentCommentReferringWI", nil, d.uri, w.uri, body); err != nil {
		return err
	}
	return d.Reload(ctx)
}

// ReplyToComment posts a reply to a document comment.
func (d *Document) ReplyToComment(ctx context.Context, parent *Comment, body *types.Text) error {
	if err := checkCommentText(body); err != nil {
		return err
	}
	if err := d.tracker(ctx, "createDocumentCommentReply", nil, parent.URI, body); err != nil {
		return err
	}
	return d.Reload(ctx)
}

// Reuse derives a copy of the document into space/name of target. Each work
// item is copied with the inherited fields and linked to its source with
// linkRole.
func (d *Document) Reuse(ctx context.Context, target *Project, space, name, linkRole string, inherited []string) (*Document, error) {
	if inherited == nil {
		inherited = []string{}
	}
	var uri string
	if err := d.tracker(ctx, "reuseDocument", &uri, d.uri, target.id, space, name, linkRole, inherited); err != nil {
		return nil, err
	}
	return d.client.documentAt(ctx, target, uri)
}

// UpdateFromSource copies the inherited fields from the source document
// again and clears the stale flag. The server rejects documents that are
// not derived.
func (d *Document) UpdateFromSource(ctx context.Context) error {
	if err := d.tracker(ctx, "updateDerivedDocument", nil, d.uri); err != nil {
		return err
	}
	return d.Reload(ctx)
}

// Delete removes the document. Its work items are kept.
func (d *Document) Delete(ctx context.Context) error {
	if err := d.tracker(ctx, "deleteModule", nil, d.uri); err != nil {
		return err
	}
	d.markDeleted()
	return nil
}
