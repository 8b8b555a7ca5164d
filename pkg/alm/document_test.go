package alm_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/sqlite"
	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func loadDocument(t *testing.T, c *alm.Client) *alm.Document {
	t.Helper()
	d, err := demoProject(t, c).Document(context.Background(), "Specifications/Login")
	require.NoError(t, err)
	return d
}

func TestDocument_Structure(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	d := loadDocument(t, c)

	assert.Equal(t, "Login Specification", d.Title)
	assert.Equal(t, "Specifications", d.ModuleFolder)
	assert.Equal(t, "Login", d.ModuleName)
	assert.Equal(t, documentURI("Specifications/Login"), d.URI())
	assert.False(t, d.IsDerived())

	top, err := d.TopLevelWorkItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", top.ID())

	child, err := d.CreateWorkItem(ctx, top, "testcase", &alm.WorkItemData{Title: "Verify lockout"})
	require.NoError(t, err)
	assert.Equal(t, d.URI(), child.ModuleURI)

	shallow, err := d.WorkItemURIs(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{top.URI()}, shallow)

	deep, err := d.WorkItems(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, deep, 2)
	assert.Equal(t, child.URI(), deep[1].URI())

	below, err := d.WorkItemURIs(ctx, top, false)
	require.NoError(t, err)
	assert.Equal(t, []string{child.URI()}, below)

	_, err = d.CreateWorkItem(ctx, nil, "task", &alm.WorkItemData{Title: "Not a spec item"})
	require.ErrorIs(t, err, types.ErrTypeNotAllowed)

	task := loadWorkItem(t, c, "PROJ-3")
	require.ErrorIs(t, d.AddWorkItem(ctx, task, nil), types.ErrTypeNotAllowed)

	tc := loadWorkItem(t, c, "PROJ-2")
	require.NoError(t, d.AddWorkItem(ctx, tc, nil))
	assert.Equal(t, d.URI(), tc.ModuleURI)
}

func TestDocument_Save(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	d := loadDocument(t, c)
	before := d.Revision
	rec.reset()

	d.Title = "Login and Session Specification"
	d.Status = types.Enum("published")
	require.NoError(t, d.Save(ctx))

	require.Len(t, rec.ops("updateModule"), 1)
	assert.Equal(t, before+1, d.Revision)
	assert.Equal(t, "Login and Session Specification", d.Title)
}

func TestDocument_Comments(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	d := loadDocument(t, c)
	w := loadWorkItem(t, c, "PROJ-1")

	require.NoError(t, d.AddDocumentComment(ctx, types.Plain("Ready for review.")))
	require.NoError(t, d.CommentOnWorkItem(ctx, w, types.HTML("<p>Clarify valid.</p>")))

	all := slices.Collect(d.ListComments())
	require.Len(t, all, 2)
	assert.Empty(t, all[0].ReferredWorkItemURI)
	assert.Equal(t, w.URI(), all[1].ReferredWorkItemURI)

	require.NoError(t, d.ReplyToComment(ctx, all[1], types.Plain("Done.")))
	all = slices.Collect(d.ListComments())
	require.Len(t, all, 3)
	replies := all[1].Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "Done.", replies[0].Text.Content)

	require.ErrorIs(t, d.AddDocumentComment(ctx, &types.Text{Type: "text/rtf"}), types.ErrInvalidCommentType)
}

func TestDocument_Reuse(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	d := loadDocument(t, c)
	lib, err := c.Project(ctx, sqlite.DemoLibrary)
	require.NoError(t, err)

	derived, err := d.Reuse(ctx, lib, "Reused", "Login", "derived_from", []string{"title"})
	require.NoError(t, err)
	assert.True(t, derived.IsDerived())
	assert.False(t, derived.IsStale())
	assert.Equal(t, d.URI(), derived.DerivedFromURI)
	assert.Equal(t, "Login Specification", derived.Title)

	copies, err := derived.WorkItems(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	copied := copies[0]
	assert.Equal(t, "Login accepts valid credentials", copied.Title)
	links, err := copied.OutgoingLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "derived_from", links[0].Role)
	assert.Equal(t, "PROJ-1", links[0].Item.ID())

	source := loadWorkItem(t, c, "PROJ-1")
	source.Title = "Login accepts valid credentials within five attempts"
	require.NoError(t, source.Save(ctx))

	require.NoError(t, derived.Reload(ctx))
	assert.True(t, derived.IsStale())

	require.NoError(t, derived.UpdateFromSource(ctx))
	assert.False(t, derived.IsStale())
	require.NoError(t, copied.Reload(ctx))
	assert.Equal(t, source.Title, copied.Title)

	require.Error(t, d.UpdateFromSource(ctx), "the source itself is not derived")
}

func TestDocument_Listing(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	p := demoProject(t, c)

	created, err := p.CreateDocument(ctx, "Specifications", "Reports", "Reporting", []string{"requirement"}, "", types.HTML("<h1>Reports</h1>"))
	require.NoError(t, err)
	assert.Equal(t, "Specifications/Reports", created.Location)
	assert.Equal(t, "parent", types.OptionID(created.StructureLinkRole))
	assert.Equal(t, "<h1>Reports</h1>", types.TextContent(created.HomePageContent))

	spaces, err := p.DocumentSpaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Specifications"}, spaces)

	locations, err := p.DocumentLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Specifications/Login", "Specifications/Reports"}, locations)

	docs, err := p.DocumentsInSpace(ctx, "Specifications")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Login Specification", docs[0].Title)
	assert.Equal(t, "Reporting", docs[1].Title)

	require.NoError(t, created.Delete(ctx))
	require.ErrorIs(t, created.AddDocumentComment(ctx, types.Plain("late")), types.ErrStaleEntity)
	_, err = p.Document(ctx, "Specifications/Reports")
	require.ErrorIs(t, err, types.ErrNotFound)
}
