package alm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/sqlite"
	"github.com/mesh-intelligence/almsync/internal/testutil"
	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func TestResolve_DispatchesByTag(t *testing.T) {
	c, _ := connect(t)

	tests := []struct {
		name string
		uri  string
		want alm.Entity
		id   string
	}{
		{"work item", workItemURI("PROJ-2"), &alm.WorkItem{}, "PROJ-2"},
		{"test run", testRunURI("RUN-1"), &alm.TestRun{}, "RUN-1"},
		{"plan", planURI("RELEASE-1"), &alm.Plan{}, "RELEASE-1"},
		{"document", documentURI("Specifications/Login"), &alm.Document{}, "Specifications/Login"},
		{"user", sqlite.UserURI(sqlite.DemoUser), &alm.User{}, sqlite.DemoUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := c.Resolve(context.Background(), tt.uri)
			require.NoError(t, err)
			assert.IsType(t, tt.want, e)
			assert.Equal(t, tt.uri, e.URI())
			assert.Equal(t, tt.id, e.ID())
		})
	}
}

func TestResolve_RoundTrip(t *testing.T) {
	c, _ := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")

	e, err := c.Resolve(context.Background(), w.URI())
	require.NoError(t, err)
	again, ok := e.(*alm.WorkItem)
	require.True(t, ok)
	assert.Equal(t, w.Baseline(), again.Baseline())
	assert.NotSame(t, w, again)
}

func TestResolve_MalformedIdentifiers(t *testing.T) {
	c, rec := connect(t)
	rec.reset()

	for _, uri := range []string{
		"",
		"PROJ-1",
		"https://alm.example.com/PROJ-1",
		"subterra:data-service:objects:/default/PROJ$WorkItemPROJ-1",
		"subterra:data-service:objects:/default/PROJ${WorkItem}${Plan}PROJ-1",
	} {
		t.Run(uri, func(t *testing.T) {
			_, err := c.Resolve(context.Background(), uri)
			require.ErrorIs(t, err, types.ErrMalformedIdentifier)
		})
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.calls, "malformed identifiers never reach the server")
}

func TestResolve_UnknownType(t *testing.T) {
	c, _ := connect(t)

	_, err := c.Resolve(context.Background(), types.ObjectURI(sqlite.DemoProject, "Widget", "W-1"))
	require.ErrorIs(t, err, types.ErrUnknownEntityType)
}

func TestResolve_Unresolvable(t *testing.T) {
	c, _ := connect(t)

	tests := []string{
		workItemURI("PROJ-999"),
		testRunURI("RUN-999"),
		planURI("NOPE"),
		documentURI("Specifications/Missing"),
	}
	for _, uri := range tests {
		t.Run(uri, func(t *testing.T) {
			_, err := c.Resolve(context.Background(), uri)
			require.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestTypedGetters_RejectOtherTags(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)

	_, err := c.WorkItem(ctx, planURI("RELEASE-1"))
	require.ErrorIs(t, err, types.ErrMalformedIdentifier)
	_, err = c.TestRun(ctx, workItemURI("PROJ-1"))
	require.ErrorIs(t, err, types.ErrMalformedIdentifier)
	_, err = c.Plan(ctx, testRunURI("RUN-1"))
	require.ErrorIs(t, err, types.ErrMalformedIdentifier)
	_, err = c.Document(ctx, workItemURI("PROJ-1"))
	require.ErrorIs(t, err, types.ErrMalformedIdentifier)
	_, err = c.UserByURI(ctx, workItemURI("PROJ-1"))
	require.ErrorIs(t, err, types.ErrMalformedIdentifier)
}

type widget struct{ uri string }

func (w widget) URI() string { return w.uri }
func (w widget) ID() string  { return types.LocalID(w.uri) }

func TestRegistry_CustomConstructor(t *testing.T) {
	srv := testutil.NewServer(t)
	r := alm.NewRegistry()
	alm.RegisterDefaults(r)
	r.Register("Widget", func(_ context.Context, _ *alm.Client, _ *alm.Project, uri string) (alm.Entity, error) {
		return widget{uri: uri}, nil
	})
	assert.Contains(t, r.Tags(), "widget")

	c, err := alm.Connect(context.Background(), srv.Config(), alm.WithRegistry(r))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	assert.Same(t, r, c.Registry())

	uri := types.ObjectURI(sqlite.DemoProject, "WIDGET", "W-7")
	e, err := c.Resolve(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, widget{uri: uri}, e)
	assert.Equal(t, "W-7", e.ID())

	e, err = c.Resolve(context.Background(), workItemURI("PROJ-1"))
	require.NoError(t, err)
	assert.IsType(t, &alm.WorkItem{}, e)

	r.Register(types.TagWorkItem, func(_ context.Context, _ *alm.Client, _ *alm.Project, uri string) (alm.Entity, error) {
		return widget{uri: uri}, nil
	})
	e, err = c.Resolve(context.Background(), workItemURI("PROJ-1"))
	require.NoError(t, err)
	assert.Equal(t, widget{uri: workItemURI("PROJ-1")}, e, "a later registration replaces the earlier one")
}
