package alm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/sqlite"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func TestProjectGroup_Navigation(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)

	root, err := c.ProjectGroup(ctx, "Demo")
	require.NoError(t, err)
	assert.Equal(t, sqlite.GroupURI("Demo"), root.URI())

	groups, err := root.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Shared", groups[0].Name)
	assert.Equal(t, root.URI(), groups[0].ParentURI)

	projects, err := root.Projects(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range projects {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{sqlite.DemoLibrary, sqlite.DemoProject}, ids)

	shared, err := root.Find(ctx, "Shared")
	require.NoError(t, err)
	assert.Equal(t, "Demo/Shared", shared.Location)

	_, err = root.Find(ctx, "Nowhere")
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = c.ProjectGroup(ctx, "Nowhere")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestProjectGroup_WorkItems(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	root, err := c.ProjectGroup(ctx, "Demo")
	require.NoError(t, err)

	found, err := root.SearchWorkItems(ctx, "type:task", "id", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "PROJ-3", found[0].ID())

	w, err := root.WorkItem(ctx, "PROJ-2")
	require.NoError(t, err)
	assert.Equal(t, "Verify login", w.Title)

	_, err = root.WorkItem(ctx, "PROJ-404")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	p := demoProject(t, c)

	users, err := p.Users(ctx)
	require.NoError(t, err)
	var ids []string
	for _, u := range users {
		ids = append(ids, u.ID())
	}
	assert.ElementsMatch(t, []string{sqlite.DemoUser, "bob", sqlite.DemoReader}, ids)

	tests := []struct {
		needle string
		want   string
	}{
		{"bob", "bob"},
		{"BOB", "bob"},
		{"carol reader", sqlite.DemoReader},
	}
	for _, tt := range tests {
		t.Run(tt.needle, func(t *testing.T) {
			u, err := p.FindUser(ctx, tt.needle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.ID())
		})
	}
	_, err = p.FindUser(ctx, "mallory")
	require.ErrorIs(t, err, types.ErrNotFound)

	alice, err := c.User(ctx, sqlite.DemoUser)
	require.NoError(t, err)
	assert.Equal(t, "Alice Admin (alice)", alice.String())
	assert.Equal(t, "alice@example.com", alice.Email)
	byURI, err := c.UserByURI(ctx, sqlite.UserURI(sqlite.DemoUser))
	require.NoError(t, err)
	assert.True(t, alice.Equal(byURI))

	bob, err := c.User(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, alice.Equal(bob))

	_, err = c.User(ctx, "mallory")
	require.ErrorIs(t, err, types.ErrNotFound)
}
