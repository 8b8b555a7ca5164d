package alm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func loadPlan(t *testing.T, c *alm.Client, id string) *alm.Plan {
	t.Helper()
	pl, err := c.Plan(context.Background(), planURI(id))
	require.NoError(t, err)
	return pl
}

func TestPlan_Contents(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	pl := loadPlan(t, c, "RELEASE-1")

	assert.Equal(t, "Release 1", pl.Name)
	assert.Equal(t, "2026-01-05", pl.StartDate)
	assert.Equal(t, []string{workItemURI("PROJ-1"), workItemURI("PROJ-3")}, pl.WorkItemURIs())

	items, err := pl.WorkItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "PROJ-1", items[0].ID())
	assert.Equal(t, "PROJ-3", items[1].ID())
}

func TestPlan_Membership(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	pl := loadPlan(t, c, "RELEASE-1")

	require.NoError(t, pl.AddAllowedType(ctx, "requirement"))
	require.NoError(t, pl.AddAllowedType(ctx, "task"))
	assert.True(t, pl.Allows("task"))
	assert.False(t, pl.Allows("testcase"))

	rec.reset()
	tc := loadWorkItem(t, c, "PROJ-2")
	require.ErrorIs(t, pl.AddWorkItem(ctx, tc), types.ErrTypeNotAllowed)
	assert.Empty(t, rec.ops("addPlanItems"), "the type is checked before calling the server")

	require.NoError(t, pl.RemoveAllowedType(ctx, "task"))
	require.NoError(t, pl.RemoveAllowedType(ctx, "requirement"))
	assert.Empty(t, pl.AllowedTypes)

	require.NoError(t, pl.AddWorkItem(ctx, tc))
	assert.Contains(t, pl.WorkItemURIs(), tc.URI())
	require.NoError(t, tc.Reload(ctx))
	assert.Contains(t, tc.PlannedIn, pl.URI())

	task := loadWorkItem(t, c, "PROJ-3")
	require.NoError(t, pl.RemoveWorkItem(ctx, task))
	assert.Equal(t, []string{workItemURI("PROJ-1"), tc.URI()}, pl.WorkItemURIs())
}

func TestPlan_Dates(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	pl := loadPlan(t, c, "RELEASE-1")
	rec.reset()

	due := time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, pl.SetDueDate(ctx, due))
	assert.Equal(t, "2026-04-30", pl.DueDate)

	started := time.Date(2026, time.January, 6, 9, 30, 0, 0, time.UTC)
	finished := started.Add(90 * 24 * time.Hour)
	require.NoError(t, pl.Edit(ctx, func() error {
		if err := pl.Start(ctx, started); err != nil {
			return err
		}
		return pl.Finish(ctx, finished)
	}))
	assert.Len(t, rec.ops("updatePlan"), 2, "one save for the due date, one for the edit scope")

	fresh := loadPlan(t, c, "RELEASE-1")
	assert.Equal(t, "2026-04-30", fresh.DueDate)
	require.NotNil(t, fresh.StartedOn)
	require.NotNil(t, fresh.FinishedOn)
	assert.True(t, started.Equal(*fresh.StartedOn))
	assert.True(t, finished.Equal(*fresh.FinishedOn))
}

func TestPlan_Hierarchy(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	p := demoProject(t, c)

	sprint, err := p.CreatePlan(ctx, "Sprint 1", "SPRINT-1", "RELEASE-1", "")
	require.NoError(t, err)
	assert.Equal(t, planURI("RELEASE-1"), sprint.ParentURI)

	parent, err := sprint.Parent(ctx)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "RELEASE-1", parent.ID())

	top, err := parent.Parent(ctx)
	require.NoError(t, err)
	assert.Nil(t, top)

	children, err := parent.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "SPRINT-1", children[0].ID())

	found, err := p.SearchPlans(ctx, "name:Sprint*", "", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, sprint.URI(), found[0].URI())
}

func TestPlan_CustomFieldsAndDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	p := demoProject(t, c)
	pl, err := p.Plan(ctx, "RELEASE-1")
	require.NoError(t, err)

	require.NoError(t, pl.SetCustomField(ctx, "goal", "Ship login"))
	v, ok := pl.CustomField("goal")
	require.True(t, ok)
	assert.Equal(t, "Ship login", v)

	require.NoError(t, pl.Delete(ctx))
	pl.Name = "Gone"
	require.ErrorIs(t, pl.Save(ctx), types.ErrStaleEntity)
	require.ErrorIs(t, pl.AddAllowedType(ctx, "task"), types.ErrStaleEntity)

	_, err = p.Plan(ctx, "RELEASE-1")
	require.ErrorIs(t, err, types.ErrNotFound)
}
