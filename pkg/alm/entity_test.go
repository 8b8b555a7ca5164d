package alm_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func TestSave_SendsOnlyChangedFields(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")
	rec.reset()

	w.Title = "Login accepts valid and remembered credentials"
	require.NoError(t, w.Save(ctx))

	updates := rec.ops("updateWorkItem")
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Params, 1)
	want, err := json.Marshal(map[string]any{"uri": w.URI(), "title": w.Title})
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(updates[0].Params[0]))

	fresh := loadWorkItem(t, c, "PROJ-1")
	assert.Equal(t, "Login accepts valid and remembered credentials", fresh.Title)
	assert.Equal(t, "must_have", types.OptionID(fresh.Severity))
}

func TestSave_WithoutChangesIsNoop(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	w := loadWorkItem(t, c, "PROJ-3")
	rec.reset()

	require.NoError(t, w.Save(ctx))
	require.NoError(t, w.Save(ctx))
	assert.Empty(t, rec.ops("updateWorkItem"))

	w.Title = "Build the login page"
	require.NoError(t, w.Save(ctx))
	require.NoError(t, w.Save(ctx))
	assert.Len(t, rec.ops("updateWorkItem"), 1)
}

func TestSave_FailureKeepsChangesPending(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")
	rec.reset()
	rec.failNext("updateWorkItem", 1)

	w.Title = "Saved on the second attempt"
	err := w.Save(ctx)
	require.ErrorIs(t, err, errTransport)

	delta, err := w.Delta()
	require.NoError(t, err)
	assert.Equal(t, types.Fields{"title": "Saved on the second attempt"}, delta)
	assert.Equal(t, "Login accepts valid credentials", w.Baseline()["title"])

	require.NoError(t, w.Save(ctx))
	updates := rec.ops("updateWorkItem")
	require.Len(t, updates, 2)
	assert.JSONEq(t, string(updates[0].Params[0]), string(updates[1].Params[0]))

	delta, err = w.Delta()
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, "Saved on the second attempt", w.Baseline()["title"])
	assert.Equal(t, "Saved on the second attempt", loadWorkItem(t, c, "PROJ-1").Title)
}

func TestBaseline_IsIndependentSnapshot(t *testing.T) {
	c, _ := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")

	before := w.Baseline()
	w.Title = "changed"
	assert.Equal(t, "Login accepts valid credentials", before["title"])
	assert.Equal(t, "Login accepts valid credentials", w.Baseline()["title"])

	before["title"] = "tampered"
	assert.Equal(t, "Login accepts valid credentials", w.Baseline()["title"])

	delta, err := w.Delta()
	require.NoError(t, err)
	assert.Equal(t, types.Fields{"title": "changed"}, delta)
}

func TestSave_ReloadAbsorbsServerChanges(t *testing.T) {
	ctx := context.Background()
	c, _ := connect(t)
	w := loadWorkItem(t, c, "PROJ-3")
	require.Nil(t, w.Resolution)

	require.NoError(t, w.SetStatus(ctx, "inprogress"))
	require.NoError(t, w.SetStatus(ctx, "done"))

	assert.Equal(t, "done", types.OptionID(w.Status))
	assert.Equal(t, "done", types.OptionID(w.Resolution), "resolution set by the workflow")

	delta, err := w.Delta()
	require.NoError(t, err)
	assert.Empty(t, delta)

	fresh := loadWorkItem(t, c, "PROJ-3")
	assert.Equal(t, fresh.Baseline(), w.Baseline())
}

func TestEdit_FlushesOnce(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")
	rec.reset()

	err := w.Edit(ctx, func() error {
		w.Title = "Batched title"
		if err := w.Save(ctx); err != nil {
			return err
		}
		return w.Edit(ctx, func() error {
			w.Severity = types.Enum("should_have")
			return w.Save(ctx)
		})
	})
	require.NoError(t, err)

	updates := rec.ops("updateWorkItem")
	require.Len(t, updates, 1)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(updates[0].Params[0], &sent))
	assert.Equal(t, "Batched title", sent["title"])
	assert.Equal(t, map[string]any{"id": "should_have"}, sent["severity"])

	fresh := loadWorkItem(t, c, "PROJ-1")
	assert.Equal(t, "Batched title", fresh.Title)
	assert.Equal(t, "should_have", types.OptionID(fresh.Severity))
}

func TestEdit_CustomFieldIsSavedOnItsOwn(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")
	rec.reset()

	err := w.Edit(ctx, func() error {
		w.Title = "Batched"
		if err := w.SetCustomField(ctx, "risk", "high"); err != nil {
			return err
		}
		w.Title = "Batched again"
		return w.Save(ctx)
	})
	require.NoError(t, err)

	updates := rec.ops("updateWorkItem")
	require.Len(t, updates, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal(updates[0].Params[0], &first))
	require.NoError(t, json.Unmarshal(updates[1].Params[0], &second))
	assert.ElementsMatch(t, []string{"uri", "customFields"}, keysOf(first))
	assert.Equal(t, map[string]any{"uri": w.URI(), "title": "Batched again"}, second)

	fresh := loadWorkItem(t, c, "PROJ-1")
	assert.Equal(t, "Batched again", fresh.Title)
	v, ok := fresh.CustomField("risk")
	require.True(t, ok)
	assert.Equal(t, "high", v)
}

func TestEdit_FlushesOnError(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	w := loadWorkItem(t, c, "PROJ-1")
	rec.reset()

	boom := errors.New("boom")
	err := w.Edit(ctx, func() error {
		w.Title = "Written before the failure"
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Len(t, rec.ops("updateWorkItem"), 1)

	fresh := loadWorkItem(t, c, "PROJ-1")
	assert.Equal(t, "Written before the failure", fresh.Title)
}

func TestDelete_MakesEntityStale(t *testing.T) {
	ctx := context.Background()
	c, rec := connect(t)
	p := demoProject(t, c)

	w, err := p.CreateWorkItem(ctx, "task", &alm.WorkItemData{Title: "Short lived"})
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx))
	assert.True(t, w.Deleted())
	rec.reset()

	w.Title = "Too late"
	require.ErrorIs(t, w.Save(ctx), types.ErrStaleEntity)
	require.ErrorIs(t, w.AddAssignee(ctx, "bob"), types.ErrStaleEntity)
	assert.Empty(t, rec.ops("updateWorkItem"))
	assert.Empty(t, rec.ops("addAssignee"))

	_, err = c.WorkItem(ctx, w.URI())
	require.ErrorIs(t, err, types.ErrNotFound)
}
