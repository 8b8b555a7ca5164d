package alm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// dateLayout is the wire format of plan start and due dates.
const dateLayout = time.DateOnly

// PlanData holds the fields of a plan record.
type PlanData struct {
	Name         string            `json:"name"`
	StartDate    string            `json:"startDate"`
	DueDate      string            `json:"dueDate"`
	StartedOn    *time.Time        `json:"startedOn"`
	FinishedOn   *time.Time        `json:"finishedOn"`
	ParentURI    string            `json:"parent"`
	Status       *types.EnumOption `json:"status"`
	Color        string            `json:"color"`
	Capacity     float64           `json:"capacity"`
	Description  *types.Text       `json:"description"`
	CustomFields []types.Custom    `json:"customFields"`

	Records      []types.PlanRecord `json:"records"`
	AllowedTypes []types.EnumOption `json:"allowedTypes"`
	Template     string             `json:"template"`
	Author       string             `json:"author"`
	Created      *time.Time         `json:"created"`
	Updated      *time.Time         `json:"updated"`
}

var planDiffable = []string{
	"name", "startDate", "dueDate", "startedOn", "finishedOn", "parent",
	"status", "color", "capacity", "description", "customFields",
}

// Plan is a change-tracked plan: a named set of work items, optionally
// restricted to some work item types, nested under a parent plan.
type Plan struct {
	PlanData
	entity
	customFields
}

func newPlan(c *Client, p *Project) *Plan {
	pl := &Plan{}
	pl.entity = entity{client: c, name: "plan", project: p, data: &pl.PlanData, diffable: planDiffable}
	pl.addressable(session.ServicePlanning, "getPlanByUri", "updatePlan")
	pl.customFields = customFields{e: &pl.entity, fields: &pl.CustomFields}
	return pl
}

// Plan fetches the plan an identifier names.
func (c *Client) Plan(ctx context.Context, uri string) (*Plan, error) {
	return c.planAt(ctx, nil, uri)
}

func (c *Client) planAt(ctx context.Context, p *Project, uri string) (*Plan, error) {
	if err := checkTag(uri, types.TagPlan); err != nil {
		return nil, err
	}
	pl := newPlan(c, p)
	pl.uri = uri
	if err := pl.open(ctx); err != nil {
		return nil, err
	}
	return pl, nil
}

func (pl *Plan) change(ctx context.Context, operation string, params ...any) error {
	if pl.deleted {
		return fmt.Errorf("%s on %s: %w", operation, pl.uri, types.ErrStaleEntity)
	}
	if err := pl.client.call(ctx, session.ServicePlanning, operation, nil, params...); err != nil {
		return fmt.Errorf("%s on %s: %w", operation, pl.uri, err)
	}
	return pl.Reload(ctx)
}

// SetStartDate sets the planned start and saves.
func (pl *Plan) SetStartDate(ctx context.Context, day time.Time) error {
	pl.StartDate = day.Format(dateLayout)
	return pl.Save(ctx)
}

// SetDueDate sets the planned end and saves.
func (pl *Plan) SetDueDate(ctx context.Context, day time.Time) error {
	pl.DueDate = day.Format(dateLayout)
	return pl.Save(ctx)
}

// Start records that work on the plan started at t and saves.
func (pl *Plan) Start(ctx context.Context, t time.Time) error {
	t = t.UTC()
	pl.StartedOn = &t
	return pl.Save(ctx)
}

// Finish records that work on the plan finished at t and saves.
func (pl *Plan) Finish(ctx context.Context, t time.Time) error {
	t = t.UTC()
	pl.FinishedOn = &t
	return pl.Save(ctx)
}

// Allows reports whether work items of typeID may join the plan. A plan
// without allowed types accepts any.
func (pl *Plan) Allows(typeID string) bool {
	if len(pl.AllowedTypes) == 0 {
		return true
	}
	return slices.ContainsFunc(pl.AllowedTypes, func(o types.EnumOption) bool { return o.ID == typeID })
}

// AddWorkItem adds w to the plan.
func (pl *Plan) AddWorkItem(ctx context.Context, w *WorkItem) error {
	if typeID := types.OptionID(w.Type); !pl.Allows(typeID) {
		return fmt.Errorf("%w: %q in plan %s", types.ErrTypeNotAllowed, typeID, pl.id)
	}
	return pl.change(ctx, "addPlanItems", pl.uri, []string{w.uri})
}

// RemoveWorkItem removes w from the plan.
func (pl *Plan) RemoveWorkItem(ctx context.Context, w *WorkItem) error {
	return pl.change(ctx, "removePlanItems", pl.uri, []string{w.uri})
}

// AddAllowedType restricts the plan to typeID in addition to the types
// already allowed.
func (pl *Plan) AddAllowedType(ctx context.Context, typeID string) error {
	return pl.change(ctx, "addPlanAllowedType", pl.uri, typeID)
}

// RemoveAllowedType drops typeID from the allowed types.
func (pl *Plan) RemoveAllowedType(ctx context.Context, typeID string) error {
	return pl.change(ctx, "removePlanAllowedType", pl.uri, typeID)
}

// WorkItemURIs returns the work items in the plan.
func (pl *Plan) WorkItemURIs() []string {
	uris := make([]string, 0, len(pl.Records))
	for _, r := range pl.Records {
		uris = append(uris, r.Item)
	}
	return uris
}

// WorkItems fetches the work items in the plan.
func (pl *Plan) WorkItems(ctx context.Context) ([]*WorkItem, error) {
	return fetchAll(ctx, pl.WorkItemURIs(), func(ctx context.Context, uri string) (*WorkItem, error) {
		return pl.client.WorkItem(ctx, uri)
	})
}

// Parent fetches the parent plan, or returns nil for a top-level plan.
func (pl *Plan) Parent(ctx context.Context) (*Plan, error) {
	if pl.ParentURI == "" {
		return nil, nil
	}
	return pl.client.planAt(ctx, pl.project, pl.ParentURI)
}

// Children returns the plans whose parent is this plan.
func (pl *Plan) Children(ctx context.Context) ([]*Plan, error) {
	q := scopedQuery([]string{pl.projectID()}, "parent.id:"+pl.id)
	return pl.client.searchPlans(ctx, pl.project, q, "id", -1)
}

// Delete removes the plan.
func (pl *Plan) Delete(ctx context.Context) error {
	if err := pl.client.call(ctx, session.ServicePlanning, "deletePlans", nil, pl.projectID(), []string{pl.id}); err != nil {
		return fmt.Errorf("delete %s: %w", pl.uri, err)
	}
	pl.markDeleted()
	return nil
}
