package alm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mesh-intelligence/almsync/internal/rpc"
	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// WorkItemData holds the fields of a work item record.
type WorkItemData struct {
	Title        string            `json:"title"`
	Type         *types.EnumOption `json:"type"`
	Status       *types.EnumOption `json:"status"`
	Resolution   *types.EnumOption `json:"resolution"`
	Severity     *types.EnumOption `json:"severity"`
	Priority     *types.EnumOption `json:"priority"`
	Description  *types.Text       `json:"description"`
	CustomFields []types.Custom    `json:"customFields"`

	// Server state, never sent back.
	Author                 string                 `json:"author"`
	Created                *time.Time             `json:"created"`
	Updated                *time.Time             `json:"updated"`
	Assignee               []string               `json:"assignee"`
	Approvals              []types.Approval       `json:"approvals"`
	LinkedWorkItems        []types.LinkedWorkItem `json:"linkedWorkItems"`
	LinkedWorkItemsDerived []types.LinkedWorkItem `json:"linkedWorkItemsDerived"`
	Hyperlinks             []types.Hyperlink      `json:"hyperlinks"`
	Attachments            []types.Attachment     `json:"attachments"`
	Comments               []types.Comment        `json:"comments"`
	PlannedIn              []string               `json:"plannedIn"`
	ModuleURI              string                 `json:"moduleURI"`
}

var workItemDiffable = []string{
	"title", "type", "status", "resolution", "severity", "priority", "description", "customFields",
}

// WorkItem is a change-tracked work item.
type WorkItem struct {
	WorkItemData
	entity
	comments
	customFields
}

func newWorkItem(c *Client, p *Project) *WorkItem {
	w := &WorkItem{}
	w.entity = entity{client: c, name: "work item", project: p, data: &w.WorkItemData, diffable: workItemDiffable}
	w.addressable(session.ServiceTracker, "getWorkItemByUri", "updateWorkItem")
	w.comments = comments{e: &w.entity, list: func() []types.Comment { return w.Comments }}
	w.customFields = customFields{e: &w.entity, fields: &w.CustomFields}
	return w
}

// WorkItem fetches the work item an identifier names.
func (c *Client) WorkItem(ctx context.Context, uri string) (*WorkItem, error) {
	return c.workItemAt(ctx, nil, uri)
}

func (c *Client) workItemAt(ctx context.Context, p *Project, uri string) (*WorkItem, error) {
	if err := checkTag(uri, types.TagWorkItem); err != nil {
		return nil, err
	}
	w := newWorkItem(c, p)
	w.uri = uri
	if err := w.open(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// checkTag fails with types.ErrMalformedIdentifier unless uri carries tag.
func checkTag(uri, tag string) error {
	u, err := types.ParseURI(uri)
	if err != nil {
		return err
	}
	if u.Tag != tag {
		return fmt.Errorf("%w: %s is a %s, not a %s", types.ErrMalformedIdentifier, uri, u.Tag, tag)
	}
	return nil
}

// creationValues encodes the diffable fields set in data for a create
// call, with the type forced to typeID.
func creationValues(typeID string, data *WorkItemData) (map[string]any, error) {
	if data == nil {
		data = &WorkItemData{}
	}
	d := *data
	d.Type = types.Enum(typeID)
	all, err := types.EncodeFields(&d)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	for k, v := range all.Select(workItemDiffable) {
		if v != nil && v != "" {
			values[k] = v
		}
	}
	return values, nil
}

func (w *WorkItem) tracker(ctx context.Context, operation string, out any, params ...any) error {
	if err := w.client.call(ctx, session.ServiceTracker, operation, out, params...); err != nil {
		return fmt.Errorf("%s on %s: %w", operation, w.uri, err)
	}
	return nil
}

// change runs a Tracker operation that mutates server state and reloads.
func (w *WorkItem) change(ctx context.Context, operation string, params ...any) error {
	if w.deleted {
		return fmt.Errorf("%s on %s: %w", operation, w.uri, types.ErrStaleEntity)
	}
	if err := w.tracker(ctx, operation, nil, params...); err != nil {
		return err
	}
	return w.Reload(ctx)
}

// Delete removes the work item on the server. The handle stays readable
// but can no longer be saved.
func (w *WorkItem) Delete(ctx context.Context) error {
	if err := w.tracker(ctx, "deleteWorkItems", nil, []string{w.uri}); err != nil {
		return err
	}
	w.markDeleted()
	return nil
}

// Options returns every option of the named enumeration (status,
// resolution, severity) that applies to this work item's type.
func (w *WorkItem) Options(ctx context.Context, enum string) ([]types.EnumOptionInfo, error) {
	var opts []types.EnumOptionInfo
	if err := w.tracker(ctx, "getAllEnumOptionsForId", &opts, w.uri, enum); err != nil {
		return nil, err
	}
	return opts, nil
}

// AvailableStatuses returns the current status and every status a workflow
// action can reach from it.
func (w *WorkItem) AvailableStatuses(ctx context.Context) ([]string, error) {
	var opts []types.EnumOption
	if err := w.tracker(ctx, "getAvailableEnumOptionIdsForId", &opts, w.uri, "status"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// AvailableActions returns the workflow actions leaving the current status.
func (w *WorkItem) AvailableActions(ctx context.Context) ([]types.WorkflowAction, error) {
	var actions []types.WorkflowAction
	if err := w.tracker(ctx, "getAvailableActions", &actions, w.uri); err != nil {
		return nil, err
	}
	return actions, nil
}

// PerformAction runs the available workflow action called name.
func (w *WorkItem) PerformAction(ctx context.Context, name string) error {
	actions, err := w.AvailableActions(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(actions, func(a types.WorkflowAction) bool {
		return a.ActionName == name || a.NativeActionID == name
	})
	if i < 0 {
		return fmt.Errorf("%w: %q from %s", types.ErrActionNotFound, name, types.OptionID(w.Status))
	}
	return w.change(ctx, "performWorkflowAction", w.uri, actions[i].ActionID)
}

// PerformActionID runs the available workflow action with the given id.
func (w *WorkItem) PerformActionID(ctx context.Context, id int) error {
	actions, err := w.AvailableActions(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(actions, func(a types.WorkflowAction) bool { return a.ActionID == id }) {
		return fmt.Errorf("%w: %d from %s", types.ErrActionNotFound, id, types.OptionID(w.Status))
	}
	return w.change(ctx, "performWorkflowAction", w.uri, id)
}

// SetStatus moves the work item to status and saves. Only statuses listed
// by AvailableStatuses are accepted.
func (w *WorkItem) SetStatus(ctx context.Context, status string) error {
	available, err := w.AvailableStatuses(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(available, status) {
		return fmt.Errorf("%w: %q from %s", types.ErrStatusNotAvailable, status, types.OptionID(w.Status))
	}
	w.Status = types.Enum(status)
	return w.Save(ctx)
}

// DescriptionText returns the description content.
func (w *WorkItem) DescriptionText() string {
	return types.TextContent(w.Description)
}

// SetDescription replaces the description with html content. It is sent
// by the next Save.
func (w *WorkItem) SetDescription(html string) {
	w.Description = types.HTML(html)
}

// Author returns the user who created the work item.
func (w *WorkItem) Author(ctx context.Context) (*User, error) {
	return w.client.UserByURI(ctx, w.WorkItemData.Author)
}

// Assignees returns the assigned users.
func (w *WorkItem) Assignees(ctx context.Context) ([]*User, error) {
	return fetchAll(ctx, w.Assignee, w.client.UserByURI)
}

// AddAssignee assigns the user with the given id.
func (w *WorkItem) AddAssignee(ctx context.Context, user string) error {
	return w.change(ctx, "addAssignee", w.uri, user)
}

// RemoveAssignee unassigns the user with the given id.
func (w *WorkItem) RemoveAssignee(ctx context.Context, user string) error {
	return w.change(ctx, "removeAssignee", w.uri, user)
}

// AddApprovee requests an approval from user.
func (w *WorkItem) AddApprovee(ctx context.Context, user string) error {
	return w.change(ctx, "addApprovee", w.uri, user)
}

// RemoveApprovee withdraws the approval request to user.
func (w *WorkItem) RemoveApprovee(ctx context.Context, user string) error {
	return w.change(ctx, "removeApprovee", w.uri, user)
}

// SetApproval records the approval state of user, one of the Approval
// constants of package types.
func (w *WorkItem) SetApproval(ctx context.Context, user, status string) error {
	return w.change(ctx, "editApproval", w.uri, user, status)
}

// AddHyperlink attaches url with role types.HyperlinkInternal or
// types.HyperlinkExternal.
func (w *WorkItem) AddHyperlink(ctx context.Context, url, role string) error {
	return w.change(ctx, "addHyperlink", w.uri, url, role)
}

// RemoveHyperlink detaches url.
func (w *WorkItem) RemoveHyperlink(ctx context.Context, url string) error {
	return w.change(ctx, "removeHyperlink", w.uri, url)
}

// AddLinkedItem links this work item to target with role.
func (w *WorkItem) AddLinkedItem(ctx context.Context, target, role string) error {
	return w.change(ctx, "addLinkedItem", w.uri, target, role)
}

// RemoveLinkedItem removes the role link to target.
func (w *WorkItem) RemoveLinkedItem(ctx context.Context, target, role string) error {
	return w.change(ctx, "removeLinkedItem", w.uri, target, role)
}

// Link is a role-tagged link with its far end resolved.
type Link struct {
	Role    string
	Item    Entity
	Suspect bool
}

// OutgoingLinks resolves the links this work item holds.
func (w *WorkItem) OutgoingLinks(ctx context.Context) ([]Link, error) {
	return w.resolveLinks(ctx, w.LinkedWorkItems)
}

// IncomingLinks resolves the links other work items hold to this one.
func (w *WorkItem) IncomingLinks(ctx context.Context) ([]Link, error) {
	return w.resolveLinks(ctx, w.LinkedWorkItemsDerived)
}

func (w *WorkItem) resolveLinks(ctx context.Context, links []types.LinkedWorkItem) ([]Link, error) {
	uris := make([]string, 0, len(links))
	for _, l := range links {
		uris = append(uris, l.WorkItemURI)
	}
	items, err := fetchAll(ctx, uris, w.client.Resolve)
	if err != nil {
		return nil, err
	}
	out := make([]Link, len(links))
	for i, l := range links {
		out[i] = Link{Role: l.Role.ID, Item: items[i], Suspect: l.Suspect}
	}
	return out, nil
}

// Plans returns the plans the work item is planned in.
func (w *WorkItem) Plans(ctx context.Context) ([]*Plan, error) {
	return fetchAll(ctx, w.PlannedIn, func(ctx context.Context, uri string) (*Plan, error) {
		return w.client.planAt(ctx, w.project, uri)
	})
}

// Document returns the document holding the work item, or nil when it is
// in none.
func (w *WorkItem) Document(ctx context.Context) (*Document, error) {
	if w.ModuleURI == "" {
		return nil, nil
	}
	return w.client.documentAt(ctx, w.project, w.ModuleURI)
}

// MoveToDocument places the work item in doc below parent, or at the top
// level when parent is nil.
func (w *WorkItem) MoveToDocument(ctx context.Context, doc *Document, parent *WorkItem) error {
	parentURI := ""
	if parent != nil {
		parentURI = parent.uri
	}
	return w.change(ctx, "moveWorkItemToDocument", w.uri, doc.uri, parentURI)
}

// Attachment returns the attachment with id.
func (w *WorkItem) Attachment(id string) (types.Attachment, error) {
	return findAttachment(w.Attachments, id)
}

// AddAttachment uploads content as fileName.
func (w *WorkItem) AddAttachment(ctx context.Context, fileName, title string, content []byte) error {
	return w.change(ctx, "createAttachment", w.uri, fileName, title, content)
}

// AddAttachmentFile uploads the file at path under its base name.
func (w *WorkItem) AddAttachmentFile(ctx context.Context, path, title string) error {
	name, content, err := readFile(path)
	if err != nil {
		return err
	}
	return w.AddAttachment(ctx, name, title, content)
}

// DownloadAttachment returns the content of the attachment with id.
func (w *WorkItem) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	a, err := w.Attachment(id)
	if err != nil {
		return nil, err
	}
	return w.client.Download(ctx, a)
}

// SaveAttachment writes the attachment with id to path.
func (w *WorkItem) SaveAttachment(ctx context.Context, id, path string) error {
	a, err := w.Attachment(id)
	if err != nil {
		return err
	}
	return w.client.saveAttachment(ctx, a, path)
}

// DeleteAttachment removes the attachment with id.
func (w *WorkItem) DeleteAttachment(ctx context.Context, id string) error {
	if _, err := w.Attachment(id); err != nil {
		return err
	}
	return w.change(ctx, "deleteAttachment", w.uri, id)
}

// TestSteps returns the test step table. Work items whose type has no step
// table fail with types.ErrNoTestSteps.
func (w *WorkItem) TestSteps(ctx context.Context) (*TestTable, error) {
	var steps types.TestSteps
	err := w.client.call(ctx, session.ServiceTestManagement, "getTestSteps", &steps, w.uri)
	if rpc.IsFault(err, rpc.FaultRejected) {
		return nil, fmt.Errorf("%w: %s", types.ErrNoTestSteps, w.uri)
	}
	if err != nil {
		return nil, fmt.Errorf("test steps of %s: %w", w.uri, err)
	}
	return tableFromSteps(steps), nil
}

// SetTestSteps replaces the test step table and reloads.
func (w *WorkItem) SetTestSteps(ctx context.Context, table *TestTable) error {
	current, err := w.TestSteps(ctx)
	if err != nil {
		return err
	}
	if !slices.Equal(current.Columns(), table.Columns()) {
		return fmt.Errorf("%w: have %v, server expects %v", types.ErrStepColumns, table.Columns(), current.Columns())
	}
	if err := w.client.call(ctx, session.ServiceTestManagement, "setTestSteps", nil, w.uri, table.steps()); err != nil {
		return fmt.Errorf("set test steps of %s: %w", w.uri, err)
	}
	return w.Reload(ctx)
}
