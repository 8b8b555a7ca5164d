// This file implements the work item operations of the Tracker service,
// including the side effects of a write: the updated timestamp, workflow
// resolution defaults and document revisions.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// workItemWritable lists the work item fields updateWorkItem accepts.
var workItemWritable = set(
	"title", "type", "status", "resolution", "severity", "priority",
	"description", "customFields",
)

// Enumerations consulted by work item validation.
const (
	enumType       = "type"
	enumStatus     = "status"
	enumResolution = "resolution"
	enumSeverity   = "severity"
	enumLinkRole   = "link-role"
	enumTestResult = "testResult"
)

func (b *Backend) getWorkItemByID(c *call) (any, error) {
	var project, id string
	if err := c.bind(&project, &id); err != nil {
		return nil, err
	}
	return b.getRecordByID(kindWorkItem, project, id)
}

func (b *Backend) getWorkItemByURI(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	return b.getRecord(kindWorkItem, uri)
}

func (b *Backend) createWorkItem(c *call) (any, error) {
	var (
		project string
		values  map[string]any
	)
	if err := c.bind(&project, &values); err != nil {
		return nil, err
	}
	o, err := b.newWorkItem(c.user, project, values)
	if err != nil {
		return nil, err
	}
	return o.URI, nil
}

// newWorkItem creates a work item in project. The id is the tracker prefix
// followed by a per-project counter; the status defaults to the first
// option of the type's status enumeration.
func (b *Backend) newWorkItem(user, project string, values map[string]any) (*object, error) {
	proj, err := b.mustProject(project)
	if err != nil {
		return nil, err
	}
	typeID := enumID(values, "type")
	if typeID == "" {
		return nil, invalid("work item needs a type")
	}

	n, err := b.nextCounter("workitem:" + project)
	if err != nil {
		return nil, err
	}
	o := &object{
		Kind:    kindWorkItem,
		Project: project,
		ID:      fmt.Sprintf("%s-%d", proj["trackerPrefix"], n),
		Data:    make(map[string]any),
	}
	if err := applyDelta(o, values, workItemWritable); err != nil {
		return nil, err
	}
	if enumID(o.Data, "status") == "" {
		opts, err := b.enumOptions(project, enumStatus, typeID)
		if err != nil {
			return nil, err
		}
		if len(opts) > 0 {
			o.Data["status"] = enumValue(opts[0].ID)
		}
	}
	if err := b.validateWorkItem(o); err != nil {
		return nil, err
	}

	now := timestamp(b.now())
	o.Data["created"] = now
	o.Data["updated"] = now
	o.Data["author"] = UserURI(user)
	if err := b.insertObject(o); err != nil {
		return nil, err
	}
	return o, nil
}

// validateWorkItem checks enumerated fields against the project vocabulary
// and custom fields against the allowed keys for the type.
func (b *Backend) validateWorkItem(o *object) error {
	typeID := enumID(o.Data, "type")
	if ok, err := b.hasOption(o.Project, enumType, "", typeID); err != nil {
		return err
	} else if !ok {
		return invalid("unknown work item type %q", typeID)
	}
	for _, enum := range []string{enumStatus, enumResolution, enumSeverity} {
		id := enumID(o.Data, enum)
		if id == "" {
			continue
		}
		ok, err := b.hasOption(o.Project, enum, typeID, id)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("%q is not a %s of %s", id, enum, typeID)
		}
	}
	return b.validateCustomFields(o, typeID)
}

func (b *Backend) validateCustomFields(o *object, typeID string) error {
	custom := list(o.Data, "customFields")
	if len(custom) == 0 {
		return nil
	}
	allowed, err := b.customFieldKeys(o.Project, o.Kind, typeID)
	if err != nil {
		return err
	}
	for _, entry := range custom {
		m, _ := entry.(map[string]any)
		if key := str(m, "key"); !slices.Contains(allowed, key) {
			return rejected("custom field %q is not defined for %s %s", key, typeID, o.Kind)
		}
	}
	return nil
}

func (b *Backend) updateWorkItem(c *call) (any, error) {
	var delta map[string]any
	if err := c.bind(&delta); err != nil {
		return nil, err
	}
	uri, err := deltaURI(delta)
	if err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}

	oldStatus := enumID(o.Data, "status")
	if err := applyDelta(o, delta, workItemWritable); err != nil {
		return nil, err
	}
	if status := enumID(o.Data, "status"); status != oldStatus {
		if _, explicit := delta["resolution"]; !explicit {
			if err := b.applyResolutionDefault(o, status); err != nil {
				return nil, err
			}
		}
	}
	if err := b.validateWorkItem(o); err != nil {
		return nil, err
	}
	return nil, b.touchWorkItem(o)
}

// touchWorkItem bumps the updated timestamp, stores o and advances the
// revision of every document containing it.
func (b *Backend) touchWorkItem(o *object) error {
	o.Data["updated"] = timestamp(b.now())
	if err := b.saveObject(o); err != nil {
		return err
	}
	_, err := b.db.Exec(
		`UPDATE objects SET data = json_set(data, '$.revision', COALESCE(json_extract(data, '$.revision'), 0) + 1)
		 WHERE kind = ? AND uri IN (SELECT module_uri FROM doc_items WHERE work_item_uri = ?)`,
		kindModule, o.URI)
	if err != nil {
		return fmt.Errorf("advancing document revision: %w", err)
	}
	return nil
}

// applyResolutionDefault sets the resolution the workflow assigns when a
// work item of this type enters status. Statuses without a default leave
// the resolution alone.
func (b *Backend) applyResolutionDefault(o *object, status string) error {
	var resolution string
	err := b.db.QueryRow(
		`SELECT COALESCE(resolution, '') FROM workflow
		 WHERE project_id = ? AND type_id IN (?, '') AND to_status = ? AND COALESCE(resolution, '') != ''
		 ORDER BY action_id LIMIT 1`,
		o.Project, enumID(o.Data, "type"), status).Scan(&resolution)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up resolution default: %w", err)
	}
	o.Data["resolution"] = enumValue(resolution)
	return nil
}

func (b *Backend) deleteWorkItems(c *call) (any, error) {
	var uris []string
	if err := c.bind(&uris); err != nil {
		return nil, err
	}
	for _, uri := range uris {
		if _, err := b.mustObject(kindWorkItem, uri); err != nil {
			return nil, err
		}
		if err := b.deleteObject(uri); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (b *Backend) queryWorkItemsLimited(c *call) (any, error) {
	var (
		q, sort string
		fields  []string
		limit   int
	)
	if err := c.bind(&q, &sort, &fields, &limit); err != nil {
		return nil, err
	}
	hits, err := b.search(kindWorkItem, q, sort, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, wrapRecord(projectFields(h.values, fields)))
	}
	return out, nil
}

// workItemDerived adds the fields the server computes for a work item.
func (b *Backend) workItemDerived(o *object, values map[string]any) error {
	comments, err := b.commentValues(o.URI)
	if err != nil {
		return err
	}
	values["comments"] = comments

	attachments, err := b.attachmentDescriptors(o.URI, "", false)
	if err != nil {
		return err
	}
	values["attachments"] = attachments

	backlinks, err := b.backlinks(o.URI)
	if err != nil {
		return err
	}
	values["linkedWorkItemsDerived"] = backlinks

	plannedIn, err := b.stringColumn(
		`SELECT o.uri FROM objects o, json_each(o.data, '$.records') r
		 WHERE o.kind = ? AND json_extract(r.value, '$.item') = ? ORDER BY o.seq`,
		kindPlan, o.URI)
	if err != nil {
		return err
	}
	values["plannedIn"] = plannedIn

	modules, err := b.stringColumn("SELECT module_uri FROM doc_items WHERE work_item_uri = ?", o.URI)
	if err != nil {
		return err
	}
	if len(modules) > 0 {
		values["moduleURI"] = modules[0]
	}
	return nil
}

// backlinks returns the links other work items hold to uri, as seen from
// uri.
func (b *Backend) backlinks(uri string) ([]map[string]any, error) {
	rows, err := b.db.Query(
		`SELECT o.uri, json_extract(l.value, '$.role.id') FROM objects o, json_each(o.data, '$.linkedWorkItems') l
		 WHERE o.kind = ? AND json_extract(l.value, '$.workItemURI') = ? ORDER BY o.seq`,
		kindWorkItem, uri)
	if err != nil {
		return nil, fmt.Errorf("querying backlinks: %w", err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var from, role string
		if err := rows.Scan(&from, &role); err != nil {
			return nil, fmt.Errorf("scanning backlink: %w", err)
		}
		out = append(out, map[string]any{"role": enumValue(role), "workItemURI": from, "suspect": false})
	}
	return out, rows.Err()
}

// stringColumn runs a query returning one text column.
func (b *Backend) stringColumn(query string, args ...any) ([]string, error) {
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *Backend) mustUser(user string) error {
	var n int
	if err := b.db.QueryRow("SELECT COUNT(*) FROM users WHERE user_id = ?", user).Scan(&n); err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if n == 0 {
		return notFound("user", user)
	}
	return nil
}

func (b *Backend) addAssignee(c *call) (any, error) {
	var uri, user string
	if err := c.bind(&uri, &user); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	if err := b.mustUser(user); err != nil {
		return nil, err
	}
	assignees := list(o.Data, "assignee")
	if slices.Contains(assignees, any(UserURI(user))) {
		return false, nil
	}
	o.Data["assignee"] = append(assignees, UserURI(user))
	return true, b.touchWorkItem(o)
}

func (b *Backend) removeAssignee(c *call) (any, error) {
	var uri, user string
	if err := c.bind(&uri, &user); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	assignees := list(o.Data, "assignee")
	i := slices.Index(assignees, any(UserURI(user)))
	if i < 0 {
		return false, nil
	}
	o.Data["assignee"] = slices.Delete(assignees, i, i+1)
	return true, b.touchWorkItem(o)
}

// approvalIndex returns the position of user's approval, or -1.
func approvalIndex(approvals []any, user string) int {
	return slices.IndexFunc(approvals, func(a any) bool {
		m, _ := a.(map[string]any)
		return str(m, "user") == UserURI(user)
	})
}

func (b *Backend) addApprovee(c *call) (any, error) {
	var uri, user string
	if err := c.bind(&uri, &user); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	if err := b.mustUser(user); err != nil {
		return nil, err
	}
	approvals := list(o.Data, "approvals")
	if approvalIndex(approvals, user) >= 0 {
		return false, nil
	}
	o.Data["approvals"] = append(approvals, map[string]any{
		"user":   UserURI(user),
		"status": enumValue(types.ApprovalWaiting),
	})
	return true, b.touchWorkItem(o)
}

func (b *Backend) removeApprovee(c *call) (any, error) {
	var uri, user string
	if err := c.bind(&uri, &user); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	approvals := list(o.Data, "approvals")
	i := approvalIndex(approvals, user)
	if i < 0 {
		return false, nil
	}
	o.Data["approvals"] = slices.Delete(approvals, i, i+1)
	return true, b.touchWorkItem(o)
}

func (b *Backend) editApproval(c *call) (any, error) {
	var uri, user, status string
	if err := c.bind(&uri, &user, &status); err != nil {
		return nil, err
	}
	switch status {
	case types.ApprovalWaiting, types.ApprovalApproved, types.ApprovalDisapproved:
	default:
		return nil, invalid("unknown approval status %q", status)
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	approvals := list(o.Data, "approvals")
	i := approvalIndex(approvals, user)
	if i < 0 {
		return nil, notFound("approval", user)
	}
	approvals[i].(map[string]any)["status"] = enumValue(status)
	return nil, b.touchWorkItem(o)
}

// linkIndex returns the position of the role link to target, or -1.
func linkIndex(links []any, target, role string) int {
	return slices.IndexFunc(links, func(l any) bool {
		m, _ := l.(map[string]any)
		return str(m, "workItemURI") == target && enumID(m, "role") == role
	})
}

func (b *Backend) addLinkedItem(c *call) (any, error) {
	var uri, target, role string
	if err := c.bind(&uri, &target, &role); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	if _, err := b.mustObject(kindWorkItem, target); err != nil {
		return nil, err
	}
	if ok, err := b.hasOption(o.Project, enumLinkRole, "", role); err != nil {
		return nil, err
	} else if !ok {
		return nil, invalid("unknown link role %q", role)
	}
	return b.link(o, target, role)
}

// link adds a role link from o to target unless it exists.
func (b *Backend) link(o *object, target, role string) (bool, error) {
	links := list(o.Data, "linkedWorkItems")
	if linkIndex(links, target, role) >= 0 {
		return false, nil
	}
	o.Data["linkedWorkItems"] = append(links, map[string]any{
		"role":        enumValue(role),
		"workItemURI": target,
		"suspect":     false,
	})
	return true, b.touchWorkItem(o)
}

func (b *Backend) removeLinkedItem(c *call) (any, error) {
	var uri, target, role string
	if err := c.bind(&uri, &target, &role); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	links := list(o.Data, "linkedWorkItems")
	i := linkIndex(links, target, role)
	if i < 0 {
		return false, nil
	}
	o.Data["linkedWorkItems"] = slices.Delete(links, i, i+1)
	return true, b.touchWorkItem(o)
}

func (b *Backend) addHyperlink(c *call) (any, error) {
	var uri, url, role string
	if err := c.bind(&uri, &url, &role); err != nil {
		return nil, err
	}
	if role != types.HyperlinkInternal && role != types.HyperlinkExternal {
		return nil, invalid("unknown hyperlink role %q", role)
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	links := list(o.Data, "hyperlinks")
	if hyperlinkIndex(links, url) >= 0 {
		return false, nil
	}
	o.Data["hyperlinks"] = append(links, map[string]any{"role": enumValue(role), "uri": url})
	return true, b.touchWorkItem(o)
}

func hyperlinkIndex(links []any, url string) int {
	return slices.IndexFunc(links, func(l any) bool {
		m, _ := l.(map[string]any)
		return str(m, "uri") == url
	})
}

func (b *Backend) removeHyperlink(c *call) (any, error) {
	var uri, url string
	if err := c.bind(&uri, &url); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	links := list(o.Data, "hyperlinks")
	i := hyperlinkIndex(links, url)
	if i < 0 {
		return false, nil
	}
	o.Data["hyperlinks"] = slices.Delete(links, i, i+1)
	return true, b.touchWorkItem(o)
}
