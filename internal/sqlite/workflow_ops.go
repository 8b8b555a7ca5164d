// This file implements enumerations, workflow transitions and custom field
// keys.
package sqlite

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// enumOptions returns the options of enum in project, in ordinal order. A
// non-empty typeID restricts the result to options defined for that type or
// for all types.
func (b *Backend) enumOptions(project, enum, typeID string) ([]types.EnumOptionInfo, error) {
	rows, err := b.db.Query(
		`SELECT option_id, MIN(name) FROM enums
		 WHERE project_id = ?1 AND enum_id = ?2 AND (?3 = '' OR type_id IN (?3, ''))
		 GROUP BY option_id ORDER BY MIN(ordinal), option_id`,
		project, enum, typeID)
	if err != nil {
		return nil, fmt.Errorf("querying enum %s: %w", enum, err)
	}
	defer rows.Close()

	out := []types.EnumOptionInfo{}
	for rows.Next() {
		var o types.EnumOptionInfo
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, fmt.Errorf("scanning enum option: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// hasOption reports whether id is an option of enum.
func (b *Backend) hasOption(project, enum, typeID, id string) (bool, error) {
	opts, err := b.enumOptions(project, enum, typeID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(opts, func(o types.EnumOptionInfo) bool { return o.ID == id }), nil
}

// customFieldKeys returns the custom field keys defined for objects of kind
// and type in project.
func (b *Backend) customFieldKeys(project, kind, typeID string) ([]string, error) {
	return b.stringColumn(
		`SELECT DISTINCT field_key FROM custom_field_keys
		 WHERE project_id = ? AND kind = ? AND type_id IN (?, '') ORDER BY field_key`,
		project, kind, typeID)
}

// availableActions returns the workflow actions leaving the current status
// of o.
func (b *Backend) availableActions(o *object) ([]types.WorkflowAction, error) {
	rows, err := b.db.Query(
		`SELECT action_id, action_name, to_status, COALESCE(required_fields, '') FROM workflow
		 WHERE project_id = ? AND type_id IN (?, '') AND from_status IN (?, '')
		 ORDER BY action_id`,
		o.Project, enumID(o.Data, "type"), enumID(o.Data, "status"))
	if err != nil {
		return nil, fmt.Errorf("querying workflow: %w", err)
	}
	defer rows.Close()

	out := []types.WorkflowAction{}
	for rows.Next() {
		var (
			a        types.WorkflowAction
			required string
		)
		if err := rows.Scan(&a.ActionID, &a.NativeActionID, &a.TargetStatus, &required); err != nil {
			return nil, fmt.Errorf("scanning workflow action: %w", err)
		}
		a.ActionName = a.NativeActionID
		if required != "" {
			if err := json.Unmarshal([]byte(required), &a.RequiredFields); err != nil {
				return nil, fmt.Errorf("decoding required fields: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (b *Backend) getAvailableActions(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	return b.availableActions(o)
}

// performWorkflowAction moves a work item along a transition. Every required
// field of the action must hold a value. The action's resolution, or the
// workflow default for the target status, is applied.
func (b *Backend) performWorkflowAction(c *call) (any, error) {
	var (
		uri      string
		actionID int
	)
	if err := c.bind(&uri, &actionID); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	actions, err := b.availableActions(o)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(actions, func(a types.WorkflowAction) bool { return a.ActionID == actionID })
	if i < 0 {
		return nil, rejected("action %d is not available from status %q", actionID, enumID(o.Data, "status"))
	}
	action := actions[i]

	for _, field := range action.RequiredFields {
		if isEmpty(o.Data[field]) {
			return nil, rejected("action %s requires field %q", action.ActionName, field)
		}
	}

	o.Data["status"] = enumValue(action.TargetStatus)
	if err := b.applyResolutionDefault(o, action.TargetStatus); err != nil {
		return nil, err
	}
	return nil, b.touchWorkItem(o)
}

func (b *Backend) getAvailableEnumOptionIDsForID(c *call) (any, error) {
	var uri, enum string
	if err := c.bind(&uri, &enum); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}

	var ids []string
	if enum == enumStatus {
		ids = append(ids, enumID(o.Data, "status"))
		actions, err := b.availableActions(o)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if !slices.Contains(ids, a.TargetStatus) {
				ids = append(ids, a.TargetStatus)
			}
		}
	} else {
		opts, err := b.enumOptions(o.Project, enum, enumID(o.Data, "type"))
		if err != nil {
			return nil, err
		}
		for _, opt := range opts {
			ids = append(ids, opt.ID)
		}
	}

	out := make([]types.EnumOption, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.EnumOption{ID: id})
	}
	return out, nil
}

func (b *Backend) getAllEnumOptionsForID(c *call) (any, error) {
	var uri, enum string
	if err := c.bind(&uri, &enum); err != nil {
		return nil, err
	}
	o, err := b.findObject(uri)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound("object", uri)
	}
	return b.enumOptions(o.Project, enum, enumID(o.Data, "type"))
}

func (b *Backend) getAllEnumOptionsForKey(c *call) (any, error) {
	var project, enum string
	if err := c.bind(&project, &enum); err != nil {
		return nil, err
	}
	if _, err := b.mustProject(project); err != nil {
		return nil, err
	}
	return b.enumOptions(project, enum, "")
}

func (b *Backend) getCustomFieldKeys(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	o, err := b.findObject(uri)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound("object", uri)
	}
	return b.customFieldKeys(o.Project, o.Kind, enumID(o.Data, "type"))
}

// isEmpty reports whether a stored value carries no content.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return str(x, "id") == "" && str(x, "content") == ""
	}
	return false
}
