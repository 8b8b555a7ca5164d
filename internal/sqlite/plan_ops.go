// This file implements the Planning service.
package sqlite

import "slices"

// planWritable lists the plan fields updatePlan accepts.
var planWritable = set(
	"name", "startDate", "dueDate", "startedOn", "finishedOn", "parent",
	"status", "color", "capacity", "description", "customFields",
)

func (b *Backend) getPlanByID(c *call) (any, error) {
	var project, id string
	if err := c.bind(&project, &id); err != nil {
		return nil, err
	}
	return b.getRecordByID(kindPlan, project, id)
}

func (b *Backend) getPlanByURI(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	return b.getRecord(kindPlan, uri)
}

// createPlan creates a plan under an optional parent plan. A template
// contributes its allowed types.
func (b *Backend) createPlan(c *call) (any, error) {
	var project, name, id, parentID, templateID string
	if err := c.bind(&project, &name, &id, &parentID, &templateID); err != nil {
		return nil, err
	}
	if _, err := b.mustProject(project); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, invalid("plan needs an id")
	}

	now := timestamp(b.now())
	o := &object{
		Kind:    kindPlan,
		Project: project,
		ID:      id,
		Data: map[string]any{
			"name":         name,
			"records":      []any{},
			"allowedTypes": []any{},
			"author":       UserURI(c.user),
			"created":      now,
			"updated":      now,
		},
	}
	if parentID != "" {
		parent, err := b.findObjectByID(kindPlan, project, parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, notFound("plan", parentID)
		}
		o.Data["parent"] = parent.URI
	}
	if templateID != "" {
		tpl, err := b.findObjectByID(kindPlan, project, templateID)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, notFound("plan template", templateID)
		}
		o.Data["template"] = tpl.URI
		allowed, err := toJSONValue(list(tpl.Data, "allowedTypes"))
		if err != nil {
			return nil, err
		}
		if allowed != nil {
			o.Data["allowedTypes"] = allowed
		}
	}
	if err := b.insertObject(o); err != nil {
		return nil, err
	}
	return o.URI, nil
}

func (b *Backend) updatePlan(c *call) (any, error) {
	var delta map[string]any
	if err := c.bind(&delta); err != nil {
		return nil, err
	}
	uri, err := deltaURI(delta)
	if err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindPlan, uri)
	if err != nil {
		return nil, err
	}
	if err := applyDelta(o, delta, planWritable); err != nil {
		return nil, err
	}
	if parent := str(o.Data, "parent"); parent != "" {
		if parent == o.URI {
			return nil, invalid("plan %s cannot be its own parent", o.ID)
		}
		if _, err := b.mustObject(kindPlan, parent); err != nil {
			return nil, err
		}
	}
	if err := b.validateCustomFields(o, ""); err != nil {
		return nil, err
	}
	return nil, b.touch(o)
}

func (b *Backend) deletePlans(c *call) (any, error) {
	var (
		project string
		ids     []string
	)
	if err := c.bind(&project, &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		o, err := b.findObjectByID(kindPlan, project, id)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, notFound("plan", id)
		}
		if err := b.deleteObject(o.URI); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func planItemIndex(records []any, uri string) int {
	return slices.IndexFunc(records, func(r any) bool {
		m, _ := r.(map[string]any)
		return str(m, "item") == uri
	})
}

func allowedTypeIDs(o *object) []string {
	var out []string
	for _, t := range list(o.Data, "allowedTypes") {
		m, _ := t.(map[string]any)
		out = append(out, str(m, "id"))
	}
	return out
}

// addPlanItems adds work items to a plan. A plan with allowed types rejects
// items of any other type.
func (b *Backend) addPlanItems(c *call) (any, error) {
	var (
		uri   string
		items []string
	)
	if err := c.bind(&uri, &items); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindPlan, uri)
	if err != nil {
		return nil, err
	}
	allowed := allowedTypeIDs(o)
	records := list(o.Data, "records")
	for _, item := range items {
		w, err := b.mustObject(kindWorkItem, item)
		if err != nil {
			return nil, err
		}
		if typeID := enumID(w.Data, "type"); len(allowed) > 0 && !slices.Contains(allowed, typeID) {
			return nil, rejected("plan %s does not allow work items of type %q", o.ID, typeID)
		}
		if planItemIndex(records, item) < 0 {
			records = append(records, map[string]any{"item": item})
		}
	}
	o.Data["records"] = records
	return nil, b.touch(o)
}

func (b *Backend) removePlanItems(c *call) (any, error) {
	var (
		uri   string
		items []string
	)
	if err := c.bind(&uri, &items); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindPlan, uri)
	if err != nil {
		return nil, err
	}
	records := list(o.Data, "records")
	for _, item := range items {
		if i := planItemIndex(records, item); i >= 0 {
			records = slices.Delete(records, i, i+1)
		}
	}
	o.Data["records"] = records
	return nil, b.touch(o)
}

func (b *Backend) addPlanAllowedType(c *call) (any, error) {
	var uri, typeID string
	if err := c.bind(&uri, &typeID); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindPlan, uri)
	if err != nil {
		return nil, err
	}
	ok, err := b.hasOption(o.Project, enumType, "", typeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid("unknown work item type %q", typeID)
	}
	if slices.Contains(allowedTypeIDs(o), typeID) {
		return nil, nil
	}
	o.Data["allowedTypes"] = append(list(o.Data, "allowedTypes"), enumValue(typeID))
	return nil, b.touch(o)
}

func (b *Backend) removePlanAllowedType(c *call) (any, error) {
	var uri, typeID string
	if err := c.bind(&uri, &typeID); err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindPlan, uri)
	if err != nil {
		return nil, err
	}
	i := slices.Index(allowedTypeIDs(o), typeID)
	if i < 0 {
		return nil, nil
	}
	o.Data["allowedTypes"] = slices.Delete(list(o.Data, "allowedTypes"), i, i+1)
	return nil, b.touch(o)
}

func (b *Backend) searchPlans(c *call) (any, error) {
	var (
		q, sort string
		limit   int
	)
	if err := c.bind(&q, &sort, &limit); err != nil {
		return nil, err
	}
	hits, err := b.search(kindPlan, q, sort, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, wrapRecord(h.values))
	}
	return out, nil
}
