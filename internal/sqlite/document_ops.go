// This file implements documents (modules): creation, ordered work item
// membership, derivation into other projects and staleness tracking.
package sqlite

import (
	"fmt"
	"slices"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// moduleWritable lists the document fields updateModule accepts.
var moduleWritable = set("title", "status", "homePageContent", "allowedWITypes", "structureLinkRole")

// Document defaults.
const (
	defaultStructureRole = "parent"
	defaultDocStatus     = "draft"
	derivedFromKey       = "_derivedFrom"
)

// revision returns the revision counter stored on a document.
func revision(o *object) int {
	f, _ := o.Data["revision"].(float64)
	return int(f)
}

func bumpRevision(o *object, now string) {
	o.Data["revision"] = float64(revision(o) + 1)
	o.Data["updated"] = now
}

func (b *Backend) getModuleByURI(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	return b.getRecord(kindModule, uri)
}

func (b *Backend) getModuleByLocation(c *call) (any, error) {
	var project, location string
	if err := c.bind(&project, &location); err != nil {
		return nil, err
	}
	return b.getRecordByID(kindModule, project, location)
}

// moduleDerived adds comments, the location and the stale flag.
func (b *Backend) moduleDerived(o *object, values map[string]any) error {
	comments, err := b.commentValues(o.URI)
	if err != nil {
		return err
	}
	values["comments"] = comments
	values["location"] = o.ID

	stale := false
	if src := str(o.Data, "derivedFromURI"); src != "" {
		source, err := b.findObject(src)
		if err != nil {
			return err
		}
		derivedAt, _ := o.Data["derivedFromRevision"].(float64)
		stale = source != nil && revision(source) > int(derivedAt)
	}
	values["stale"] = stale
	return nil
}

func (b *Backend) createDocument(c *call) (any, error) {
	var (
		project, space, name, title, role string
		allowed                           []string
		home                              *types.Text
	)
	if err := c.bind(&project, &space, &name, &title, &allowed, &role, &home); err != nil {
		return nil, err
	}
	o, err := b.newDocument(c.user, project, space, name, title, allowed, role, home)
	if err != nil {
		return nil, err
	}
	return o.URI, nil
}

func (b *Backend) newDocument(user, project, space, name, title string, allowed []string, role string, home *types.Text) (*object, error) {
	if _, err := b.mustProject(project); err != nil {
		return nil, err
	}
	if space == "" || name == "" {
		return nil, invalid("document needs a space and a name")
	}
	if role == "" {
		role = defaultStructureRole
	}
	if ok, err := b.hasOption(project, enumLinkRole, "", role); err != nil {
		return nil, err
	} else if !ok {
		return nil, invalid("unknown link role %q", role)
	}

	allowedTypes := make([]any, 0, len(allowed))
	for _, t := range allowed {
		if ok, err := b.hasOption(project, enumType, "", t); err != nil {
			return nil, err
		} else if !ok {
			return nil, invalid("unknown work item type %q", t)
		}
		allowedTypes = append(allowedTypes, enumValue(t))
	}

	now := timestamp(b.now())
	o := &object{
		Kind:    kindModule,
		Project: project,
		ID:      space + "/" + name,
		Data: map[string]any{
			"title":             title,
			"moduleName":        name,
			"moduleFolder":      space,
			"status":            enumValue(defaultDocStatus),
			"allowedWITypes":    allowedTypes,
			"structureLinkRole": enumValue(role),
			"revision":          float64(0),
			"author":            UserURI(user),
			"created":           now,
			"updated":           now,
		},
	}
	if home != nil {
		o.Data["homePageContent"] = textValue(*home)
	}
	if err := b.insertObject(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (b *Backend) updateModule(c *call) (any, error) {
	var delta map[string]any
	if err := c.bind(&delta); err != nil {
		return nil, err
	}
	uri, err := deltaURI(delta)
	if err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindModule, uri)
	if err != nil {
		return nil, err
	}
	if err := applyDelta(o, delta, moduleWritable); err != nil {
		return nil, err
	}
	bumpRevision(o, timestamp(b.now()))
	return nil, b.saveObject(o)
}

func (b *Backend) deleteModule(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	if _, err := b.mustObject(kindModule, uri); err != nil {
		return nil, err
	}
	return nil, b.deleteObject(uri)
}

// docItem is one membership row of a document.
type docItem struct {
	uri    string
	parent string
}

func (b *Backend) docItems(module string) ([]docItem, error) {
	rows, err := b.db.Query("SELECT work_item_uri, parent_uri FROM doc_items WHERE module_uri = ? ORDER BY position", module)
	if err != nil {
		return nil, fmt.Errorf("querying document items: %w", err)
	}
	defer rows.Close()

	var out []docItem
	for rows.Next() {
		var it docItem
		if err := rows.Scan(&it.uri, &it.parent); err != nil {
			return nil, fmt.Errorf("scanning document item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// moduleWorkItems returns the work items under parent ("" for the top
// level) in document order; deep includes every descendant, depth first.
func (b *Backend) moduleWorkItems(module, parent string, deep bool) ([]string, error) {
	items, err := b.docItems(module)
	if err != nil {
		return nil, err
	}
	children := make(map[string][]string)
	for _, it := range items {
		children[it.parent] = append(children[it.parent], it.uri)
	}

	out := []string{}
	var walk func(p string)
	walk = func(p string) {
		for _, uri := range children[p] {
			out = append(out, uri)
			if deep {
				walk(uri)
			}
		}
	}
	walk(parent)
	return out, nil
}

func (b *Backend) getModuleWorkItemURIs(c *call) (any, error) {
	var (
		module, parent string
		deep           bool
	)
	if err := c.bind(&module, &parent, &deep); err != nil {
		return nil, err
	}
	if _, err := b.mustObject(kindModule, module); err != nil {
		return nil, err
	}
	return b.moduleWorkItems(module, parent, deep)
}

// placeInDocument appends a work item to a document under parent and links
// it to the parent with the document's structure role.
func (b *Backend) placeInDocument(m, w *object, parent string) error {
	if parent != "" {
		items, err := b.docItems(m.URI)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(items, func(it docItem) bool { return it.uri == parent }) {
			return invalid("%s is not in document %s", parent, m.ID)
		}
	}

	if _, err := b.db.Exec("DELETE FROM doc_items WHERE work_item_uri = ?", w.URI); err != nil {
		return fmt.Errorf("removing document membership: %w", err)
	}
	_, err := b.db.Exec(
		`INSERT INTO doc_items (module_uri, work_item_uri, parent_uri, position)
		 VALUES (?1, ?2, ?3, (SELECT COALESCE(MAX(position), 0) + 1 FROM doc_items WHERE module_uri = ?1))`,
		m.URI, w.URI, parent)
	if err != nil {
		return fmt.Errorf("adding document membership: %w", err)
	}

	if parent != "" {
		if _, err := b.link(w, parent, enumID(m.Data, "structureLinkRole")); err != nil {
			return err
		}
	}
	if err := b.touchWorkItem(w); err != nil {
		return err
	}
	return nil
}

// allowsType reports whether a document accepts work items of typeID. An
// empty allow-list accepts everything.
func allowsType(m *object, typeID string) bool {
	allowed := list(m.Data, "allowedWITypes")
	if len(allowed) == 0 {
		return true
	}
	return slices.ContainsFunc(allowed, func(a any) bool {
		am, _ := a.(map[string]any)
		return str(am, "id") == typeID
	})
}

func (b *Backend) createWorkItemInModule(c *call) (any, error) {
	var (
		module, parent string
		values         map[string]any
	)
	if err := c.bind(&module, &parent, &values); err != nil {
		return nil, err
	}
	m, err := b.mustObject(kindModule, module)
	if err != nil {
		return nil, err
	}
	if typeID := enumID(values, "type"); !allowsType(m, typeID) {
		return nil, rejected("document %s does not allow type %q", m.ID, typeID)
	}
	w, err := b.newWorkItem(c.user, m.Project, values)
	if err != nil {
		return nil, err
	}
	if err := b.placeInDocument(m, w, parent); err != nil {
		return nil, err
	}
	return w.URI, nil
}

func (b *Backend) moveWorkItemToDocument(c *call) (any, error) {
	var workItem, module, parent string
	if err := c.bind(&workItem, &module, &parent); err != nil {
		return nil, err
	}
	w, err := b.mustObject(kindWorkItem, workItem)
	if err != nil {
		return nil, err
	}
	m, err := b.mustObject(kindModule, module)
	if err != nil {
		return nil, err
	}
	if !allowsType(m, enumID(w.Data, "type")) {
		return nil, rejected("document %s does not allow type %q", m.ID, enumID(w.Data, "type"))
	}
	return nil, b.placeInDocument(m, w, parent)
}

func (b *Backend) getDocumentSpaces(c *call) (any, error) {
	var project string
	if err := c.bind(&project); err != nil {
		return nil, err
	}
	return b.stringColumn(
		`SELECT DISTINCT json_extract(data, '$.moduleFolder') FROM objects
		 WHERE kind = ? AND project_id = ? ORDER BY 1`, kindModule, project)
}

func (b *Backend) getDocumentLocations(c *call) (any, error) {
	var project string
	if err := c.bind(&project); err != nil {
		return nil, err
	}
	return b.stringColumn("SELECT object_id FROM objects WHERE kind = ? AND project_id = ? ORDER BY object_id", kindModule, project)
}

func (b *Backend) getModuleURIs(c *call) (any, error) {
	var project, space string
	if err := c.bind(&project, &space); err != nil {
		return nil, err
	}
	return b.stringColumn(
		`SELECT uri FROM objects WHERE kind = ? AND project_id = ? AND json_extract(data, '$.moduleFolder') = ?
		 ORDER BY object_id`, kindModule, project, space)
}

// copyFields copies the named fields from src to dst; absent fields are
// removed from dst.
func copyFields(dst, src map[string]any, fields []string) {
	for _, f := range fields {
		if v, ok := src[f]; ok {
			dst[f] = cloneData(map[string]any{"v": v})["v"]
		} else {
			delete(dst, f)
		}
	}
}

// reuseDocument derives a copy of a document into another project. Every
// work item is copied with the inherited fields and linked back to its
// source with linkRole; the copy remembers the source revision it was made
// from.
func (b *Backend) reuseDocument(c *call) (any, error) {
	var (
		source, project, space, name, linkRole string
		inherited                              []string
	)
	if err := c.bind(&source, &project, &space, &name, &linkRole, &inherited); err != nil {
		return nil, err
	}
	src, err := b.mustObject(kindModule, source)
	if err != nil {
		return nil, err
	}
	if ok, err := b.hasOption(project, enumLinkRole, "", linkRole); err != nil {
		return nil, err
	} else if !ok {
		return nil, invalid("unknown link role %q", linkRole)
	}

	var allowed []string
	for _, a := range list(src.Data, "allowedWITypes") {
		am, _ := a.(map[string]any)
		allowed = append(allowed, str(am, "id"))
	}
	var home *types.Text
	if h, ok := src.Data["homePageContent"].(map[string]any); ok {
		home = &types.Text{Type: str(h, "type"), Content: str(h, "content")}
	}
	d, err := b.newDocument(c.user, project, space, name, str(src.Data, "title"), allowed, enumID(src.Data, "structureLinkRole"), home)
	if err != nil {
		return nil, err
	}

	items, err := b.docItems(src.URI)
	if err != nil {
		return nil, err
	}
	copies := make(map[string]string, len(items))
	for _, it := range items {
		orig, err := b.mustObject(kindWorkItem, it.uri)
		if err != nil {
			return nil, err
		}
		values := map[string]any{"type": orig.Data["type"]}
		copyFields(values, orig.Data, inherited)
		w, err := b.newWorkItem(c.user, project, values)
		if err != nil {
			return nil, err
		}
		w.Data[derivedFromKey] = orig.URI
		if _, err := b.link(w, orig.URI, linkRole); err != nil {
			return nil, err
		}
		if err := b.placeInDocument(d, w, copies[it.parent]); err != nil {
			return nil, err
		}
		copies[it.uri] = w.URI
	}

	d, err = b.mustObject(kindModule, d.URI)
	if err != nil {
		return nil, err
	}
	d.Data["derivedFromURI"] = src.URI
	d.Data["derivedFromRevision"] = float64(revision(src))
	d.Data["derivedFields"] = inherited
	return d.URI, b.saveObject(d)
}

// updateDerivedDocument refreshes the inherited fields of every derived work
// item from its source and marks the document current.
func (b *Backend) updateDerivedDocument(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	d, err := b.mustObject(kindModule, uri)
	if err != nil {
		return nil, err
	}
	srcURI := str(d.Data, "derivedFromURI")
	if srcURI == "" {
		return nil, invalid("document %s is not derived", d.ID)
	}
	src, err := b.mustObject(kindModule, srcURI)
	if err != nil {
		return nil, err
	}
	var inherited []string
	for _, f := range list(d.Data, "derivedFields") {
		if s, ok := f.(string); ok {
			inherited = append(inherited, s)
		}
	}

	items, err := b.moduleWorkItems(uri, "", true)
	if err != nil {
		return nil, err
	}
	for _, itemURI := range items {
		w, err := b.mustObject(kindWorkItem, itemURI)
		if err != nil {
			return nil, err
		}
		origURI := str(w.Data, derivedFromKey)
		if origURI == "" {
			continue
		}
		orig, err := b.findObject(origURI)
		if err != nil {
			return nil, err
		}
		if orig == nil {
			continue
		}
		copyFields(w.Data, orig.Data, inherited)
		if err := b.touchWorkItem(w); err != nil {
			return nil, err
		}
	}

	d, err = b.mustObject(kindModule, uri)
	if err != nil {
		return nil, err
	}
	d.Data["derivedFromRevision"] = float64(revision(src))
	return nil, b.saveObject(d)
}
