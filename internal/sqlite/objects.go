// This file implements the generic object store behind work items, test
// runs, plans and documents.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Object kinds, stored in objects.kind. They match the URI type tags.
const (
	kindWorkItem = types.TagWorkItem
	kindTestRun  = types.TagTestRun
	kindPlan     = types.TagPlan
	kindModule   = types.TagModule
)

// uriTypeNames maps a kind to the type name used inside its URIs.
var uriTypeNames = map[string]string{
	kindWorkItem: "WorkItem",
	kindTestRun:  "TestRun",
	kindPlan:     "Plan",
	kindModule:   "Module",
}

// object is one stored record.
type object struct {
	URI     string
	Kind    string
	Project string
	ID      string
	Data    map[string]any
	Seq     int64
}

func objectURI(kind, project, id string) string {
	return types.ObjectURI(project, uriTypeNames[kind], id)
}

const objectColumns = "uri, kind, project_id, object_id, data, seq"

func scanObject(row interface{ Scan(...any) error }) (*object, error) {
	var (
		o    object
		data string
	)
	if err := row.Scan(&o.URI, &o.Kind, &o.Project, &o.ID, &data, &o.Seq); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &o.Data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", o.URI, err)
	}
	if o.Data == nil {
		o.Data = make(map[string]any)
	}
	return &o, nil
}

// findObject returns the object at uri, or nil when there is none.
func (b *Backend) findObject(uri string) (*object, error) {
	o, err := scanObject(b.db.QueryRow("SELECT "+objectColumns+" FROM objects WHERE uri = ?", uri))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// findObjectByID returns the object of kind with id in project, or nil.
func (b *Backend) findObjectByID(kind, project, id string) (*object, error) {
	o, err := scanObject(b.db.QueryRow(
		"SELECT "+objectColumns+" FROM objects WHERE kind = ? AND project_id = ? AND object_id = ?",
		kind, project, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// mustObject returns the object of kind at uri or a not-found fault.
func (b *Backend) mustObject(kind, uri string) (*object, error) {
	o, err := b.findObject(uri)
	if err != nil {
		return nil, err
	}
	if o == nil || o.Kind != kind {
		return nil, notFound(kind, uri)
	}
	return o, nil
}

// listObjects returns every object of kind in insertion order.
func (b *Backend) listObjects(kind string) ([]*object, error) {
	rows, err := b.db.Query("SELECT "+objectColumns+" FROM objects WHERE kind = ? ORDER BY seq", kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	defer rows.Close()

	var out []*object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// insertObject stores a new object, assigning its URI and sequence number.
func (b *Backend) insertObject(o *object) error {
	if existing, err := b.findObjectByID(o.Kind, o.Project, o.ID); err != nil {
		return err
	} else if existing != nil {
		return rejected("%s %q already exists in %s", o.Kind, o.ID, o.Project)
	}

	seq, err := b.nextCounter("objects")
	if err != nil {
		return err
	}
	o.Seq = seq
	o.URI = objectURI(o.Kind, o.Project, o.ID)
	o.Data["id"] = o.ID

	data, err := json.Marshal(o.Data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", o.URI, err)
	}
	_, err = b.db.Exec("INSERT INTO objects ("+objectColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		o.URI, o.Kind, o.Project, o.ID, string(data), o.Seq)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", o.URI, err)
	}
	return nil
}

// saveObject writes the data of an existing object.
func (b *Backend) saveObject(o *object) error {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", o.URI, err)
	}
	if _, err := b.db.Exec("UPDATE objects SET data = ? WHERE uri = ?", string(data), o.URI); err != nil {
		return fmt.Errorf("updating %s: %w", o.URI, err)
	}
	return nil
}

// deleteObject removes an object with its comments, attachments and
// document memberships.
func (b *Backend) deleteObject(uri string) error {
	for _, stmt := range []string{
		"DELETE FROM objects WHERE uri = ?",
		"DELETE FROM comments WHERE owner_uri = ?",
		"DELETE FROM attachments WHERE owner_uri = ?",
		"DELETE FROM doc_items WHERE ?1 IN (work_item_uri, module_uri)",
	} {
		if _, err := b.db.Exec(stmt, uri); err != nil {
			return fmt.Errorf("deleting %s: %w", uri, err)
		}
	}
	return nil
}

// unresolvable is the record returned for an identifier that does not
// resolve.
func unresolvable() map[string]any {
	return map[string]any{types.UnresolvableKey: true}
}

// wrapRecord nests values in the single group the server emits.
func wrapRecord(values map[string]any) map[string]any {
	return map[string]any{types.UnresolvableKey: false, "values": values}
}

// publicValues copies data without server-private keys.
func publicValues(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+4)
	for k, v := range data {
		if !strings.HasPrefix(k, types.PrivatePrefix) {
			out[k] = v
		}
	}
	return out
}

// record renders an object as a remote record, adding the fields the server
// derives at read time.
func (b *Backend) record(o *object) (map[string]any, error) {
	values, err := b.values(o)
	if err != nil {
		return nil, err
	}
	return wrapRecord(values), nil
}

func (b *Backend) values(o *object) (map[string]any, error) {
	values := publicValues(o.Data)
	values["uri"] = o.URI

	var err error
	switch o.Kind {
	case kindWorkItem:
		err = b.workItemDerived(o, values)
	case kindTestRun:
		err = b.testRunDerived(o, values)
	case kindModule:
		err = b.moduleDerived(o, values)
	}
	if err != nil {
		return nil, err
	}
	return values, nil
}

// records renders a list of objects.
func (b *Backend) records(objs []*object) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(objs))
	for _, o := range objs {
		rec, err := b.record(o)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// getRecord answers a get-by-uri operation: a record, or the unresolvable
// marker.
func (b *Backend) getRecord(kind, uri string) (any, error) {
	o, err := b.findObject(uri)
	if err != nil {
		return nil, err
	}
	if o == nil || o.Kind != kind {
		return unresolvable(), nil
	}
	return b.record(o)
}

// getRecordByID answers a get-by-id operation.
func (b *Backend) getRecordByID(kind, project, id string) (any, error) {
	o, err := b.findObjectByID(kind, project, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return unresolvable(), nil
	}
	return b.record(o)
}

// applyDelta merges delta into o.Data. Keys outside writable are rejected;
// a null value removes the key.
func applyDelta(o *object, delta map[string]any, writable map[string]bool) error {
	for k, v := range delta {
		if k == "uri" {
			continue
		}
		if !writable[k] {
			return invalid("field %q of %s is read-only", k, o.Kind)
		}
		if v == nil {
			delete(o.Data, k)
			continue
		}
		o.Data[k] = v
	}
	return nil
}

// deltaURI extracts the uri of an update payload.
func deltaURI(delta map[string]any) (string, error) {
	uri, _ := delta["uri"].(string)
	if uri == "" {
		return "", invalid("update carries no uri")
	}
	return uri, nil
}

// set builds a membership set from keys.
func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// str returns data[key] as a string.
func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// enumID returns the id of the option stored at data[key].
func enumID(data map[string]any, key string) string {
	m, _ := data[key].(map[string]any)
	return str(m, "id")
}

// enumValue builds the stored form of an option reference.
func enumValue(id string) map[string]any {
	return map[string]any{"id": id}
}

// list returns data[key] as a slice.
func list(data map[string]any, key string) []any {
	l, _ := data[key].([]any)
	return l
}

// toJSONValue converts v to its generic JSON form.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

// cloneData deep-copies stored data.
func cloneData(data map[string]any) map[string]any {
	out, err := toJSONValue(data)
	if err != nil {
		return maps.Clone(data)
	}
	m, _ := out.(map[string]any)
	return m
}
