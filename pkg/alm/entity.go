package alm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Entity is anything a resource identifier can resolve to.
type Entity interface {
	URI() string
	ID() string
}

// entity is the change-tracking core shared by every mutable entity. It
// binds one remote record onto a typed field struct and keeps a baseline of
// the struct's diffable fields.
//
// States: a new entity is unbound until open or bind succeeds; it is then
// bound, and becomes mutated as soon as a caller writes a field. Save pushes
// the delta and reloads, returning it to bound. Delete marks it deleted, after
// which Save fails with types.ErrStaleEntity.
type entity struct {
	client  *Client
	name    string
	uri     string
	id      string
	project *Project

	data     any
	diffable []string
	baseline types.Fields

	deleted bool
	batch   int

	// extract consumes record keys that do not decode into data, such as the
	// records of a test run. It runs before decoding.
	extract func(ctx context.Context, fields types.Fields) error

	fetch   func(ctx context.Context) (types.Record, error)
	push    func(ctx context.Context, delta types.Fields) error
	refresh func(ctx context.Context) error
}

// addressable wires fetch and push to the get-by-uri and update operations
// of service.
func (e *entity) addressable(service, get, update string) {
	e.fetch = func(ctx context.Context) (types.Record, error) {
		var raw types.Record
		if err := e.client.call(ctx, service, get, &raw, e.uri); err != nil {
			return nil, err
		}
		return raw, nil
	}
	e.push = func(ctx context.Context, delta types.Fields) error {
		delta["uri"] = e.uri
		return e.client.call(ctx, service, update, nil, map[string]any(delta))
	}
}

// URI returns the resource identifier of the entity.
func (e *entity) URI() string {
	return e.uri
}

// ID returns the project-local id of the entity.
func (e *entity) ID() string {
	return e.id
}

// Deleted reports whether Delete succeeded on this handle.
func (e *entity) Deleted() bool {
	return e.deleted
}

func (e *entity) ident() string {
	if e.uri != "" {
		return e.uri
	}
	return e.id
}

// projectID returns the id of the owning project.
func (e *entity) projectID() string {
	if e.project != nil {
		return e.project.ID()
	}
	u, err := types.ParseURI(e.uri)
	if err != nil {
		return ""
	}
	return u.Project
}

// Project returns the owning project, fetching it when the entity was not
// created through one.
func (e *entity) Project(ctx context.Context) (*Project, error) {
	if e.project == nil {
		p, err := e.client.Project(ctx, e.projectID())
		if err != nil {
			return nil, err
		}
		e.project = p
	}
	return e.project, nil
}

// bind flattens raw onto the field struct and takes a new baseline.
func (e *entity) bind(ctx context.Context, raw types.Record) error {
	fields, err := types.Flatten(raw)
	if err != nil {
		return err
	}
	if uri := fields.String("uri"); uri != "" {
		e.uri = uri
	}
	if id := fields.String("id"); id != "" {
		e.id = id
	}
	delete(fields, "uri")
	delete(fields, "id")

	if e.extract != nil {
		if err := e.extract(ctx, fields); err != nil {
			return err
		}
	}
	unknown, err := types.DecodeFields(fields, e.data)
	if err != nil {
		return fmt.Errorf("%s %s: %w", e.name, e.ident(), err)
	}
	if len(unknown) > 0 {
		zerolog.Ctx(ctx).Debug().Str("entity", e.name).Strs("keys", unknown).Msg("ignoring unknown fields")
	}

	e.baseline, err = e.current()
	return err
}

// open fetches the record and binds it. Any failure, including an
// unresolvable record, is reported as types.ErrNotFound wrapping the cause.
func (e *entity) open(ctx context.Context) error {
	return e.openWith(ctx, e.fetch)
}

// openWith is open with an alternative first fetch, such as a lookup by id.
func (e *entity) openWith(ctx context.Context, fetch func(ctx context.Context) (types.Record, error)) error {
	raw, err := fetch(ctx)
	if err == nil {
		err = e.bind(ctx, raw)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", types.ErrNotFound, e.name, e.ident(), err)
	}
	return nil
}

// openRecord binds a record fetched elsewhere, with the same error
// reporting as open.
func (e *entity) openRecord(ctx context.Context, raw types.Record) error {
	return e.openWith(ctx, func(context.Context) (types.Record, error) { return raw, nil })
}

// Reload refetches the record and replaces both the fields and the
// baseline. Unsaved changes are lost.
func (e *entity) Reload(ctx context.Context) error {
	if e.refresh != nil {
		return e.refresh(ctx)
	}
	raw, err := e.fetch(ctx)
	if err != nil {
		return fmt.Errorf("reload %s %s: %w", e.name, e.ident(), err)
	}
	if err := e.bind(ctx, raw); err != nil {
		return fmt.Errorf("reload %s %s: %w", e.name, e.ident(), err)
	}
	return nil
}

// current encodes the diffable fields in their JSON shape.
func (e *entity) current() (types.Fields, error) {
	all, err := types.EncodeFields(e.data)
	if err != nil {
		return nil, err
	}
	return all.Select(e.diffable), nil
}

// Baseline returns a copy of the diffable fields as of the last load or
// save.
func (e *entity) Baseline() types.Fields {
	return e.baseline.Clone()
}

// Delta returns the diffable fields whose value differs from the baseline.
func (e *entity) Delta() (types.Fields, error) {
	cur, err := e.current()
	if err != nil {
		return nil, err
	}
	return types.ComputeDelta(e.baseline, cur), nil
}

// Save pushes the changed fields and reloads. Without changes it does
// nothing. Inside Edit it is deferred to the end of the scope. A failed
// push leaves the changes pending so Save can be retried.
func (e *entity) Save(ctx context.Context) error {
	if e.deleted {
		return fmt.Errorf("save %s %s: %w", e.name, e.ident(), types.ErrStaleEntity)
	}
	if e.batch > 0 {
		return nil
	}
	return e.flush(ctx)
}

// flush saves regardless of an open batch scope.
func (e *entity) flush(ctx context.Context) error {
	if e.deleted {
		return fmt.Errorf("save %s %s: %w", e.name, e.ident(), types.ErrStaleEntity)
	}
	delta, err := e.Delta()
	if err != nil {
		return err
	}
	if len(delta) == 0 {
		return nil
	}

	zerolog.Ctx(ctx).Debug().Str("entity", e.name).Str("uri", e.uri).Strs("fields", delta.Keys()).Msg("saving")
	if err := e.push(ctx, delta); err != nil {
		return fmt.Errorf("save %s %s: %w", e.name, e.ident(), err)
	}
	return e.Reload(ctx)
}

// saveKey pushes the current value of one diffable key in an update of its
// own and moves only that key of the baseline. Other pending changes stay
// pending, also inside an Edit scope.
func (e *entity) saveKey(ctx context.Context, key string) error {
	if e.deleted {
		return fmt.Errorf("save %s %s: %w", e.name, e.ident(), types.ErrStaleEntity)
	}
	cur, err := e.current()
	if err != nil {
		return err
	}
	only := []string{key}
	delta := types.ComputeDelta(e.baseline.Select(only), cur.Select(only))
	if len(delta) == 0 {
		return nil
	}

	zerolog.Ctx(ctx).Debug().Str("entity", e.name).Str("uri", e.uri).Str("field", key).Msg("saving")
	if err := e.push(ctx, delta); err != nil {
		return fmt.Errorf("save %s %s: %w", e.name, e.ident(), err)
	}
	e.baseline[key] = cur[key]
	return nil
}

// Edit runs fn with saves suspended and flushes once when fn returns, also
// when it fails. Field writes made inside fn reach the server in a single
// update.
func (e *entity) Edit(ctx context.Context, fn func() error) (err error) {
	e.batch++
	defer func() {
		e.batch--
		if e.batch > 0 {
			return
		}
		if e.deleted {
			return
		}
		if ferr := e.flush(ctx); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()
	return fn()
}

// markDeleted records a successful remote delete.
func (e *entity) markDeleted() {
	e.deleted = true
}
