package types

import (
	"maps"
	"reflect"
	"slices"
	"strings"
)

// UnresolvableKey is the marker a server sets on a record whose identifier
// did not resolve to a real object.
const UnresolvableKey = "unresolvable"

// PrivatePrefix marks attribute names that are never diffable: identifiers,
// session handles and parent references.
const PrivatePrefix = "_"

// Record is a remote record as returned by a service operation: an
// unresolvable marker plus one level of named field groupings.
type Record map[string]any

// Fields is a flat attribute bag keyed by remote field name.
type Fields map[string]any

// Unresolvable reports whether the server marked the record unresolvable.
func (r Record) Unresolvable() bool {
	v, _ := r[UnresolvableKey].(bool)
	return v
}

// Flatten copies the members of every top-level grouping of r into a single
// bag; the grouping names themselves are dropped. Top-level values that are
// not groupings are copied as-is. Groupings are visited in name order, so a
// key present in two groupings takes the value from the later name. All
// values are deep-copied. A nil or unresolvable record yields
// ErrUnresolvableRecord.
func Flatten(r Record) (Fields, error) {
	if r == nil || r.Unresolvable() {
		return nil, ErrUnresolvableRecord
	}
	out := make(Fields, len(r))
	for _, name := range slices.Sorted(maps.Keys(r)) {
		if name == UnresolvableKey {
			continue
		}
		group, ok := r[name].(map[string]any)
		if !ok {
			out[name] = deepCopy(r[name])
			continue
		}
		for k, v := range group {
			out[k] = deepCopy(v)
		}
	}
	return out, nil
}

// ComputeDelta returns the entries of current whose value differs from the
// same key in original. Only keys present in original are considered and keys
// carrying PrivatePrefix are skipped. A key missing from current compares as
// nil. The result is empty, never nil.
func ComputeDelta(original, current Fields) Fields {
	delta := Fields{}
	for k, before := range original {
		if strings.HasPrefix(k, PrivatePrefix) {
			continue
		}
		after := current[k]
		if !reflect.DeepEqual(before, after) {
			delta[k] = deepCopy(after)
		}
	}
	return delta
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = deepCopy(v)
	}
	return out
}

// Select returns the subset of f named by keys. Keys absent from f are
// included with a nil value so that later comparisons see them.
func (f Fields) Select(keys []string) Fields {
	out := make(Fields, len(keys))
	for _, k := range keys {
		out[k] = f[k]
	}
	return out
}

// Keys returns the field names of f in sorted order.
func (f Fields) Keys() []string {
	return slices.Sorted(maps.Keys(f))
}

// String returns the value stored under key when it is a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Record wraps f into a single-group remote record.
func (f Fields) Record(group string) Record {
	return Record{UnresolvableKey: false, group: map[string]any(f.Clone())}
}

// deepCopy copies the JSON-shaped values found in remote records. Other
// values are returned unchanged.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case Fields:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
