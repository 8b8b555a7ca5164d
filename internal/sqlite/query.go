// This file implements the search query language of the query operations:
// whitespace-separated field:value terms, all of which must match. A value
// may be a parenthesised list of alternatives, a quoted string, a trailing
// wildcard (abc*) or * for any non-empty value. Dotted fields walk nested
// values; a final .id on a URI compares the part after its type tag.
package sqlite

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// term is one field:value condition. Any of values may match.
type term struct {
	path   []string
	values []string
}

// query is a conjunction of terms.
type query []term

// parseQuery parses a search query. The empty query matches everything.
func parseQuery(s string) (query, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	var q query
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if strings.EqualFold(tok, "AND") {
			continue
		}
		field, value, ok := strings.Cut(tok, ":")
		if !ok || field == "" {
			return nil, invalid("query term %q is not field:value", tok)
		}
		t := term{path: strings.Split(field, ".")}
		switch {
		case value == "" && i+1 < len(tokens) && tokens[i+1] == "(":
			for i += 2; i < len(tokens) && tokens[i] != ")"; i++ {
				t.values = append(t.values, tokens[i])
			}
			if i >= len(tokens) {
				return nil, invalid("unclosed ( in query %q", s)
			}
		case value != "":
			t.values = []string{value}
		}
		if len(t.values) == 0 {
			return nil, invalid("query term %q has no value", tok)
		}
		q = append(q, t)
	}
	return q, nil
}

// tokenize splits s on whitespace, keeping quoted strings whole and emitting
// each parenthesis as a token of its own.
func tokenize(s string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, invalid("unterminated quote in query %q", s)
	}
	flush()
	return tokens, nil
}

// fieldValues collects the comparable strings found at path in v.
func fieldValues(v any, path []string) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if len(path) == 0 {
			if id, ok := x["id"].(string); ok {
				return []string{id}
			}
			return nil
		}
		return fieldValues(x[path[0]], path[1:])
	case []any:
		var out []string
		for _, e := range x {
			out = append(out, fieldValues(e, path)...)
		}
		return out
	case string:
		switch {
		case len(path) == 0:
			return []string{x}
		case len(path) == 1 && path[0] == "id":
			return []string{types.LocalID(x)}
		}
		return nil
	case bool:
		if len(path) == 0 {
			return []string{strconv.FormatBool(x)}
		}
	case float64:
		if len(path) == 0 {
			return []string{strconv.FormatFloat(x, 'f', -1, 64)}
		}
	}
	return nil
}

// valueMatches compares one candidate against one query value.
func valueMatches(candidate, want string) bool {
	switch {
	case want == "*":
		return candidate != ""
	case strings.HasSuffix(want, "*"):
		return strings.HasPrefix(strings.ToLower(candidate), strings.ToLower(strings.TrimSuffix(want, "*")))
	default:
		return strings.EqualFold(candidate, want)
	}
}

// matches reports whether the object satisfies every term. The pseudo field
// project (and project.id) compares the owning project.
func (q query) matches(o *object, values map[string]any) bool {
	for _, t := range q {
		var candidates []string
		if t.path[0] == "project" {
			candidates = []string{o.Project}
		} else {
			candidates = fieldValues(values[t.path[0]], t.path[1:])
		}
		if !slices.ContainsFunc(candidates, func(c string) bool {
			return slices.ContainsFunc(t.values, func(w string) bool { return valueMatches(c, w) })
		}) {
			return false
		}
	}
	return true
}

// searchHit pairs an object with its rendered values.
type searchHit struct {
	obj    *object
	values map[string]any
}

// search runs q over every object of kind, orders the hits by sort (a field
// name, ~ prefix for descending, empty for creation order) and keeps at most
// limit of them; limit < 0 means no limit.
func (b *Backend) search(kind, q, sort string, limit int) ([]searchHit, error) {
	parsed, err := parseQuery(q)
	if err != nil {
		return nil, err
	}
	objs, err := b.listObjects(kind)
	if err != nil {
		return nil, err
	}

	var hits []searchHit
	for _, o := range objs {
		values, err := b.values(o)
		if err != nil {
			return nil, err
		}
		if parsed.matches(o, values) {
			hits = append(hits, searchHit{obj: o, values: values})
		}
	}

	desc := strings.HasPrefix(sort, "~")
	field := strings.ToLower(strings.TrimPrefix(sort, "~"))
	if field != "" {
		key := func(h searchHit) string {
			for k, v := range h.values {
				if strings.ToLower(k) == field {
					if vals := fieldValues(v, nil); len(vals) > 0 {
						return vals[0]
					}
				}
			}
			return ""
		}
		slices.SortStableFunc(hits, func(x, y searchHit) int {
			c := cmp.Compare(key(x), key(y))
			if desc {
				return -c
			}
			return c
		})
	}

	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// projectFields restricts values to fields, always keeping id and uri. An empty
// field list keeps everything.
func projectFields(values map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return values
	}
	out := map[string]any{"id": values["id"], "uri": values["uri"]}
	for _, f := range fields {
		if v, ok := values[f]; ok {
			out[f] = v
		}
	}
	return out
}
