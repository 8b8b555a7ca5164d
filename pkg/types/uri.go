package types

import (
	"fmt"
	"regexp"
	"strings"
)

// URIScheme is the leading component of every resource identifier.
const URIScheme = "subterra"

// objectPrefix is the namespace the server uses for addressable objects.
const objectPrefix = URIScheme + ":data-service:objects:/default/"

// Type tags as returned by ParseURI (lowercased).
const (
	TagWorkItem = "workitem"
	TagTestRun  = "testrun"
	TagPlan     = "plan"
	TagModule   = "module"
	TagUser     = "user"
	TagComment  = "comment"
)

var typeTagPattern = regexp.MustCompile(`\{(\w+)\}`)

// URI is a parsed resource identifier of the shape
// subterra:namespace:/default/PROJECT${Type}local.
type URI struct {
	Raw     string
	Tag     string // lowercased type tag, e.g. "workitem"
	Project string // empty for identifiers outside a project, e.g. users
	Local   string // path after the type tag, e.g. "PROJ-1"
}

// ParseURI parses a resource identifier. The scheme must be URIScheme and the
// identifier must carry exactly one {Type} tag; anything else is reported as
// ErrMalformedIdentifier.
func ParseURI(raw string) (URI, error) {
	scheme, _, ok := strings.Cut(raw, ":")
	if !ok || scheme != URIScheme {
		return URI{}, fmt.Errorf("%w: %q is not a %s uri", ErrMalformedIdentifier, raw, URIScheme)
	}
	loc := typeTagPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(loc) != 1 {
		return URI{}, fmt.Errorf("%w: %q must carry exactly one type tag", ErrMalformedIdentifier, raw)
	}
	m := loc[0]
	u := URI{
		Raw:   raw,
		Tag:   strings.ToLower(raw[m[2]:m[3]]),
		Local: raw[m[1]:],
	}
	if prefix := raw[:m[0]]; strings.HasPrefix(prefix, objectPrefix) {
		u.Project = strings.TrimSuffix(strings.TrimPrefix(prefix, objectPrefix), "$")
	}
	return u, nil
}

// ObjectURI builds the identifier for an object of typeName (WorkItem,
// TestRun, Plan, Module, User, Comment) inside project. An empty project
// yields a server-global identifier.
func ObjectURI(project, typeName, local string) string {
	return fmt.Sprintf("%s%s${%s}%s", objectPrefix, project, typeName, local)
}

// LocalID returns the part of uri after its type tag, or uri unchanged when
// it is not a well-formed identifier.
func LocalID(uri string) string {
	u, err := ParseURI(uri)
	if err != nil {
		return uri
	}
	return u.Local
}
