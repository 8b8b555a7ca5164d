// Package alm maps the records of a remote ALM server onto mutable domain
// objects: projects, work items, test runs and their records, documents,
// plans and users.
//
// Every mutable entity keeps a baseline of its diffable fields taken when it
// was last loaded. Save sends only the fields that differ from the baseline
// and then reloads the entity, so values the server derives from the write
// (timestamps, workflow resolutions, document revisions) are visible
// immediately. Two handles on the same remote object are independent; there
// is no shared cache.
//
// A Registry resolves an opaque resource identifier to the entity type
// registered for its type tag. Client.Resolve uses the registry built by
// RegisterDefaults unless WithRegistry supplies another one.
package alm
