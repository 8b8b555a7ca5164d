// Package types defines the shared vocabulary of the ALM client: client
// configuration, the sentinel errors returned by every layer, resource
// identifier parsing, the remote record adapter (Flatten, ComputeDelta and
// the struct codec), and the value shapes carried inside remote records.
package types
