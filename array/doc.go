// Package array implements a chunked n-dimensional array stored in a
// kv.Store. An array is described by a schema (element type, domain,
// chunk shape, codec, fill value); its elements live in fixed-shape
// chunks, each encoded and stored under one key. Reads and writes go
// through an indexing.Transform so a handle can expose any affine or
// gather view of the stored index space, and through a shared chunk
// cache so repeated access to the same region does not touch the
// backend.
//
// Handles are opened from a Spec, a JSON-serializable description of
// the backing store and schema. Opening with a transaction routes all
// chunk and metadata access through it, so writes stay invisible to
// other handles until the transaction commits.
package array
