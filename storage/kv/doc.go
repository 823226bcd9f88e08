// Package kv defines the key-value contract that every storage backend
// implements and that the cache, transaction manager, and array
// drivers consume.
//
// The contract is deliberately narrow: get, conditional put,
// conditional delete, and a lazy key listing. Every successful
// mutation of a key assigns it a fresh opaque generation, and a
// conditional put or delete succeeds only if the backend's current
// generation for the key matches the caller's expectation. This
// single primitive is the only mechanism the layers above rely on for
// detecting concurrent modification; there are no locks and no
// cross-key atomicity at this level.
//
// Backends register themselves as plugins keyed by driver name (see
// the plugins sub-package) and are resolved at open time from a spec's
// kvstore node.
package kv
