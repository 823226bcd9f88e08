package kv

import (
	"context"

	"github.com/jrife/gridstore/storage/kv/keys"
)

// Generation is an opaque, backend-assigned version stamp for a key.
// Generations strictly change on every successful mutation of the key.
// Two generations are only ever compared for equality; callers must
// not attach meaning to their contents.
type Generation string

const (
	// NoValue is the generation of a key that does not exist. Passing
	// it as the expected generation to Put makes the put conditional on
	// the key being absent.
	NoValue Generation = ""
	// Unconditional disables the generation check on Put and Delete:
	// the mutation applies regardless of the key's current state.
	Unconditional Generation = "*"
)

// Store is a single key-value backend location. Implementations must
// be safe for concurrent use by multiple goroutines.
type Store interface {
	// Get returns the value and current generation for a key. It
	// returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key []byte) ([]byte, Generation, error)
	// Put writes a value conditionally. The write succeeds only if the
	// key's current generation equals expected; NoValue requires the
	// key to be absent and Unconditional skips the check. On success
	// Put returns the key's new generation; on a failed condition it
	// returns ErrConflict and the store is unchanged.
	Put(ctx context.Context, key []byte, value []byte, expected Generation) (Generation, error)
	// Delete removes a key conditionally, with the same expectation
	// semantics as Put. Deleting an absent key with Unconditional has
	// no effect and returns nil.
	Delete(ctx context.Context, key []byte, expected Generation) error
	// List returns a lazy iterator over the keys in the range, in
	// ascending lexicographical order. The sequence is finite and not
	// restartable: once backend state changes mid-iteration the
	// remaining sequence may reflect either the old or new state.
	List(ctx context.Context, r keys.Range) (Iterator, error)
	// Close releases backend resources. Operations started after Close
	// returns fail with ErrClosed.
	Close() error
}

// Iterator walks a key listing. It must only be used by one goroutine
// at a time.
type Iterator interface {
	// Next advances the iterator. A fresh iterator must call Next once
	// to advance to the first key. Next returns false when the sequence
	// is exhausted or an error occurred.
	Next() bool
	// Key returns the current key.
	Key() []byte
	// Error returns the error that stopped iteration, if any.
	Error() error
}

// PluginOptions carries backend-specific configuration decoded from a
// spec's kvstore node.
type PluginOptions map[string]interface{}

// Plugin is a factory for stores of one backend kind, registered under
// the driver name that spec documents reference.
type Plugin interface {
	// Name returns the driver name.
	Name() string
	// NewStore builds a store from backend-specific options.
	NewStore(options PluginOptions) (Store, error)
	// NewTempStore builds a store with throwaway defaults. It is meant
	// for tests that need a working store without knowing how to
	// configure one.
	NewTempStore() (Store, error)
}
