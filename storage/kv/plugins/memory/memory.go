// Package memory implements an in-memory kv store driver backed by a
// sorted treemap. It is the default backend for tests and for specs
// that never need durability.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/keys"
)

const (
	// DriverName is the name the plugin registers under.
	DriverName = "memory"
)

// Plugin returns the memory driver plugin.
func Plugin() kv.Plugin {
	return &memoryPlugin{}
}

type memoryPlugin struct {
}

// Name implements Plugin.Name
func (plugin *memoryPlugin) Name() string {
	return DriverName
}

var (
	namedMu sync.Mutex
	named   = map[string]*Store{}
)

// NewStore implements Plugin.NewStore. Options: "id" (string,
// optional) names a process-wide shared instance, so separate opens
// with the same id see the same data. Without an id every open gets a
// fresh empty store. Named instances live for the life of the process.
func (plugin *memoryPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	id, ok := options["id"].(string)

	if !ok || id == "" {
		return New(), nil
	}

	namedMu.Lock()
	defer namedMu.Unlock()

	store, ok := named[id]

	if !ok {
		store = New()
		named[id] = store
	}

	return &sharedHandle{Store: store}, nil
}

var _ kv.Store = (*sharedHandle)(nil)

// sharedHandle is one open of a named shared store. Closing the handle
// leaves the shared instance usable for other handles, past and
// future.
type sharedHandle struct {
	*Store
}

// Close implements Store.Close
func (handle *sharedHandle) Close() error {
	return nil
}

// NewTempStore implements Plugin.NewTempStore
func (plugin *memoryPlugin) NewTempStore() (kv.Store, error) {
	return New(), nil
}

type entry struct {
	value      []byte
	generation kv.Generation
}

var _ kv.Store = (*Store)(nil)

// Store is an in-memory kv.Store. The zero value is not usable; use
// New.
type Store struct {
	mu      sync.RWMutex
	entries *treemap.Map
	seq     uint64
	closed  bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		entries: treemap.NewWith(utils.StringComparator),
	}
}

// nextGeneration assigns a store-wide monotonic generation. Callers
// must hold the write lock.
func (store *Store) nextGeneration() kv.Generation {
	store.seq++

	return kv.Generation(strconv.FormatUint(store.seq, 10))
}

// Get implements Store.Get
func (store *Store) Get(ctx context.Context, key []byte) ([]byte, kv.Generation, error) {
	if len(key) == 0 {
		return nil, kv.NoValue, kv.ErrInvalidKey
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return nil, kv.NoValue, kv.ErrClosed
	}

	raw, ok := store.entries.Get(string(key))

	if !ok {
		return nil, kv.NoValue, fmt.Errorf("%w: %q", kv.ErrNotFound, key)
	}

	e := raw.(entry)
	value := make([]byte, len(e.value))
	copy(value, e.value)

	return value, e.generation, nil
}

// check validates a conditional mutation against the key's current
// state. Callers must hold the write lock.
func (store *Store) check(key string, expected kv.Generation) error {
	if expected == kv.Unconditional {
		return nil
	}

	raw, ok := store.entries.Get(key)

	if !ok {
		if expected == kv.NoValue {
			return nil
		}

		return fmt.Errorf("%w: key %q does not exist, expected generation %q", kv.ErrConflict, key, expected)
	}

	if current := raw.(entry).generation; current != expected {
		return fmt.Errorf("%w: key %q has generation %q, expected %q", kv.ErrConflict, key, current, expected)
	}

	return nil
}

// Put implements Store.Put
func (store *Store) Put(ctx context.Context, key []byte, value []byte, expected kv.Generation) (kv.Generation, error) {
	if len(key) == 0 {
		return kv.NoValue, kv.ErrInvalidKey
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return kv.NoValue, kv.ErrClosed
	}

	if err := store.check(string(key), expected); err != nil {
		return kv.NoValue, err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	generation := store.nextGeneration()
	store.entries.Put(string(key), entry{value: stored, generation: generation})

	return generation, nil
}

// Delete implements Store.Delete
func (store *Store) Delete(ctx context.Context, key []byte, expected kv.Generation) error {
	if len(key) == 0 {
		return kv.ErrInvalidKey
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return kv.ErrClosed
	}

	if err := store.check(string(key), expected); err != nil {
		return err
	}

	store.entries.Remove(string(key))

	return nil
}

// List implements Store.List
func (store *Store) List(ctx context.Context, r keys.Range) (kv.Iterator, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return nil, kv.ErrClosed
	}

	var matched [][]byte

	it := store.entries.Iterator()

	for it.Next() {
		key := []byte(it.Key().(string))

		if r.Contains(key) {
			matched = append(matched, key)
		}
	}

	return &iterator{keys: matched}, nil
}

// Close implements Store.Close
func (store *Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.closed = true

	return nil
}

var _ kv.Iterator = (*iterator)(nil)

type iterator struct {
	keys [][]byte
	pos  int
}

// Next implements Iterator.Next
func (iter *iterator) Next() bool {
	if iter.pos >= len(iter.keys) {
		iter.pos = len(iter.keys) + 1

		return false
	}

	iter.pos++

	return true
}

// Key implements Iterator.Key
func (iter *iterator) Key() []byte {
	if iter.pos == 0 || iter.pos > len(iter.keys) {
		return nil
	}

	return iter.keys[iter.pos-1]
}

// Error implements Iterator.Error
func (iter *iterator) Error() error {
	return nil
}
