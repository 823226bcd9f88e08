// Package file implements a kv store driver over a directory tree, one
// file per key, with key path separators mapping to subdirectories.
// Generations are blake3 hashes of the file contents, so any observable
// change to a key's value changes its generation.
//
// Conditional writes are serialized by an in-process lock; the driver
// does not defend against concurrent mutation of the same directory by
// other processes.
package file

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/keys"
	"github.com/zeebo/blake3"
)

const (
	// DriverName is the name the plugin registers under.
	DriverName = "file"
	// tmpMarker marks in-flight write files. List skips names carrying
	// it so a listing never surfaces a half-written key.
	tmpMarker = ".tmp-"
)

// Plugin returns the file driver plugin.
func Plugin() kv.Plugin {
	return &filePlugin{}
}

type filePlugin struct {
}

// Name implements Plugin.Name
func (plugin *filePlugin) Name() string {
	return DriverName
}

// NewStore implements Plugin.NewStore. Options: "path" (string,
// required) is the root directory.
func (plugin *filePlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	path, ok := options["path"].(string)

	if !ok || path == "" {
		return nil, fmt.Errorf("file driver requires a \"path\" string option")
	}

	return New(path)
}

// NewTempStore implements Plugin.NewTempStore
func (plugin *filePlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("gridstore-file-%s", uuid.New().String())),
	})
}

var _ kv.Store = (*Store)(nil)

// Store is a directory-backed kv.Store.
type Store struct {
	mu   sync.Mutex
	root string
}

// New creates the root directory if needed and returns a store over
// it.
func New(root string) (*Store, error) {
	root, err := filepath.Abs(root)

	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create store root %s: %w", root, err)
	}

	return &Store{root: root}, nil
}

func (store *Store) path(key []byte) string {
	return filepath.Join(store.root, filepath.FromSlash(string(key)))
}

func generationOf(value []byte) kv.Generation {
	sum := blake3.Sum256(value)

	return kv.Generation(hex.EncodeToString(sum[:16]))
}

// current returns the key's value and generation, or ErrNotFound.
func (store *Store) current(key []byte) ([]byte, kv.Generation, error) {
	value, err := os.ReadFile(store.path(key))

	if err != nil {
		if os.IsNotExist(err) {
			return nil, kv.NoValue, fmt.Errorf("%w: %q", kv.ErrNotFound, key)
		}

		return nil, kv.NoValue, fmt.Errorf("could not read key %q: %w", key, err)
	}

	return value, generationOf(value), nil
}

// check validates a conditional mutation. Callers must hold the lock.
func (store *Store) check(key []byte, expected kv.Generation) error {
	if expected == kv.Unconditional {
		return nil
	}

	_, current, err := store.current(key)

	if err != nil {
		if expected == kv.NoValue {
			return nil
		}

		return fmt.Errorf("%w: key %q does not exist, expected generation %q", kv.ErrConflict, key, expected)
	}

	if current != expected {
		return fmt.Errorf("%w: key %q has generation %q, expected %q", kv.ErrConflict, key, current, expected)
	}

	return nil
}

// Get implements Store.Get
func (store *Store) Get(ctx context.Context, key []byte) ([]byte, kv.Generation, error) {
	if len(key) == 0 {
		return nil, kv.NoValue, kv.ErrInvalidKey
	}

	return store.current(key)
}

// Put implements Store.Put. The value lands via a temporary file and
// rename so that readers never observe a torn write.
func (store *Store) Put(ctx context.Context, key []byte, value []byte, expected kv.Generation) (kv.Generation, error) {
	if len(key) == 0 {
		return kv.NoValue, kv.ErrInvalidKey
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if err := store.check(key, expected); err != nil {
		return kv.NoValue, err
	}

	path := store.path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return kv.NoValue, fmt.Errorf("could not create parent directory for key %q: %w", key, err)
	}

	tmp := path + tmpMarker + uuid.New().String()

	if err := os.WriteFile(tmp, value, 0644); err != nil {
		return kv.NoValue, fmt.Errorf("could not write key %q: %w", key, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return kv.NoValue, fmt.Errorf("could not commit key %q: %w", key, err)
	}

	return generationOf(value), nil
}

// Delete implements Store.Delete
func (store *Store) Delete(ctx context.Context, key []byte, expected kv.Generation) error {
	if len(key) == 0 {
		return kv.ErrInvalidKey
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if err := store.check(key, expected); err != nil {
		return err
	}

	if err := os.Remove(store.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete key %q: %w", key, err)
	}

	return nil
}

// List implements Store.List
func (store *Store) List(ctx context.Context, r keys.Range) (kv.Iterator, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var matched [][]byte

	err := filepath.WalkDir(store.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || strings.Contains(d.Name(), tmpMarker) {
			return nil
		}

		rel, err := filepath.Rel(store.root, path)

		if err != nil {
			return err
		}

		key := []byte(filepath.ToSlash(rel))

		if r.Contains(key) {
			matched = append(matched, key)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("could not list keys: %w", err)
	}

	sort.Slice(matched, func(i, j int) bool {
		return keys.Compare(matched[i], matched[j]) < 0
	})

	return &iterator{keys: matched}, nil
}

// Close implements Store.Close
func (store *Store) Close() error {
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
