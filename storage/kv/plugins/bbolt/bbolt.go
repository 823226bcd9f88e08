// Package bbolt implements a kv store driver on a single bbolt file.
// Values are framed with an 8-byte generation number drawn from a
// store-wide sequence, so generations strictly change across any
// series of mutations to a key, including delete-then-recreate.
package bbolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/keys"
	bolt "go.etcd.io/bbolt"
)

const (
	// DriverName is the name the plugin registers under.
	DriverName = "bbolt"
)

var (
	dataBucket = []byte{0}
	seqBucket  = []byte{1}
)

// Plugin returns the bbolt driver plugin.
func Plugin() kv.Plugin {
	return &bboltPlugin{}
}

type bboltPlugin struct {
}

// Name implements Plugin.Name
func (plugin *bboltPlugin) Name() string {
	return DriverName
}

// NewStore implements Plugin.NewStore. Options: "path" (string,
// required) is the bbolt file location.
func (plugin *bboltPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	path, ok := options["path"].(string)

	if !ok || path == "" {
		return nil, fmt.Errorf("bbolt driver requires a \"path\" string option")
	}

	return New(Config{Path: path})
}

// NewTempStore implements Plugin.NewTempStore
func (plugin *bboltPlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("gridstore-bbolt-%s", uuid.New().String())),
	})
}

// Config configures a bbolt store.
type Config struct {
	Path string
}

var _ kv.Store = (*Store)(nil)

// Store is a bbolt-backed kv.Store.
type Store struct {
	db *bolt.DB
}

// New opens or creates a bbolt store at the configured path.
func New(config Config) (*Store, error) {
	db, err := bolt.Open(config.Path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", config.Path, err)
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		if _, err := txn.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}

		_, err := txn.CreateBucketIfNotExists(seqBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure buckets exist: %w", err)
	}

	return &Store{db: db}, nil
}

// frame prepends the generation number to a value.
func frame(generation uint64, value []byte) []byte {
	framed := make([]byte, len(value)+8)
	binary.BigEndian.PutUint64(framed, generation)
	copy(framed[8:], value)

	return framed
}

// unframe splits a stored value into its generation and payload.
func unframe(framed []byte) (uint64, []byte, error) {
	if len(framed) < 8 {
		return 0, nil, fmt.Errorf("stored value is too short to contain a generation frame")
	}

	return binary.BigEndian.Uint64(framed), framed[8:], nil
}

func generationString(n uint64) kv.Generation {
	return kv.Generation(strconv.FormatUint(n, 10))
}

// Get implements Store.Get
func (store *Store) Get(ctx context.Context, key []byte) ([]byte, kv.Generation, error) {
	if len(key) == 0 {
		return nil, kv.NoValue, kv.ErrInvalidKey
	}

	var value []byte
	var generation kv.Generation

	err := store.db.View(func(txn *bolt.Tx) error {
		framed := txn.Bucket(dataBucket).Get(key)

		if framed == nil {
			return fmt.Errorf("%w: %q", kv.ErrNotFound, key)
		}

		n, payload, err := unframe(framed)

		if err != nil {
			return err
		}

		value = make([]byte, len(payload))
		copy(value, payload)
		generation = generationString(n)

		return nil
	})

	if err != nil {
		return nil, kv.NoValue, err
	}

	return value, generation, nil
}

// check validates a conditional mutation inside an update transaction.
func check(bucket *bolt.Bucket, key []byte, expected kv.Generation) error {
	if expected == kv.Unconditional {
		return nil
	}

	framed := bucket.Get(key)

	if framed == nil {
		if expected == kv.NoValue {
			return nil
		}

		return fmt.Errorf("%w: key %q does not exist, expected generation %q", kv.ErrConflict, key, expected)
	}

	n, _, err := unframe(framed)

	if err != nil {
		return err
	}

	if current := generationString(n); current != expected {
		return fmt.Errorf("%w: key %q has generation %q, expected %q", kv.ErrConflict, key, current, expected)
	}

	return nil
}

// Put implements Store.Put
func (store *Store) Put(ctx context.Context, key []byte, value []byte, expected kv.Generation) (kv.Generation, error) {
	if len(key) == 0 {
		return kv.NoValue, kv.ErrInvalidKey
	}

	var generation kv.Generation

	err := store.db.Update(func(txn *bolt.Tx) error {
		data := txn.Bucket(dataBucket)

		if err := check(data, key, expected); err != nil {
			return err
		}

		n, err := txn.Bucket(seqBucket).NextSequence()

		if err != nil {
			return fmt.Errorf("could not advance generation sequence: %w", err)
		}

		if err := data.Put(key, frame(n, value)); err != nil {
			return err
		}

		generation = generationString(n)

		return nil
	})

	if err != nil {
		return kv.NoValue, err
	}

	return generation, nil
}

// Delete implements Store.Delete
func (store *Store) Delete(ctx context.Context, key []byte, expected kv.Generation) error {
	if len(key) == 0 {
		return kv.ErrInvalidKey
	}

	return store.db.Update(func(txn *bolt.Tx) error {
		data := txn.Bucket(dataBucket)

		if err := check(data, key, expected); err != nil {
			return err
		}

		return data.Delete(key)
	})
}

// List implements Store.List. The listing snapshots matching keys in a
// single read transaction.
func (store *Store) List(ctx context.Context, r keys.Range) (kv.Iterator, error) {
	var matched [][]byte

	err := store.db.View(func(txn *bolt.Tx) error {
		cursor := txn.Bucket(dataBucket).Cursor()

		key, _ := cursor.First()

		if r.Min != nil {
			key, _ = cursor.Seek(r.Min)
		}

		for ; key != nil; key, _ = cursor.Next() {
			if !r.Contains(key) {
				break
			}

			copied := make([]byte, len(key))
			copy(copied, key)
			matched = append(matched, copied)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return &iterator{keys: matched}, nil
}

// Close implements Store.Close
func (store *Store) Close() error {
	return store.db.Close()
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
