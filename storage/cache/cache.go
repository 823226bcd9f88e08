// Package cache implements the in-memory chunk cache shared by array
// handles. Decoded chunk buffers live in a byte-budgeted pool keyed by
// (backend binding, chunk coordinate). Eviction is least-recently-used
// over entries that are neither pinned nor dirty; dirty entries are
// flushed before they can be evicted, and entries with a nonzero pin
// count are never evicted regardless of recency.
//
// Concurrent fetches of the same slot coalesce onto a single in-flight
// backend read; late callers receive the same future instead of
// issuing a duplicate read. A failed or cancelled fetch leaves the
// slot unpopulated so the next caller retries.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jrife/gridstore/async"
	"github.com/jrife/gridstore/codec"
	"github.com/jrife/gridstore/storage/kv"
	"go.uber.org/zap"
)

// Pool is the shared, byte-budgeted chunk buffer pool owned by a
// Context. Multiple cache bindings (one per open backend location)
// share one pool and therefore one budget.
type Pool struct {
	mu       sync.Mutex
	budget   int64
	resident int64
	entries  map[entryKey]*Entry
	lru      *list.List
	logger   *zap.Logger
}

type entryKey struct {
	binding string
	coord   string
}

// NewPool creates a pool with the given byte budget. A non-positive
// budget disables caching pressure entirely (nothing is evicted).
func NewPool(budget int64, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		budget:  budget,
		entries: map[entryKey]*Entry{},
		lru:     list.New(),
		logger:  logger,
	}
}

// Resident returns the current number of resident data bytes.
func (pool *Pool) Resident() int64 {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	return pool.resident
}

// Bind attaches a backend location to the pool. id must uniquely
// identify the location among all bindings sharing the pool.
// chunkSize is the decoded byte size of every chunk at this location.
func (pool *Pool) Bind(id string, store kv.Store, c codec.Codec, chunkSize int, io, decode *async.Pool) *Cache {
	return &Cache{
		pool:      pool,
		id:        id,
		store:     store,
		codec:     c,
		chunkSize: chunkSize,
		io:        io,
		decode:    decode,
		logger:    pool.logger.With(zap.String("binding", id)),
	}
}

// Cache is a pool binding for one backend location.
type Cache struct {
	pool      *Pool
	id        string
	store     kv.Store
	codec     codec.Codec
	chunkSize int
	io        *async.Pool
	decode    *async.Pool
	logger    *zap.Logger
}

// Entry is one cached chunk buffer. Callers access the buffer through
// Read and Modify, which serialize concurrent access to the same slot
// without serializing unrelated slots, and must call Release when
// done with an entry returned by Fetch.
type Entry struct {
	cache *Cache
	key   []byte
	coord string

	dataMu sync.Mutex
	data   []byte

	// The fields below are guarded by the pool mutex.
	dirty      bool
	generation kv.Generation
	pins       int
	populated  bool
	pending    *async.Future[*Entry]
	element    *list.Element
}

// Coord returns the chunk coordinate the entry caches.
func (entry *Entry) Coord() string {
	return entry.coord
}

// Read calls fn with the entry's buffer. fn must not retain the slice.
func (entry *Entry) Read(fn func(data []byte)) {
	entry.dataMu.Lock()
	defer entry.dataMu.Unlock()

	fn(entry.data)
}

// Modify calls fn with the entry's buffer for in-place mutation and
// marks the entry dirty. fn must not retain the slice.
func (entry *Entry) Modify(fn func(data []byte)) {
	entry.dataMu.Lock()
	fn(entry.data)
	entry.dataMu.Unlock()

	pool := entry.cache.pool
	pool.mu.Lock()
	entry.dirty = true
	pool.mu.Unlock()
}

// Release drops the caller's pin. Once no pins remain the entry
// becomes eligible for eviction.
func (entry *Entry) Release() {
	pool := entry.cache.pool

	pool.mu.Lock()
	entry.pins--
	pool.mu.Unlock()

	pool.evict(context.Background())
}

// Generation returns the backend generation the buffer was last
// validated against. NoValue means the chunk did not exist in the
// backend when fetched.
func (entry *Entry) Generation() kv.Generation {
	pool := entry.cache.pool
	pool.mu.Lock()
	defer pool.mu.Unlock()

	return entry.generation
}

// Fetch returns the cached buffer for a chunk, reading and decoding it
// from the backend on a miss. The returned entry is pinned for the
// caller. fill, if non-nil, supplies the buffer for chunks absent from
// the backend; with a nil fill an absent chunk fails the future with
// kv.ErrNotFound.
func (c *Cache) Fetch(ctx context.Context, key []byte, coord string, fill func() []byte) *async.Future[*Entry] {
	k := entryKey{binding: c.id, coord: coord}

	c.pool.mu.Lock()

	entry, ok := c.pool.entries[k]

	if !ok {
		entry = &Entry{cache: c, key: append([]byte(nil), key...), coord: coord}
		c.pool.entries[k] = entry
	}

	if entry.populated {
		entry.pins++
		c.pool.touch(entry)
		c.pool.mu.Unlock()

		return async.Resolved(entry)
	}

	entry.pins++

	if entry.pending != nil {
		pending := entry.pending
		c.pool.mu.Unlock()

		return pending
	}

	type readResult struct {
		value      []byte
		generation kv.Generation
		missing    bool
	}

	read := async.Submit(c.io, ctx, func(ctx context.Context) (readResult, error) {
		value, generation, err := c.store.Get(ctx, entry.key)

		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return readResult{missing: true}, nil
			}

			return readResult{}, err
		}

		return readResult{value: value, generation: generation}, nil
	})

	populate := async.Submit(c.decode, ctx, func(ctx context.Context) (*Entry, error) {
		result, err := read.Result()

		if err != nil {
			return nil, err
		}

		var data []byte
		generation := kv.NoValue

		if result.missing {
			if fill == nil {
				return nil, fmt.Errorf("%w: chunk %s", kv.ErrNotFound, coord)
			}

			data = fill()
		} else {
			data, err = c.codec.Decode(result.value, c.chunkSize)

			if err != nil {
				return nil, fmt.Errorf("could not decode chunk %s: %w", coord, err)
			}

			generation = result.generation
		}

		c.pool.mu.Lock()

		// A Write may have populated the slot while the read was in
		// flight; the written buffer wins.
		if entry.populated {
			c.pool.touch(entry)
			c.pool.mu.Unlock()

			return entry, nil
		}

		entry.data = data
		entry.generation = generation
		entry.populated = true
		entry.pending = nil
		c.pool.resident += int64(len(data))
		c.pool.touch(entry)
		c.pool.mu.Unlock()

		c.pool.evict(ctx)

		return entry, nil
	}, read)

	entry.pending = populate
	c.pool.mu.Unlock()

	// A failed or cancelled fetch must leave the slot unpopulated so
	// the next caller retries.
	populate.OnComplete(func(_ *Entry, err error) {
		if err == nil {
			return
		}

		c.pool.mu.Lock()

		if !entry.populated {
			delete(c.pool.entries, k)
		}

		entry.pending = nil
		c.pool.mu.Unlock()
	})

	return populate
}

// Write replaces a chunk's cached buffer wholesale and marks it dirty,
// staging it for flush. The buffer is not written to the backend until
// Flush runs; writes outside a transaction are eligible for eager
// flushing by the caller.
func (c *Cache) Write(key []byte, coord string, data []byte) {
	k := entryKey{binding: c.id, coord: coord}

	c.pool.mu.Lock()

	entry, ok := c.pool.entries[k]

	if !ok {
		entry = &Entry{cache: c, key: append([]byte(nil), key...), coord: coord}
		c.pool.entries[k] = entry
	}

	previous := int64(len(entry.data))
	entry.dataMu.Lock()
	entry.data = data
	entry.dataMu.Unlock()
	entry.dirty = true
	entry.populated = true
	entry.pending = nil
	c.pool.resident += int64(len(data)) - previous
	c.pool.touch(entry)
	c.pool.mu.Unlock()

	c.pool.evict(context.Background())
}

// FlushKey encodes and writes back the dirty buffer stored under one
// backend key, if any.
func (c *Cache) FlushKey(ctx context.Context, key []byte) error {
	c.pool.mu.Lock()

	var dirty []*Entry

	for k, entry := range c.pool.entries {
		if k.binding == c.id && entry.dirty && bytes.Equal(entry.key, key) {
			dirty = append(dirty, entry)
		}
	}

	c.pool.mu.Unlock()

	for _, entry := range dirty {
		if err := c.flushEntry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

// Flush encodes and writes back every dirty buffer in this binding.
func (c *Cache) Flush(ctx context.Context) error {
	c.pool.mu.Lock()

	var dirty []*Entry

	for k, entry := range c.pool.entries {
		if k.binding == c.id && entry.dirty {
			dirty = append(dirty, entry)
		}
	}

	c.pool.mu.Unlock()

	for _, entry := range dirty {
		if err := c.flushEntry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

// flushEntry encodes one buffer and writes it back. The entry is
// marked clean and restamped with the new backend generation on
// success. Encoding runs inline: eviction flushes dirty victims from a
// decode worker, which must not wait on more decode-pool work.
func (c *Cache) flushEntry(ctx context.Context, entry *Entry) error {
	entry.dataMu.Lock()
	snapshot := append([]byte(nil), entry.data...)
	entry.dataMu.Unlock()

	payload, err := c.codec.Encode(snapshot)

	if err != nil {
		return fmt.Errorf("could not encode chunk %s: %w", entry.coord, err)
	}

	written := async.Submit(c.io, ctx, func(ctx context.Context) (kv.Generation, error) {
		return c.store.Put(ctx, entry.key, payload, kv.Unconditional)
	})

	generation, err := written.Wait(ctx)

	if err != nil {
		return fmt.Errorf("could not flush chunk %s: %w", entry.coord, err)
	}

	c.pool.mu.Lock()
	entry.dirty = false
	entry.generation = generation
	c.pool.mu.Unlock()

	return nil
}

// touch moves an entry to the recently-used end of the LRU list.
// Callers must hold the pool mutex.
func (pool *Pool) touch(entry *Entry) {
	if entry.element == nil {
		entry.element = pool.lru.PushFront(entry)

		return
	}

	pool.lru.MoveToFront(entry.element)
}

// removeLocked drops an entry from the pool. Callers must hold the
// pool mutex.
func (pool *Pool) removeLocked(entry *Entry) {
	delete(pool.entries, entryKey{binding: entry.cache.id, coord: entry.coord})

	if entry.element != nil {
		pool.lru.Remove(entry.element)
		entry.element = nil
	}

	pool.resident -= int64(len(entry.data))
}

// evict discards least-recently-used entries until the resident bytes
// fit the budget, flushing dirty victims first. Pinned entries are
// skipped.
func (pool *Pool) evict(ctx context.Context) {
	if pool.budget <= 0 {
		return
	}

	for {
		pool.mu.Lock()

		if pool.resident <= pool.budget {
			pool.mu.Unlock()

			return
		}

		var victim *Entry

		for element := pool.lru.Back(); element != nil; element = element.Prev() {
			candidate := element.Value.(*Entry)

			if candidate.pins == 0 && candidate.populated {
				victim = candidate

				break
			}
		}

		if victim == nil {
			pool.mu.Unlock()

			return
		}

		if !victim.dirty {
			pool.removeLocked(victim)
			pool.mu.Unlock()

			continue
		}

		pool.mu.Unlock()

		// Dirty victims must reach the backend before eviction.
		if err := victim.cache.flushEntry(ctx, victim); err != nil {
			victim.cache.logger.Warn("could not flush chunk during eviction",
				zap.String("chunk", victim.coord),
				zap.Error(err))

			return
		}
	}
}
