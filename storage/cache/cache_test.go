package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrife/gridstore/async"
	"github.com/jrife/gridstore/codec"
	"github.com/jrife/gridstore/storage/cache"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/plugins/memory"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

const chunkSize = 64

type fixture struct {
	store  kv.Store
	codec  codec.Codec
	pool   *cache.Pool
	cache  *cache.Cache
	io     *async.Pool
	decode *async.Pool
}

func newFixture(t *testing.T, budget int64) *fixture {
	t.Helper()

	store := memory.New()
	c, err := codec.Resolve(codec.Spec{Name: "raw"})
	require.NoError(t, err)

	io := async.NewPool(4)
	decode := async.NewPool(2)

	t.Cleanup(func() {
		io.Close()
		decode.Close()
	})

	pool := cache.NewPool(budget, nil)

	return &fixture{
		store:  store,
		codec:  c,
		pool:   pool,
		cache:  pool.Bind("test", store, c, chunkSize, io, decode),
		io:     io,
		decode: decode,
	}
}

func chunk(fillByte byte) []byte {
	data := make([]byte, chunkSize)

	for i := range data {
		data[i] = fillByte
	}

	return data
}

// put seeds the backend with a chunk as the cache's codec would store
// it.
func (f *fixture) put(t *testing.T, coord string, data []byte) {
	t.Helper()

	encoded, err := f.codec.Encode(data)
	require.NoError(t, err)

	_, err = f.store.Put(context.Background(), []byte("c/"+coord), encoded, kv.Unconditional)
	require.NoError(t, err)
}

// backendChunk reads a chunk straight from the backend and decodes it.
func (f *fixture) backendChunk(t *testing.T, coord string) []byte {
	t.Helper()

	encoded, _, err := f.store.Get(context.Background(), []byte("c/"+coord))
	require.NoError(t, err)

	data, err := f.codec.Decode(encoded, chunkSize)
	require.NoError(t, err)

	return data
}

func (f *fixture) fetch(t *testing.T, coord string) *cache.Entry {
	t.Helper()

	entry, err := f.cache.Fetch(context.Background(), []byte("c/"+coord), coord, nil).Wait(context.Background())
	require.NoError(t, err)

	return entry
}

func TestFetchHitAndMiss(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.put(t, "0.0", chunk(7))

	entry := f.fetch(t, "0.0")
	defer entry.Release()

	entry.Read(func(data []byte) {
		require.Equal(t, chunk(7), data)
	})

	require.NotEqual(t, kv.NoValue, entry.Generation())

	// Missing chunk without a fill callback fails with ErrNotFound.
	_, err := f.cache.Fetch(context.Background(), []byte("c/9.9"), "9.9", nil).Wait(context.Background())
	require.ErrorIs(t, err, kv.ErrNotFound)

	// Missing chunk with a fill callback materializes the fill buffer.
	filled, err := f.cache.Fetch(context.Background(), []byte("c/9.9"), "9.9", func() []byte {
		return chunk(0)
	}).Wait(context.Background())
	require.NoError(t, err)
	defer filled.Release()

	filled.Read(func(data []byte) {
		require.Equal(t, chunk(0), data)
	})
	require.Equal(t, kv.NoValue, filled.Generation())
}

// countingStore counts backend reads so coalescing is observable.
type countingStore struct {
	kv.Store
	gets    atomic.Int64
	release chan struct{}
}

func (store *countingStore) Get(ctx context.Context, key []byte) ([]byte, kv.Generation, error) {
	store.gets.Add(1)

	if store.release != nil {
		<-store.release
	}

	return store.Store.Get(ctx, key)
}

func TestConcurrentFetchCoalesces(t *testing.T) {
	inner := memory.New()

	c, err := codec.Resolve(codec.Spec{Name: "raw"})
	require.NoError(t, err)

	encoded, err := c.Encode(chunk(3))
	require.NoError(t, err)

	_, err = inner.Put(context.Background(), []byte("c/0.0"), encoded, kv.NoValue)
	require.NoError(t, err)

	counting := &countingStore{Store: inner, release: make(chan struct{})}

	io := async.NewPool(8)
	decode := async.NewPool(2)
	defer io.Close()
	defer decode.Close()

	pool := cache.NewPool(1<<20, nil)
	bound := pool.Bind("test", counting, c, chunkSize, io, decode)

	const callers = 16

	futures := make([]*async.Future[*cache.Entry], callers)

	for i := range futures {
		futures[i] = bound.Fetch(context.Background(), []byte("c/0.0"), "0.0", nil)
	}

	close(counting.release)

	var wg sync.WaitGroup

	for _, future := range futures {
		wg.Add(1)

		go func(future *async.Future[*cache.Entry]) {
			defer wg.Done()

			entry, err := future.Wait(context.Background())

			if err != nil {
				t.Errorf("fetch failed: %s", err)

				return
			}

			entry.Read(func(data []byte) {
				if data[0] != 3 {
					t.Errorf("unexpected chunk byte %d", data[0])
				}
			})
			entry.Release()
		}(future)
	}

	wg.Wait()

	if counting.gets.Load() != 1 {
		t.Fatalf("expected exactly one backend read, got %d", counting.gets.Load())
	}
}

func TestByteBudgetEviction(t *testing.T) {
	// Budget for three chunks.
	f := newFixture(t, 3*chunkSize)

	for i := 0; i < 10; i++ {
		coord := fmt.Sprintf("%d.0", i)
		f.put(t, coord, chunk(byte(i)))

		entry := f.fetch(t, coord)
		entry.Release()
	}

	if resident := f.pool.Resident(); resident > 3*chunkSize {
		t.Fatalf("resident bytes %d exceed budget %d with nothing pinned", resident, 3*chunkSize)
	}
}

func TestPinnedEntriesSurviveEviction(t *testing.T) {
	f := newFixture(t, 2*chunkSize)

	f.put(t, "0.0", chunk(1))
	pinned := f.fetch(t, "0.0")

	for i := 1; i < 8; i++ {
		coord := fmt.Sprintf("%d.0", i)
		f.put(t, coord, chunk(byte(i)))

		entry := f.fetch(t, coord)
		entry.Release()
	}

	// The pinned chunk must still be served from memory: delete it from
	// the backend and fetch again.
	require.NoError(t, f.store.Delete(context.Background(), []byte("c/0.0"), kv.Unconditional))

	again := f.fetch(t, "0.0")
	again.Read(func(data []byte) {
		require.Equal(t, chunk(1), data)
	})
	again.Release()
	pinned.Release()
}

func TestWriteFlushRoundTrip(t *testing.T) {
	f := newFixture(t, 1<<20)

	f.cache.Write([]byte("c/0.0"), "0.0", chunk(9))

	// Not yet in the backend.
	_, _, err := f.store.Get(context.Background(), []byte("c/0.0"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, f.cache.Flush(context.Background()))

	require.Equal(t, chunk(9), f.backendChunk(t, "0.0"))
}

func TestFlushKeyLeavesOthersDirty(t *testing.T) {
	f := newFixture(t, 1<<20)

	f.cache.Write([]byte("c/0.0"), "0.0", chunk(1))
	f.cache.Write([]byte("c/1.0"), "1.0", chunk(2))

	require.NoError(t, f.cache.FlushKey(context.Background(), []byte("c/0.0")))

	require.Equal(t, chunk(1), f.backendChunk(t, "0.0"))

	_, _, err := f.store.Get(context.Background(), []byte("c/1.0"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestDirtyEntryFlushedBeforeEviction(t *testing.T) {
	f := newFixture(t, 2*chunkSize)

	f.cache.Write([]byte("c/0.0"), "0.0", chunk(5))

	// Push the dirty chunk out with clean traffic.
	for i := 1; i < 8; i++ {
		coord := fmt.Sprintf("%d.0", i)
		f.put(t, coord, chunk(byte(i)))

		entry := f.fetch(t, coord)
		entry.Release()
	}

	require.Equal(t, chunk(5), f.backendChunk(t, "0.0"))

	if resident := f.pool.Resident(); resident > 2*chunkSize {
		t.Fatalf("resident bytes %d exceed budget %d", resident, 2*chunkSize)
	}
}

func TestModifyMarksDirty(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.put(t, "0.0", chunk(0))

	entry := f.fetch(t, "0.0")
	entry.Modify(func(data []byte) {
		data[0] = 42
	})
	entry.Release()

	require.NoError(t, f.cache.Flush(context.Background()))

	require.Equal(t, byte(42), f.backendChunk(t, "0.0")[0])
}

// TestBudgetProperty checks that, for arbitrary budgets and access
// sequences, resident bytes settle at or below the budget once no
// entry is pinned.
func TestBudgetProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("resident bytes fit the budget with nothing pinned", prop.ForAll(
		func(budgetChunks int, accesses []int) bool {
			budget := int64(budgetChunks) * chunkSize
			f := newFixture(t, budget)

			for _, i := range accesses {
				coord := fmt.Sprintf("%d.0", i)
				f.put(t, coord, chunk(byte(i)))

				entry := f.fetch(t, coord)
				entry.Release()
			}

			return f.pool.Resident() <= budget
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}

func TestFailedFetchLeavesSlotRetryable(t *testing.T) {
	f := newFixture(t, 1<<20)

	_, err := f.cache.Fetch(context.Background(), []byte("c/0.0"), "0.0", nil).Wait(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, kv.ErrNotFound))

	// Populate the backend and retry the same slot.
	f.put(t, "0.0", chunk(6))

	entry := f.fetch(t, "0.0")
	entry.Read(func(data []byte) {
		require.Equal(t, chunk(6), data)
	})
	entry.Release()
}
