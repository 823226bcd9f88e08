package array_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jrife/gridstore/array"
	"github.com/jrife/gridstore/codec"
	"github.com/jrife/gridstore/indexing"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/plugins"
	"github.com/jrife/gridstore/storage/txn"
	"github.com/stretchr/testify/require"
)

func memSpec(schema *array.Schema) array.Spec {
	return array.Spec{
		KVStore: array.KVSpec{
			Driver:  "memory",
			Options: kv.PluginOptions{"id": uuid.New().String()},
		},
		Path:   "arr",
		Schema: schema,
	}
}

func volumeSchema() *array.Schema {
	return &array.Schema{
		DType: array.Uint8,
		Domain: indexing.Domain{
			{InclusiveMin: 0, ExclusiveMax: 100, Label: "z"},
			{InclusiveMin: 0, ExclusiveMax: 256, Label: "y"},
			{InclusiveMin: 0, ExclusiveMax: 256, Label: "x"},
		},
		ChunkShape: []int64{16, 64, 64},
		Codec:      codec.Spec{Name: "zstd", Checksum: true},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	spec := memSpec(volumeSchema())

	a, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	patch, err := a.Apply(indexing.Index(4), indexing.Slice(100, 120), indexing.Slice(100, 120))
	require.NoError(t, err)
	require.Equal(t, []int64{20, 20}, patch.Domain().Shape())

	_, err = patch.Write(ctx, bytes.Repeat([]byte{255}, 20*20)).Wait(ctx)
	require.NoError(t, err)

	// A wider view shows the patch surrounded by fill values.
	wide, err := a.Apply(indexing.Index(4), indexing.Slice(90, 130), indexing.Slice(90, 130))
	require.NoError(t, err)

	data, err := wide.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, data, 40*40)

	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			inPatch := y >= 10 && y < 30 && x >= 10 && x < 30
			got := data[y*40+x]

			if inPatch && got != 255 {
				t.Fatalf("expected 255 at (%d, %d), got %d", y, x, got)
			}

			if !inPatch && got != 0 {
				t.Fatalf("expected fill value at (%d, %d), got %d", y, x, got)
			}
		}
	}

	// After a flush a fresh handle on the same store sees the data.
	require.NoError(t, a.Flush(ctx))

	spec.Schema = nil

	b, err := array.Open(ctx, spec).Wait(ctx)
	require.NoError(t, err)

	patchAgain, err := b.Apply(indexing.Index(4), indexing.Slice(100, 120), indexing.Slice(100, 120))
	require.NoError(t, err)

	data, err = patchAgain.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{255}, 20*20), data)
}

func TestOpenModes(t *testing.T) {
	ctx := context.Background()
	spec := memSpec(volumeSchema())

	// Opening a missing array without Create fails.
	_, err := array.Open(ctx, array.Spec{
		KVStore: spec.KVStore,
		Path:    spec.Path,
	}).Wait(ctx)
	require.ErrorIs(t, err, array.ErrNotFound)

	_, err = array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	// Creating again fails unless opening existing is also allowed.
	_, err = array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.ErrorIs(t, err, array.ErrAlreadyExists)

	_, err = array.Open(ctx, spec, array.Create(), array.OpenExisting()).Wait(ctx)
	require.NoError(t, err)
}

func TestSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	spec := memSpec(volumeSchema())

	_, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	mismatched := volumeSchema()
	mismatched.DType = array.Float32
	spec.Schema = mismatched

	_, err = array.Open(ctx, spec).Wait(ctx)
	require.ErrorIs(t, err, array.ErrInvalidSpec)
}

func TestDeleteExisting(t *testing.T) {
	ctx := context.Background()
	spec := memSpec(volumeSchema())

	a, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	patch, err := a.Apply(indexing.Index(0), indexing.Slice(0, 4), indexing.Slice(0, 4))
	require.NoError(t, err)

	_, err = patch.Write(ctx, bytes.Repeat([]byte{9}, 16)).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Flush(ctx))

	// Recreating from scratch drops the old contents.
	b, err := array.Open(ctx, spec, array.Create(), array.DeleteExisting()).Wait(ctx)
	require.NoError(t, err)

	again, err := b.Apply(indexing.Index(0), indexing.Slice(0, 4), indexing.Slice(0, 4))
	require.NoError(t, err)

	data, err := again.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 16), data)
}

func TestFixedIndexReversedView(t *testing.T) {
	ctx := context.Background()

	schema := &array.Schema{
		DType: array.Uint8,
		Domain: indexing.Domain{
			{InclusiveMin: 0, ExclusiveMax: 10, Label: "y"},
			{InclusiveMin: 0, ExclusiveMax: 10, Label: "x"},
		},
		ChunkShape: []int64{4, 4},
	}
	spec := memSpec(schema)

	a, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	row, err := a.Apply(indexing.Index(4))
	require.NoError(t, err)

	ascending := make([]byte, 10)

	for i := range ascending {
		ascending[i] = byte(i)
	}

	_, err = row.Write(ctx, ascending).Wait(ctx)
	require.NoError(t, err)

	reversedTransform, err := row.Transform().Reverse("x")
	require.NoError(t, err)

	reversed, err := a.WithTransform(reversedTransform)
	require.NoError(t, err)

	data, err := reversed.Read(ctx).Wait(ctx)
	require.NoError(t, err)

	for i, got := range data {
		require.Equal(t, byte(9-i), got, "reversed element %d", i)
	}
}

func TestOutOfBoundsView(t *testing.T) {
	ctx := context.Background()

	schema := &array.Schema{
		DType:      array.Uint8,
		Domain:     indexing.NewDomain(10, 10),
		ChunkShape: []int64{4, 4},
	}

	a, err := array.Open(ctx, memSpec(schema), array.Create()).Wait(ctx)
	require.NoError(t, err)

	oversized, err := a.WithTransform(indexing.Identity(indexing.NewDomain(20, 20)))
	require.NoError(t, err)

	_, err = oversized.Read(ctx).Wait(ctx)
	require.ErrorIs(t, err, indexing.ErrOutOfBounds)
}

func TestBufferSizeMismatch(t *testing.T) {
	ctx := context.Background()

	schema := &array.Schema{
		DType:      array.Uint8,
		Domain:     indexing.NewDomain(10, 10),
		ChunkShape: []int64{4, 4},
	}

	a, err := array.Open(ctx, memSpec(schema), array.Create()).Wait(ctx)
	require.NoError(t, err)

	_, err = a.Write(ctx, make([]byte, 7)).Wait(ctx)
	require.ErrorIs(t, err, array.ErrInvalidArgument)
}

func TestTransactionalWriteIsolation(t *testing.T) {
	ctx := context.Background()

	schema := &array.Schema{
		DType:      array.Uint8,
		Domain:     indexing.NewDomain(10, 10),
		ChunkShape: []int64{4, 4},
	}
	spec := memSpec(schema)

	_, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	plugin, err := plugins.Plugin(spec.KVStore.Driver)
	require.NoError(t, err)

	store, err := plugin.NewStore(spec.KVStore.Options)
	require.NoError(t, err)

	manager := txn.NewManager(store, nil)
	transaction := manager.Begin()

	staged, err := array.Open(ctx, spec, array.WithTransaction(transaction)).Wait(ctx)
	require.NoError(t, err)

	_, err = staged.Write(ctx, bytes.Repeat([]byte{7}, 100)).Wait(ctx)
	require.NoError(t, err)

	// The transactional handle reads its own writes.
	data, err := staged.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{7}, 100), data)

	// A plain handle sees only fill values until the commit.
	plain, err := array.Open(ctx, spec).Wait(ctx)
	require.NoError(t, err)

	data, err = plain.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 100), data)

	require.NoError(t, transaction.Commit(ctx))

	after, err := array.Open(ctx, spec).Wait(ctx)
	require.NoError(t, err)

	data, err = after.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{7}, 100), data)
}

func TestTransactionalWriteConflict(t *testing.T) {
	ctx := context.Background()

	schema := &array.Schema{
		DType:      array.Uint8,
		Domain:     indexing.NewDomain(10, 10),
		ChunkShape: []int64{4, 4},
	}
	spec := memSpec(schema)

	_, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	plugin, err := plugins.Plugin(spec.KVStore.Driver)
	require.NoError(t, err)

	store, err := plugin.NewStore(spec.KVStore.Options)
	require.NoError(t, err)

	manager := txn.NewManager(store, nil)

	first := manager.Begin()
	second := manager.Begin()

	a, err := array.Open(ctx, spec, array.WithTransaction(first)).Wait(ctx)
	require.NoError(t, err)

	b, err := array.Open(ctx, spec, array.WithTransaction(second)).Wait(ctx)
	require.NoError(t, err)

	// Both transactions patch the same chunk.
	patchA, err := a.Apply(indexing.Slice(0, 2), indexing.Slice(0, 2))
	require.NoError(t, err)

	patchB, err := b.Apply(indexing.Slice(2, 4), indexing.Slice(2, 4))
	require.NoError(t, err)

	_, err = patchA.Write(ctx, bytes.Repeat([]byte{1}, 4)).Wait(ctx)
	require.NoError(t, err)

	_, err = patchB.Write(ctx, bytes.Repeat([]byte{2}, 4)).Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	require.ErrorIs(t, second.Commit(ctx), txn.ErrConflict)
}

func TestSpecMerge(t *testing.T) {
	base := array.Spec{
		Path: "one",
		KVStore: array.KVSpec{
			Driver:  "memory",
			Options: kv.PluginOptions{"id": "base"},
		},
	}

	merged := base.Merge(array.Spec{
		Path: "two",
		KVStore: array.KVSpec{
			Options: kv.PluginOptions{"extra": 1},
		},
	})

	require.Equal(t, "two", merged.Path)
	require.Equal(t, "memory", merged.KVStore.Driver)
	require.Equal(t, kv.PluginOptions{"id": "base", "extra": 1}, merged.KVStore.Options)

	// The receiver is unchanged.
	require.Equal(t, "one", base.Path)
	require.Equal(t, kv.PluginOptions{"id": "base"}, base.KVStore.Options)
}

func TestWithSchemaAndContextLifecycle(t *testing.T) {
	ctx := context.Background()

	schema := array.Schema{
		DType:      array.Uint8,
		Domain:     indexing.NewDomain(8),
		ChunkShape: []int64{4},
	}

	spec := memSpec(nil)
	actx := array.NewContext(array.WithCacheBytes(1<<16), array.WithIOConcurrency(2))

	a, err := array.Open(ctx, spec, array.Create(), array.WithSchema(schema), array.WithContext(actx)).Wait(ctx)
	require.NoError(t, err)

	_, err = a.Write(ctx, []byte{1, 2, 3, 4, 5, 6, 7, 8}).Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Close(ctx))
	actx.Close()
}

func TestBboltPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "volume.db")

	schema := &array.Schema{
		DType:      array.Uint16,
		Domain:     indexing.NewDomain(8, 8),
		ChunkShape: []int64{4, 4},
		Codec:      codec.Spec{Name: "lz4"},
		FillValue:  500,
	}

	spec := array.Spec{
		KVStore: array.KVSpec{
			Driver:  "bbolt",
			Options: kv.PluginOptions{"path": path},
		},
		Schema: schema,
	}

	a, err := array.Open(ctx, spec, array.Create()).Wait(ctx)
	require.NoError(t, err)

	corner, err := a.Apply(indexing.Slice(0, 2), indexing.Slice(0, 2))
	require.NoError(t, err)

	_, err = corner.Write(ctx, []byte{1, 0, 2, 0, 3, 0, 4, 0}).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	spec.Schema = nil

	b, err := array.Open(ctx, spec).Wait(ctx)
	require.NoError(t, err)

	corner, err = b.Apply(indexing.Slice(0, 2), indexing.Slice(0, 2))
	require.NoError(t, err)

	data, err := corner.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, data)

	// An unwritten element reads back the fill value, 500 = 0x01f4
	// little-endian.
	other, err := b.Apply(indexing.Index(7), indexing.Index(7))
	require.NoError(t, err)

	data, err = other.Read(ctx).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0xf4, 0x01}, data)

	require.NoError(t, b.Close(ctx))
}
