package array

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jrife/gridstore/async"
	"github.com/jrife/gridstore/indexing"
	"github.com/jrife/gridstore/storage/cache"
	"github.com/jrife/gridstore/storage/kv"
)

// Read materializes the handle's view into a dense row-major buffer:
// one element per point of the view domain, in odometer order.
// Unwritten regions read back as the schema's fill value.
func (array *Array) Read(ctx context.Context) *async.Future[[]byte] {
	return async.Go(ctx, array.read)
}

func (array *Array) read(ctx context.Context) ([]byte, error) {
	t := array.transform
	elementSize := array.schema.DType.Size()
	out := make([]byte, t.Input.NumElements()*int64(elementSize))

	if len(out) == 0 {
		return out, nil
	}

	if err := array.checkBounds(t); err != nil {
		return nil, err
	}

	if array.transaction != nil {
		if err := array.readTxn(ctx, t, out); err != nil {
			return nil, err
		}

		return out, nil
	}

	entries, release, err := array.fetchRegion(ctx, t)

	if err != nil {
		return nil, err
	}

	defer release()

	point := make([]int64, t.OutputRank())
	chunk := make([]int64, array.schema.Rank())
	offset := 0

	err = eachPoint(t.Input, func(in []int64) error {
		if err := t.MapPoint(point, in); err != nil {
			return err
		}

		array.chunkCoordOf(point, chunk)
		entry := entries[string(array.chunkKey(chunk))]
		at := array.chunkOffset(point, chunk) * elementSize

		entry.Read(func(data []byte) {
			copy(out[offset:offset+elementSize], data[at:at+elementSize])
		})

		offset += elementSize

		return nil
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// Write fills the handle's view from a dense row-major buffer laid out
// like Read's result. The data lands in the chunk cache, or in the
// handle's transaction; Flush or Commit makes it durable.
func (array *Array) Write(ctx context.Context, data []byte) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, array.write(ctx, data)
	})
}

func (array *Array) write(ctx context.Context, data []byte) error {
	t := array.transform
	elementSize := array.schema.DType.Size()
	want := t.Input.NumElements() * int64(elementSize)

	if int64(len(data)) != want {
		return fmt.Errorf("%w: data length %d does not match view size %d", ErrInvalidArgument, len(data), want)
	}

	if want == 0 {
		return nil
	}

	if err := array.checkBounds(t); err != nil {
		return err
	}

	if array.transaction != nil {
		return array.writeTxn(ctx, t, data)
	}

	entries, release, err := array.fetchRegion(ctx, t)

	if err != nil {
		return err
	}

	defer release()

	point := make([]int64, t.OutputRank())
	chunk := make([]int64, array.schema.Rank())
	offset := 0

	return eachPoint(t.Input, func(in []int64) error {
		if err := t.MapPoint(point, in); err != nil {
			return err
		}

		array.chunkCoordOf(point, chunk)
		entry := entries[string(array.chunkKey(chunk))]
		at := array.chunkOffset(point, chunk) * elementSize

		entry.Modify(func(chunkData []byte) {
			copy(chunkData[at:at+elementSize], data[offset:offset+elementSize])
		})

		offset += elementSize

		return nil
	})
}

// checkBounds verifies that every point the transform can produce lies
// inside the schema's domain.
func (array *Array) checkBounds(t indexing.Transform) error {
	if t.OutputRank() != array.schema.Rank() {
		return fmt.Errorf("%w: view output rank %d does not match array rank %d", ErrInvalidArgument, t.OutputRank(), array.schema.Rank())
	}

	for i, bound := range t.OutputBounds() {
		if bound.Size() <= 0 {
			continue
		}

		dim := array.schema.Domain[i]

		if bound.InclusiveMin < dim.InclusiveMin || bound.ExclusiveMax > dim.ExclusiveMax {
			return fmt.Errorf("%w: view covers [%d, %d) in dimension %d, outside array bounds [%d, %d)", indexing.ErrOutOfBounds, bound.InclusiveMin, bound.ExclusiveMax, i, dim.InclusiveMin, dim.ExclusiveMax)
		}
	}

	return nil
}

// fetchRegion pins every chunk intersecting the transform's output
// bounds. The caller must call release when done with the entries.
func (array *Array) fetchRegion(ctx context.Context, t indexing.Transform) (map[string]*cache.Entry, func(), error) {
	grid := make(indexing.Domain, array.schema.Rank())

	for i, bound := range t.OutputBounds() {
		size := array.schema.ChunkShape[i]
		grid[i] = indexing.Dim{
			InclusiveMin: floorDiv(bound.InclusiveMin, size),
			ExclusiveMax: floorDiv(bound.ExclusiveMax-1, size) + 1,
		}
	}

	futures := map[string]*async.Future[*cache.Entry]{}

	_ = eachPoint(grid, func(chunk []int64) error {
		key := array.chunkKey(chunk)
		futures[string(key)] = array.chunks.Fetch(ctx, key, string(key), array.schema.fillChunk)

		return nil
	})

	entries := make(map[string]*cache.Entry, len(futures))

	release := func() {
		for _, entry := range entries {
			entry.Release()
		}
	}

	for key, future := range futures {
		entry, err := future.Wait(ctx)

		if err != nil {
			release()

			return nil, nil, err
		}

		entries[key] = entry
	}

	return entries, release, nil
}

// readTxn serves a read through the handle's transaction, decoding
// each needed chunk from the transaction's view of the store.
func (array *Array) readTxn(ctx context.Context, t indexing.Transform, out []byte) error {
	elementSize := array.schema.DType.Size()
	chunks := map[string][]byte{}
	point := make([]int64, t.OutputRank())
	chunk := make([]int64, array.schema.Rank())
	offset := 0

	return eachPoint(t.Input, func(in []int64) error {
		if err := t.MapPoint(point, in); err != nil {
			return err
		}

		array.chunkCoordOf(point, chunk)

		data, err := array.loadTxnChunk(ctx, array.chunkKey(chunk), chunks)

		if err != nil {
			return err
		}

		at := array.chunkOffset(point, chunk) * elementSize
		copy(out[offset:offset+elementSize], data[at:at+elementSize])
		offset += elementSize

		return nil
	})
}

// writeTxn stages a write in the handle's transaction: load each
// touched chunk through the transaction, patch it, and stage the
// re-encoded chunks back.
func (array *Array) writeTxn(ctx context.Context, t indexing.Transform, data []byte) error {
	elementSize := array.schema.DType.Size()
	chunks := map[string][]byte{}
	point := make([]int64, t.OutputRank())
	chunk := make([]int64, array.schema.Rank())
	offset := 0

	err := eachPoint(t.Input, func(in []int64) error {
		if err := t.MapPoint(point, in); err != nil {
			return err
		}

		array.chunkCoordOf(point, chunk)

		chunkData, err := array.loadTxnChunk(ctx, array.chunkKey(chunk), chunks)

		if err != nil {
			return err
		}

		at := array.chunkOffset(point, chunk) * elementSize
		copy(chunkData[at:at+elementSize], data[offset:offset+elementSize])
		offset += elementSize

		return nil
	})

	if err != nil {
		return err
	}

	for key, chunkData := range chunks {
		encoded, err := array.chunkCodec.Encode(chunkData)

		if err != nil {
			return err
		}

		if err := array.transaction.Write([]byte(key), encoded); err != nil {
			return err
		}
	}

	return nil
}

// loadTxnChunk returns the decoded chunk at key as this handle's
// transaction sees it, memoizing per operation. A missing chunk
// materializes as a fill-value buffer.
func (array *Array) loadTxnChunk(ctx context.Context, key []byte, chunks map[string][]byte) ([]byte, error) {
	if data, ok := chunks[string(key)]; ok {
		return data, nil
	}

	raw, err := array.transaction.Read(ctx, key)

	var data []byte

	switch {
	case errors.Is(err, kv.ErrNotFound):
		data = array.schema.fillChunk()
	case err != nil:
		return nil, err
	default:
		data, err = array.chunkCodec.Decode(raw, array.schema.chunkBytes())

		if err != nil {
			return nil, err
		}
	}

	chunks[string(key)] = data

	return data, nil
}

// chunkKey returns the storage key of a chunk: the array prefix, "c/",
// and the dot-separated chunk grid coordinates.
func (array *Array) chunkKey(chunk []int64) []byte {
	var b strings.Builder

	b.WriteString(array.prefix)
	b.WriteString("c/")

	for i, x := range chunk {
		if i > 0 {
			b.WriteByte('.')
		}

		b.WriteString(strconv.FormatInt(x, 10))
	}

	return []byte(b.String())
}

// chunkCoordOf writes the chunk grid coordinate containing the array
// point into chunk.
func (array *Array) chunkCoordOf(point []int64, chunk []int64) {
	for i, x := range point {
		chunk[i] = floorDiv(x, array.schema.ChunkShape[i])
	}
}

// chunkOffset returns the row-major element offset of an array point
// within its chunk.
func (array *Array) chunkOffset(point []int64, chunk []int64) int {
	offset := int64(0)

	for i, x := range point {
		size := array.schema.ChunkShape[i]
		offset = offset*size + (x - chunk[i]*size)
	}

	return int(offset)
}

// eachPoint invokes fn for every point of the domain in row-major
// odometer order. The point slice is reused across calls.
func eachPoint(domain indexing.Domain, fn func(point []int64) error) error {
	rank := domain.Rank()
	point := make([]int64, rank)

	if rank == 0 {
		return fn(point)
	}

	for i, dim := range domain {
		if dim.Size() <= 0 {
			return nil
		}

		point[i] = dim.InclusiveMin
	}

	for {
		if err := fn(point); err != nil {
			return err
		}

		d := rank - 1

		for ; d >= 0; d-- {
			point[d]++

			if point[d] < domain[d].ExclusiveMax {
				break
			}

			point[d] = domain[d].InclusiveMin
		}

		if d < 0 {
			return nil
		}
	}
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b

	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}

	return q
}
