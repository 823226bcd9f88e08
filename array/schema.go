package array

import (
	"bytes"
	"fmt"

	"github.com/jrife/gridstore/codec"
	"github.com/jrife/gridstore/indexing"
)

// Schema fully describes an array: element type, index space, chunk
// grid, chunk codec, and the value unwritten elements read back as. It
// round-trips through JSON as the array's stored metadata.
type Schema struct {
	// DType is the element type.
	DType DType `json:"dtype"`
	// Domain is the array's index space. Dimension labels, where
	// present, are part of the schema and usable in view operations.
	Domain indexing.Domain `json:"domain"`
	// ChunkShape is the per-dimension chunk size. The chunk grid is
	// anchored at coordinate zero, independent of the domain origin.
	ChunkShape []int64 `json:"chunk_shape"`
	// Codec selects the chunk codec. The zero value means raw.
	Codec codec.Spec `json:"codec,omitempty"`
	// FillValue is the value read from unwritten regions.
	FillValue float64 `json:"fill_value,omitempty"`
	// Units optionally names the physical unit of each dimension.
	Units []string `json:"units,omitempty"`
}

// Validate checks the schema invariants.
func (schema Schema) Validate() error {
	if !schema.DType.Valid() {
		return fmt.Errorf("%w: unknown dtype %q", ErrInvalidSpec, schema.DType)
	}

	if err := schema.Domain.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSpec, err)
	}

	if len(schema.ChunkShape) != schema.Domain.Rank() {
		return fmt.Errorf("%w: chunk shape rank %d does not match domain rank %d", ErrInvalidSpec, len(schema.ChunkShape), schema.Domain.Rank())
	}

	for i, size := range schema.ChunkShape {
		if size <= 0 {
			return fmt.Errorf("%w: chunk shape dimension %d is %d, must be positive", ErrInvalidSpec, i, size)
		}
	}

	if schema.Units != nil && len(schema.Units) != schema.Domain.Rank() {
		return fmt.Errorf("%w: units rank %d does not match domain rank %d", ErrInvalidSpec, len(schema.Units), schema.Domain.Rank())
	}

	return nil
}

// Rank returns the number of dimensions.
func (schema Schema) Rank() int {
	return schema.Domain.Rank()
}

// chunkElements returns the number of elements in one chunk.
func (schema Schema) chunkElements() int64 {
	n := int64(1)

	for _, size := range schema.ChunkShape {
		n *= size
	}

	return n
}

// chunkBytes returns the decoded size of one chunk. Edge chunks are
// stored at full size with fill-value padding.
func (schema Schema) chunkBytes() int {
	return int(schema.chunkElements()) * schema.DType.Size()
}

// fillChunk returns a freshly allocated chunk buffer holding the fill
// value in every element.
func (schema Schema) fillChunk() []byte {
	elementSize := schema.DType.Size()
	element := make([]byte, elementSize)
	schema.DType.putElement(element, schema.FillValue)

	return bytes.Repeat(element, int(schema.chunkElements()))
}

// compatible reports whether a requested schema matches a stored one.
// Codec and fill value follow the stored schema; element type, domain,
// and chunk grid must agree exactly.
func (schema Schema) compatible(stored Schema) error {
	if schema.DType != stored.DType {
		return fmt.Errorf("%w: requested dtype %q, stored array has %q", ErrInvalidSpec, schema.DType, stored.DType)
	}

	if schema.Domain.Rank() != stored.Domain.Rank() {
		return fmt.Errorf("%w: requested rank %d, stored array has %d", ErrInvalidSpec, schema.Domain.Rank(), stored.Domain.Rank())
	}

	for i, dim := range schema.Domain {
		if dim.InclusiveMin != stored.Domain[i].InclusiveMin || dim.ExclusiveMax != stored.Domain[i].ExclusiveMax {
			return fmt.Errorf("%w: requested bounds [%d, %d) for dimension %d, stored array has [%d, %d)", ErrInvalidSpec, dim.InclusiveMin, dim.ExclusiveMax, i, stored.Domain[i].InclusiveMin, stored.Domain[i].ExclusiveMax)
		}
	}

	for i, size := range schema.ChunkShape {
		if size != stored.ChunkShape[i] {
			return fmt.Errorf("%w: requested chunk size %d for dimension %d, stored array has %d", ErrInvalidSpec, size, i, stored.ChunkShape[i])
		}
	}

	return nil
}
