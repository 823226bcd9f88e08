package array

import (
	"encoding/binary"
	"math"
)

// DType identifies an array's element type. Elements are stored
// little-endian in row-major order within each chunk.
type DType string

const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (dtype DType) Size() int {
	switch dtype {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	}

	return 0
}

// Valid reports whether the dtype is one of the supported element
// types.
func (dtype DType) Valid() bool {
	return dtype.Size() != 0
}

// putElement writes value into out as one element of this dtype.
// Integer dtypes truncate; out must be at least Size() bytes.
func (dtype DType) putElement(out []byte, value float64) {
	switch dtype {
	case Uint8, Int8:
		out[0] = byte(int64(value))
	case Uint16, Int16:
		binary.LittleEndian.PutUint16(out, uint16(int64(value)))
	case Uint32, Int32:
		binary.LittleEndian.PutUint32(out, uint32(int64(value)))
	case Uint64, Int64:
		binary.LittleEndian.PutUint64(out, uint64(int64(value)))
	case Float32:
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(value)))
	case Float64:
		binary.LittleEndian.PutUint64(out, math.Float64bits(value))
	}
}
