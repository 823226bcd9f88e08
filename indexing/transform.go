package indexing

import "fmt"

// MapKind discriminates the three output map variants.
type MapKind int

const (
	// MapAffine maps output = Offset + Stride * input[InputDim]
	MapAffine MapKind = iota
	// MapConstant maps output to the fixed coordinate Offset. The
	// corresponding input dimension was eliminated.
	MapConstant
	// MapIndexArray maps output = Index[input[InputDim] - min] where
	// min is the inclusive-min of the referenced input dimension.
	MapIndexArray
)

// OutputMap describes how one output dimension's coordinate is derived
// from an input point.
type OutputMap struct {
	Kind     MapKind
	Offset   int64
	Stride   int64
	InputDim int
	Index    []int64
}

// Transform maps points in Input to points in an output space with one
// OutputMap per output dimension. The zero Transform is the rank-zero
// identity.
type Transform struct {
	Input  Domain
	Output []OutputMap
}

// Identity returns the transform whose input domain is the given domain
// and whose every output dimension copies the matching input dimension.
func Identity(domain Domain) Transform {
	output := make([]OutputMap, domain.Rank())

	for i := range output {
		output[i] = OutputMap{Kind: MapAffine, Stride: 1, InputDim: i}
	}

	return Transform{Input: domain.Clone(), Output: output}
}

// InputRank returns the rank of the transform's input domain.
func (t Transform) InputRank() int {
	return len(t.Input)
}

// OutputRank returns the number of output dimensions.
func (t Transform) OutputRank() int {
	return len(t.Output)
}

// Validate checks internal consistency: the input domain invariants
// hold, every affine and index-array map references an input dimension
// inside the input rank, and every index array covers its referenced
// dimension exactly.
func (t Transform) Validate() error {
	if err := t.Input.Validate(); err != nil {
		return err
	}

	for i, m := range t.Output {
		switch m.Kind {
		case MapConstant:
		case MapAffine:
			if m.InputDim < 0 || m.InputDim >= t.InputRank() {
				return fmt.Errorf("%w: output dimension %d references input dimension %d of a rank %d domain", ErrInvalidTransform, i, m.InputDim, t.InputRank())
			}
		case MapIndexArray:
			if m.InputDim < 0 || m.InputDim >= t.InputRank() {
				return fmt.Errorf("%w: output dimension %d references input dimension %d of a rank %d domain", ErrInvalidTransform, i, m.InputDim, t.InputRank())
			}

			if int64(len(m.Index)) != t.Input[m.InputDim].Size() {
				return fmt.Errorf("%w: output dimension %d has an index array of length %d over an input dimension of size %d", ErrInvalidTransform, i, len(m.Index), t.Input[m.InputDim].Size())
			}
		default:
			return fmt.Errorf("%w: output dimension %d has unknown map kind %d", ErrInvalidTransform, i, m.Kind)
		}
	}

	return nil
}

// MapPoint applies the transform to a single input point. out must have
// length equal to the output rank and in length equal to the input
// rank. The input point must lie inside the input domain.
func (t Transform) MapPoint(out, in []int64) error {
	if len(in) != t.InputRank() || len(out) != t.OutputRank() {
		return fmt.Errorf("%w: point rank mismatch: got input %d output %d, want input %d output %d", ErrInvalidArgument, len(in), len(out), t.InputRank(), t.OutputRank())
	}

	for i, x := range in {
		if !t.Input[i].Contains(x) {
			return fmt.Errorf("%w: coordinate %d outside dimension %d bounds [%d, %d)", ErrOutOfBounds, x, i, t.Input[i].InclusiveMin, t.Input[i].ExclusiveMax)
		}
	}

	for i, m := range t.Output {
		switch m.Kind {
		case MapConstant:
			out[i] = m.Offset
		case MapAffine:
			out[i] = m.Offset + m.Stride*in[m.InputDim]
		case MapIndexArray:
			out[i] = m.Index[in[m.InputDim]-t.Input[m.InputDim].InclusiveMin]
		}
	}

	return nil
}

// OutputBounds returns, per output dimension, a conservative half-open
// interval containing every coordinate the transform can produce over
// its input domain. Used by drivers to bound the set of chunks an
// operation can touch.
func (t Transform) OutputBounds() []Dim {
	bounds := make([]Dim, t.OutputRank())

	for i, m := range t.Output {
		switch m.Kind {
		case MapConstant:
			bounds[i] = Dim{InclusiveMin: m.Offset, ExclusiveMax: m.Offset + 1}
		case MapAffine:
			dim := t.Input[m.InputDim]

			if dim.Size() == 0 {
				bounds[i] = Dim{}

				continue
			}

			lo := m.Offset + m.Stride*dim.InclusiveMin
			hi := m.Offset + m.Stride*(dim.ExclusiveMax-1)

			if lo > hi {
				lo, hi = hi, lo
			}

			bounds[i] = Dim{InclusiveMin: lo, ExclusiveMax: hi + 1}
		case MapIndexArray:
			if len(m.Index) == 0 {
				bounds[i] = Dim{}

				continue
			}

			lo, hi := m.Index[0], m.Index[0]

			for _, x := range m.Index[1:] {
				if x < lo {
					lo = x
				}

				if x > hi {
					hi = x
				}
			}

			bounds[i] = Dim{InclusiveMin: lo, ExclusiveMax: hi + 1}
		}
	}

	return bounds
}

// Clone returns a deep copy of the transform.
func (t Transform) Clone() Transform {
	output := make([]OutputMap, len(t.Output))
	copy(output, t.Output)

	for i := range output {
		if output[i].Index != nil {
			index := make([]int64, len(output[i].Index))
			copy(index, output[i].Index)
			output[i].Index = index
		}
	}

	return Transform{Input: t.Input.Clone(), Output: output}
}
