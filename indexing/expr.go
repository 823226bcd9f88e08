package indexing

import "fmt"

// Op is one operand of an indexing expression. Operands are consumed
// left to right against the transform's input dimensions, numpy style:
// every operand except NewAxis and Ellipsis consumes one input
// dimension; missing trailing operands behave as full slices.
type Op interface {
	isOp()
}

type opIndex struct {
	coord int64
}

type opSlice struct {
	start, stop, step int64
	hasStart, hasStop bool
}

type opEllipsis struct{}

type opNewAxis struct{}

type opMask struct {
	mask []bool
}

type opIndexArray struct {
	coords []int64
}

func (opIndex) isOp()      {}
func (opSlice) isOp()      {}
func (opEllipsis) isOp()   {}
func (opNewAxis) isOp()    {}
func (opMask) isOp()       {}
func (opIndexArray) isOp() {}

// Index selects a single coordinate, eliminating the dimension.
func Index(coord int64) Op {
	return opIndex{coord: coord}
}

// Slice selects the half-open interval [start, stop) with step 1.
func Slice(start, stop int64) Op {
	return opSlice{start: start, stop: stop, step: 1, hasStart: true, hasStop: true}
}

// SliceStep selects coordinates start, start+step, ... stopping before
// stop. A negative step walks the dimension in reverse.
func SliceStep(start, stop, step int64) Op {
	return opSlice{start: start, stop: stop, step: step, hasStart: true, hasStop: true}
}

// All selects the entire dimension.
func All() Op {
	return opSlice{step: 1}
}

// Reversed selects the entire dimension in reverse order.
func Reversed() Op {
	return opSlice{step: -1}
}

// Ellipsis expands to as many full slices as needed for the operand
// count to match the input rank. At most one Ellipsis may appear in an
// expression.
func Ellipsis() Op {
	return opEllipsis{}
}

// NewAxis inserts a new unit-sized dimension at this position.
func NewAxis() Op {
	return opNewAxis{}
}

// Mask selects the coordinates at which the mask is true. The mask
// length must equal the dimension's size.
func Mask(mask []bool) Op {
	return opMask{mask: mask}
}

// IndexArray selects an explicit list of coordinates, producing a new
// dimension of the same length (gather-style indexing).
func IndexArray(coords ...int64) Op {
	c := make([]int64, len(coords))
	copy(c, coords)

	return opIndexArray{coords: c}
}

// Apply builds the elementary transform for the expression against the
// transform's input domain and composes it through the transform,
// returning the refined view. The receiver is not modified.
func (t Transform) Apply(ops ...Op) (Transform, error) {
	elementary, err := buildElementary(t.Input, ops)

	if err != nil {
		return Transform{}, err
	}

	return Compose(t, elementary)
}

// expandEllipsis replaces the ellipsis operand, if any, with full
// slices so that exactly rank input dimensions are consumed.
func expandEllipsis(rank int, ops []Op) ([]Op, error) {
	consuming := 0
	ellipses := 0

	for _, op := range ops {
		switch op.(type) {
		case opEllipsis:
			ellipses++
		case opNewAxis:
		default:
			consuming++
		}
	}

	if ellipses > 1 {
		return nil, fmt.Errorf("%w: an expression may contain at most one ellipsis", ErrInvalidArgument)
	}

	if consuming > rank {
		return nil, fmt.Errorf("%w: expression has %d dimension operands for a rank %d domain", ErrInvalidArgument, consuming, rank)
	}

	missing := rank - consuming
	expanded := make([]Op, 0, len(ops)+missing)

	for _, op := range ops {
		if _, ok := op.(opEllipsis); ok {
			for i := 0; i < missing; i++ {
				expanded = append(expanded, All())
			}

			missing = 0

			continue
		}

		expanded = append(expanded, op)
	}

	// No ellipsis: trailing dimensions get full slices.
	for i := 0; i < missing; i++ {
		expanded = append(expanded, All())
	}

	return expanded, nil
}

// buildElementary translates an expression over the given domain into
// a transform whose output space is that domain.
func buildElementary(domain Domain, ops []Op) (Transform, error) {
	expanded, err := expandEllipsis(domain.Rank(), ops)

	if err != nil {
		return Transform{}, err
	}

	var input Domain

	output := make([]OutputMap, domain.Rank())
	source := 0

	for _, op := range expanded {
		switch op := op.(type) {
		case opNewAxis:
			input = append(input, Dim{InclusiveMin: 0, ExclusiveMax: 1})
		case opIndex:
			dim := domain[source]

			if err := checkCoord(dim, op.coord); err != nil {
				return Transform{}, fmt.Errorf("dimension %d: %w", source, err)
			}

			output[source] = OutputMap{Kind: MapConstant, Offset: op.coord}
			source++
		case opSlice:
			m, newDim, err := sliceDim(domain[source], op)

			if err != nil {
				return Transform{}, fmt.Errorf("dimension %d: %w", source, err)
			}

			m.InputDim = len(input)
			input = append(input, newDim)
			output[source] = m
			source++
		case opMask:
			dim := domain[source]

			if int64(len(op.mask)) != dim.Size() {
				return Transform{}, fmt.Errorf("%w: dimension %d: mask length %d does not match dimension size %d", ErrInvalidArgument, source, len(op.mask), dim.Size())
			}

			var coords []int64

			for i, selected := range op.mask {
				if selected {
					coords = append(coords, dim.InclusiveMin+int64(i))
				}
			}

			output[source] = OutputMap{
				Kind:     MapIndexArray,
				InputDim: len(input),
				Index:    coords,
			}
			input = append(input, Dim{InclusiveMin: 0, ExclusiveMax: int64(len(coords))})
			source++
		case opIndexArray:
			dim := domain[source]

			for _, coord := range op.coords {
				if err := checkCoord(dim, coord); err != nil {
					return Transform{}, fmt.Errorf("dimension %d: %w", source, err)
				}
			}

			output[source] = OutputMap{
				Kind:     MapIndexArray,
				InputDim: len(input),
				Index:    op.coords,
			}
			input = append(input, Dim{InclusiveMin: 0, ExclusiveMax: int64(len(op.coords))})
			source++
		}
	}

	if err := input.Validate(); err != nil {
		return Transform{}, err
	}

	return Transform{Input: input, Output: output}, nil
}

// checkCoord validates a single coordinate against a dimension,
// honoring implicit bounds.
func checkCoord(dim Dim, coord int64) error {
	if coord < dim.InclusiveMin && !dim.ImplicitMin {
		return fmt.Errorf("%w: coordinate %d below inclusive-min %d", ErrOutOfBounds, coord, dim.InclusiveMin)
	}

	if coord >= dim.ExclusiveMax && !dim.ImplicitMax {
		return fmt.Errorf("%w: coordinate %d not below exclusive-max %d", ErrOutOfBounds, coord, dim.ExclusiveMax)
	}

	return nil
}

// sliceDim builds the affine map and new input dimension for a slice
// operand. The new dimension is zero-based with the slice's start
// folded into the map offset; its label is inherited from the sliced
// dimension and its bounds are explicit.
func sliceDim(dim Dim, op opSlice) (OutputMap, Dim, error) {
	if op.step == 0 {
		return OutputMap{}, Dim{}, fmt.Errorf("%w: slice step must be nonzero", ErrInvalidArgument)
	}

	start, stop := op.start, op.stop

	if op.step > 0 {
		if !op.hasStart {
			start = dim.InclusiveMin
		}

		if !op.hasStop {
			stop = dim.ExclusiveMax
		}
	} else {
		if !op.hasStart {
			start = dim.ExclusiveMax - 1
		}

		if !op.hasStop {
			stop = dim.InclusiveMin - 1
		}
	}

	// The first and last selected coordinates must lie inside the
	// dimension unless the corresponding bound is implicit.
	size := ceilDiv(stop-start, op.step)

	if size < 0 {
		size = 0
	}

	if size > 0 {
		last := start + (size-1)*op.step

		lo, hi := start, last

		if lo > hi {
			lo, hi = hi, lo
		}

		if lo < dim.InclusiveMin && !dim.ImplicitMin {
			return OutputMap{}, Dim{}, fmt.Errorf("%w: slice start %d below inclusive-min %d", ErrOutOfBounds, lo, dim.InclusiveMin)
		}

		if hi >= dim.ExclusiveMax && !dim.ImplicitMax {
			return OutputMap{}, Dim{}, fmt.Errorf("%w: slice end %d not below exclusive-max %d", ErrOutOfBounds, hi, dim.ExclusiveMax)
		}
	}

	m := OutputMap{Kind: MapAffine, Offset: start, Stride: op.step}
	newDim := Dim{InclusiveMin: 0, ExclusiveMax: size, Label: dim.Label}

	return m, newDim, nil
}

// ceilDiv divides rounding toward positive infinity. b must be
// nonzero.
func ceilDiv(a, b int64) int64 {
	q := a / b
	r := a % b

	if r != 0 && (r < 0) == (b < 0) {
		q++
	}

	return q
}
