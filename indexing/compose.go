package indexing

import "fmt"

// Compose substitutes inner through outer, producing the transform
// whose output for any point p is outer(inner(p)). inner's output rank
// must equal outer's input rank or composition fails with
// ErrInvalidTransform. Composition is associative.
func Compose(outer, inner Transform) (Transform, error) {
	if inner.OutputRank() != outer.InputRank() {
		return Transform{}, fmt.Errorf("%w: inner output rank %d does not match outer input rank %d", ErrInvalidTransform, inner.OutputRank(), outer.InputRank())
	}

	if err := outer.Validate(); err != nil {
		return Transform{}, err
	}

	if err := inner.Validate(); err != nil {
		return Transform{}, err
	}

	output := make([]OutputMap, outer.OutputRank())

	for i, m := range outer.Output {
		switch m.Kind {
		case MapConstant:
			output[i] = m
		case MapAffine:
			composed, err := composeAffine(outer, inner, m)

			if err != nil {
				return Transform{}, fmt.Errorf("output dimension %d: %w", i, err)
			}

			output[i] = composed
		case MapIndexArray:
			composed, err := composeIndexArray(outer, inner, m)

			if err != nil {
				return Transform{}, fmt.Errorf("output dimension %d: %w", i, err)
			}

			output[i] = composed
		}
	}

	return Transform{Input: inner.Input.Clone(), Output: output}, nil
}

// composeAffine substitutes inner's map for the input dimension that
// the affine map m references.
func composeAffine(outer, inner Transform, m OutputMap) (OutputMap, error) {
	e := inner.Output[m.InputDim]

	switch e.Kind {
	case MapConstant:
		return OutputMap{Kind: MapConstant, Offset: m.Offset + m.Stride*e.Offset}, nil
	case MapAffine:
		return OutputMap{
			Kind:     MapAffine,
			Offset:   m.Offset + m.Stride*e.Offset,
			Stride:   m.Stride * e.Stride,
			InputDim: e.InputDim,
		}, nil
	case MapIndexArray:
		index := make([]int64, len(e.Index))

		for j, x := range e.Index {
			index[j] = m.Offset + m.Stride*x
		}

		return OutputMap{Kind: MapIndexArray, InputDim: e.InputDim, Index: index}, nil
	}

	return OutputMap{}, fmt.Errorf("%w: unknown map kind %d", ErrInvalidTransform, e.Kind)
}

// composeIndexArray substitutes inner's map for the input dimension
// that the index-array map m gathers along. Every coordinate inner can
// produce for that dimension must lie inside outer's input bounds.
func composeIndexArray(outer, inner Transform, m OutputMap) (OutputMap, error) {
	dim := outer.Input[m.InputDim]
	e := inner.Output[m.InputDim]

	lookup := func(x int64) (int64, error) {
		if !dim.Contains(x) {
			return 0, fmt.Errorf("%w: coordinate %d outside gathered dimension bounds [%d, %d)", ErrOutOfBounds, x, dim.InclusiveMin, dim.ExclusiveMax)
		}

		return m.Index[x-dim.InclusiveMin], nil
	}

	switch e.Kind {
	case MapConstant:
		value, err := lookup(e.Offset)

		if err != nil {
			return OutputMap{}, err
		}

		return OutputMap{Kind: MapConstant, Offset: value}, nil
	case MapAffine:
		source := inner.Input[e.InputDim]
		index := make([]int64, source.Size())

		for j := range index {
			value, err := lookup(e.Offset + e.Stride*(source.InclusiveMin+int64(j)))

			if err != nil {
				return OutputMap{}, err
			}

			index[j] = value
		}

		return OutputMap{Kind: MapIndexArray, InputDim: e.InputDim, Index: index}, nil
	case MapIndexArray:
		index := make([]int64, len(e.Index))

		for j, x := range e.Index {
			value, err := lookup(x)

			if err != nil {
				return OutputMap{}, err
			}

			index[j] = value
		}

		return OutputMap{Kind: MapIndexArray, InputDim: e.InputDim, Index: index}, nil
	}

	return OutputMap{}, fmt.Errorf("%w: unknown map kind %d", ErrInvalidTransform, e.Kind)
}
