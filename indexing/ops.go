package indexing

import "fmt"

// labeled resolves a dimension label against the transform's input
// domain.
func (t Transform) labeled(label string) (int, error) {
	i := t.Input.LabelIndex(label)

	if i < 0 {
		return 0, fmt.Errorf("%w: no dimension labeled %q", ErrInvalidArgument, label)
	}

	return i, nil
}

// opsFor returns an operand list that applies op at dimension i and
// full slices everywhere else.
func (t Transform) opsFor(i int, op Op) []Op {
	ops := make([]Op, t.InputRank())

	for j := range ops {
		ops[j] = All()
	}

	ops[i] = op

	return ops
}

// Translate shifts the origin of the labeled dimension by offset: the
// returned view's dimension covers [min+offset, max+offset) and maps
// back to the same underlying coordinates.
func (t Transform) Translate(label string, offset int64) (Transform, error) {
	i, err := t.labeled(label)

	if err != nil {
		return Transform{}, err
	}

	dim := t.Input[i]
	elementary := Identity(t.Input)
	elementary.Input[i] = Dim{
		InclusiveMin: dim.InclusiveMin + offset,
		ExclusiveMax: dim.ExclusiveMax + offset,
		Label:        dim.Label,
		ImplicitMin:  dim.ImplicitMin,
		ImplicitMax:  dim.ImplicitMax,
	}
	elementary.Output[i] = OutputMap{Kind: MapAffine, Offset: -offset, Stride: 1, InputDim: i}

	return Compose(t, elementary)
}

// Stride downsamples the labeled dimension, keeping every stride-th
// coordinate starting from the dimension's inclusive-min. The
// resulting dimension is zero-based.
func (t Transform) Stride(label string, stride int64) (Transform, error) {
	if stride <= 0 {
		return Transform{}, fmt.Errorf("%w: stride must be positive, got %d", ErrInvalidArgument, stride)
	}

	i, err := t.labeled(label)

	if err != nil {
		return Transform{}, err
	}

	return t.Apply(t.opsFor(i, SliceStep(t.Input[i].InclusiveMin, t.Input[i].ExclusiveMax, stride))...)
}

// Reverse flips the labeled dimension. The resulting dimension is
// zero-based and reads the underlying coordinates highest first.
func (t Transform) Reverse(label string) (Transform, error) {
	i, err := t.labeled(label)

	if err != nil {
		return Transform{}, err
	}

	return t.Apply(t.opsFor(i, Reversed())...)
}

// Relabel renames a dimension. The new label must not collide with an
// existing one.
func (t Transform) Relabel(old, new string) (Transform, error) {
	i, err := t.labeled(old)

	if err != nil {
		return Transform{}, err
	}

	if new != "" && t.Input.LabelIndex(new) >= 0 {
		return Transform{}, fmt.Errorf("%w: duplicate dimension label %q", ErrInvalidArgument, new)
	}

	relabeled := t.Clone()
	relabeled.Input[i].Label = new

	return relabeled, nil
}

// Label assigns labels to all input dimensions at once. The number of
// labels must equal the input rank and nonempty labels must be unique.
func (t Transform) Label(labels ...string) (Transform, error) {
	if len(labels) != t.InputRank() {
		return Transform{}, fmt.Errorf("%w: got %d labels for a rank %d domain", ErrInvalidArgument, len(labels), t.InputRank())
	}

	relabeled := t.Clone()

	for i, label := range labels {
		relabeled.Input[i].Label = label
	}

	if err := relabeled.Input.Validate(); err != nil {
		return Transform{}, err
	}

	return relabeled, nil
}

// Transpose permutes the input dimensions: dimension j of the result
// corresponds to dimension perm[j] of the receiver. perm must be a
// permutation of [0, rank).
func (t Transform) Transpose(perm ...int) (Transform, error) {
	if len(perm) != t.InputRank() {
		return Transform{}, fmt.Errorf("%w: permutation length %d does not match input rank %d", ErrInvalidArgument, len(perm), t.InputRank())
	}

	seen := make([]bool, len(perm))

	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return Transform{}, fmt.Errorf("%w: %v is not a permutation of the input dimensions", ErrInvalidArgument, perm)
		}

		seen[p] = true
	}

	input := make(Domain, len(perm))
	output := make([]OutputMap, t.InputRank())

	for j, p := range perm {
		input[j] = t.Input[p]
		output[p] = OutputMap{Kind: MapAffine, Stride: 1, InputDim: j}
	}

	return Compose(t, Transform{Input: input, Output: output})
}
