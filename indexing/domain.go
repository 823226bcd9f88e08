package indexing

import "fmt"

// Dim describes one dimension of a Domain: a half-open coordinate
// interval [InclusiveMin, ExclusiveMax), an optional label, and
// per-bound implicit flags. An implicit bound is resizable: indexing
// operations that would fall outside it extend the bound instead of
// failing with ErrOutOfBounds.
type Dim struct {
	InclusiveMin int64  `json:"inclusive_min"`
	ExclusiveMax int64  `json:"exclusive_max"`
	Label        string `json:"label,omitempty"`
	ImplicitMin  bool   `json:"implicit_min,omitempty"`
	ImplicitMax  bool   `json:"implicit_max,omitempty"`
}

// Size returns the number of coordinates in the dimension.
func (dim Dim) Size() int64 {
	return dim.ExclusiveMax - dim.InclusiveMin
}

// Contains reports whether the coordinate lies inside the dimension's
// interval.
func (dim Dim) Contains(x int64) bool {
	return x >= dim.InclusiveMin && x < dim.ExclusiveMax
}

// Domain is the coordinate extent of an array or view: an ordered list
// of dimensions. Labels, where present, must be unique within a domain.
type Domain []Dim

// NewDomain builds an unlabeled domain with inclusive-min zero and the
// given per-dimension sizes.
func NewDomain(shape ...int64) Domain {
	domain := make(Domain, len(shape))

	for i, size := range shape {
		domain[i] = Dim{InclusiveMin: 0, ExclusiveMax: size}
	}

	return domain
}

// Rank returns the number of dimensions.
func (domain Domain) Rank() int {
	return len(domain)
}

// Shape returns the per-dimension sizes.
func (domain Domain) Shape() []int64 {
	shape := make([]int64, len(domain))

	for i, dim := range domain {
		shape[i] = dim.Size()
	}

	return shape
}

// NumElements returns the total number of coordinates in the domain.
func (domain Domain) NumElements() int64 {
	n := int64(1)

	for _, dim := range domain {
		n *= dim.Size()
	}

	return n
}

// LabelIndex returns the index of the dimension with this label, or -1
// if no dimension carries it.
func (domain Domain) LabelIndex(label string) int {
	if label == "" {
		return -1
	}

	for i, dim := range domain {
		if dim.Label == label {
			return i
		}
	}

	return -1
}

// Labels returns the per-dimension labels. Unlabeled dimensions
// contribute empty strings.
func (domain Domain) Labels() []string {
	labels := make([]string, len(domain))

	for i, dim := range domain {
		labels[i] = dim.Label
	}

	return labels
}

// Validate checks the domain invariants: inclusive-min must not exceed
// exclusive-max for any dimension and labels must be unique.
func (domain Domain) Validate() error {
	seen := map[string]bool{}

	for i, dim := range domain {
		if dim.InclusiveMin > dim.ExclusiveMax {
			return fmt.Errorf("%w: dimension %d has inclusive-min %d > exclusive-max %d", ErrInvalidArgument, i, dim.InclusiveMin, dim.ExclusiveMax)
		}

		if dim.Label == "" {
			continue
		}

		if seen[dim.Label] {
			return fmt.Errorf("%w: duplicate dimension label %q", ErrInvalidArgument, dim.Label)
		}

		seen[dim.Label] = true
	}

	return nil
}

// Clone returns a copy of the domain that shares no storage with the
// original.
func (domain Domain) Clone() Domain {
	clone := make(Domain, len(domain))
	copy(clone, domain)

	return clone
}
