package indexing_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/gridstore/indexing"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// randomOps builds a random valid expression for the domain. Every
// dimension gets one operand; a new axis is occasionally inserted.
func randomOps(rng *rand.Rand, domain indexing.Domain) []indexing.Op {
	var ops []indexing.Op

	for _, dim := range domain {
		if rng.Intn(8) == 0 {
			ops = append(ops, indexing.NewAxis())
		}

		size := dim.Size()

		switch {
		case size == 0:
			ops = append(ops, indexing.All())
		case rng.Intn(4) == 0:
			ops = append(ops, indexing.Index(dim.InclusiveMin+rng.Int63n(size)))
		case rng.Intn(4) == 0:
			n := rng.Int63n(size) + 1
			coords := make([]int64, n)

			for i := range coords {
				coords[i] = dim.InclusiveMin + rng.Int63n(size)
			}

			ops = append(ops, indexing.IndexArray(coords...))
		case rng.Intn(2) == 0:
			start := dim.InclusiveMin + rng.Int63n(size)
			stop := start + rng.Int63n(dim.ExclusiveMax-start) + 1
			ops = append(ops, indexing.Slice(start, stop))
		default:
			ops = append(ops, indexing.Reversed())
		}
	}

	return ops
}

// TestComposeAssociativity checks that composing a chain of transforms
// in either grouping produces identical transforms: for elementary
// transforms A, B, C built from random expressions,
// (A ∘ B) ∘ C == A ∘ (B ∘ C).
func TestComposeAssociativity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("grouping does not matter", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))

			base := indexing.NewDomain(1+rng.Int63n(8), 1+rng.Int63n(8), 1+rng.Int63n(8))

			a := indexing.Identity(base)

			b, err := indexing.Identity(a.Input).Apply(randomOps(rng, a.Input)...)

			if err != nil {
				t.Fatalf("could not build transform B: %s", err)
			}

			c, err := indexing.Identity(b.Input).Apply(randomOps(rng, b.Input)...)

			if err != nil {
				t.Fatalf("could not build transform C: %s", err)
			}

			ab, err := indexing.Compose(a, b)

			if err != nil {
				t.Fatalf("could not compose A and B: %s", err)
			}

			leftFirst, err := indexing.Compose(ab, c)

			if err != nil {
				t.Fatalf("could not compose (A∘B) and C: %s", err)
			}

			bc, err := indexing.Compose(b, c)

			if err != nil {
				t.Fatalf("could not compose B and C: %s", err)
			}

			rightFirst, err := indexing.Compose(a, bc)

			if err != nil {
				t.Fatalf("could not compose A and (B∘C): %s", err)
			}

			if diff := cmp.Diff(leftFirst, rightFirst); diff != "" {
				t.Logf("composition grouping changed the transform (-left +right):\n%s", diff)

				return false
			}

			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestApplyMatchesCompose checks that applying an expression is the
// same as composing with the elementary transform built from it over
// an identity view.
func TestApplyMatchesCompose(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("apply is compose with the elementary transform", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))

			base := indexing.NewDomain(1+rng.Int63n(8), 1+rng.Int63n(8))
			view, err := indexing.Identity(base).Apply(randomOps(rng, base)...)

			if err != nil {
				t.Fatalf("could not build view: %s", err)
			}

			ops := randomOps(rng, view.Input)

			applied, err := view.Apply(ops...)

			if err != nil {
				t.Fatalf("could not apply expression: %s", err)
			}

			elementary, err := indexing.Identity(view.Input).Apply(ops...)

			if err != nil {
				t.Fatalf("could not build elementary transform: %s", err)
			}

			composed, err := indexing.Compose(view, elementary)

			if err != nil {
				t.Fatalf("could not compose: %s", err)
			}

			return cmp.Diff(applied, composed) == ""
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
