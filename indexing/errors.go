package indexing

import "errors"

var (
	// ErrOutOfBounds indicates that an integer index or slice endpoint
	// falls outside a dimension whose bound is not implicit.
	ErrOutOfBounds = errors.New("index out of bounds")
	// ErrInvalidArgument indicates a malformed indexing expression:
	// a zero slice step, a boolean mask whose length does not match the
	// target dimension, a duplicate dimension label, and so on.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTransform indicates that composing two transforms would
	// produce an inconsistent rank or dimension mapping.
	ErrInvalidTransform = errors.New("invalid transform")
)
