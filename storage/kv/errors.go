package kv

import "errors"

var (
	// ErrNotFound indicates that the requested key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrConflict indicates that a conditional put or delete observed a
	// generation different from the expected one.
	ErrConflict = errors.New("generation mismatch")
	// ErrClosed indicates that the store was closed.
	ErrClosed = errors.New("store was closed")
	// ErrInvalidKey indicates a nil or empty key.
	ErrInvalidKey = errors.New("key must not be empty")
)
