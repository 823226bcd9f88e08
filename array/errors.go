package array

import (
	"errors"
)

var (
	// ErrNotFound indicates an attempt to open an array that does not
	// exist.
	ErrNotFound = errors.New("array does not exist")
	// ErrAlreadyExists indicates an attempt to create an array that
	// already exists.
	ErrAlreadyExists = errors.New("array already exists")
	// ErrInvalidSpec indicates a malformed spec or a spec whose schema
	// does not match the stored array's schema.
	ErrInvalidSpec = errors.New("invalid array spec")
	// ErrInvalidArgument indicates a malformed argument such as a data
	// buffer whose length does not match the view's domain.
	ErrInvalidArgument = errors.New("invalid argument")
)
