package txn

import (
	"errors"
)

var (
	// ErrConflict indicates that a transaction could not commit because
	// another transaction changed a key it read.
	ErrConflict = errors.New("transaction conflict")
	// ErrTxnClosed indicates an operation on a transaction that already
	// committed or aborted.
	ErrTxnClosed = errors.New("transaction closed")
)
