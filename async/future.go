package async

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCancelled indicates that a future was cancelled before its
	// work item ran.
	ErrCancelled = errors.New("operation was cancelled")
	// ErrPoolClosed indicates that work was submitted to a closed pool.
	ErrPoolClosed = errors.New("pool was closed")
)

// Awaitable is the type-erased view of a future that dependency
// tracking uses.
type Awaitable interface {
	// onDone registers a continuation receiving the future's terminal
	// error (nil on success). It fires immediately if the future is
	// already complete.
	onDone(fn func(err error))
}

// Future is a handle for the eventual result of a work item.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	completed bool
	started   bool
	cancelled bool
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already-completed future holding value.
func Resolved[T any](value T) *Future[T] {
	f := newFuture[T]()
	f.complete(value, nil)

	return f
}

// Failed returns an already-completed future holding err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()

	var zero T

	f.complete(zero, err)

	return f
}

// complete records the result exactly once. Later completions are
// ignored.
func (f *Future[T]) complete(value T, err error) {
	f.mu.Lock()

	if f.completed {
		f.mu.Unlock()

		return
	}

	f.value = value
	f.err = err
	f.completed = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(value, err)
	}
}

// markStarted flags the work item as running so that a later Cancel
// becomes a no-op. It reports whether the item should run.
func (f *Future[T]) markStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelled || f.completed {
		return false
	}

	f.started = true

	return true
}

// Wait blocks until the future completes or the context is done. A
// context expiry abandons the wait only; the work item still runs.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// WaitTimeout blocks for at most the given duration. Like Wait, a
// timeout does not cancel the work.
func (f *Future[T]) WaitTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T

		return zero, context.DeadlineExceeded
	}
}

// Done reports whether the future has completed, without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the completed future's value and error. It must only
// be called after the future completes.
func (f *Future[T]) Result() (T, error) {
	<-f.done

	return f.value, f.err
}

// OnComplete registers a continuation invoked with the result when the
// future completes. If the future is already complete the continuation
// runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(fn func(value T, err error)) {
	f.mu.Lock()

	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()

		return
	}

	value, err := f.value, f.err
	f.mu.Unlock()

	fn(value, err)
}

// onDone implements Awaitable.
func (f *Future[T]) onDone(fn func(err error)) {
	f.OnComplete(func(_ T, err error) {
		fn(err)
	})
}

// Cancel requests cancellation. Work that has not started yet is
// dropped and the future completes with ErrCancelled; work already
// running is unaffected and completes normally.
func (f *Future[T]) Cancel() {
	f.mu.Lock()

	if f.completed || f.started {
		f.mu.Unlock()

		return
	}

	f.cancelled = true
	f.mu.Unlock()

	var zero T

	f.complete(zero, ErrCancelled)
}
