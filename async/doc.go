// Package async provides the execution core used by every component
// that touches a backend: handle-based futures and bounded worker
// pools.
//
// Work is submitted to a pool and produces a Future rather than
// blocking the caller. A future supports a blocking wait with optional
// timeout, a non-blocking completion check, continuations, and
// cooperative cancellation. Cancellation is best effort: work that has
// already started is not interrupted, while queued work is dropped and
// the future completes with ErrCancelled. A timed-out wait abandons
// only the wait; the work still runs and its result remains available.
//
// Pools have a fixed worker count, one pool per concurrency-limited
// resource class, so that backend I/O and CPU-bound encode/decode work
// are throttled independently. Work items may declare dependencies on
// other futures; an item is only scheduled once all of its
// dependencies have completed successfully, and a failed dependency
// fails the item without running it. No ordering holds between items
// submitted by unrelated callers.
package async
