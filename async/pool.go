package async

import (
	"context"
	"sync"
)

// Pool is a fixed-size set of workers draining a queue of ready work
// items. One pool exists per concurrency-limited resource class so
// that, for example, backend I/O cannot starve decode work.
type Pool struct {
	mu      sync.Mutex
	ready   *sync.Cond
	queue   []func()
	closed  bool
	drained sync.WaitGroup
}

// NewPool starts a pool with the given number of workers. workers must
// be positive.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	pool := &Pool{}
	pool.ready = sync.NewCond(&pool.mu)
	pool.drained.Add(workers)

	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (pool *Pool) worker() {
	defer pool.drained.Done()

	for {
		pool.mu.Lock()

		for len(pool.queue) == 0 && !pool.closed {
			pool.ready.Wait()
		}

		if len(pool.queue) == 0 {
			pool.mu.Unlock()

			return
		}

		run := pool.queue[0]
		pool.queue = pool.queue[1:]
		pool.mu.Unlock()

		run()
	}
}

// enqueue adds a ready work item. It reports false if the pool is
// closed.
func (pool *Pool) enqueue(run func()) bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		return false
	}

	pool.queue = append(pool.queue, run)
	pool.ready.Signal()

	return true
}

// Close stops accepting work, lets queued items finish, and waits for
// the workers to exit.
func (pool *Pool) Close() {
	pool.mu.Lock()
	pool.closed = true
	pool.ready.Broadcast()
	pool.mu.Unlock()

	pool.drained.Wait()
}

// Submit schedules fn on the pool once every dependency has completed
// and returns a future for its result. A failed dependency fails the
// returned future without running fn. fn receives the submission
// context.
func Submit[T any](pool *Pool, ctx context.Context, fn func(ctx context.Context) (T, error), deps ...Awaitable) *Future[T] {
	f := newFuture[T]()

	run := func() {
		if !f.markStarted() {
			return
		}

		value, err := fn(ctx)
		f.complete(value, err)
	}

	schedule := func(depErr error) {
		if depErr != nil {
			var zero T

			f.complete(zero, depErr)

			return
		}

		if !pool.enqueue(run) {
			var zero T

			f.complete(zero, ErrPoolClosed)
		}
	}

	if len(deps) == 0 {
		schedule(nil)

		return f
	}

	var depMu sync.Mutex
	var depErr error

	remaining := len(deps)

	for _, dep := range deps {
		dep.onDone(func(err error) {
			depMu.Lock()

			if err != nil && depErr == nil {
				depErr = err
			}

			remaining--
			last := remaining == 0
			firstErr := depErr
			depMu.Unlock()

			if last {
				schedule(firstErr)
			}
		})
	}

	return f
}

// Go runs fn on its own goroutine and returns a future for its result.
// Use it for orchestration work that waits on pool-scheduled items; a
// Pool worker must never block on another item from the same pool.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()

	go func() {
		if !f.markStarted() {
			return
		}

		value, err := fn(ctx)
		f.complete(value, err)
	}()

	return f
}
