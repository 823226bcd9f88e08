package array

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jrife/gridstore/async"
	"github.com/jrife/gridstore/storage/cache"
	"go.uber.org/zap"
)

const (
	defaultCacheBytes = int64(256) << 20
	defaultIOWorkers  = 16
)

// Context bundles the resources array handles share: the chunk cache
// pool and the bounded worker pools for backend I/O and for
// encode/decode work. Handles opened with the same Context share its
// cache budget and concurrency limits.
//
// Contexts are reference counted. NewContext returns a context holding
// one reference owned by the caller; every open handle holds another.
// The worker pools shut down when the last reference is released.
type Context struct {
	cachePool *cache.Pool
	io        *async.Pool
	decode    *async.Pool
	logger    *zap.Logger
	refs      int32
}

type contextOptions struct {
	cacheBytes    int64
	ioWorkers     int
	decodeWorkers int
	logger        *zap.Logger
}

// ContextOption configures a Context.
type ContextOption func(*contextOptions)

// WithCacheBytes sets the chunk cache budget in bytes. Zero or
// negative disables eviction.
func WithCacheBytes(n int64) ContextOption {
	return func(options *contextOptions) {
		options.cacheBytes = n
	}
}

// WithIOConcurrency caps the number of concurrent backend operations.
func WithIOConcurrency(n int) ContextOption {
	return func(options *contextOptions) {
		options.ioWorkers = n
	}
}

// WithDecodeConcurrency caps the number of concurrent encode and
// decode work items.
func WithDecodeConcurrency(n int) ContextOption {
	return func(options *contextOptions) {
		options.decodeWorkers = n
	}
}

// WithLogger sets the logger used by the context's cache and by
// handles opened with it.
func WithLogger(logger *zap.Logger) ContextOption {
	return func(options *contextOptions) {
		options.logger = logger
	}
}

// NewContext creates a Context with its own cache pool and worker
// pools.
func NewContext(options ...ContextOption) *Context {
	resolved := contextOptions{
		cacheBytes:    defaultCacheBytes,
		ioWorkers:     defaultIOWorkers,
		decodeWorkers: runtime.GOMAXPROCS(0),
		logger:        zap.NewNop(),
	}

	for _, option := range options {
		option(&resolved)
	}

	return &Context{
		cachePool: cache.NewPool(resolved.cacheBytes, resolved.logger),
		io:        async.NewPool(resolved.ioWorkers),
		decode:    async.NewPool(resolved.decodeWorkers),
		logger:    resolved.logger,
		refs:      1,
	}
}

// ref takes another reference for an open handle.
func (actx *Context) ref() {
	atomic.AddInt32(&actx.refs, 1)
}

// release drops one reference, shutting down the worker pools when the
// last one goes.
func (actx *Context) release() {
	if atomic.AddInt32(&actx.refs, -1) > 0 {
		return
	}

	actx.io.Close()
	actx.decode.Close()
}

// Close releases the caller's reference. The worker pools drain and
// shut down once every handle opened with the context is closed too.
func (actx *Context) Close() {
	actx.release()
}

var (
	defaultContextOnce sync.Once
	defaultContext     *Context
)

// DefaultContext returns the process-wide shared Context, created on
// first use. It is never closed.
func DefaultContext() *Context {
	defaultContextOnce.Do(func() {
		defaultContext = NewContext()
	})

	return defaultContext
}
