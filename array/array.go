package array

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jrife/gridstore/async"
	"github.com/jrife/gridstore/codec"
	"github.com/jrife/gridstore/indexing"
	"github.com/jrife/gridstore/storage/cache"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/keys"
	"github.com/jrife/gridstore/storage/txn"
	"go.uber.org/zap"
)

// metaSuffix is the key, under the array's prefix, holding the JSON
// schema.
const metaSuffix = "meta"

type openOptions struct {
	create         bool
	openExisting   bool
	deleteExisting bool
	schema         *Schema
	actx           *Context
	transaction    *txn.Txn
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

// OpenExisting allows opening an array that already exists. It is the
// default mode; combine it with Create for open-or-create semantics.
func OpenExisting() OpenOption {
	return func(options *openOptions) {
		options.openExisting = true
	}
}

// Create allows creating the array if it does not exist. The spec must
// carry a schema. Without OpenExisting, an array that already exists
// fails the open with ErrAlreadyExists.
func Create() OpenOption {
	return func(options *openOptions) {
		options.create = true
	}
}

// DeleteExisting wipes any existing array under the spec's path before
// creating. It requires Create and cannot be combined with a
// transaction.
func DeleteExisting() OpenOption {
	return func(options *openOptions) {
		options.deleteExisting = true
	}
}

// WithSchema overrides the spec's schema for this open. It is the
// schema created by Create, or checked against the stored schema when
// opening an existing array.
func WithSchema(schema Schema) OpenOption {
	return func(options *openOptions) {
		options.schema = &schema
	}
}

// WithContext opens the handle against a specific Context instead of
// the process-wide default.
func WithContext(actx *Context) OpenOption {
	return func(options *openOptions) {
		options.actx = actx
	}
}

// WithTransaction routes all of the handle's reads and writes through
// the transaction. Writes stay invisible to other handles until it
// commits.
func WithTransaction(transaction *txn.Txn) OpenOption {
	return func(options *openOptions) {
		options.transaction = transaction
	}
}

// Array is a handle on a chunked array, exposing it through a view
// transform. Derived handles returned by Apply share the underlying
// store and cache with their parent. An Array is safe for concurrent
// reads and writes outside transactions; a transactional handle is as
// concurrency-safe as its transaction, which is not at all.
type Array struct {
	schema      Schema
	store       kv.Store
	chunks      *cache.Cache
	chunkCodec  codec.Codec
	actx        *Context
	prefix      string
	transform   indexing.Transform
	transaction *txn.Txn
	logger      *zap.Logger
}

// Open resolves a spec to an Array handle. The default mode opens an
// existing array and fails with ErrNotFound if there is none; see
// Create, OpenExisting, and DeleteExisting for the other modes.
func Open(ctx context.Context, spec Spec, options ...OpenOption) *async.Future[*Array] {
	var resolved openOptions

	for _, option := range options {
		option(&resolved)
	}

	if !resolved.create {
		resolved.openExisting = true
	}

	if resolved.actx == nil {
		resolved.actx = DefaultContext()
	}

	return async.Go(ctx, func(ctx context.Context) (*Array, error) {
		return open(ctx, spec, resolved)
	})
}

func open(ctx context.Context, spec Spec, options openOptions) (array *Array, err error) {
	if options.schema != nil {
		spec.Schema = options.schema
	}

	if err := spec.validate(); err != nil {
		return nil, err
	}

	if options.deleteExisting {
		if !options.create {
			return nil, fmt.Errorf("%w: delete-existing requires create", ErrInvalidArgument)
		}

		if options.transaction != nil {
			return nil, fmt.Errorf("%w: delete-existing cannot run inside a transaction", ErrInvalidArgument)
		}
	}

	store, err := spec.KVStore.openStore()

	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	prefix := spec.prefix()
	metaKey := []byte(prefix + metaSuffix)

	if options.deleteExisting {
		if err := wipe(ctx, store, prefix); err != nil {
			return nil, err
		}
	}

	schema, err := resolveSchema(ctx, store, spec, metaKey, options)

	if err != nil {
		return nil, err
	}

	chunkCodec, err := codec.Resolve(schema.Codec)

	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSpec, err)
	}

	actx := options.actx
	actx.ref()

	return &Array{
		schema:      schema,
		store:       store,
		chunks:      actx.cachePool.Bind(uuid.New().String(), store, chunkCodec, schema.chunkBytes(), actx.io, actx.decode),
		chunkCodec:  chunkCodec,
		actx:        actx,
		prefix:      prefix,
		transform:   indexing.Identity(schema.Domain),
		transaction: options.transaction,
		logger:      actx.logger,
	}, nil
}

// resolveSchema loads the stored schema or creates it, honoring the
// open mode. Creation is a conditional put so two racing creators
// resolve to one winner.
func resolveSchema(ctx context.Context, store kv.Store, spec Spec, metaKey []byte, options openOptions) (Schema, error) {
	raw, err := readMeta(ctx, store, metaKey, options.transaction)

	if err == nil {
		if options.create && !options.openExisting {
			return Schema{}, fmt.Errorf("%w: %s", ErrAlreadyExists, metaKey)
		}

		return decodeSchema(raw, spec.Schema)
	}

	if !errors.Is(err, kv.ErrNotFound) {
		return Schema{}, err
	}

	if !options.create {
		return Schema{}, fmt.Errorf("%w: no metadata at %s", ErrNotFound, metaKey)
	}

	if spec.Schema == nil {
		return Schema{}, fmt.Errorf("%w: creating an array requires a schema", ErrInvalidSpec)
	}

	schema := *spec.Schema

	raw, err = json.Marshal(schema)

	if err != nil {
		return Schema{}, fmt.Errorf("could not encode schema: %w", err)
	}

	if options.transaction != nil {
		// The existence check above went through the transaction's read
		// set, so a concurrent creation surfaces as a commit conflict.
		return schema, options.transaction.Write(metaKey, raw)
	}

	if _, err := store.Put(ctx, metaKey, raw, kv.NoValue); err != nil {
		if !errors.Is(err, kv.ErrConflict) {
			return Schema{}, err
		}

		// Lost a creation race.
		if !options.openExisting {
			return Schema{}, fmt.Errorf("%w: %s", ErrAlreadyExists, metaKey)
		}

		raw, err = readMeta(ctx, store, metaKey, nil)

		if err != nil {
			return Schema{}, err
		}

		return decodeSchema(raw, spec.Schema)
	}

	return schema, nil
}

func readMeta(ctx context.Context, store kv.Store, metaKey []byte, transaction *txn.Txn) ([]byte, error) {
	if transaction != nil {
		return transaction.Read(ctx, metaKey)
	}

	raw, _, err := store.Get(ctx, metaKey)

	return raw, err
}

// decodeSchema unmarshals a stored schema and checks it against the
// requested schema, if any.
func decodeSchema(raw []byte, requested *Schema) (Schema, error) {
	var stored Schema

	if err := json.Unmarshal(raw, &stored); err != nil {
		return Schema{}, fmt.Errorf("%w: could not decode stored schema: %s", ErrInvalidSpec, err)
	}

	if err := stored.Validate(); err != nil {
		return Schema{}, err
	}

	if requested != nil {
		if err := requested.compatible(stored); err != nil {
			return Schema{}, err
		}
	}

	return stored, nil
}

// wipe deletes every key under the prefix.
func wipe(ctx context.Context, store kv.Store, prefix string) error {
	r := keys.All()

	if prefix != "" {
		r = keys.Prefix([]byte(prefix))
	}

	iter, err := store.List(ctx, r)

	if err != nil {
		return err
	}

	var doomed [][]byte

	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		doomed = append(doomed, key)
	}

	if iter.Error() != nil {
		return iter.Error()
	}

	for _, key := range doomed {
		if err := store.Delete(ctx, key, kv.Unconditional); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
	}

	return nil
}

// Schema returns the array's schema.
func (array *Array) Schema() Schema {
	schema := array.schema
	schema.Domain = schema.Domain.Clone()

	return schema
}

// Domain returns the handle's view domain.
func (array *Array) Domain() indexing.Domain {
	return array.transform.Input.Clone()
}

// Transform returns the handle's view transform, mapping view
// coordinates to stored array coordinates.
func (array *Array) Transform() indexing.Transform {
	return array.transform.Clone()
}

// Apply returns a derived handle viewing the array through the given
// indexing operations, applied to this handle's view.
func (array *Array) Apply(ops ...indexing.Op) (*Array, error) {
	applied, err := array.transform.Apply(ops...)

	if err != nil {
		return nil, err
	}

	return array.withTransform(applied), nil
}

// WithTransform returns a derived handle using the given view
// transform in place of this handle's. The transform's output rank
// must match the schema's rank.
func (array *Array) WithTransform(t indexing.Transform) (*Array, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if t.OutputRank() != array.schema.Rank() {
		return nil, fmt.Errorf("%w: transform output rank %d does not match array rank %d", ErrInvalidArgument, t.OutputRank(), array.schema.Rank())
	}

	return array.withTransform(t.Clone()), nil
}

func (array *Array) withTransform(t indexing.Transform) *Array {
	derived := *array
	derived.transform = t

	return &derived
}

// Flush writes all dirty cached chunks back to the store. It is a
// no-op on a transactional handle; a transaction publishes through
// Commit instead.
func (array *Array) Flush(ctx context.Context) error {
	if array.transaction != nil {
		return nil
	}

	return array.chunks.Flush(ctx)
}

// Close flushes dirty chunks, closes the backing store, and releases
// the handle's reference on its Context. It closes the store for every
// handle derived from the same Open; call it once per Open.
func (array *Array) Close(ctx context.Context) error {
	if err := array.Flush(ctx); err != nil {
		return err
	}

	defer array.actx.release()

	return array.store.Close()
}
