package txn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/utils/log"
	"go.uber.org/zap"
)

// State describes where a transaction is in its lifecycle.
type State int

const (
	// Open transactions accept reads, writes, and commit or abort.
	Open State = iota
	// Committing transactions are mid-commit and accept nothing.
	Committing
	// Committed transactions published their writes.
	Committed
	// Aborted transactions discarded their writes.
	Aborted
)

func (state State) String() string {
	switch state {
	case Open:
		return "open"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}

	return "unknown"
}

// Manager creates transactions over one kv.Store and serializes their
// commits within this process. The root pointer swap is conditional, so
// commits racing from other processes against the same store still
// resolve to exactly one winner.
type Manager struct {
	store    kv.Store
	logger   *zap.Logger
	commitMu sync.Mutex
}

// NewManager creates a transaction manager for the store. A nil logger
// disables logging.
func NewManager(store kv.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Begin starts a new transaction.
func (manager *Manager) Begin() *Txn {
	return &Txn{
		manager:  manager,
		id:       uuid.New().String(),
		readSet:  map[string]kv.Generation{},
		writeSet: map[string]write{},
	}
}

// Recover re-applies published manifests whose applied marker is
// missing. A crash between the root pointer swap and the apply leaves
// a manifest published but unapplied; Recover walks the root chain
// back to the newest applied manifest and replays the rest, oldest
// first, so later commits overwrite earlier ones. Applying a manifest
// twice is idempotent. Call Recover once before using a store that may
// have been left mid-commit: the walk stops at the newest applied
// manifest, so a commit from another process that lands before a
// crashed commit is recovered strands the crashed manifest behind an
// applied one, where no later Recover will find it.
func (manager *Manager) Recover(ctx context.Context) error {
	logger, ctx := log.LoggerFromContext(ctx, manager.logger)

	root, _, err := readRoot(ctx, manager.store)

	if err != nil {
		return err
	}

	var pending []Manifest

	for id := root; id != ""; {
		applied, err := isApplied(ctx, manager.store, id)

		if err != nil {
			return err
		}

		if applied {
			break
		}

		manifest, err := loadManifest(ctx, manager.store, id)

		if err != nil {
			return err
		}

		pending = append(pending, manifest)
		id = manifest.Prev
	}

	for i := len(pending) - 1; i >= 0; i-- {
		manifest := pending[i]

		logger.Info("re-applying manifest", zap.String("manifest", manifest.ID), zap.Int("writes", len(manifest.Writes)))

		if err := applyManifest(ctx, manager.store, manifest); err != nil {
			return err
		}

		if err := markApplied(ctx, manager.store, manifest.ID); err != nil {
			return err
		}
	}

	return nil
}

type write struct {
	value     []byte
	tombstone bool
}

// Txn is a single optimistic transaction. Reads record the generation
// of each key the first time it is read; writes are staged in memory
// and become visible to other transactions only after Commit. A Txn is
// not safe for concurrent use.
type Txn struct {
	manager *Manager
	id      string

	mu              sync.Mutex
	state           State
	readSet         map[string]kv.Generation
	writeSet        map[string]write
	observedRoot    string
	observedRootSet bool
}

// ID returns the transaction's unique id.
func (txn *Txn) ID() string {
	return txn.id
}

// State returns the transaction's current state.
func (txn *Txn) State() State {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	return txn.state
}

// Read returns the value of a key as seen by this transaction: its own
// staged write if it has one, the store's current value otherwise.
// Reading a missing key returns kv.ErrNotFound and records the absence
// in the read set.
func (txn *Txn) Read(ctx context.Context, key []byte) ([]byte, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.state != Open {
		return nil, ErrTxnClosed
	}

	if staged, ok := txn.writeSet[string(key)]; ok {
		if staged.tombstone {
			return nil, kv.ErrNotFound
		}

		value := make([]byte, len(staged.value))
		copy(value, staged.value)

		return value, nil
	}

	if !txn.observedRootSet {
		root, _, err := readRoot(ctx, txn.manager.store)

		if err != nil {
			return nil, err
		}

		txn.observedRoot = root
		txn.observedRootSet = true
	}

	value, generation, err := txn.manager.store.Get(ctx, key)

	if errors.Is(err, kv.ErrNotFound) {
		txn.record(key, kv.NoValue)

		return nil, kv.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	txn.record(key, generation)

	return value, nil
}

// record adds a key to the read set. The generation seen by the first
// read wins so a key read twice validates against its original version.
func (txn *Txn) record(key []byte, generation kv.Generation) {
	if _, seen := txn.readSet[string(key)]; !seen {
		txn.readSet[string(key)] = generation
	}
}

// Write stages a value for a key. The write is not visible outside this
// transaction until Commit.
func (txn *Txn) Write(key []byte, value []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.state != Open {
		return ErrTxnClosed
	}

	staged := make([]byte, len(value))
	copy(staged, value)

	txn.writeSet[string(key)] = write{value: staged}

	return nil
}

// Delete stages a delete of a key.
func (txn *Txn) Delete(key []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.state != Open {
		return ErrTxnClosed
	}

	txn.writeSet[string(key)] = write{tombstone: true}

	return nil
}

// Commit validates the read set and publishes the write set atomically.
// It returns ErrConflict if any key this transaction read changed since
// it was read; the store is untouched in that case. After Commit
// returns the transaction is closed either way.
func (txn *Txn) Commit(ctx context.Context) error {
	logger, ctx := log.LoggerFromContext(ctx, txn.manager.logger)

	txn.mu.Lock()

	if txn.state != Open {
		txn.mu.Unlock()

		return ErrTxnClosed
	}

	txn.state = Committing
	txn.mu.Unlock()

	txn.manager.commitMu.Lock()
	published, err := txn.commit(ctx)
	txn.manager.commitMu.Unlock()

	txn.mu.Lock()

	if published {
		txn.state = Committed
	} else {
		txn.state = Aborted
	}

	txn.mu.Unlock()

	if err != nil {
		logger.Debug("commit failed", zap.String("txn", txn.id), zap.Bool("published", published), zap.Error(err))
	}

	return err
}

// commit runs the validate-publish-apply sequence. published reports
// whether the root pointer swap succeeded; once it has, the transaction
// is durably committed even if applying the writes fails, and Recover
// finishes the apply.
func (txn *Txn) commit(ctx context.Context) (published bool, err error) {
	store := txn.manager.store

	root, rootGeneration, err := readRoot(ctx, store)

	if err != nil {
		return false, err
	}

	if err := txn.validate(ctx, root); err != nil {
		return false, err
	}

	if len(txn.writeSet) == 0 {
		// Read-only transactions have nothing to publish.
		return true, nil
	}

	manifest := Manifest{ID: txn.id, Prev: root, Writes: txn.manifestWrites()}

	raw, err := encodeManifest(manifest)

	if err != nil {
		return false, err
	}

	if _, err := store.Put(ctx, manifestKey(txn.id), raw, kv.NoValue); err != nil {
		return false, fmt.Errorf("could not store manifest: %w", err)
	}

	if _, err := store.Put(ctx, []byte(rootKey), []byte(txn.id), rootGeneration); err != nil {
		// Another committer won the swap. The unpublished manifest is
		// garbage; drop it best-effort.
		if delErr := store.Delete(ctx, manifestKey(txn.id), kv.Unconditional); delErr != nil {
			txn.manager.logger.Warn("could not remove unpublished manifest", zap.String("manifest", txn.id), zap.Error(delErr))
		}

		if errors.Is(err, kv.ErrConflict) {
			return false, fmt.Errorf("%w: root pointer moved", ErrConflict)
		}

		return false, err
	}

	if err := applyManifest(ctx, store, manifest); err != nil {
		return true, err
	}

	return true, markApplied(ctx, store, manifest.ID)
}

// validate checks the read set against the store's current state. Every
// key read must still be at the generation it was first read at, and no
// manifest published since the transaction's first read may touch a key
// in the read set. The second check covers writes that were published
// but not yet applied to their base keys.
func (txn *Txn) validate(ctx context.Context, root string) error {
	store := txn.manager.store

	for key, expected := range txn.readSet {
		_, generation, err := store.Get(ctx, []byte(key))

		if errors.Is(err, kv.ErrNotFound) {
			if expected != kv.NoValue {
				return fmt.Errorf("%w: key %s was deleted", ErrConflict, key)
			}

			continue
		} else if err != nil {
			return err
		}

		if expected == kv.NoValue || generation != expected {
			return fmt.Errorf("%w: key %s changed", ErrConflict, key)
		}
	}

	if !txn.observedRootSet {
		return nil
	}

	for id := root; id != "" && id != txn.observedRoot; {
		manifest, err := loadManifest(ctx, store, id)

		if err != nil {
			return err
		}

		for _, manifestWrite := range manifest.Writes {
			if _, read := txn.readSet[string(manifestWrite.Key)]; read {
				return fmt.Errorf("%w: key %s written by transaction %s", ErrConflict, manifestWrite.Key, manifest.ID)
			}
		}

		id = manifest.Prev
	}

	return nil
}

// manifestWrites converts the write set into manifest entries in key
// order.
func (txn *Txn) manifestWrites() []ManifestWrite {
	sorted := make([]string, 0, len(txn.writeSet))

	for key := range txn.writeSet {
		sorted = append(sorted, key)
	}

	sort.Strings(sorted)

	writes := make([]ManifestWrite, 0, len(sorted))

	for _, key := range sorted {
		staged := txn.writeSet[key]
		writes = append(writes, ManifestWrite{
			Key:    []byte(key),
			Value:  staged.value,
			Delete: staged.tombstone,
		})
	}

	return writes
}

// Abort discards the transaction's staged writes. Aborting an already
// aborted transaction is a no-op; aborting a committed transaction
// returns ErrTxnClosed.
func (txn *Txn) Abort() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	switch txn.state {
	case Aborted:
		return nil
	case Committed, Committing:
		return ErrTxnClosed
	}

	txn.state = Aborted
	txn.readSet = nil
	txn.writeSet = nil

	return nil
}
