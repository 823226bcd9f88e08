package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/jrife/gridstore/storage/kv"
)

const (
	// rootKey is the key holding the id of the latest committed
	// manifest. Commit publishes a transaction by swapping this pointer
	// with a conditional put.
	rootKey = "manifest/root"
	// manifestPrefix prefixes the key under which each committed
	// manifest is stored.
	manifestPrefix = "manifest/"
)

// ManifestWrite is one staged write recorded in a manifest.
type ManifestWrite struct {
	Key    []byte `cbor:"1,keyasint"`
	Value  []byte `cbor:"2,keyasint,omitempty"`
	Delete bool   `cbor:"3,keyasint,omitempty"`
}

// Manifest is the durable record of one committed transaction. Manifests
// form a chain through Prev back to the first commit; they are retained
// so that commit validation can see writes that were published but not
// yet applied to their base keys.
type Manifest struct {
	ID     string          `cbor:"1,keyasint"`
	Prev   string          `cbor:"2,keyasint,omitempty"`
	Writes []ManifestWrite `cbor:"3,keyasint,omitempty"`
}

func manifestKey(id string) []byte {
	return []byte(manifestPrefix + id)
}

func encodeManifest(manifest Manifest) ([]byte, error) {
	return cbor.Marshal(manifest)
}

func decodeManifest(raw []byte) (Manifest, error) {
	var manifest Manifest

	if err := cbor.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("could not decode manifest: %w", err)
	}

	return manifest, nil
}

// readRoot returns the id of the latest committed manifest and the
// generation of the root pointer. A store without any committed
// transaction yet returns an empty id and kv.NoValue.
func readRoot(ctx context.Context, store kv.Store) (string, kv.Generation, error) {
	value, generation, err := store.Get(ctx, []byte(rootKey))

	if errors.Is(err, kv.ErrNotFound) {
		return "", kv.NoValue, nil
	} else if err != nil {
		return "", kv.NoValue, fmt.Errorf("could not read root pointer: %w", err)
	}

	return string(value), generation, nil
}

// appliedKey returns the marker key recording that a manifest's writes
// reached their base keys.
func appliedKey(id string) []byte {
	return []byte(manifestPrefix + "applied/" + id)
}

// isApplied reports whether a manifest carries an applied marker.
func isApplied(ctx context.Context, store kv.Store, id string) (bool, error) {
	_, _, err := store.Get(ctx, appliedKey(id))

	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("could not read applied marker for %s: %w", id, err)
	}

	return true, nil
}

// markApplied records that a manifest's writes reached their base
// keys. Re-marking is harmless.
func markApplied(ctx context.Context, store kv.Store, id string) error {
	if _, err := store.Put(ctx, appliedKey(id), []byte{}, kv.Unconditional); err != nil {
		return fmt.Errorf("could not mark manifest %s applied: %w", id, err)
	}

	return nil
}

// loadManifest reads and decodes the manifest with the given id.
func loadManifest(ctx context.Context, store kv.Store, id string) (Manifest, error) {
	raw, _, err := store.Get(ctx, manifestKey(id))

	if err != nil {
		return Manifest{}, fmt.Errorf("could not read manifest %s: %w", id, err)
	}

	return decodeManifest(raw)
}

// applyManifest applies a manifest's writes to their base keys. Writes
// are unconditional so re-applying a manifest is idempotent.
func applyManifest(ctx context.Context, store kv.Store, manifest Manifest) error {
	for _, write := range manifest.Writes {
		if write.Delete {
			if err := store.Delete(ctx, write.Key, kv.Unconditional); err != nil && !errors.Is(err, kv.ErrNotFound) {
				return fmt.Errorf("could not apply delete of %s: %w", write.Key, err)
			}

			continue
		}

		if _, err := store.Put(ctx, write.Key, write.Value, kv.Unconditional); err != nil {
			return fmt.Errorf("could not apply write of %s: %w", write.Key, err)
		}
	}

	return nil
}
