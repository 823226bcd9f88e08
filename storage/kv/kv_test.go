package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/keys"
	"github.com/jrife/gridstore/storage/kv/plugins"
)

func tempStore(t *testing.T, plugin kv.Plugin) kv.Store {
	t.Helper()

	store, err := plugin.NewTempStore()

	if err != nil {
		t.Fatalf("could not build a %s store: %s", plugin.Name(), err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func forEachDriver(t *testing.T, test func(t *testing.T, store kv.Store)) {
	for _, plugin := range plugins.Plugins() {
		plugin := plugin

		t.Run(plugin.Name(), func(t *testing.T) {
			test(t, tempStore(t, plugin))
		})
	}
}

func TestGetPutDelete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store kv.Store) {
		ctx := context.Background()

		if _, _, err := store.Get(ctx, []byte("a")); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for missing key, got %v", err)
		}

		generation, err := store.Put(ctx, []byte("a"), []byte("one"), kv.NoValue)

		if err != nil {
			t.Fatalf("could not put key: %s", err)
		}

		if generation == kv.NoValue {
			t.Fatalf("put must return a non-empty generation")
		}

		value, got, err := store.Get(ctx, []byte("a"))

		if err != nil {
			t.Fatalf("could not get key: %s", err)
		}

		if got != generation {
			t.Fatalf("get returned generation %q, put returned %q", got, generation)
		}

		if diff := cmp.Diff([]byte("one"), value); diff != "" {
			t.Fatalf("unexpected value (-want +got):\n%s", diff)
		}

		if err := store.Delete(ctx, []byte("a"), generation); err != nil {
			t.Fatalf("could not delete key: %s", err)
		}

		if _, _, err := store.Get(ctx, []byte("a")); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestConditionalPut(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store kv.Store) {
		ctx := context.Background()

		first, err := store.Put(ctx, []byte("a"), []byte("one"), kv.NoValue)

		if err != nil {
			t.Fatalf("could not put key: %s", err)
		}

		// Create-only put on an existing key must conflict.
		if _, err := store.Put(ctx, []byte("a"), []byte("two"), kv.NoValue); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		second, err := store.Put(ctx, []byte("a"), []byte("two"), first)

		if err != nil {
			t.Fatalf("could not update key with matching generation: %s", err)
		}

		if second == first {
			t.Fatalf("generation must change on every successful mutation")
		}

		// A stale generation must conflict and leave the value alone.
		if _, err := store.Put(ctx, []byte("a"), []byte("three"), first); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict for stale generation, got %v", err)
		}

		value, _, err := store.Get(ctx, []byte("a"))

		if err != nil {
			t.Fatalf("could not get key: %s", err)
		}

		if diff := cmp.Diff([]byte("two"), value); diff != "" {
			t.Fatalf("failed conditional put must not change the value (-want +got):\n%s", diff)
		}

		if _, err := store.Put(ctx, []byte("a"), []byte("four"), kv.Unconditional); err != nil {
			t.Fatalf("unconditional put must succeed: %s", err)
		}
	})
}

func TestConditionalDelete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store kv.Store) {
		ctx := context.Background()

		generation, err := store.Put(ctx, []byte("a"), []byte("one"), kv.NoValue)

		if err != nil {
			t.Fatalf("could not put key: %s", err)
		}

		if err := store.Delete(ctx, []byte("a"), kv.Generation("bogus")); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict for stale delete, got %v", err)
		}

		if err := store.Delete(ctx, []byte("a"), generation); err != nil {
			t.Fatalf("could not delete with matching generation: %s", err)
		}

		if err := store.Delete(ctx, []byte("a"), kv.Unconditional); err != nil {
			t.Fatalf("unconditional delete of a missing key must be a no-op: %s", err)
		}
	})
}

func TestList(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store kv.Store) {
		ctx := context.Background()

		for _, key := range []string{"c/0.0", "c/0.1", "c/1.0", "meta", "other"} {
			if _, err := store.Put(ctx, []byte(key), []byte("x"), kv.NoValue); err != nil {
				t.Fatalf("could not put key %q: %s", key, err)
			}
		}

		iter, err := store.List(ctx, keys.Prefix([]byte("c/")))

		if err != nil {
			t.Fatalf("could not list keys: %s", err)
		}

		var listed []string

		for iter.Next() {
			listed = append(listed, string(iter.Key()))
		}

		if iter.Error() != nil {
			t.Fatalf("iteration error: %s", iter.Error())
		}

		if diff := cmp.Diff([]string{"c/0.0", "c/0.1", "c/1.0"}, listed); diff != "" {
			t.Fatalf("unexpected listing (-want +got):\n%s", diff)
		}
	})
}

func TestGenerationChangesAcrossRecreate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store kv.Store) {
		ctx := context.Background()

		seen := map[kv.Generation]bool{}

		for i := 0; i < 3; i++ {
			generation, err := store.Put(ctx, []byte("a"), []byte{byte(i)}, kv.NoValue)

			if err != nil {
				t.Fatalf("could not put key: %s", err)
			}

			if seen[generation] {
				t.Fatalf("generation %q repeated across recreate", generation)
			}

			seen[generation] = true

			if err := store.Delete(ctx, []byte("a"), generation); err != nil {
				t.Fatalf("could not delete key: %s", err)
			}
		}
	})
}
