package array

import (
	"fmt"
	"strings"

	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/plugins"
)

// KVSpec selects and configures the kv store backing an array.
type KVSpec struct {
	// Driver is a registered kv plugin name: "memory", "bbolt", or
	// "file" for the built-ins.
	Driver string `json:"driver"`
	// Options holds driver-specific options passed through to the
	// plugin.
	Options kv.PluginOptions `json:"options,omitempty"`
}

func (spec KVSpec) openStore() (kv.Store, error) {
	if spec.Driver == "" {
		return nil, fmt.Errorf("%w: kvstore driver is required", ErrInvalidSpec)
	}

	plugin, err := plugins.Plugin(spec.Driver)

	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSpec, err)
	}

	store, err := plugin.NewStore(spec.Options)

	if err != nil {
		return nil, fmt.Errorf("could not open kv store: %w", err)
	}

	return store, nil
}

// Spec is the JSON-serializable description of an array: which store
// holds it, where inside the store it lives, and optionally its schema.
// A schema is required when creating an array and, when supplied on an
// existing array, must match the stored schema.
type Spec struct {
	// Driver names this driver. Empty or "array" are accepted.
	Driver string `json:"driver,omitempty"`
	// KVStore describes the backing store.
	KVStore KVSpec `json:"kvstore"`
	// Path prefixes every key the array stores. Distinct arrays may
	// share a store under distinct paths.
	Path string `json:"path,omitempty"`
	// Schema describes the array being created or expected.
	Schema *Schema `json:"schema,omitempty"`
}

func (spec Spec) validate() error {
	if spec.Driver != "" && spec.Driver != "array" {
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidSpec, spec.Driver)
	}

	if spec.Schema != nil {
		return spec.Schema.Validate()
	}

	return nil
}

// Merge overlays non-zero fields of other onto a copy of this spec,
// supporting the build-once, override-fields, reopen workflow. KV
// options merge per key.
func (spec Spec) Merge(other Spec) Spec {
	merged := spec

	if other.Driver != "" {
		merged.Driver = other.Driver
	}

	if other.Path != "" {
		merged.Path = other.Path
	}

	if other.Schema != nil {
		merged.Schema = other.Schema
	}

	if other.KVStore.Driver != "" {
		merged.KVStore.Driver = other.KVStore.Driver
	}

	if len(other.KVStore.Options) > 0 {
		options := kv.PluginOptions{}

		for name, value := range spec.KVStore.Options {
			options[name] = value
		}

		for name, value := range other.KVStore.Options {
			options[name] = value
		}

		merged.KVStore.Options = options
	}

	return merged
}

// prefix normalizes Path into a key prefix ending in "/".
func (spec Spec) prefix() string {
	if spec.Path == "" {
		return ""
	}

	return strings.TrimSuffix(spec.Path, "/") + "/"
}
