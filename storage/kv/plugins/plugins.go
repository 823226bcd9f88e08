// Package plugins aggregates the built-in kv store drivers and lets
// consumers resolve one by name at open time.
package plugins

import (
	"fmt"
	"sync"

	"github.com/jrife/gridstore/storage/kv"
	"github.com/jrife/gridstore/storage/kv/plugins/bbolt"
	"github.com/jrife/gridstore/storage/kv/plugins/file"
	"github.com/jrife/gridstore/storage/kv/plugins/memory"
)

var (
	mu       sync.RWMutex
	registry = map[string]kv.Plugin{}
)

func init() {
	for _, plugin := range []kv.Plugin{
		memory.Plugin(),
		bbolt.Plugin(),
		file.Plugin(),
	} {
		Register(plugin)
	}
}

// Register adds a plugin to the registry, replacing any plugin with
// the same name.
func Register(plugin kv.Plugin) {
	mu.Lock()
	defer mu.Unlock()

	registry[plugin.Name()] = plugin
}

// Plugin resolves a driver name to its plugin.
func Plugin(name string) (kv.Plugin, error) {
	mu.RLock()
	defer mu.RUnlock()

	plugin, ok := registry[name]

	if !ok {
		return nil, fmt.Errorf("no kv driver registered with name %q", name)
	}

	return plugin, nil
}

// Plugins returns all registered plugins.
func Plugins() []kv.Plugin {
	mu.RLock()
	defer mu.RUnlock()

	all := make([]kv.Plugin, 0, len(registry))

	for _, plugin := range registry {
		all = append(all, plugin)
	}

	return all
}
