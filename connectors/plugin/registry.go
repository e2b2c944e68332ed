// Copyright 2025 AgentBridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin

import (
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

// Driver is the capability a third-party database plugin exports. A plugin
// artifact contains exactly one exported value implementing Driver.
type Driver interface {
	// PluginName identifies the plugin itself (not the database type).
	PluginName() string
	// PluginVersion is the plugin's own version string.
	PluginVersion() string
	// DatabaseType is the unique type tag this plugin serves
	// (case-insensitive within a registry).
	DatabaseType() string
	// DisplayName is the human-readable engine name.
	DisplayName() string
	// RequiredConfigKeys lists option keys the plugin cannot work without.
	RequiredConfigKeys() []string
	// OptionalConfigKeys lists option keys the plugin understands.
	OptionalConfigKeys() []string
	// CreateConnector builds a connector for a validated configuration.
	CreateConnector(cfg *config.ConnectionConfig) (base.Connector, error)
	// DetectDatabaseType sniffs whether a configuration (typically its
	// connection string) belongs to this plugin's engine.
	DetectDatabaseType(cfg *config.ConnectionConfig) (string, bool)
	// ValidateConfig checks plugin-specific requirements; its error message
	// is surfaced verbatim by the factory.
	ValidateConfig(cfg *config.ConnectionConfig) error
}

// Registry is the runtime catalog of plugin drivers. It is an explicit
// object constructed at process start and handed to the factory by
// reference; there is no package-level singleton. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver // keyed by lowercased database type
	order   []string          // registration order, for detection sniffing
	logger  *log.Logger
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
		logger:  log.New(os.Stdout, "[PLUGIN_REGISTRY] ", log.LstdFlags),
	}
}

// Register adds a driver. Returns false without overwriting when the
// database type (case-insensitive) is already present: first registration
// wins, duplicates are reported, never merged.
func (r *Registry) Register(d Driver) bool {
	if d == nil || d.DatabaseType() == "" {
		return false
	}
	key := strings.ToLower(d.DatabaseType())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[key]; exists {
		r.logger.Printf("Duplicate registration rejected for type %q (plugin %s %s)",
			d.DatabaseType(), d.PluginName(), d.PluginVersion())
		return false
	}
	r.drivers[key] = d
	r.order = append(r.order, key)
	r.logger.Printf("Registered plugin driver %q (%s %s)",
		d.DatabaseType(), d.PluginName(), d.PluginVersion())
	return true
}

// Unregister removes a driver by type. Returns false when absent.
func (r *Registry) Unregister(databaseType string) bool {
	key := strings.ToLower(databaseType)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[key]; !exists {
		return false
	}
	delete(r.drivers, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks a driver up by type, case-insensitively.
func (r *Registry) Get(databaseType string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[strings.ToLower(databaseType)]
	return d, ok
}

// Types returns all registered types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.drivers))
	for t := range r.drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// InRegistrationOrder returns drivers in the order they were registered.
// Detection sniffing walks this order so earlier plugins win ties.
func (r *Registry) InRegistrationOrder() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.order))
	for _, key := range r.order {
		if d, ok := r.drivers[key]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of registered drivers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}
