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

package factory

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/cassandra"
	"agentbridge/core/connectors/config"
	"agentbridge/core/connectors/mongodb"
	"agentbridge/core/connectors/mysql"
	"agentbridge/core/connectors/plugin"
	"agentbridge/core/connectors/postgres"
)

// DefaultType is the engine family assumed when nothing else identifies a
// configuration.
const DefaultType = postgres.DriverType

// Creator builds a connector for one built-in engine family.
type Creator func(cfg *config.ConnectionConfig) (base.Connector, error)

// builtins is the compile-time driver table. Plugin drivers extend it at
// runtime through the registry; built-ins always win a name collision.
var builtins = map[string]Creator{
	postgres.DriverType: func(cfg *config.ConnectionConfig) (base.Connector, error) { return postgres.New(cfg) },
	mysql.DriverType:    func(cfg *config.ConnectionConfig) (base.Connector, error) { return mysql.New(cfg) },
	mongodb.DriverType:  func(cfg *config.ConnectionConfig) (base.Connector, error) { return mongodb.New(cfg) },
	cassandra.DriverType: func(cfg *config.ConnectionConfig) (base.Connector, error) {
		return cassandra.New(cfg)
	},
}

// schemes maps connection-string URL schemes to built-in types, for
// detection sniffing. Longest prefixes are tried first.
var schemes = []struct {
	prefix string
	dbType string
}{
	{"postgresql://", postgres.DriverType},
	{"postgres://", postgres.DriverType},
	{"mysql://", mysql.DriverType},
	{"mongodb+srv://", mongodb.DriverType},
	{"mongodb://", mongodb.DriverType},
	{"cassandra://", cassandra.DriverType},
}

// Factory resolves a requested or detected database type to a concrete
// connector, consulting built-ins first and then the plugin registry.
type Factory struct {
	plugins *plugin.Registry
	logger  *log.Logger
}

// New creates a factory over the given plugin registry (nil for a
// built-ins-only factory).
func New(plugins *plugin.Registry) *Factory {
	return &Factory{
		plugins: plugins,
		logger:  log.New(os.Stdout, "[FACTORY] ", log.LstdFlags),
	}
}

// Create builds a connector for an explicit database type. An unknown type
// fails with a message listing every currently supported type (built-ins
// and registered plugins, sorted and deduplicated) so operators can see what
// this process actually loaded.
func (f *Factory) Create(databaseType string, cfg *config.ConnectionConfig) (base.Connector, error) {
	key := strings.ToLower(databaseType)

	if creator, ok := builtins[key]; ok {
		return creator(cfg)
	}

	if f.plugins != nil {
		if d, ok := f.plugins.Get(key); ok {
			if err := d.ValidateConfig(cfg); err != nil {
				return nil, base.NewConfigurationError("options",
					fmt.Sprintf("plugin %q rejected configuration: %v", d.PluginName(), err))
			}
			return d.CreateConnector(cfg)
		}
	}

	return nil, fmt.Errorf("unsupported database type %q (supported: %s)",
		databaseType, strings.Join(f.SupportedTypes(), ", "))
}

// CreateFromConfig detects the type from the configuration and builds the
// connector.
func (f *Factory) CreateFromConfig(cfg *config.ConnectionConfig) (base.Connector, error) {
	return f.Create(f.DetectType(cfg), cfg)
}

// DetectType resolves a configuration to a database type. Precedence: the
// explicit type tag, then plugin sniffing in registration order, then
// built-in URL-scheme matching, then the documented default family.
func (f *Factory) DetectType(cfg *config.ConnectionConfig) string {
	if cfg.Type != "" {
		return strings.ToLower(cfg.Type)
	}

	if f.plugins != nil {
		for _, d := range f.plugins.InRegistrationOrder() {
			if t, ok := d.DetectDatabaseType(cfg); ok {
				return strings.ToLower(t)
			}
		}
	}

	if cfg.ConnectionString != "" {
		lower := strings.ToLower(cfg.ConnectionString)
		for _, s := range schemes {
			if strings.HasPrefix(lower, s.prefix) {
				return s.dbType
			}
		}
	}

	return DefaultType
}

// SupportedTypes returns built-in and plugin types, sorted and
// deduplicated.
func (f *Factory) SupportedTypes() []string {
	seen := make(map[string]bool, len(builtins))
	types := make([]string, 0, len(builtins))
	for t := range builtins {
		seen[t] = true
		types = append(types, t)
	}
	if f.plugins != nil {
		for _, t := range f.plugins.Types() {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	sort.Strings(types)
	return types
}

// IsBuiltin reports whether a type belongs to the compile-time table.
func IsBuiltin(databaseType string) bool {
	_, ok := builtins[strings.ToLower(databaseType)]
	return ok
}
