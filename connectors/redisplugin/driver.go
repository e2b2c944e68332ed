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

// Package redisplugin is the reference plugin driver: a Redis key-value
// connector exposed through the plugin capability instead of the built-in
// table. Registered in-process via plugin.Registry.Register, or compiled
// into a shared object whose main package re-exports Driver under the
// "Driver" symbol for plugin.LoadFromFile.
package redisplugin

import (
	"fmt"
	"strings"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

// Driver implements the plugin capability for Redis.
type Driver struct{}

// New returns the Redis plugin driver.
func New() *Driver { return &Driver{} }

func (Driver) PluginName() string    { return "agentbridge-redis" }
func (Driver) PluginVersion() string { return "1.0.0" }
func (Driver) DatabaseType() string  { return DriverType }
func (Driver) DisplayName() string   { return "Redis" }

func (Driver) RequiredConfigKeys() []string { return []string{"host"} }
func (Driver) OptionalConfigKeys() []string {
	return []string{"port", "db", "username", "password"}
}

// CreateConnector builds a disconnected Redis connector.
func (Driver) CreateConnector(cfg *config.ConnectionConfig) (base.Connector, error) {
	return NewConnector(cfg)
}

// DetectDatabaseType recognizes redis:// and rediss:// connection strings.
func (Driver) DetectDatabaseType(cfg *config.ConnectionConfig) (string, bool) {
	cs := strings.ToLower(cfg.ConnectionString)
	if strings.HasPrefix(cs, "redis://") || strings.HasPrefix(cs, "rediss://") {
		return DriverType, true
	}
	return "", false
}

// ValidateConfig checks the keys a Redis connection cannot work without.
func (d Driver) ValidateConfig(cfg *config.ConnectionConfig) error {
	if cfg.UsesConnectionString() {
		if _, ok := d.DetectDatabaseType(cfg); !ok {
			return fmt.Errorf("connection string is not a redis:// URL")
		}
		return nil
	}
	if cfg.Host == "" {
		return fmt.Errorf("redis connections require a host")
	}
	return nil
}
