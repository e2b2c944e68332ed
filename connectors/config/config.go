// Copyright 2025 AgentBridge
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"agentbridge/core/connectors/base"
)

// Defaults applied when the pooling/timeouts blocks are absent.
const (
	DefaultConnectTimeoutSeconds = 10
	DefaultQueryTimeoutSeconds   = 30
	DefaultPoolTimeoutSeconds    = 30
	DefaultPort                  = 0 // driver-specific default applies
)

// ConnectionConfig describes one database binding. Establishment is driven
// by exactly one shape: an opaque connection string, or discrete
// host/credentials/database fields. When both are supplied the connection
// string wins and the discrete fields are ignored; the two are never merged.
type ConnectionConfig struct {
	// Name identifies this binding in logs and errors.
	Name string `yaml:"name" json:"name"`
	// Type is the declared database-type tag (postgres, mysql, mongodb,
	// cassandra, or a plugin-registered type). Empty means "detect".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// ConnectionString is the opaque DSN/URI shape.
	ConnectionString string `yaml:"connection_string,omitempty" json:"connection_string,omitempty"`

	// Discrete-parameter shape.
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	// CredentialsSecretARN, when set, names an AWS Secrets Manager secret
	// holding username/password; resolved values overwrite the inline
	// credential fields before connection establishment.
	CredentialsSecretARN string `yaml:"credentials_secret_arn,omitempty" json:"credentials_secret_arn,omitempty"`

	Pooling  PoolingConfig `yaml:"pooling" json:"pooling"`
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Options carries driver-specific extras (keyspace, replica_set,
	// tls, ...) that the core does not interpret.
	Options map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`

	// TenantID scopes the binding for multi-tenant isolation ("*" = shared).
	TenantID string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
}

// PoolingConfig sizes the connection pool. Disabled by default.
type PoolingConfig struct {
	Enabled            bool `yaml:"enabled" json:"enabled"`
	MinSize            int  `yaml:"min_size" json:"min_size"`
	MaxSize            int  `yaml:"max_size" json:"max_size"`
	MaxOverflow        int  `yaml:"max_overflow" json:"max_overflow"`
	PoolTimeoutSeconds int  `yaml:"pool_timeout_seconds" json:"pool_timeout_seconds"`
	PoolRecycleSeconds int  `yaml:"pool_recycle_seconds" json:"pool_recycle_seconds"`
	PrePing            bool `yaml:"pre_ping" json:"pre_ping"`
}

// TimeoutConfig bounds per-operation waits.
type TimeoutConfig struct {
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" json:"connect_timeout_seconds"`
	QueryTimeoutSeconds   int `yaml:"query_timeout_seconds" json:"query_timeout_seconds"`
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds,omitempty" json:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds   int `yaml:"write_timeout_seconds,omitempty" json:"write_timeout_seconds,omitempty"`
}

// ConnectTimeout returns the connect bound as a duration.
func (t TimeoutConfig) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutSeconds) * time.Second
}

// QueryTimeout returns the per-query bound as a duration.
func (t TimeoutConfig) QueryTimeout() time.Duration {
	return time.Duration(t.QueryTimeoutSeconds) * time.Second
}

// PoolTimeout returns the borrow wait bound as a duration. A zero value
// means "unset" and gets the default, so a struct-literal config that never
// went through defaulting cannot produce a zero-duration borrow wait.
func (p PoolingConfig) PoolTimeout() time.Duration {
	if p.PoolTimeoutSeconds <= 0 {
		return DefaultPoolTimeoutSeconds * time.Second
	}
	return time.Duration(p.PoolTimeoutSeconds) * time.Second
}

// PoolRecycle returns the handle max age as a duration (zero = no recycling).
func (p PoolingConfig) PoolRecycle() time.Duration {
	return time.Duration(p.PoolRecycleSeconds) * time.Second
}

// New returns a ConnectionConfig carrying the documented defaults.
func New(name string) *ConnectionConfig {
	cfg := &ConnectionConfig{Name: name, TenantID: "*"}
	cfg.applyDefaults()
	return cfg
}

func (c *ConnectionConfig) applyDefaults() {
	if c.Timeouts.ConnectTimeoutSeconds == 0 {
		c.Timeouts.ConnectTimeoutSeconds = DefaultConnectTimeoutSeconds
	}
	if c.Timeouts.QueryTimeoutSeconds == 0 {
		c.Timeouts.QueryTimeoutSeconds = DefaultQueryTimeoutSeconds
	}
	if c.TenantID == "" {
		c.TenantID = "*"
	}
	if c.Pooling.Enabled {
		if c.Pooling.MinSize == 0 {
			c.Pooling.MinSize = 1
		}
		if c.Pooling.MaxSize == 0 {
			c.Pooling.MaxSize = c.Pooling.MinSize
		}
		if c.Pooling.PoolTimeoutSeconds == 0 {
			c.Pooling.PoolTimeoutSeconds = DefaultPoolTimeoutSeconds
		}
	}
}

// ParseYAML decodes a ConnectionConfig document, applies defaults, and
// validates it. Validation failures are *base.ConfigurationError and occur
// before any network I/O.
func ParseYAML(data []byte) (*ConnectionConfig, error) {
	var cfg ConnectionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, base.NewConfigurationError("", fmt.Sprintf("malformed config document: %v", err))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the fail-fast pass over the whole configuration. Every
// violated bound is reported with the offending field name so an operator
// can fix the document without reading driver code.
func (c *ConnectionConfig) Validate() error {
	if c.ConnectionString == "" {
		// Discrete shape must be complete.
		if c.Host == "" {
			return base.NewConfigurationError("host",
				"either connection_string or host must be provided")
		}
		if c.Database == "" {
			return base.NewConfigurationError("database",
				"database name is required when connecting with discrete parameters")
		}
		if c.Username == "" {
			return base.NewConfigurationError("username",
				"credentials are required when connecting with discrete parameters")
		}
		if c.Port < 0 || c.Port > 65535 {
			return base.NewConfigurationError("port",
				fmt.Sprintf("port %d is out of range", c.Port))
		}
	}
	if err := c.Pooling.Validate(); err != nil {
		return err
	}
	return c.Timeouts.Validate()
}

// Validate checks pool bounds. Runs before pool construction: a violated
// bound never reaches a live connection attempt.
func (p PoolingConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MinSize < 1 {
		return base.NewConfigurationError("pooling.min_size",
			fmt.Sprintf("min_size must be at least 1, got %d", p.MinSize))
	}
	if p.MaxSize < p.MinSize {
		return base.NewConfigurationError("pooling.max_size",
			fmt.Sprintf("max_size (%d) must be >= min_size (%d)", p.MaxSize, p.MinSize))
	}
	if p.MaxOverflow < 0 {
		return base.NewConfigurationError("pooling.max_overflow",
			fmt.Sprintf("max_overflow must not be negative, got %d", p.MaxOverflow))
	}
	if p.PoolTimeoutSeconds < 0 {
		return base.NewConfigurationError("pooling.pool_timeout_seconds",
			fmt.Sprintf("pool_timeout_seconds must not be negative, got %d", p.PoolTimeoutSeconds))
	}
	if p.PoolRecycleSeconds < 0 {
		return base.NewConfigurationError("pooling.pool_recycle_seconds",
			fmt.Sprintf("pool_recycle_seconds must not be negative, got %d", p.PoolRecycleSeconds))
	}
	return nil
}

// Validate checks timeout bounds.
func (t TimeoutConfig) Validate() error {
	if t.ConnectTimeoutSeconds < 1 {
		return base.NewConfigurationError("timeouts.connect_timeout_seconds",
			fmt.Sprintf("connect_timeout_seconds must be at least 1, got %d", t.ConnectTimeoutSeconds))
	}
	if t.QueryTimeoutSeconds < 1 {
		return base.NewConfigurationError("timeouts.query_timeout_seconds",
			fmt.Sprintf("query_timeout_seconds must be at least 1, got %d", t.QueryTimeoutSeconds))
	}
	if t.ReadTimeoutSeconds < 0 {
		return base.NewConfigurationError("timeouts.read_timeout_seconds",
			fmt.Sprintf("read_timeout_seconds must not be negative, got %d", t.ReadTimeoutSeconds))
	}
	if t.WriteTimeoutSeconds < 0 {
		return base.NewConfigurationError("timeouts.write_timeout_seconds",
			fmt.Sprintf("write_timeout_seconds must not be negative, got %d", t.WriteTimeoutSeconds))
	}
	return nil
}

// UsesConnectionString reports which shape drives establishment.
func (c *ConnectionConfig) UsesConnectionString() bool {
	return c.ConnectionString != ""
}

// OptionString fetches a string extra by key.
func (c *ConnectionConfig) OptionString(key string) (string, bool) {
	if c.Options == nil {
		return "", false
	}
	v, ok := c.Options[key].(string)
	return v, ok
}

// OptionBool fetches a boolean extra by key.
func (c *ConnectionConfig) OptionBool(key string) bool {
	if c.Options == nil {
		return false
	}
	v, _ := c.Options[key].(bool)
	return v
}
