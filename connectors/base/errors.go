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

package base

import (
	"fmt"
	"time"
)

// The error taxonomy below keeps operator remediation paths distinct: a bad
// config, an unreachable server, and an exhausted pool are three different
// problems and must never collapse into one error kind. Configuration errors
// are always detected synchronously, before any network I/O.

// ConfigurationError reports missing or invalid connection parameters or
// pool bounds. Field names the offending field(s).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError for one field.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// ConnectionError reports a transport or authentication failure while
// establishing a connection.
type ConnectionError struct {
	Driver string
	Addr   string
	Cause  error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s: connection failed", e.Driver)
	if e.Addr != "" {
		msg += " to " + e.Addr
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// PoolExhaustedError reports that a pool borrow timed out waiting for a free
// handle. It is distinct from ConnectionError: the server may be perfectly
// healthy while every handle is busy.
type PoolExhaustedError struct {
	Driver  string
	Waited  time.Duration
	MaxSize int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("%s: connection pool exhausted after waiting %v (max %d handles)",
		e.Driver, e.Waited, e.MaxSize)
}

// QueryExecutionError reports that the engine rejected or failed a
// statement. For mutating statements the transaction has already been rolled
// back when this error is observed; callers never clean up transaction state
// themselves.
type QueryExecutionError struct {
	Driver     string
	Operation  string
	Cause      error
	RolledBack bool
}

func (e *QueryExecutionError) Error() string {
	msg := fmt.Sprintf("%s.%s: query execution failed", e.Driver, e.Operation)
	if e.RolledBack {
		msg += " (rolled back)"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *QueryExecutionError) Unwrap() error { return e.Cause }

// PluginLoadError reports a driver plugin artifact that could not be loaded.
// Plugin load failures are non-fatal by design: the registry logs and skips
// them so a partially broken plugin directory still yields every loadable
// driver.
type PluginLoadError struct {
	Path  string
	Cause error
}

func (e *PluginLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin load failed: %s: %v", e.Path, e.Cause)
	}
	return "plugin load failed: " + e.Path
}

func (e *PluginLoadError) Unwrap() error { return e.Cause }
