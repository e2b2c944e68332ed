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
	"context"
	"time"
)

// Connector is the contract every database driver must satisfy. One
// connector instance represents one logical agent session: it holds at most
// one live connection handle at a time, and concurrent Execute calls on the
// same instance are not supported. Callers needing concurrency hold separate
// instances (separate pool borrows).
type Connector interface {
	// Connect establishes the session connection. It is idempotent: calling
	// it on an already-connected, healthy instance is a no-op. Required
	// configuration is validated before any I/O is attempted, and a
	// configuration failure is reported as *ConfigurationError rather than
	// *ConnectionError.
	Connect(ctx context.Context) error

	// Disconnect releases the session connection (returning a pooled handle
	// to its pool, or closing a direct connection). It is always safe to
	// call, including on a connector that never connected.
	Disconnect(ctx context.Context) error

	// Execute runs a single query. With opts.Fetch set, the result carries
	// rows; without it, the call is a mutation and is committed (or the
	// engine's closest equivalent) before returning. A failed mutation is
	// rolled back before the error propagates.
	Execute(ctx context.Context, q Query, opts ExecOptions) (*Result, error)

	// IsConnected reports the session state without side effects.
	IsConnected() bool

	// Info returns best-effort driver metadata. It never fails: on internal
	// error it returns a minimal map that still carries the "type" key.
	Info(ctx context.Context) map[string]interface{}

	// Type is the driver's database-type tag (postgres, mysql, mongodb, ...).
	Type() string

	// Capabilities lists what the driver supports (transactions, pooling, ...).
	Capabilities() []string
}

// SessionOpener is the optional capability of drivers whose sessions share
// per-binding state (a bounded connection pool). NewSession returns a fresh
// logical session over the same binding; the new session starts
// disconnected and borrows its own handle on Connect. Drivers whose client
// objects are already safe for concurrent use (document and key-value
// stores) do not implement it.
type SessionOpener interface {
	NewSession() Connector
}

// Query is the sum type accepted by Execute. Relational and wide-column
// drivers take TextQuery; the document-store family takes StructuredQuery.
// This is the one family-specific deviation from "a query is opaque text",
// and it is enforced at the driver boundary: handing the wrong shape to a
// driver fails with *ConfigurationError, never with silent coercion.
type Query interface {
	queryKind() string
}

// TextQuery is an opaque SQL/CQL statement with positional parameters.
type TextQuery struct {
	Statement string
	Params    []interface{}
}

func (TextQuery) queryKind() string { return "text" }

// StructuredQuery is an operation descriptor for document stores: a
// collection, an operation kind, and the operation's clauses. It replaces
// text parsing for engines that have no textual query language at this
// boundary.
type StructuredQuery struct {
	Collection string                   `json:"collection"`
	Operation  string                   `json:"operation"` // find, findone, count, insert, insertmany, update, updatemany, delete, deletemany
	Filter     map[string]interface{}   `json:"filter,omitempty"`
	Projection map[string]interface{}   `json:"projection,omitempty"`
	Sort       map[string]interface{}   `json:"sort,omitempty"`
	Limit      int64                    `json:"limit,omitempty"`
	Update     map[string]interface{}   `json:"update,omitempty"`
	Documents  []map[string]interface{} `json:"documents,omitempty"`
}

func (StructuredQuery) queryKind() string { return "structured" }

// ExecOptions control the shape of an Execute call.
type ExecOptions struct {
	// Fetch marks the call as a read: the result carries rows. When unset
	// the call is a mutation and commits before returning.
	Fetch bool
	// AsMap returns rows as column-name-keyed maps instead of ordered tuples.
	AsMap bool
}

// Result is the uniform outcome of Execute across all driver families.
type Result struct {
	// Columns holds result column names in select order (Fetch only).
	Columns []string `json:"columns,omitempty"`
	// Rows holds ordered tuples, populated when Fetch is set and AsMap is not.
	Rows [][]interface{} `json:"rows,omitempty"`
	// Maps holds name-keyed rows, populated when Fetch and AsMap are set.
	Maps []map[string]interface{} `json:"maps,omitempty"`
	// RowsAffected is the mutation count (mutations only; engines that do
	// not report it leave zero).
	RowsAffected int64 `json:"rows_affected"`
	// Duration is the engine round-trip time.
	Duration time.Duration `json:"duration"`
}

// RowCount returns the number of fetched rows regardless of row shape.
func (r *Result) RowCount() int {
	if len(r.Maps) > 0 {
		return len(r.Maps)
	}
	return len(r.Rows)
}
