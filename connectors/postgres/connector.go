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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
	"agentbridge/core/connectors/pool"
)

// DriverType is the database-type tag for this driver.
const DriverType = "postgres"

var errNotConnected = errors.New("not connected")

// binding is the per-binding shared state: the resolved DSN, the lazily
// opened *sql.DB and the bounded session pool. Every logical session of
// one binding borrows from this single pool, so max_size bounds the
// binding's total physical connections across all sessions.
type binding struct {
	cfg    *config.ConnectionConfig
	dsn    string
	logger *log.Logger

	mu   sync.Mutex
	db   *sql.DB
	pool *pool.Pool
}

// Connector implements base.Connector for PostgreSQL. One instance is one
// logical agent session: Connect borrows a handle from the binding's
// shared pool and Disconnect returns it. Additional concurrent sessions
// over the same binding come from NewSession.
type Connector struct {
	binding *binding

	mu        sync.Mutex
	handle    *pool.Handle
	sess      *sql.Conn
	broken    bool
	connected bool
}

// New resolves the connection configuration once, at construction. The DSN
// is never re-resolved per call. Validation failures surface here as
// *base.ConfigurationError, before any network I/O.
func New(cfg *config.ConnectionConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	return &Connector{
		binding: &binding{
			cfg:    cfg,
			dsn:    dsn,
			logger: log.New(os.Stdout, "[POSTGRES] ", log.LstdFlags),
		},
	}, nil
}

// NewSession returns a new logical session over the same binding. Sessions
// share the binding's pool and *sql.DB; each owns at most one borrowed
// handle at a time.
func (c *Connector) NewSession() base.Connector {
	return &Connector{binding: c.binding}
}

// buildDSN resolves the config to a lib/pq URL. The connection string wins
// when both shapes are present.
func buildDSN(cfg *config.ConnectionConfig) (string, error) {
	if cfg.UsesConnectionString() {
		return cfg.ConnectionString, nil
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}

	q := url.Values{}
	q.Set("connect_timeout", fmt.Sprintf("%d", cfg.Timeouts.ConnectTimeoutSeconds))
	if sslmode, ok := cfg.OptionString("sslmode"); ok {
		q.Set("sslmode", sslmode)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect establishes the session. Idempotent: a second call on a healthy
// connected instance is a no-op. When pooling is enabled the borrow goes
// against the binding's shared pool; a binding at max_size with no idle
// handle fails the borrow with *base.PoolExhaustedError after the
// configured wait.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if c.binding.cfg.Pooling.Enabled {
		p, err := c.binding.sessionPool(ctx)
		if err != nil {
			return err
		}
		h, err := p.Borrow(ctx)
		if err != nil {
			return err
		}
		c.handle = h
		c.sess = h.Conn().(*sessionConn).conn
	} else {
		db, err := c.binding.database()
		if err != nil {
			return err
		}
		conn, err := c.binding.dialSession(ctx, db)
		if err != nil {
			return err
		}
		c.sess = conn.(*sessionConn).conn
	}

	c.broken = false
	c.connected = true
	c.binding.logger.Printf("Connected to PostgreSQL: %s (pooling=%v)",
		c.binding.cfg.Name, c.binding.cfg.Pooling.Enabled)
	return nil
}

// database opens the shared *sql.DB lazily and returns it. sql.Open
// performs no I/O; failures here are configuration-shaped, not
// transport-shaped.
func (b *binding) database() (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureDBLocked(); err != nil {
		return nil, err
	}
	return b.db, nil
}

func (b *binding) ensureDBLocked() error {
	if b.db != nil {
		return nil
	}
	db, err := sql.Open("postgres", b.dsn)
	if err != nil {
		return base.NewConfigurationError("connection_string", err.Error())
	}
	capacity := 1
	if b.cfg.Pooling.Enabled {
		capacity = b.cfg.Pooling.MaxSize + b.cfg.Pooling.MaxOverflow
	}
	db.SetMaxOpenConns(capacity)
	db.SetMaxIdleConns(capacity)
	b.db = db
	return nil
}

// sessionPool returns the binding's pool, building it on first use. The
// first caller prewarms min_size while later callers wait on the lock, so
// exactly one pool ever exists per binding. The dialer captures the shared
// database object so dials never re-enter the binding lock.
func (b *binding) sessionPool(ctx context.Context) (*pool.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pool != nil {
		return b.pool, nil
	}
	if err := b.ensureDBLocked(); err != nil {
		return nil, err
	}
	db := b.db
	p, err := pool.New(ctx, pool.Config{
		Driver:        DriverType,
		MinSize:       b.cfg.Pooling.MinSize,
		MaxSize:       b.cfg.Pooling.MaxSize,
		MaxOverflow:   b.cfg.Pooling.MaxOverflow,
		BorrowTimeout: b.cfg.Pooling.PoolTimeout(),
		Recycle:       b.cfg.Pooling.PoolRecycle(),
		PrePing:       b.cfg.Pooling.PrePing,
	}, func(ctx context.Context) (pool.Conn, error) {
		return b.dialSession(ctx, db)
	})
	if err != nil {
		return nil, err
	}
	b.pool = p
	return p, nil
}

// returnHandle gives a borrowed handle back to the binding's pool.
func (b *binding) returnHandle(h *pool.Handle, broken bool) {
	b.mu.Lock()
	p := b.pool
	b.mu.Unlock()
	if p != nil {
		p.Return(h, broken)
	}
}

// sessionConn adapts a *sql.Conn to the pool.Conn capability.
type sessionConn struct {
	conn *sql.Conn
}

func (s *sessionConn) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }
func (s *sessionConn) Close() error                   { return s.conn.Close() }

// dialSession opens one physical connection and applies the advisory
// statement timeout. The timeout SET is best-effort: failure to apply it
// skips the optimization and never aborts the dial.
func (b *binding) dialSession(ctx context.Context, db *sql.DB) (pool.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeouts.ConnectTimeout())
	defer cancel()

	conn, err := db.Conn(dialCtx)
	if err != nil {
		return nil, &base.ConnectionError{Driver: DriverType, Addr: b.cfg.Host, Cause: err}
	}
	if err := conn.PingContext(dialCtx); err != nil {
		_ = conn.Close()
		return nil, &base.ConnectionError{Driver: DriverType, Addr: b.cfg.Host, Cause: err}
	}

	if qt := b.cfg.Timeouts.QueryTimeout(); qt > 0 {
		stmt := fmt.Sprintf("SET statement_timeout = %d", qt.Milliseconds())
		if _, err := conn.ExecContext(dialCtx, stmt); err != nil {
			b.logger.Printf("Could not set statement_timeout (continuing): %v", err)
		}
	}

	return &sessionConn{conn: conn}, nil
}

// Disconnect returns the session handle to the pool, or closes the direct
// connection. Safe to call at any time, including before Connect.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	if c.handle != nil {
		c.binding.returnHandle(c.handle, c.broken)
		c.handle = nil
	} else if c.sess != nil {
		if err := c.sess.Close(); err != nil {
			c.binding.logger.Printf("Error closing session: %v", err)
		}
	}
	c.sess = nil
	c.connected = false
	return nil
}

// Close tears down the binding's pool and shared database object. For
// process shutdown, not per-session use.
func (c *Connector) Close() error {
	b := c.binding
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}

// Execute runs one statement on the held session. Mutations are wrapped in
// a transaction and rolled back before any error propagates, so a failed
// write is never partially visible.
func (c *Connector) Execute(ctx context.Context, q base.Query, opts base.ExecOptions) (*base.Result, error) {
	text, ok := q.(base.TextQuery)
	if !ok {
		return nil, base.NewConfigurationError("query",
			"postgres driver accepts text queries only; got a structured operation descriptor")
	}

	c.mu.Lock()
	sess := c.sess
	connected := c.connected
	c.mu.Unlock()
	if !connected || sess == nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "execute", Cause: errNotConnected}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.binding.cfg.Timeouts.QueryTimeout())
	defer cancel()

	start := time.Now()
	if opts.Fetch {
		res, err := fetchRows(execCtx, sess, text, opts.AsMap)
		if err != nil {
			c.flagIfBroken(execCtx, sess)
			return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "query", Cause: err}
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	tx, err := sess.BeginTx(execCtx, nil)
	if err != nil {
		c.flagIfBroken(execCtx, sess)
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "begin", Cause: err}
	}
	sqlRes, err := tx.ExecContext(execCtx, text.Statement, text.Params...)
	if err != nil {
		_ = tx.Rollback()
		c.flagIfBroken(execCtx, sess)
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "execute", Cause: err, RolledBack: true}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		c.flagIfBroken(execCtx, sess)
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "commit", Cause: err, RolledBack: true}
	}

	affected, err := sqlRes.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &base.Result{RowsAffected: affected, Duration: time.Since(start)}, nil
}

// flagIfBroken marks the session handle broken when the transport is gone,
// so the pool discards the physical connection instead of reissuing it.
func (c *Connector) flagIfBroken(ctx context.Context, sess *sql.Conn) {
	if err := sess.PingContext(ctx); err != nil {
		c.mu.Lock()
		c.broken = true
		c.mu.Unlock()
	}
}

// fetchRows scans a result set into the uniform Result shape, converting
// []byte columns to strings for text types.
func fetchRows(ctx context.Context, sess *sql.Conn, q base.TextQuery, asMap bool) (*base.Result, error) {
	rows, err := sess.QueryContext(ctx, q.Statement, q.Params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &base.Result{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		if asMap {
			row := make(map[string]interface{}, len(columns))
			for i, col := range columns {
				row[col] = values[i]
			}
			res.Maps = append(res.Maps, row)
		} else {
			res.Rows = append(res.Rows, values)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// IsConnected reports the session state without side effects.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Info returns driver metadata. It never fails: on any internal problem the
// map still carries the type tag.
func (c *Connector) Info(ctx context.Context) map[string]interface{} {
	info := map[string]interface{}{
		"type": DriverType,
		"name": c.binding.cfg.Name,
	}
	c.mu.Lock()
	info["connected"] = c.connected
	sess := c.sess
	c.mu.Unlock()

	c.binding.mu.Lock()
	p := c.binding.pool
	c.binding.mu.Unlock()

	if p != nil {
		stats := p.Stats()
		info["pool"] = map[string]interface{}{
			"open":     stats.Open,
			"idle":     stats.Idle,
			"borrowed": stats.Borrowed,
		}
	}
	if sess != nil {
		var version string
		if err := sess.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
			info["server_version"] = version
		}
	}
	return info
}

// Type returns the database-type tag.
func (c *Connector) Type() string { return DriverType }

// Capabilities lists what this driver supports.
func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "transactions", "prepared_statements", "connection_pooling"}
}
