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
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

func testConfig() *config.ConnectionConfig {
	cfg := config.New("orders-db")
	cfg.Type = DriverType
	cfg.Host = "db.internal"
	cfg.Port = 5432
	cfg.Username = "app"
	cfg.Password = "secret"
	cfg.Database = "orders"
	return cfg
}

// mockConnector wires a sqlmock database into a connector with pooling
// disabled, past the lazy sql.Open.
func mockConnector(t *testing.T) (*Connector, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.binding.db = db
	return c, mock
}

func connect(t *testing.T, c *Connector, mock sqlmock.Sqlmock) {
	t.Helper()
	mock.ExpectPing()
	mock.ExpectExec("SET statement_timeout = 30000").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	t.Run("connection string wins over discrete parameters", func(t *testing.T) {
		cfg := testConfig()
		cfg.ConnectionString = "postgres://other:pw@elsewhere:5433/different"

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		if dsn != cfg.ConnectionString {
			t.Errorf("Expected the connection string verbatim, got %q", dsn)
		}
	})

	t.Run("discrete parameters build a URL", func(t *testing.T) {
		cfg := testConfig()
		cfg.Options = map[string]interface{}{"sslmode": "require"}

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		for _, want := range []string{"postgres://", "app:secret@", "db.internal:5432", "/orders", "sslmode=require", "connect_timeout=10"} {
			if !strings.Contains(dsn, want) {
				t.Errorf("DSN missing %q: %s", want, dsn)
			}
		}
	})

	t.Run("default port applied", func(t *testing.T) {
		cfg := testConfig()
		cfg.Port = 0

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		if !strings.Contains(dsn, "db.internal:5432") {
			t.Errorf("Expected default port 5432 in DSN: %s", dsn)
		}
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Host = ""

	_, err := New(cfg)
	var cfgErr *base.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *base.ConfigurationError, got %T (%v)", err, err)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Second Connect failed: %v", err)
	}
	if !c.IsConnected() {
		t.Error("Connector should report connected")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestExecuteRequiresTextQuery(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	_, err := c.Execute(context.Background(), base.StructuredQuery{Collection: "orders"}, base.ExecOptions{})
	var cfgErr *base.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected configuration error for structured query, got %v", err)
	}
}

func TestExecuteNotConnected(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = c.Execute(context.Background(), base.TextQuery{Statement: "SELECT 1"}, base.ExecOptions{Fetch: true})
	var execErr *base.QueryExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected *base.QueryExecutionError, got %T (%v)", err, err)
	}
}

func TestExecuteFetch(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	rows := sqlmock.NewRows([]string{"id", "status"}).
		AddRow(int64(1), []byte("shipped")).
		AddRow(int64(2), []byte("pending"))
	mock.ExpectQuery("SELECT id, status FROM orders").WillReturnRows(rows)

	res, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "SELECT id, status FROM orders"},
		base.ExecOptions{Fetch: true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(res.Columns) != 2 || res.Columns[0] != "id" {
		t.Errorf("Unexpected columns: %v", res.Columns)
	}
	if res.RowCount() != 2 {
		t.Errorf("Expected 2 rows, got %d", res.RowCount())
	}
	// []byte column values come back as strings.
	if res.Rows[0][1] != "shipped" {
		t.Errorf("Expected byte slice converted to string, got %T %v", res.Rows[0][1], res.Rows[0][1])
	}
}

func TestExecuteFetchAsMap(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	res, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "SELECT id FROM orders"},
		base.ExecOptions{Fetch: true, AsMap: true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Maps) != 1 || res.Maps[0]["id"] != int64(7) {
		t.Errorf("Unexpected map rows: %v", res.Maps)
	}
}

func TestExecuteMutationCommits(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("shipped", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "UPDATE orders SET status = $1 WHERE id = $2", Params: []interface{}{"shipped", int64(1)}},
		base.ExecOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Errorf("Expected 1 row affected, got %d", res.RowsAffected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestExecuteMutationRollsBackOnFailure(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()
	mock.ExpectPing() // broken-transport check after the failure

	_, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "UPDATE orders SET status = $1", Params: []interface{}{"x"}},
		base.ExecOptions{})

	var execErr *base.QueryExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected *base.QueryExecutionError, got %T (%v)", err, err)
	}
	if !execErr.RolledBack {
		t.Error("Error must report the rollback already happened")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// pooledConnector wires sqlmock into a connector whose binding pools its
// sessions. sqlmock hands every dial the same underlying connection, so
// expectations must run unordered.
func pooledConnector(t *testing.T, pooling config.PoolingConfig) (*Connector, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = db.Close() })

	cfg := testConfig()
	cfg.Pooling = pooling
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.binding.db = db
	return c, mock
}

func TestConcurrentSessionsBoundedByPool(t *testing.T) {
	c, mock := pooledConnector(t, config.PoolingConfig{
		Enabled:            true,
		MinSize:            2,
		MaxSize:            5,
		MaxOverflow:        0,
		PoolTimeoutSeconds: 1,
	})
	// Five physical dials: two prewarmed at pool construction, three more
	// for the borrows beyond min_size.
	for i := 0; i < 5; i++ {
		mock.ExpectPing()
		mock.ExpectExec("SET statement_timeout = 30000").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	sessions := []*Connector{c}
	for i := 0; i < 5; i++ {
		sessions = append(sessions, c.NewSession().(*Connector))
	}

	var ok, exhausted atomic.Int32
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Connector) {
			defer wg.Done()
			err := s.Connect(context.Background())
			if err == nil {
				ok.Add(1)
				return
			}
			var poolErr *base.PoolExhaustedError
			if errors.As(err, &poolErr) {
				exhausted.Add(1)
			} else {
				t.Errorf("Unexpected Connect error: %v", err)
			}
		}(s)
	}
	wg.Wait()

	if ok.Load() != 5 {
		t.Errorf("Expected 5 sessions to connect, got %d", ok.Load())
	}
	if exhausted.Load() != 1 {
		t.Errorf("Expected exactly 1 pool-exhausted session, got %d", exhausted.Load())
	}
	stats := c.binding.pool.Stats()
	if stats.Borrowed != 5 {
		t.Errorf("Expected 5 borrowed handles, got %d", stats.Borrowed)
	}
	if stats.Exhaustions != 1 {
		t.Errorf("Expected 1 recorded exhaustion, got %d", stats.Exhaustions)
	}

	for _, s := range sessions {
		_ = s.Disconnect(context.Background())
	}
	if got := c.binding.pool.Stats().Borrowed; got != 0 {
		t.Errorf("Expected all handles returned, got %d still borrowed", got)
	}
}

func TestDisconnectIsAlwaysSafe(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect before Connect must be a no-op: %v", err)
	}

	conn, mock := mockConnector(t)
	connect(t, conn, mock)
	if err := conn.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if conn.IsConnected() {
		t.Error("Connector should report disconnected")
	}
}

func TestInfoNeverFails(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	info := c.Info(context.Background())
	if info["type"] != DriverType {
		t.Errorf("Info must carry the type tag, got %v", info)
	}
	if info["connected"] != false {
		t.Errorf("Expected connected=false, got %v", info["connected"])
	}
}
