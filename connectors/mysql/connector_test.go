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

package mysql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

func testConfig() *config.ConnectionConfig {
	cfg := config.New("inventory-db")
	cfg.Type = DriverType
	cfg.Host = "mysql.internal"
	cfg.Port = 3306
	cfg.Username = "app"
	cfg.Password = "secret"
	cfg.Database = "inventory"
	return cfg
}

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
	mock.ExpectExec("SET SESSION max_execution_time = 30000").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	t.Run("connection string wins and gains parseTime", func(t *testing.T) {
		cfg := testConfig()
		cfg.ConnectionString = "other:pw@tcp(elsewhere:3307)/different"

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		if !strings.HasPrefix(dsn, cfg.ConnectionString) {
			t.Errorf("Expected the connection string to drive the DSN, got %q", dsn)
		}
		if !strings.Contains(dsn, "parseTime=true") {
			t.Errorf("Expected parseTime appended, got %q", dsn)
		}
	})

	t.Run("connection string with existing parseTime untouched", func(t *testing.T) {
		cfg := testConfig()
		cfg.ConnectionString = "u:p@tcp(h:3306)/d?parseTime=false"

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		if dsn != cfg.ConnectionString {
			t.Errorf("Existing parseTime must not be overridden, got %q", dsn)
		}
	})

	t.Run("discrete parameters with hardened defaults", func(t *testing.T) {
		cfg := testConfig()

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		for _, want := range []string{
			"app:secret@tcp(mysql.internal:3306)/inventory",
			"parseTime=true",
			"loc=UTC",
			"charset=utf8mb4",
			"timeout=10s",
			"multiStatements=false",
		} {
			if !strings.Contains(dsn, want) {
				t.Errorf("DSN missing %q: %s", want, dsn)
			}
		}
	})

	t.Run("tls option forwarded", func(t *testing.T) {
		cfg := testConfig()
		cfg.Options = map[string]interface{}{"tls": "skip-verify"}

		dsn, err := buildDSN(cfg)
		if err != nil {
			t.Fatalf("buildDSN failed: %v", err)
		}
		if !strings.Contains(dsn, "tls=skip-verify") {
			t.Errorf("Expected tls parameter, got %q", dsn)
		}
	})
}

func TestExecuteRequiresTextQuery(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	_, err := c.Execute(context.Background(), base.StructuredQuery{Collection: "items"}, base.ExecOptions{})
	var cfgErr *base.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected configuration error for structured query, got %v", err)
	}
}

func TestExecuteFetchConvertsColumnTypes(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	rows := sqlmock.NewRows([]string{"sku", "price"}).
		AddRow([]byte("WIDGET-1"), []byte("19.99"))
	mock.ExpectQuery("SELECT sku, price FROM items").WillReturnRows(rows)

	res, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "SELECT sku, price FROM items"},
		base.ExecOptions{Fetch: true, AsMap: true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Maps[0]["sku"] != "WIDGET-1" {
		t.Errorf("Expected text column as string, got %T %v", res.Maps[0]["sku"], res.Maps[0]["sku"])
	}
}

func TestExecuteMutationCommits(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO items").
		WithArgs("WIDGET-2", 100).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	res, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "INSERT INTO items (sku, stock) VALUES (?, ?)", Params: []interface{}{"WIDGET-2", 100}},
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
	mock.ExpectExec("DELETE FROM items").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()
	mock.ExpectPing()

	_, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "DELETE FROM items WHERE sku = ?", Params: []interface{}{"WIDGET-1"}},
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

func TestExecuteCommitFailureRollsBack(t *testing.T) {
	c, mock := mockConnector(t)
	connect(t, c, mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("server gone"))
	// database/sql marks the tx done after the failed commit, so the
	// rollback attempt never reaches the driver. Only the transport
	// check follows.
	mock.ExpectPing().WillReturnError(errors.New("server gone"))

	_, err := c.Execute(context.Background(),
		base.TextQuery{Statement: "UPDATE items SET stock = 0"},
		base.ExecOptions{})

	var execErr *base.QueryExecutionError
	if !errors.As(err, &execErr) || !execErr.RolledBack {
		t.Fatalf("Expected rolled-back execution error, got %v", err)
	}
}

func TestSessionsShareBindingPool(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = db.Close() })

	cfg := testConfig()
	cfg.Pooling = config.PoolingConfig{
		Enabled:            true,
		MinSize:            1,
		MaxSize:            2,
		PoolTimeoutSeconds: 1,
	}
	first, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	first.binding.db = db

	// Two physical dials: one prewarmed, one for the second borrow.
	for i := 0; i < 2; i++ {
		mock.ExpectPing()
		mock.ExpectExec("SET SESSION max_execution_time = 30000").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	second := first.NewSession().(*Connector)
	if second.binding != first.binding {
		t.Fatal("NewSession must share the originating binding")
	}

	if err := first.Connect(context.Background()); err != nil {
		t.Fatalf("First Connect failed: %v", err)
	}
	if err := second.Connect(context.Background()); err != nil {
		t.Fatalf("Second Connect failed: %v", err)
	}

	if stats := first.binding.pool.Stats(); stats.Borrowed != 2 {
		t.Errorf("Expected both sessions borrowed from one pool, got %d", stats.Borrowed)
	}

	_ = first.Disconnect(context.Background())
	_ = second.Disconnect(context.Background())
}

func TestDisconnectBeforeConnect(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect before Connect must be a no-op: %v", err)
	}
}
