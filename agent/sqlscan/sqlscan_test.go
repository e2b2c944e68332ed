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

package sqlscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTables(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "simple select",
			sql:  "SELECT id, total FROM orders WHERE status = $1",
			want: []string{"orders"},
		},
		{
			name: "join collects both sides",
			sql:  "SELECT * FROM orders o JOIN customers c ON o.customer_id = c.id",
			want: []string{"orders", "customers"},
		},
		{
			name: "update target",
			sql:  "UPDATE orders SET status = 'shipped' WHERE id = 1",
			want: []string{"orders"},
		},
		{
			name: "insert into",
			sql:  "INSERT INTO audit_log (action) VALUES ('x')",
			want: []string{"audit_log"},
		},
		{
			name: "delete from",
			sql:  "DELETE FROM sessions WHERE expires_at < now()",
			want: []string{"sessions"},
		},
		{
			name: "schema qualified name kept as written",
			sql:  "SELECT * FROM billing.invoices",
			want: []string{"billing.invoices"},
		},
		{
			name: "quoted identifier",
			sql:  `SELECT * FROM "Order Items"`,
			want: []string{`"Order Items"`},
		},
		{
			name: "duplicates collapse in appearance order",
			sql:  "SELECT * FROM orders JOIN customers ON true JOIN orders ON true",
			want: []string{"orders", "customers"},
		},
		{
			name: "case insensitive keywords",
			sql:  "select * from Orders join Customers on true",
			want: []string{"Orders", "Customers"},
		},
		{
			name: "subquery select is not a table",
			sql:  "SELECT * FROM (SELECT id FROM orders) sub",
			want: []string{"orders"},
		},
		{
			name: "no table references",
			sql:  "SELECT 1",
			want: nil,
		},
		{
			name: "malformed sql yields what it can",
			sql:  "SELEC * FORM orders WHERE; FROM customers",
			want: []string{"customers"},
		},
		{
			name: "empty input",
			sql:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTables(tt.sql))
		})
	}
}

func TestExtractTablesIsIdempotent(t *testing.T) {
	sql := "SELECT * FROM orders o JOIN billing.invoices i ON o.id = i.order_id"
	first := ExtractTables(sql)
	second := ExtractTables(sql)
	assert.Equal(t, first, second)
}

func TestClassifyStatement(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want StatementKind
	}{
		{"select", "SELECT * FROM orders", KindRead},
		{"select lowercase with whitespace", "   select 1", KindRead},
		{"insert", "INSERT INTO orders (id) VALUES (1)", KindWrite},
		{"update", "UPDATE orders SET x = 1", KindWrite},
		{"delete", "DELETE FROM orders", KindWrite},
		{"ddl drop", "DROP TABLE orders", KindWrite},
		{"ddl truncate", "TRUNCATE orders", KindWrite},
		{"cte requires write", "WITH recent AS (SELECT 1) SELECT * FROM recent", KindWrite},
		{"unknown keyword requires write", "EXPLAIN SELECT * FROM orders", KindWrite},
		{"empty requires write", "", KindWrite},
		{"whitespace only requires write", "   \n\t ", KindWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatement(tt.sql))
		})
	}
}

func TestClassifyStatementSkipsLeadingComments(t *testing.T) {
	assert.Equal(t, KindRead, ClassifyStatement("-- reporting query\nSELECT * FROM orders"))
	assert.Equal(t, KindRead, ClassifyStatement("/* hint */ SELECT 1"))
	assert.Equal(t, KindWrite, ClassifyStatement("/* hint */ DELETE FROM orders"))
	assert.Equal(t, KindWrite, ClassifyStatement("-- only a comment"))
	assert.Equal(t, KindWrite, ClassifyStatement("/* unterminated SELECT"))
}
