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

package agent

import (
	"context"
	"errors"
	"time"

	"agentbridge/core/agent/sqlscan"
	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/gateway"
	"agentbridge/core/shared/logger"
)

// Gateway is the query-execution entry point the surrounding system
// calls: authorize, execute, audit. It never sees transport concerns;
// the caller turns its errors into whatever protocol it speaks.
type Gateway struct {
	enforcer *Enforcer
	conn     *gateway.DatabaseConnector
	audit    AuditSink
	log      *logger.Logger
}

// NewGateway wires an enforcer, a connector facade and an audit sink.
// A nil sink falls back to LogSink.
func NewGateway(conn *gateway.DatabaseConnector, enforcer *Enforcer, sink AuditSink) *Gateway {
	if sink == nil {
		sink = LogSink{}
	}
	return &Gateway{
		enforcer: enforcer,
		conn:     conn,
		audit:    sink,
		log:      logger.New("agent-gateway").ForBinding(conn.Name()),
	}
}

// Execute runs a raw SQL statement on behalf of an agent. The statement
// is authorized against the agent's resource grants first; denial
// returns a *PermissionDeniedError listing every missing grant. Every
// attempt is audited, and audit delivery never affects the result.
func (g *Gateway) Execute(ctx context.Context, agentID, rawSQL string) (*base.Result, error) {
	start := time.Now()

	if err := g.enforcer.Authorize(agentID, rawSQL); err != nil {
		var denied *PermissionDeniedError
		if errors.As(err, &denied) {
			g.record(ctx, agentID, StatusDenied, map[string]interface{}{
				"missing": denied.Missing,
			})
		}
		return nil, err
	}

	kind := sqlscan.ClassifyStatement(rawSQL)
	result, err := g.conn.Execute(ctx, base.TextQuery{Statement: rawSQL}, base.ExecOptions{
		Fetch: kind == sqlscan.KindRead,
	})
	durationMS := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		g.record(ctx, agentID, StatusError, map[string]interface{}{
			"connector": g.conn.Name(),
			"error":     err.Error(),
		})
		return nil, err
	}

	g.record(ctx, agentID, StatusSuccess, map[string]interface{}{
		"connector":     g.conn.Name(),
		"statement":     string(kind),
		"rows":          result.RowCount(),
		"rows_affected": result.RowsAffected,
	})
	g.log.InfoWithDuration(agentID, "", "Statement executed", durationMS, map[string]interface{}{
		"statement": string(kind),
	})
	return result, nil
}

// Connector exposes the underlying facade for callers that need
// connection lifecycle control around a batch of Execute calls.
func (g *Gateway) Connector() *gateway.DatabaseConnector { return g.conn }

// record sends one audit event. The sink contract is fire-and-forget, so
// nothing here can fail the surrounding call.
func (g *Gateway) record(ctx context.Context, agentID, status string, details map[string]interface{}) {
	g.audit.Record(ctx, Event{
		Action:  ActionQueryExecute,
		AgentID: agentID,
		Status:  status,
		Details: details,
	})
}
