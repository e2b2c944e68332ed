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

package gateway

import (
	"context"
	"log"
	"os"
	"time"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
	"agentbridge/core/connectors/factory"
)

// DatabaseConnector is the single entry point callers use to talk to a
// database binding. It hides which concrete driver is behind it: the driver
// is selected exactly once, at construction, and every public operation
// forwards verbatim.
type DatabaseConnector struct {
	driver base.Connector
	cfg    *config.ConnectionConfig
	logger *log.Logger
}

// New selects a driver through the factory, by the config's explicit type
// tag or by detection when the tag is absent, and wraps it. Configuration
// problems surface here, before any connection attempt.
func New(cfg *config.ConnectionConfig, f *factory.Factory) (*DatabaseConnector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driver, err := f.Create(f.DetectType(cfg), cfg)
	if err != nil {
		return nil, err
	}
	return &DatabaseConnector{
		driver: driver,
		cfg:    cfg,
		logger: log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags),
	}, nil
}

// Wrap builds a facade over an already-constructed driver. Used by tests
// and by plugin-heavy callers that bypass detection.
func Wrap(driver base.Connector, cfg *config.ConnectionConfig) *DatabaseConnector {
	return &DatabaseConnector{
		driver: driver,
		cfg:    cfg,
		logger: log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags),
	}
}

// Connect forwards to the held driver.
func (d *DatabaseConnector) Connect(ctx context.Context) error {
	err := d.driver.Connect(ctx)
	if err == nil {
		connectsTotal.WithLabelValues(d.driver.Type()).Inc()
	}
	return err
}

// Disconnect forwards to the held driver.
func (d *DatabaseConnector) Disconnect(ctx context.Context) error {
	return d.driver.Disconnect(ctx)
}

// Execute forwards one query to the held driver.
func (d *DatabaseConnector) Execute(ctx context.Context, q base.Query, opts base.ExecOptions) (*base.Result, error) {
	start := time.Now()
	res, err := d.driver.Execute(ctx, q, opts)
	observeExecute(d.driver.Type(), time.Since(start), err)
	return res, err
}

// ExecuteMany runs a sequence of non-fetching executions, one statement per
// parameter set. Each statement commits independently: the batch is a
// convenience loop, not a transaction. The first failure stops the loop;
// statements that already committed stay committed.
func (d *DatabaseConnector) ExecuteMany(ctx context.Context, statement string, paramSets [][]interface{}) (int64, error) {
	var affected int64
	for _, params := range paramSets {
		res, err := d.Execute(ctx, base.TextQuery{Statement: statement, Params: params}, base.ExecOptions{})
		if err != nil {
			return affected, err
		}
		affected += res.RowsAffected
	}
	return affected, nil
}

// Session returns a connector for one more concurrent logical session of
// the same binding. Drivers with per-binding pooling issue a fresh session
// facade over the shared pool, so every session's Connect counts against
// the binding's max_size. Drivers whose client objects are concurrency-safe
// reuse the same driver.
func (d *DatabaseConnector) Session() *DatabaseConnector {
	driver := d.driver
	if opener, ok := d.driver.(base.SessionOpener); ok {
		driver = opener.NewSession()
	}
	return &DatabaseConnector{
		driver: driver,
		cfg:    d.cfg,
		logger: d.logger,
	}
}

// With runs fn inside a scoped connect/disconnect pair. Disconnect runs
// exactly once on every exit path, including panics.
func (d *DatabaseConnector) With(ctx context.Context, fn func(*DatabaseConnector) error) error {
	if err := d.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := d.Disconnect(ctx); err != nil {
			d.logger.Printf("Disconnect failed for %s: %v", d.cfg.Name, err)
		}
	}()
	return fn(d)
}

// IsConnected forwards to the held driver.
func (d *DatabaseConnector) IsConnected() bool {
	return d.driver.IsConnected()
}

// Info forwards to the held driver; never fails.
func (d *DatabaseConnector) Info(ctx context.Context) map[string]interface{} {
	return d.driver.Info(ctx)
}

// Type reports the held driver's database-type tag.
func (d *DatabaseConnector) Type() string { return d.driver.Type() }

// Name reports the binding name.
func (d *DatabaseConnector) Name() string { return d.cfg.Name }

// Config exposes the binding configuration (read-only by convention).
func (d *DatabaseConnector) Config() *config.ConnectionConfig { return d.cfg }
