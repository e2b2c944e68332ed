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

package redisplugin

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

// DriverType is the database-type tag this plugin serves.
const DriverType = "redis"

// Connector is a key-value connector over go-redis. Redis has no textual
// query language at this boundary, so it takes StructuredQuery: the
// Operation selects the command, Filter carries its parameters
// ("key", "pattern", "ttl_seconds") and Documents carry values for set.
type Connector struct {
	cfg    *config.ConnectionConfig
	logger *log.Logger
	client *redis.Client
}

// NewConnector validates the configuration and prepares a disconnected
// connector.
func NewConnector(cfg *config.ConnectionConfig) (*Connector, error) {
	if !cfg.UsesConnectionString() && cfg.Host == "" {
		return nil, base.NewConfigurationError("host", "redis requires a host or a connection string")
	}
	return &Connector{
		cfg:    cfg,
		logger: log.New(os.Stdout, "[REDIS] ", log.LstdFlags),
	}, nil
}

// Connect establishes the client and verifies it with a ping.
func (c *Connector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	opts, err := c.buildOptions()
	if err != nil {
		return err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.ConnectTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return &base.ConnectionError{Driver: DriverType, Addr: opts.Addr, Cause: err}
	}

	c.client = client
	c.logger.Printf("Connected to Redis: %s (db=%d)", c.cfg.Name, opts.DB)
	return nil
}

// buildOptions resolves client options, preferring the connection string.
func (c *Connector) buildOptions() (*redis.Options, error) {
	if c.cfg.UsesConnectionString() {
		opts, err := redis.ParseURL(c.cfg.ConnectionString)
		if err != nil {
			return nil, base.NewConfigurationError("connection_string", err.Error())
		}
		c.applyTimeouts(opts)
		return opts, nil
	}

	port := c.cfg.Port
	if port == 0 {
		port = 6379
	}
	db := 0
	if raw, ok := c.cfg.OptionString("db"); ok {
		if _, err := fmt.Sscanf(raw, "%d", &db); err != nil {
			return nil, base.NewConfigurationError("options.db", "must be an integer")
		}
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.cfg.Host, port),
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		DB:       db,
	}
	c.applyTimeouts(opts)
	return opts, nil
}

func (c *Connector) applyTimeouts(opts *redis.Options) {
	opts.DialTimeout = c.cfg.Timeouts.ConnectTimeout()
	if c.cfg.Timeouts.ReadTimeoutSeconds > 0 {
		opts.ReadTimeout = time.Duration(c.cfg.Timeouts.ReadTimeoutSeconds) * time.Second
	}
	if c.cfg.Timeouts.WriteTimeoutSeconds > 0 {
		opts.WriteTimeout = time.Duration(c.cfg.Timeouts.WriteTimeoutSeconds) * time.Second
	}
	if c.cfg.Pooling.Enabled {
		opts.PoolSize = c.cfg.Pooling.MaxSize + c.cfg.Pooling.MaxOverflow
		opts.MinIdleConns = c.cfg.Pooling.MinSize
		opts.PoolTimeout = c.cfg.Pooling.PoolTimeout()
	}
}

// Disconnect closes the client. Safe on a never-connected instance.
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		c.logger.Printf("Error closing client: %v", err)
	}
	return nil
}

// Execute dispatches a StructuredQuery operation to the matching command.
func (c *Connector) Execute(ctx context.Context, q base.Query, opts base.ExecOptions) (*base.Result, error) {
	sq, ok := q.(base.StructuredQuery)
	if !ok {
		return nil, base.NewConfigurationError("query", "redis driver requires a structured query, not SQL text")
	}
	if c.client == nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: sq.Operation, Cause: errNotConnected}
	}

	start := time.Now()
	var (
		rows     []map[string]interface{}
		affected int64
		err      error
	)

	switch strings.ToLower(sq.Operation) {
	case "get":
		rows, err = c.get(ctx, sq.Filter)
	case "exists":
		rows, err = c.exists(ctx, sq.Filter)
	case "ttl":
		rows, err = c.ttl(ctx, sq.Filter)
	case "keys":
		rows, err = c.keys(ctx, sq.Filter, sq.Limit)
	case "set":
		affected, err = c.set(ctx, sq.Filter, sq.Documents)
	case "delete":
		affected, err = c.del(ctx, sq.Filter)
	case "expire":
		affected, err = c.expire(ctx, sq.Filter)
	default:
		return nil, base.NewConfigurationError("operation", fmt.Sprintf("unsupported redis operation %q", sq.Operation))
	}
	if err != nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: sq.Operation, Cause: err}
	}

	result := &base.Result{RowsAffected: affected, Duration: time.Since(start)}
	if rows != nil {
		if opts.AsMap {
			result.Maps = rows
		} else {
			result.Columns, result.Rows = tabulate(rows)
		}
	}
	return result, nil
}

var errNotConnected = fmt.Errorf("not connected")

func (c *Connector) get(ctx context.Context, params map[string]interface{}) ([]map[string]interface{}, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return []map[string]interface{}{{"key": key, "exists": false, "value": nil}}, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, _ := c.client.TTL(ctx, key).Result()
	return []map[string]interface{}{
		{"key": key, "exists": true, "value": val, "ttl": int(ttl.Seconds())},
	}, nil
}

func (c *Connector) exists(ctx context.Context, params map[string]interface{}) ([]map[string]interface{}, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}
	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{{"key": key, "exists": count > 0}}, nil
}

func (c *Connector) ttl(ctx context.Context, params map[string]interface{}) ([]map[string]interface{}, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{{"key": key, "ttl": int(ttl.Seconds())}}, nil
}

func (c *Connector) keys(ctx context.Context, params map[string]interface{}, limit int64) ([]map[string]interface{}, error) {
	pattern := "*"
	if p, ok := params["pattern"].(string); ok && p != "" {
		pattern = p
	}
	if limit <= 0 {
		limit = 100
	}

	var cursor uint64
	var keys []string
	for int64(len(keys)) < limit {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 10).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if int64(len(keys)) > limit {
		keys = keys[:limit]
	}

	rows := make([]map[string]interface{}, len(keys))
	for i, key := range keys {
		rows[i] = map[string]interface{}{"key": key}
	}
	return rows, nil
}

func (c *Connector) set(ctx context.Context, params map[string]interface{}, docs []map[string]interface{}) (int64, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return 0, err
	}
	var value interface{}
	if v, ok := params["value"]; ok {
		value = v
	} else if len(docs) == 1 {
		value = docs[0]["value"]
	}
	if value == nil {
		return 0, fmt.Errorf("value parameter required")
	}

	var expiry time.Duration
	if ttl, ok := params["ttl_seconds"].(float64); ok && ttl > 0 {
		expiry = time.Duration(ttl) * time.Second
	}
	if err := c.client.Set(ctx, key, value, expiry).Err(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *Connector) del(ctx context.Context, params map[string]interface{}) (int64, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return 0, err
	}
	return c.client.Del(ctx, key).Result()
}

func (c *Connector) expire(ctx context.Context, params map[string]interface{}) (int64, error) {
	key, err := stringParam(params, "key")
	if err != nil {
		return 0, err
	}
	ttl, ok := params["ttl_seconds"].(float64)
	if !ok || ttl <= 0 {
		return 0, fmt.Errorf("ttl_seconds parameter required")
	}
	ok, err = c.client.Expire(ctx, key, time.Duration(ttl)*time.Second).Result()
	if err != nil {
		return 0, err
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}

func stringParam(params map[string]interface{}, name string) (string, error) {
	v, ok := params[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s parameter required", name)
	}
	return v, nil
}

// tabulate flattens map rows into a stable-column tuple shape.
func tabulate(rows []map[string]interface{}) ([]string, [][]interface{}) {
	if len(rows) == 0 {
		return nil, nil
	}
	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	tuples := make([][]interface{}, len(rows))
	for i, row := range rows {
		tuple := make([]interface{}, len(columns))
		for j, col := range columns {
			tuple[j] = row[col]
		}
		tuples[i] = tuple
	}
	return columns, tuples
}

// IsConnected reports whether the client is established.
func (c *Connector) IsConnected() bool { return c.client != nil }

// Info returns driver metadata. Never fails.
func (c *Connector) Info(ctx context.Context) map[string]interface{} {
	info := map[string]interface{}{
		"type":      DriverType,
		"name":      c.cfg.Name,
		"connected": c.client != nil,
	}
	if c.client != nil {
		if size, err := c.client.DBSize(ctx).Result(); err == nil {
			info["db_size"] = size
		}
		stats := c.client.PoolStats()
		info["pool"] = map[string]interface{}{
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"timeouts": stats.Timeouts,
			"total":    stats.TotalConns,
			"idle":     stats.IdleConns,
		}
	}
	return info
}

// Type returns the driver type tag.
func (c *Connector) Type() string { return DriverType }

// Capabilities lists supported features.
func (c *Connector) Capabilities() []string {
	return []string{"kv_store", "cache", "ttl", "pattern_scan"}
}
