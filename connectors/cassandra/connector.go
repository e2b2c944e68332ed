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

package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql" // Cassandra/Scylla driver

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

// DriverType is the database-type tag for this driver.
const DriverType = "cassandra"

var errNotConnected = errors.New("not connected")

// Connector implements base.Connector for Apache Cassandra / ScyllaDB.
// The wide-column family takes CQL TextQuery statements. Cassandra has no
// multi-statement rollback; each mutation is a single atomic write, which
// is this engine's transaction boundary for the uniform contract.
//
// Pooling maps onto gocql's per-host connection count; the session owns
// handle checkout internally.
type Connector struct {
	cfg      *config.ConnectionConfig
	hosts    []string
	keyspace string

	mu        sync.Mutex
	cluster   *gocql.ClusterConfig
	session   *gocql.Session
	connected bool

	logger *log.Logger
}

// New resolves hosts and keyspace from the configuration once, at
// construction. They are never re-resolved per call.
func New(cfg *config.ConnectionConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hosts, keyspace, err := resolveEndpoint(cfg)
	if err != nil {
		return nil, err
	}
	return &Connector{
		cfg:      cfg,
		hosts:    hosts,
		keyspace: keyspace,
		logger:   log.New(os.Stdout, "[CASSANDRA] ", log.LstdFlags),
	}, nil
}

// resolveEndpoint accepts either a cassandra://host1,host2:port/keyspace
// connection string or the discrete host/database fields. Connection
// string wins; keyspace precedence is URL path, then database, then the
// "keyspace" option.
func resolveEndpoint(cfg *config.ConnectionConfig) ([]string, string, error) {
	var hosts []string
	keyspace := ""
	if cfg.UsesConnectionString() {
		var err error
		hosts, keyspace, err = parseConnectionURL(cfg.ConnectionString)
		if err != nil {
			return nil, "", err
		}
	} else {
		hosts = strings.Split(cfg.Host, ",")
	}
	if keyspace == "" {
		keyspace = cfg.Database
	}
	if keyspace == "" {
		keyspace, _ = cfg.OptionString("keyspace")
	}
	return hosts, keyspace, nil
}

// parseConnectionURL splits a cassandra:// URL into hosts and keyspace.
func parseConnectionURL(raw string) ([]string, string, error) {
	trimmed := strings.TrimPrefix(raw, "cassandra://")
	if trimmed == raw {
		return nil, "", base.NewConfigurationError("connection_string",
			fmt.Sprintf("expected cassandra:// scheme, got %q", raw))
	}
	keyspace := ""
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		keyspace = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		return nil, "", base.NewConfigurationError("connection_string", "no hosts in connection string")
	}
	return strings.Split(trimmed, ","), keyspace, nil
}

// Connect creates the cluster session. Idempotent.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	cluster := gocql.NewCluster(c.hosts...)
	cluster.Keyspace = c.keyspace
	cluster.ConnectTimeout = c.cfg.Timeouts.ConnectTimeout()
	cluster.Timeout = c.cfg.Timeouts.QueryTimeout()

	consistency := "QUORUM"
	if v, ok := c.cfg.OptionString("consistency"); ok {
		consistency = v
	}
	cluster.Consistency = parseConsistency(consistency)

	if c.cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.cfg.Username,
			Password: c.cfg.Password,
		}
	}

	if c.cfg.Pooling.Enabled {
		cluster.NumConns = c.cfg.Pooling.MaxSize
	} else {
		cluster.NumConns = 1
	}
	if c.cfg.Port != 0 {
		cluster.Port = c.cfg.Port
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return &base.ConnectionError{Driver: DriverType, Addr: strings.Join(c.hosts, ","), Cause: err}
	}

	c.cluster = cluster
	c.session = session
	c.connected = true
	c.logger.Printf("Connected to Cassandra: %s (keyspace=%s, consistency=%s)",
		c.cfg.Name, cluster.Keyspace, consistency)
	return nil
}

// Disconnect closes the session. Safe to call at any time.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.connected = false
	return nil
}

// Execute runs one CQL statement. Reads iterate the result set into the
// uniform shape; mutations execute directly (single-write atomicity).
func (c *Connector) Execute(ctx context.Context, q base.Query, opts base.ExecOptions) (*base.Result, error) {
	text, ok := q.(base.TextQuery)
	if !ok {
		return nil, base.NewConfigurationError("query",
			"cassandra driver accepts text queries only; got a structured operation descriptor")
	}

	c.mu.Lock()
	session := c.session
	connected := c.connected
	c.mu.Unlock()
	if !connected || session == nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "execute", Cause: errNotConnected}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.QueryTimeout())
	defer cancel()

	start := time.Now()
	query := session.Query(text.Statement, text.Params...).WithContext(execCtx)

	if !opts.Fetch {
		if err := query.Exec(); err != nil {
			return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "execute", Cause: err}
		}
		// gocql does not report affected-row counts.
		return &base.Result{Duration: time.Since(start)}, nil
	}

	iter := query.Iter()
	columns := make([]string, 0, len(iter.Columns()))
	for _, col := range iter.Columns() {
		columns = append(columns, col.Name)
	}

	res := &base.Result{Columns: columns}
	for {
		row := make(map[string]interface{})
		if !iter.MapScan(row) {
			break
		}
		if opts.AsMap {
			res.Maps = append(res.Maps, row)
		} else {
			tuple := make([]interface{}, len(columns))
			for i, col := range columns {
				tuple[i] = row[col]
			}
			res.Rows = append(res.Rows, tuple)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: "query", Cause: err}
	}

	res.Duration = time.Since(start)
	return res, nil
}

// IsConnected reports the session state without side effects.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Info returns driver metadata; never fails.
func (c *Connector) Info(ctx context.Context) map[string]interface{} {
	info := map[string]interface{}{
		"type": DriverType,
		"name": c.cfg.Name,
	}
	c.mu.Lock()
	info["connected"] = c.connected
	session := c.session
	cluster := c.cluster
	c.mu.Unlock()

	if cluster != nil {
		info["keyspace"] = cluster.Keyspace
		info["consistency"] = cluster.Consistency.String()
	}
	if session != nil {
		var version string
		if err := session.Query("SELECT release_version FROM system.local").
			WithContext(ctx).Scan(&version); err == nil {
			info["server_version"] = version
		}
	}
	return info
}

// Type returns the database-type tag.
func (c *Connector) Type() string { return DriverType }

// Capabilities lists what this driver supports.
func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "connection_pooling", "tunable_consistency"}
}

// parseConsistency maps a config string to a gocql consistency level.
func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.Quorum
	}
}
