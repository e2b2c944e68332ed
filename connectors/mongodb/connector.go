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

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"agentbridge/core/connectors/base"
	"agentbridge/core/connectors/config"
)

// DriverType is the database-type tag for this driver.
const DriverType = "mongodb"

var errNotConnected = errors.New("not connected")

// Connector implements base.Connector for MongoDB. This is the
// document-store family: Execute takes a StructuredQuery operation
// descriptor (collection + operation + clauses), never SQL text. Handing it
// a TextQuery fails with *base.ConfigurationError at the boundary.
//
// Pooling maps onto the mongo client's own pool (min/max pool size); the
// client manages handle checkout internally, so this driver has no separate
// borrow step.
type Connector struct {
	cfg *config.ConnectionConfig
	uri string

	mu        sync.Mutex
	client    *mongo.Client
	database  *mongo.Database
	connected bool

	logger *log.Logger
}

// New resolves the connection URI once, at construction.
func New(cfg *config.ConnectionConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	uri, err := buildURI(cfg)
	if err != nil {
		return nil, err
	}
	return &Connector{
		cfg:    cfg,
		uri:    uri,
		logger: log.New(os.Stdout, "[MONGODB] ", log.LstdFlags),
	}, nil
}

// buildURI resolves config to a mongodb:// URI. Connection string wins.
func buildURI(cfg *config.ConnectionConfig) (string, error) {
	if cfg.UsesConnectionString() {
		return cfg.ConnectionString, nil
	}

	port := cfg.Port
	if port == 0 {
		port = 27017
	}

	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.Username, cfg.Password, cfg.Host, port)

	params := []string{}
	if authDB, ok := cfg.OptionString("auth_database"); ok {
		params = append(params, "authSource="+authDB)
	}
	if rs, ok := cfg.OptionString("replica_set"); ok {
		params = append(params, "replicaSet="+rs)
	}
	if cfg.OptionBool("tls") {
		params = append(params, "tls=true")
	}
	if cfg.OptionBool("direct_connection") {
		params = append(params, "directConnection=true")
	}
	if len(params) > 0 {
		uri += "/?" + strings.Join(params, "&")
	}
	return uri, nil
}

// databaseName picks the target database from either config shape.
func (c *Connector) databaseName() string {
	if c.cfg.Database != "" {
		return c.cfg.Database
	}
	if db, ok := c.cfg.OptionString("database"); ok {
		return db
	}
	return ""
}

// Connect establishes the client and verifies it with a ping. Idempotent.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dbName := c.databaseName()
	if dbName == "" {
		return base.NewConfigurationError("database", "database name is required")
	}

	clientOpts := options.Client().ApplyURI(c.uri)
	clientOpts.SetConnectTimeout(c.cfg.Timeouts.ConnectTimeout())
	clientOpts.SetRetryWrites(true)
	clientOpts.SetRetryReads(true)
	clientOpts.SetAppName("agentbridge")

	if c.cfg.Pooling.Enabled {
		clientOpts.SetMinPoolSize(uint64(c.cfg.Pooling.MinSize))
		clientOpts.SetMaxPoolSize(uint64(c.cfg.Pooling.MaxSize + c.cfg.Pooling.MaxOverflow))
		if recycle := c.cfg.Pooling.PoolRecycle(); recycle > 0 {
			clientOpts.SetMaxConnIdleTime(recycle)
		}
	}
	if rt := c.cfg.Timeouts.ReadTimeoutSeconds; rt > 0 {
		clientOpts.SetSocketTimeout(time.Duration(rt) * time.Second)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.ConnectTimeout())
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return &base.ConnectionError{Driver: DriverType, Addr: c.cfg.Host, Cause: err}
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return &base.ConnectionError{Driver: DriverType, Addr: c.cfg.Host, Cause: err}
	}

	c.client = client
	c.database = client.Database(dbName)
	c.connected = true
	c.logger.Printf("Connected to MongoDB: %s (database=%s)", c.cfg.Name, dbName)
	return nil
}

// Disconnect closes the client. Safe to call at any time.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}

	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.client.Disconnect(disconnectCtx); err != nil {
		c.logger.Printf("Error disconnecting: %v", err)
	}
	c.client = nil
	c.database = nil
	c.connected = false
	return nil
}

// Execute dispatches a structured operation descriptor. Read operations
// (find, findone, count) require opts.Fetch; write operations reject it.
// Single-document writes are atomic on the server side, which is this
// engine's transaction boundary for the uniform rollback contract.
func (c *Connector) Execute(ctx context.Context, q base.Query, opts base.ExecOptions) (*base.Result, error) {
	sq, ok := q.(base.StructuredQuery)
	if !ok {
		return nil, base.NewConfigurationError("query",
			"mongodb driver accepts structured operation descriptors only; got a text query")
	}
	if sq.Collection == "" {
		return nil, base.NewConfigurationError("query.collection", "collection name is required")
	}

	c.mu.Lock()
	db := c.database
	connected := c.connected
	c.mu.Unlock()
	if !connected || db == nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: sq.Operation, Cause: errNotConnected}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.QueryTimeout())
	defer cancel()

	coll := db.Collection(sq.Collection)
	op := strings.ToLower(sq.Operation)
	start := time.Now()

	var (
		res *base.Result
		err error
	)
	switch op {
	case "find", "":
		res, err = c.find(execCtx, coll, sq, opts)
	case "findone":
		res, err = c.findOne(execCtx, coll, sq, opts)
	case "count":
		res, err = c.count(execCtx, coll, sq)
	case "insert", "insertone", "insertmany":
		res, err = c.insert(execCtx, coll, sq)
	case "update", "updateone":
		res, err = c.update(execCtx, coll, sq, false)
	case "updatemany":
		res, err = c.update(execCtx, coll, sq, true)
	case "delete", "deleteone":
		res, err = c.delete(execCtx, coll, sq, false)
	case "deletemany":
		res, err = c.delete(execCtx, coll, sq, true)
	default:
		return nil, base.NewConfigurationError("query.operation",
			fmt.Sprintf("unsupported operation %q", sq.Operation))
	}
	if err != nil {
		return nil, &base.QueryExecutionError{Driver: DriverType, Operation: op, Cause: err}
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (c *Connector) find(ctx context.Context, coll *mongo.Collection, sq base.StructuredQuery, opts base.ExecOptions) (*base.Result, error) {
	findOpts := options.Find()
	if len(sq.Projection) > 0 {
		findOpts.SetProjection(toBSON(sq.Projection))
	}
	if len(sq.Sort) > 0 {
		findOpts.SetSort(toBSON(sq.Sort))
	}
	if sq.Limit > 0 {
		findOpts.SetLimit(sq.Limit)
	}

	cursor, err := coll.Find(ctx, toBSON(sq.Filter), findOpts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []map[string]interface{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return documentsResult(docs, opts), nil
}

func (c *Connector) findOne(ctx context.Context, coll *mongo.Collection, sq base.StructuredQuery, opts base.ExecOptions) (*base.Result, error) {
	findOpts := options.FindOne()
	if len(sq.Projection) > 0 {
		findOpts.SetProjection(toBSON(sq.Projection))
	}

	var doc map[string]interface{}
	err := coll.FindOne(ctx, toBSON(sq.Filter), findOpts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return documentsResult(nil, opts), nil
		}
		return nil, err
	}
	return documentsResult([]map[string]interface{}{doc}, opts), nil
}

func (c *Connector) count(ctx context.Context, coll *mongo.Collection, sq base.StructuredQuery) (*base.Result, error) {
	n, err := coll.CountDocuments(ctx, toBSON(sq.Filter))
	if err != nil {
		return nil, err
	}
	return &base.Result{
		Columns: []string{"count"},
		Rows:    [][]interface{}{{n}},
	}, nil
}

func (c *Connector) insert(ctx context.Context, coll *mongo.Collection, sq base.StructuredQuery) (*base.Result, error) {
	if len(sq.Documents) == 0 {
		return nil, fmt.Errorf("insert requires at least one document")
	}
	if len(sq.Documents) == 1 {
		if _, err := coll.InsertOne(ctx, toBSON(sq.Documents[0])); err != nil {
			return nil, err
		}
		return &base.Result{RowsAffected: 1}, nil
	}
	docs := make([]interface{}, len(sq.Documents))
	for i, d := range sq.Documents {
		docs[i] = toBSON(d)
	}
	out, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}
	return &base.Result{RowsAffected: int64(len(out.InsertedIDs))}, nil
}

func (c *Connector) update(ctx context.Context, coll *mongo.Collection, sq base.StructuredQuery, many bool) (*base.Result, error) {
	if len(sq.Update) == 0 {
		return nil, fmt.Errorf("update requires an update document")
	}
	update := toBSON(sq.Update)
	// Bare field maps get wrapped in $set; descriptors with operators pass
	// through unchanged.
	if !hasOperatorKey(sq.Update) {
		update = bson.M{"$set": update}
	}

	var (
		modified int64
		err      error
	)
	if many {
		var out *mongo.UpdateResult
		out, err = coll.UpdateMany(ctx, toBSON(sq.Filter), update)
		if out != nil {
			modified = out.ModifiedCount
		}
	} else {
		var out *mongo.UpdateResult
		out, err = coll.UpdateOne(ctx, toBSON(sq.Filter), update)
		if out != nil {
			modified = out.ModifiedCount
		}
	}
	if err != nil {
		return nil, err
	}
	return &base.Result{RowsAffected: modified}, nil
}

func (c *Connector) delete(ctx context.Context, coll *mongo.Collection, sq base.StructuredQuery, many bool) (*base.Result, error) {
	var (
		deleted int64
		err     error
	)
	if many {
		var out *mongo.DeleteResult
		out, err = coll.DeleteMany(ctx, toBSON(sq.Filter))
		if out != nil {
			deleted = out.DeletedCount
		}
	} else {
		var out *mongo.DeleteResult
		out, err = coll.DeleteOne(ctx, toBSON(sq.Filter))
		if out != nil {
			deleted = out.DeletedCount
		}
	}
	if err != nil {
		return nil, err
	}
	return &base.Result{RowsAffected: deleted}, nil
}

// documentsResult shapes documents per ExecOptions. Document stores have no
// stable column order, so the tuple shape degrades to one document column.
func documentsResult(docs []map[string]interface{}, opts base.ExecOptions) *base.Result {
	if opts.AsMap {
		return &base.Result{Maps: docs}
	}
	res := &base.Result{Columns: []string{"document"}}
	for _, d := range docs {
		res.Rows = append(res.Rows, []interface{}{d})
	}
	return res
}

// toBSON converts a descriptor clause to a bson document.
func toBSON(m map[string]interface{}) bson.M {
	if m == nil {
		return bson.M{}
	}
	out := bson.M{}
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = toBSON(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func hasOperatorKey(m map[string]interface{}) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// IsConnected reports the client state without side effects.
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
	info["database"] = c.databaseName()
	db := c.database
	c.mu.Unlock()

	if db != nil {
		var status bson.M
		if err := db.RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}}).Decode(&status); err == nil {
			if version, ok := status["version"].(string); ok {
				info["server_version"] = version
			}
		}
	}
	return info
}

// Type returns the database-type tag.
func (c *Connector) Type() string { return DriverType }

// Capabilities lists what this driver supports.
func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "structured_operations", "connection_pooling"}
}
