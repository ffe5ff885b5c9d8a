package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	dbName string
}

// MongoQuery is the JSON document an extract step holds for MongoDB.
type MongoQuery struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation,omitempty"` // find (default) or aggregate
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Sort       map[string]any `json:"sort,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"`
}

// ParseMongoQuery decodes a query document. Filter, projection and sort
// accept MongoDB Extended JSON ($oid, $date, ...).
func ParseMongoQuery(raw string) (MongoQuery, error) {
	var mq MongoQuery
	if err := json.Unmarshal([]byte(raw), &mq); err != nil {
		return MongoQuery{}, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return MongoQuery{}, fmt.Errorf("query must specify 'collection'")
	}
	switch mq.Operation {
	case "":
		mq.Operation = "find"
	case "find", "aggregate":
	default:
		return MongoQuery{}, fmt.Errorf("unsupported operation: %s", mq.Operation)
	}
	var err error
	for _, f := range []*map[string]any{&mq.Filter, &mq.Projection, &mq.Sort} {
		if *f, err = unmarshalEJSON(*f); err != nil {
			return MongoQuery{}, err
		}
	}
	return mq, nil
}

// MongoURI builds the connection URI of conn. A configured URI wins over
// host and port; <password> placeholders in it are filled in.
func MongoURI(conn domain.Connection, password string) string {
	p := conn.Params
	if p.URI != "" {
		uri := p.URI
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", url.QueryEscape(password))
			uri = strings.ReplaceAll(uri, "<db_password>", url.QueryEscape(password))
		}
		return uri
	}
	port := p.Port
	if port == 0 {
		port = 27017
	}
	u := &url.URL{Scheme: "mongodb", Host: p.Host + ":" + strconv.Itoa(port), Path: "/"}
	if p.User != "" {
		u.User = url.UserPassword(p.User, password)
	}
	q := url.Values{}
	for k, v := range p.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// mongoDatabase returns the database name of conn, falling back to the URI
// path. The path is scanned after the host list because Atlas URIs often
// carry a <password> placeholder that url.Parse rejects.
func mongoDatabase(conn domain.Connection) string {
	if conn.Params.Database != "" {
		return conn.Params.Database
	}
	uri := conn.Params.URI
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	if i := strings.LastIndex(uri, "@"); i >= 0 {
		uri = uri[i+1:]
	}
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if i := strings.Index(uri, "/"); i >= 0 {
		if name, err := url.PathUnescape(strings.Trim(uri[i+1:], "/")); err == nil && name != "" {
			return name
		}
	}
	return "test"
}

func newMongoConnector(conn domain.Connection, password string) (*mongoConnector, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(MongoURI(conn, password)))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: mongoDatabase(conn)}, nil
}

func (m *mongoConnector) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// Query runs a find or aggregate described by a MongoQuery document.
func (m *mongoConnector) Query(ctx context.Context, query string) (*etl.Table, error) {
	mq, err := ParseMongoQuery(query)
	if err != nil {
		return nil, err
	}
	coll := m.client.Database(m.dbName).Collection(mq.Collection)

	var cursor *mongo.Cursor
	switch mq.Operation {
	case "aggregate":
		pipeline := mq.Pipeline
		if pipeline == nil {
			pipeline = []any{}
		}
		cursor, err = coll.Aggregate(ctx, pipeline)
	default:
		opts := options.Find()
		if mq.Projection != nil {
			opts.SetProjection(mq.Projection)
		}
		if mq.Sort != nil {
			opts.SetSort(mq.Sort)
		}
		if mq.Limit > 0 {
			opts.SetLimit(mq.Limit)
		}
		filter := mq.Filter
		if filter == nil {
			filter = map[string]any{}
		}
		cursor, err = coll.Find(ctx, filter, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mq.Operation, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return DocumentsToTable(docs), nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// DocumentsToTable flattens documents into a table: one column per
// top-level field, "_id" first and the rest alphabetical. Missing fields
// are nil; nested documents and arrays become JSON text.
func DocumentsToTable(docs []bson.D) *etl.Table {
	colSet := map[string]bool{}
	var columns []string
	for _, doc := range docs {
		for _, elem := range doc {
			if !colSet[elem.Key] {
				colSet[elem.Key] = true
				columns = append(columns, elem.Key)
			}
		}
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i] == "_id" {
			return true
		}
		if columns[j] == "_id" {
			return false
		}
		return columns[i] < columns[j]
	})

	out := &etl.Table{Columns: make([]etl.Column, len(columns))}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		out.Columns[i] = etl.Column{Name: c}
		index[c] = i
	}
	for _, doc := range docs {
		row := make([]any, len(columns))
		for _, elem := range doc {
			row[index[elem.Key]] = bsonValue(elem.Value)
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func bsonValue(v any) any {
	switch x := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return nil
	case bson.ObjectID:
		return x.Hex()
	case bson.DateTime:
		return x.Time().UTC()
	case bson.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case int32:
		return int64(x)
	case int64, float64, bool, string:
		return x
	case bson.Decimal128:
		return x.String()
	case bson.Binary:
		return x.Data
	case bson.D, bson.A, bson.M:
		raw, err := json.Marshal(plain(x))
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// plain converts nested BSON containers into JSON-friendly values.
func plain(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = plain(e)
		}
		return m
	case bson.A:
		a := make([]any, len(x))
		for i, e := range x {
			a[i] = plain(e)
		}
		return a
	default:
		return bsonValue(v)
	}
}

// unmarshalEJSON re-encodes a decoded JSON object and parses it as relaxed
// Extended JSON so $oid, $date and friends become BSON values.
func unmarshalEJSON(field map[string]any) (map[string]any, error) {
	if field == nil {
		return nil, nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("extended JSON: %w", err)
	}
	result := make(map[string]any, len(doc))
	for _, elem := range doc {
		result[elem.Key] = elem.Value
	}
	return result, nil
}
