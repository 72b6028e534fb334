package corvus

import (
	"context"
	"net/http"

	"pkt.systems/corvus/api"
)

// Database is a handle on one named database. Operations run through its
// executor; swap the executor with WithExecutor to run the same calls
// asynchronously, batched or inside a transaction.
type Database struct {
	conn *Connection
	exec Executor
	name string
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Executor returns the execution context operations currently run under.
func (d *Database) Executor() Executor { return d.exec }

// WithExecutor returns a view of the database whose operations run
// through exec. The underlying connection is shared.
func (d *Database) WithExecutor(exec Executor) *Database {
	return &Database{conn: d.conn, exec: exec, name: d.name}
}

// AllowDirtyReads returns a view whose requests may be answered by
// follower replicas. Reads can observe slightly stale data; the cluster
// stays available when the shard leader is down.
func (d *Database) AllowDirtyReads() *Database {
	return d.WithExecutor(&headerExecutor{inner: d.exec, key: api.HeaderDirtyRead, value: "true"})
}

// WithOverloadControl returns a view whose requests carry a server queue
// time bound, plus the wrapper for reading observed queue times.
func (d *Database) WithOverloadControl(maxQueueSeconds float64) (*Database, *OverloadControl) {
	oc := NewOverloadControl(d.exec, maxQueueSeconds)
	return d.WithExecutor(oc), oc
}

// Execute runs a raw request under the database's executor. Most callers
// want the typed operations instead; this is the escape hatch for
// endpoints the library does not wrap.
func (d *Database) Execute(ctx context.Context, req *Request) (*Response, Job, error) {
	return d.exec.Execute(ctx, req)
}

// Ping verifies connectivity and credentials against this database.
func (d *Database) Ping(ctx context.Context) (int, error) {
	return d.conn.Ping(ctx)
}

// Version reports the server version. With details the server includes
// its full build information.
func (d *Database) Version(ctx context.Context, details bool) (api.VersionResponse, error) {
	req := &Request{Method: http.MethodGet, Path: "/_api/version"}
	if details {
		req.SetBoolParam("details", true)
	}
	var out api.VersionResponse
	resp, err := d.conn.Execute(ctx, req)
	if err != nil {
		return out, err
	}
	if !resp.IsSuccess() {
		return out, newServerError(resp)
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Collection returns a handle on the named collection without a server
// round trip.
func (d *Database) Collection(name string) *Collection {
	return &Collection{db: d, name: name}
}

// Collections lists the collections in this database.
func (d *Database) Collections(ctx context.Context) ([]api.CollectionInfo, error) {
	resp, err := d.conn.Execute(ctx, &Request{Method: http.MethodGet, Path: "/_api/collection"})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, newServerError(resp)
	}
	var out struct {
		Result []api.CollectionInfo `json:"result"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// CreateCollection creates a collection. Errno 1207 signals a name
// collision; test with IsDuplicateName.
func (d *Database) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	resp, err := d.conn.Execute(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/_api/collection",
		Body:   map[string]string{"name": name},
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, newServerError(resp)
	}
	return d.Collection(name), nil
}

// DropCollection removes the named collection and its documents.
func (d *Database) DropCollection(ctx context.Context, name string) error {
	resp, err := d.conn.Execute(ctx, &Request{
		Method: http.MethodDelete,
		Path:   "/_api/collection/" + name,
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return nil
}
