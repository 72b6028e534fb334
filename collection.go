package corvus

import (
	"context"
	"net/http"

	"pkt.systems/corvus/api"
)

// Collection is a handle on one collection. Document operations run under
// the owning database's executor, so the same calls work synchronously,
// queued in a batch, stored as async jobs or inside a transaction. Under a
// deferred executor the returned meta is zero and the Job carries the
// eventual reply.
type Collection struct {
	db   *Database
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// InsertDocument stores a new document and returns its meta. Errno 1210
// signals a unique constraint violation on _key or an index.
func (c *Collection) InsertDocument(ctx context.Context, document any) (api.DocumentMeta, Job, error) {
	req := &Request{
		Method: http.MethodPost,
		Path:   "/_api/document/" + c.name,
		Body:   document,
	}
	return c.metaOp(ctx, req)
}

// GetDocument fetches the document with the given key into out.
func (c *Collection) GetDocument(ctx context.Context, key string, out any) (Job, error) {
	resp, job, err := c.db.exec.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/_api/document/" + c.name + "/" + key,
	})
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}
	if resp == nil {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, newServerError(resp)
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// ReplaceDocument overwrites the document with the given key.
func (c *Collection) ReplaceDocument(ctx context.Context, key string, document any) (api.DocumentMeta, Job, error) {
	req := &Request{
		Method: http.MethodPut,
		Path:   "/_api/document/" + c.name + "/" + key,
		Body:   document,
	}
	return c.metaOp(ctx, req)
}

// UpdateDocument patches the document with the given key.
func (c *Collection) UpdateDocument(ctx context.Context, key string, patch any) (api.DocumentMeta, Job, error) {
	req := &Request{
		Method: http.MethodPatch,
		Path:   "/_api/document/" + c.name + "/" + key,
		Body:   patch,
	}
	return c.metaOp(ctx, req)
}

// DeleteDocument removes the document with the given key.
func (c *Collection) DeleteDocument(ctx context.Context, key string) (api.DocumentMeta, Job, error) {
	req := &Request{
		Method: http.MethodDelete,
		Path:   "/_api/document/" + c.name + "/" + key,
	}
	return c.metaOp(ctx, req)
}

func (c *Collection) metaOp(ctx context.Context, req *Request) (api.DocumentMeta, Job, error) {
	var meta api.DocumentMeta
	resp, job, err := c.db.exec.Execute(ctx, req)
	if err != nil {
		return meta, nil, err
	}
	if job != nil {
		return meta, job, nil
	}
	if resp == nil {
		// fire-and-forget: accepted with nothing to report
		return meta, nil, nil
	}
	if !resp.IsSuccess() {
		return meta, nil, newServerError(resp)
	}
	if err := resp.Decode(&meta); err != nil {
		return meta, nil, err
	}
	return meta, nil, nil
}

// Count returns the number of documents. Always runs synchronously on the
// connection, outside any deferred execution context.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	resp, err := c.db.conn.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/_api/collection/" + c.name + "/count",
	})
	if err != nil {
		return 0, err
	}
	if !resp.IsSuccess() {
		return 0, newServerError(resp)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := resp.Decode(&out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Truncate removes every document, keeping the collection and its indexes.
func (c *Collection) Truncate(ctx context.Context) error {
	resp, err := c.db.conn.Execute(ctx, &Request{
		Method: http.MethodPut,
		Path:   "/_api/collection/" + c.name + "/truncate",
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return nil
}
