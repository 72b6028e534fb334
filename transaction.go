package corvus

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"pkt.systems/corvus/api"
)

// TransactionOptions tunes a stream transaction at begin time. Zero-value
// fields are left to server defaults.
type TransactionOptions struct {
	ReadCollections      []string
	WriteCollections     []string
	ExclusiveCollections []string
	WaitForSync          bool
	AllowImplicit        *bool
	LockTimeout          int
	MaxTransactionSize   int
}

// BeginTransaction opens a stream transaction on the server and returns
// its handle. All requests executed through the handle run inside the
// transaction until Commit or Abort.
func (d *Database) BeginTransaction(ctx context.Context, opts TransactionOptions) (*Transaction, error) {
	body := api.BeginTransactionRequest{
		Collections: api.TransactionCollections{
			Read:      opts.ReadCollections,
			Write:     opts.WriteCollections,
			Exclusive: opts.ExclusiveCollections,
		},
	}
	if opts.WaitForSync {
		v := true
		body.WaitForSync = &v
	}
	body.AllowImplicit = opts.AllowImplicit
	if opts.LockTimeout > 0 {
		v := opts.LockTimeout
		body.LockTimeout = &v
	}
	if opts.MaxTransactionSize > 0 {
		v := opts.MaxTransactionSize
		body.MaxTransactionSize = &v
	}
	resp, err := d.conn.Execute(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/_api/transaction/begin",
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, newServerError(resp)
	}
	var result api.TransactionResult
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	if result.Result.ID == "" {
		return nil, fmt.Errorf("begin transaction: server returned no id")
	}
	return &Transaction{conn: d.conn, id: result.Result.ID}, nil
}

// Transaction executes requests inside one server-side stream transaction.
// Only document and cursor operations are transactional; anything else is
// rejected client-side with ErrContextNotAllowed before reaching the
// server. A server-reported failure inside the transaction closes the
// handle, after which only Status remains usable.
type Transaction struct {
	conn *Connection
	id   string

	mu     sync.Mutex
	closed bool
}

// ID returns the server-assigned transaction identifier.
func (t *Transaction) ID() string { return t.id }

func (t *Transaction) Context() string { return "transaction" }

// transactionalPath reports whether the request path names an operation
// the server accepts inside a stream transaction.
func transactionalPath(path string) bool {
	for _, prefix := range []string{"/_api/document", "/_api/cursor", "/_api/index/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (t *Transaction) Execute(ctx context.Context, req *Request) (*Response, Job, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrTransactionClosed, t.id)
	}
	t.mu.Unlock()
	if !transactionalPath(req.Path) {
		return nil, nil, fmt.Errorf("%w: %s %s outside transaction scope", ErrContextNotAllowed, req.Method, req.Path)
	}
	req = req.clone()
	req.SetHeader(api.HeaderTransactionID, t.id)
	resp, err := t.conn.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !resp.IsSuccess() {
		// the server rolls the transaction back on failure, so the
		// handle must not accept further operations
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		return nil, nil, newServerError(resp)
	}
	return resp, nil, nil
}

// Commit makes the transaction's writes durable and closes the handle.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, http.MethodPut)
}

// Abort discards the transaction's writes and closes the handle.
func (t *Transaction) Abort(ctx context.Context) error {
	return t.finish(ctx, http.MethodDelete)
}

func (t *Transaction) finish(ctx context.Context, method string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionClosed, t.id)
	}
	t.closed = true
	t.mu.Unlock()
	resp, err := t.conn.Execute(ctx, &Request{
		Method: method,
		Path:   "/_api/transaction/" + t.id,
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return nil
}

// Status asks the server for the transaction state ("running",
// "committed" or "aborted"). It works on closed handles too.
func (t *Transaction) Status(ctx context.Context) (string, error) {
	resp, err := t.conn.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/_api/transaction/" + t.id,
	})
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", newServerError(resp)
	}
	var result api.TransactionResult
	if err := resp.Decode(&result); err != nil {
		return "", err
	}
	return result.Result.Status, nil
}

var _ Executor = (*Transaction)(nil)
