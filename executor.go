package corvus

import (
	"context"
	"strconv"
	"sync/atomic"

	"pkt.systems/corvus/api"
)

// Executor runs requests under a particular execution context. The default
// executor is synchronous and returns the server reply directly; deferred
// executors (async, batch) return a Job handle instead and a nil Response.
type Executor interface {
	// Context names the execution context: "default", "async", "batch"
	// or "transaction".
	Context() string
	// Execute runs one request. Exactly one of Response and Job is
	// non-nil on success, depending on the execution context.
	Execute(ctx context.Context, req *Request) (*Response, Job, error)
}

// Job is a handle to a deferred request. Async jobs poll the server; batch
// jobs resolve locally when the batch commits.
type Job interface {
	// ID returns the job identifier.
	ID() string
	// Status reports the job state without consuming the result.
	Status(ctx context.Context) (JobStatus, error)
	// Result returns the job's response once done. ErrJobNotDone is
	// returned while the job is still pending.
	Result(ctx context.Context) (*Response, error)
}

// JobStatus is the lifecycle state of a deferred job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobDone      JobStatus = "done"
	JobCancelled JobStatus = "cancelled"
)

type defaultExecutor struct {
	conn *Connection
}

func (e *defaultExecutor) Context() string { return "default" }

func (e *defaultExecutor) Execute(ctx context.Context, req *Request) (*Response, Job, error) {
	resp, err := e.conn.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

// headerExecutor stamps one fixed header on every request it forwards.
type headerExecutor struct {
	inner Executor
	key   string
	value string
}

func (h *headerExecutor) Context() string { return h.inner.Context() }

func (h *headerExecutor) Execute(ctx context.Context, req *Request) (*Response, Job, error) {
	return h.inner.Execute(ctx, req.clone().SetHeader(h.key, h.value))
}

// OverloadControl wraps an executor and bounds server-side queueing: every
// request carries the maximum queue time the caller tolerates, and the
// queue time the server reports back is retained for inspection. A server
// that cannot honor the bound rejects the request with errno 21004.
type OverloadControl struct {
	inner    Executor
	maxQueue float64
	lastSeen atomic.Value // float64
}

// NewOverloadControl wraps inner with a queue-time bound in seconds. A
// zero or negative bound still records observed queue times without
// constraining the server.
func NewOverloadControl(inner Executor, maxQueueSeconds float64) *OverloadControl {
	return &OverloadControl{inner: inner, maxQueue: maxQueueSeconds}
}

func (o *OverloadControl) Context() string { return o.inner.Context() }

func (o *OverloadControl) Execute(ctx context.Context, req *Request) (*Response, Job, error) {
	req = req.clone()
	if o.maxQueue > 0 {
		req.SetHeader(api.HeaderQueueTime, strconv.FormatFloat(o.maxQueue, 'f', -1, 64))
	}
	resp, job, err := o.inner.Execute(ctx, req)
	if resp != nil {
		if raw := resp.Headers.Get(api.HeaderQueueTime); raw != "" {
			if seconds, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
				o.lastSeen.Store(seconds)
			}
		}
	}
	return resp, job, err
}

// QueueTime returns the queue time in seconds the server reported on the
// most recent reply, and whether one has been observed yet.
func (o *OverloadControl) QueueTime() (float64, bool) {
	v := o.lastSeen.Load()
	if v == nil {
		return 0, false
	}
	return v.(float64), true
}
