package corvus

import (
	"context"
	"fmt"
	"net/http"

	"pkt.systems/corvus/api"
)

// asyncExecutor queues requests on the server and returns job handles.
// With returnResult the server stores the job's reply for later pickup;
// without it the request is fire-and-forget and the handle only reports
// acceptance.
type asyncExecutor struct {
	conn         *Connection
	returnResult bool
}

// Async returns an executor that runs requests as server-side jobs in this
// database. When returnResult is true, each job's response is stored on
// the server until fetched or cleared.
func (d *Database) Async(returnResult bool) Executor {
	return &asyncExecutor{conn: d.conn, returnResult: returnResult}
}

func (e *asyncExecutor) Context() string { return "async" }

func (e *asyncExecutor) Execute(ctx context.Context, req *Request) (*Response, Job, error) {
	req = req.clone()
	if e.returnResult {
		req.SetHeader(api.HeaderAsync, api.AsyncStore)
	} else {
		req.SetHeader(api.HeaderAsync, api.AsyncFireAndForget)
	}
	resp, err := e.conn.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, nil, newServerError(resp)
	}
	if !e.returnResult {
		return nil, nil, nil
	}
	jobID := resp.Headers.Get(api.HeaderAsyncID)
	if jobID == "" {
		return nil, nil, fmt.Errorf("accepted async request carried no job id")
	}
	return nil, &AsyncJob{conn: e.conn, id: jobID}, nil
}

// AsyncJob tracks a request queued on the server. The stored result can be
// fetched exactly once; fetching consumes it server-side.
type AsyncJob struct {
	conn *Connection
	id   string
}

func (j *AsyncJob) ID() string { return j.id }

// Status polls the server for the job state. ErrJobNotFound is returned
// when the job id is unknown, which includes results already fetched.
func (j *AsyncJob) Status(ctx context.Context) (JobStatus, error) {
	resp, err := j.conn.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/_api/job/" + j.id,
	})
	if err != nil {
		return "", err
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return JobPending, nil
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, j.id)
	case resp.IsSuccess():
		return JobDone, nil
	default:
		return "", newServerError(resp)
	}
}

// Result fetches and consumes the stored response. While the job is still
// queued it returns ErrJobNotDone. A stored application error is unpacked
// and returned as a ServerError.
func (j *AsyncJob) Result(ctx context.Context) (*Response, error) {
	resp, err := j.conn.Execute(ctx, &Request{
		Method: http.MethodPut,
		Path:   "/_api/job/" + j.id,
	})
	if err != nil {
		return nil, err
	}
	// The job id header distinguishes "job done, here is its reply" from
	// a failure of the fetch itself.
	if resp.Headers.Get(api.HeaderAsyncID) == "" {
		switch resp.StatusCode {
		case http.StatusNoContent:
			return nil, fmt.Errorf("%w: %s", ErrJobNotDone, j.id)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, j.id)
		default:
			return nil, newServerError(resp)
		}
	}
	if !resp.IsSuccess() {
		return nil, newServerError(resp)
	}
	return resp, nil
}

// Cancel asks the server to cancel the job. Only still-queued jobs can be
// cancelled; a completed job reports ErrJobNotFound once its result is
// gone, or fails with the server's reply.
func (j *AsyncJob) Cancel(ctx context.Context) error {
	resp, err := j.conn.Execute(ctx, &Request{
		Method: http.MethodPut,
		Path:   "/_api/job/" + j.id + "/cancel",
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrJobNotFound, j.id)
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return nil
}

// Clear discards the stored result without fetching it.
func (j *AsyncJob) Clear(ctx context.Context) error {
	resp, err := j.conn.Execute(ctx, &Request{
		Method: http.MethodDelete,
		Path:   "/_api/job/" + j.id,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrJobNotFound, j.id)
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return nil
}

// ListAsyncJobs returns ids of server-side jobs in the given state
// ("pending" or "done"), up to count when count > 0.
func (d *Database) ListAsyncJobs(ctx context.Context, status JobStatus, count int) ([]string, error) {
	req := &Request{Method: http.MethodGet, Path: "/_api/job/" + string(status)}
	if count > 0 {
		req.SetParam("count", fmt.Sprintf("%d", count))
	}
	resp, err := d.conn.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, newServerError(resp)
	}
	var ids []string
	if err := resp.Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ClearAsyncJobs discards all stored job results, or every result older
// than the given threshold ("all" when zero).
func (d *Database) ClearAsyncJobs(ctx context.Context, thresholdUnix int64) error {
	req := &Request{Method: http.MethodDelete}
	if thresholdUnix > 0 {
		req.Path = "/_api/job/expired"
		req.SetParam("stamp", fmt.Sprintf("%d", thresholdUnix))
	} else {
		req.Path = "/_api/job/all"
	}
	resp, err := d.conn.Execute(ctx, req)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return nil
}
