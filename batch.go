package corvus

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const batchPartContentType = "application/x-corvus-batchpart"

// Batch queues requests locally and submits them to the server in one
// round trip. Queued operations resolve to BatchJob handles whose results
// become available after Commit. A batch is single-shot: once committed it
// rejects further use.
type Batch struct {
	conn *Connection

	mu        sync.Mutex
	jobs      []*BatchJob
	committed bool
}

// Batch returns a fresh batch execution context for this database.
func (d *Database) Batch() *Batch {
	return &Batch{conn: d.conn}
}

func (b *Batch) Context() string { return "batch" }

// Execute queues the request and returns its pending job handle. Nothing
// is sent until Commit.
func (b *Batch) Execute(_ context.Context, req *Request) (*Response, Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return nil, nil, ErrBatchCommitted
	}
	job := &BatchJob{id: uuid.NewString(), req: req.clone()}
	b.jobs = append(b.jobs, job)
	return nil, job, nil
}

// Jobs returns the queued job handles in submission order.
func (b *Batch) Jobs() []Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Job, len(b.jobs))
	for i, j := range b.jobs {
		out[i] = j
	}
	return out
}

// Clear drops all queued requests and returns how many were dropped. The
// batch stays usable.
func (b *Batch) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.jobs)
	b.jobs = nil
	return n
}

// Commit submits the queued requests in one multipart round trip and
// resolves every job handle. Per-operation failures land in the matching
// job's result, not in Commit's error: Commit fails only when the batch
// itself cannot be submitted or parsed. Committing twice, or committing an
// empty batch, is an error.
func (b *Batch) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return ErrBatchCommitted
	}
	if len(b.jobs) == 0 {
		return fmt.Errorf("empty batch")
	}
	b.committed = true

	body, boundary, err := b.encodeParts()
	if err != nil {
		return err
	}
	req := &Request{
		Method:      http.MethodPost,
		Path:        "/_api/batch",
		Body:        body,
		RawResponse: true,
	}
	req.SetHeader("Content-Type", fmt.Sprintf(`multipart/form-data; boundary=%s`, boundary))
	resp, err := b.conn.Execute(ctx, req)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return newServerError(resp)
	}
	return b.resolveParts(resp)
}

func (b *Batch) encodeParts() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, job := range b.jobs {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", batchPartContentType)
		header.Set("Content-Id", job.id)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		payload, err := b.encodeEmbedded(job.req)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(payload); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.Boundary(), nil
}

// encodeEmbedded renders one queued request as an embedded HTTP/1.1
// message: request line, headers, blank line, body.
func (b *Batch) encodeEmbedded(req *Request) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, req.pathWithQuery())
	for k, v := range req.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")
	switch payload := req.Body.(type) {
	case nil:
	case []byte:
		buf.Write(payload)
	case string:
		buf.WriteString(payload)
	default:
		data, err := b.conn.Serializer().Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("serialize batch part: %w", err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (b *Batch) resolveParts(resp *Response) error {
	contentType := resp.Headers.Get("Content-Type")
	boundary, err := multipartBoundary(contentType)
	if err != nil {
		return err
	}
	byID := make(map[string]*BatchJob, len(b.jobs))
	for _, job := range b.jobs {
		byID[job.id] = job
	}
	reader := multipart.NewReader(bytes.NewReader(resp.RawBody), boundary)
	position := 0
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse batch reply: %w", err)
		}
		job := byID[part.Header.Get("Content-Id")]
		if job == nil && position < len(b.jobs) {
			// no Content-Id echoed: fall back to positional matching
			job = b.jobs[position]
		}
		position++
		if job == nil {
			continue
		}
		embedded, err := readEmbeddedResponse(part)
		if err != nil {
			return fmt.Errorf("parse batch part %s: %w", job.id, err)
		}
		job.resolve(prepareResponse(b.conn.Serializer(), job.req.Method, job.req.Path,
			embedded.StatusCode, embedded.Status, embedded.Header, embedded.body, job.req.RawResponse))
	}
	for _, job := range b.jobs {
		if !job.done {
			job.fail(fmt.Errorf("batch reply carried no part for job %s", job.id))
		}
	}
	return nil
}

type embeddedResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	body       []byte
}

func readEmbeddedResponse(r io.Reader) (*embeddedResponse, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	httpResp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return &embeddedResponse{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		body:       body,
	}, nil
}

func multipartBoundary(contentType string) (string, error) {
	for _, field := range strings.Split(contentType, ";") {
		field = strings.TrimSpace(field)
		if value, ok := strings.CutPrefix(field, "boundary="); ok {
			return strings.Trim(value, `"`), nil
		}
	}
	return "", fmt.Errorf("batch reply content type %q has no boundary", contentType)
}

// BatchJob is a handle to one queued batch operation. It resolves locally
// when its batch commits; there is no server round trip per job.
type BatchJob struct {
	id  string
	req *Request

	mu   sync.Mutex
	done bool
	resp *Response
	err  error
}

func (j *BatchJob) ID() string { return j.id }

func (j *BatchJob) resolve(resp *Response) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	j.resp = resp
}

func (j *BatchJob) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	j.err = err
}

// Status reports whether the batch containing this job has committed.
func (j *BatchJob) Status(context.Context) (JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.done {
		return JobPending, nil
	}
	return JobDone, nil
}

// Result returns the operation's reply once the batch has committed. An
// application error in the reply is returned as a ServerError.
func (j *BatchJob) Result(context.Context) (*Response, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.done {
		return nil, fmt.Errorf("%w: %s", ErrJobNotDone, j.id)
	}
	if j.err != nil {
		return nil, j.err
	}
	if !j.resp.IsSuccess() {
		return nil, newServerError(j.resp)
	}
	return j.resp, nil
}

var _ Executor = (*Batch)(nil)
var _ Job = (*BatchJob)(nil)
var _ Job = (*AsyncJob)(nil)
