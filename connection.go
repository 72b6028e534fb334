package corvus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/corvus/api"
)

// Connection turns logical API calls into HTTP requests against one of the
// configured coordinators: it resolves the host, attaches credentials,
// sends through the per-host session, and prepares the reply. It is bound
// to one database and is safe for concurrent use.
type Connection struct {
	hosts    []string
	prefixes []string
	dbName   string

	resolver  HostResolver
	transport HTTPClient
	sessions  []*http.Client
	auth      Authenticator
	codec     Serializer

	reqCompression  RequestCompression
	respCompression string

	timeout      time.Duration
	retryInitial time.Duration
	retryMax     time.Duration

	logger pslog.Base
	tracer trace.Tracer
}

// Database returns the database name this connection is bound to.
func (c *Connection) Database() string { return c.dbName }

// Serializer returns the configured payload codec.
func (c *Connection) Serializer() Serializer { return c.codec }

// Execute sends one request and returns the prepared response. Transport
// failures fail over to other coordinators within the resolver's try
// budget; a 401 reply under refreshable auth triggers exactly one forced
// token refresh and one resend. Application-level failures are returned as
// the prepared response, never retried.
func (c *Connection) Execute(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "corvus.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("corvus.path", req.Path),
			attribute.String("corvus.database", c.dbName),
		))
	defer span.End()

	body, err := c.encodeBody(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp, err := c.send(ctx, req, body)
	if err == nil && resp.StatusCode == http.StatusUnauthorized && !req.noAuth {
		if r, ok := c.auth.(refresher); ok {
			c.logDebugCtx(ctx, "corvus.http.auth_retry", "path", req.Path, "status", resp.StatusCode)
			if refreshErr := r.ForceRefresh(ctx); refreshErr != nil {
				span.SetStatus(codes.Error, refreshErr.Error())
				return nil, refreshErr
			}
			resp, err = c.send(ctx, req, body)
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !resp.IsSuccess() {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

func (c *Connection) encodeBody(req *Request) ([]byte, error) {
	switch payload := req.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return payload, nil
	case string:
		return []byte(payload), nil
	default:
		data, err := c.codec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("corvus: serialize request body: %w", err)
		}
		return data, nil
	}
}

func (c *Connection) send(ctx context.Context, req *Request, body []byte) (*Response, error) {
	maxTries := c.resolver.MaxTries()
	delay := c.failoverBackoff()

	var (
		failed       []int
		lastErr      error
		lastEndpoint string
	)
	for tries := 0; tries < maxTries; tries++ {
		idx := c.resolver.NextHost(failed)
		endpoint := c.hosts[idx]
		target := c.requestURL(idx, req)

		reqCtx, cancel := c.requestContext(ctx)
		httpReq, err := c.buildHTTPRequest(reqCtx, req, target, body)
		if err != nil {
			cancel()
			return nil, err
		}
		start := time.Now()
		c.logTraceCtx(ctx, "corvus.http.attempt",
			"method", req.Method, "url", target, "attempt", tries+1, "total", maxTries)
		rawResp, err := c.transport.Do(c.sessions[idx], httpReq)
		if err != nil {
			cancel()
			if !retryableTransport(err) {
				return nil, &TransportError{Endpoint: endpoint, Err: err}
			}
			c.logDebugCtx(ctx, "corvus.http.error",
				"method", req.Method, "url", target, "error", err, "duration", time.Since(start))
			lastErr = err
			lastEndpoint = endpoint
			failed = markFailed(failed, idx, c.resolver.HostCount())
			if !c.waitRetry(ctx, delay) {
				return nil, &TransportError{Endpoint: endpoint, Err: ctx.Err()}
			}
			continue
		}
		resp, err := c.readResponse(req, target, rawResp)
		cancel()
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}
		if resp.hostUnavailable() && tries < maxTries-1 {
			c.logDebugCtx(ctx, "corvus.http.host_unavailable", "url", target, "status", resp.StatusCode)
			lastErr = fmt.Errorf("coordinator unavailable: %s", endpoint)
			lastEndpoint = endpoint
			failed = markFailed(failed, idx, c.resolver.HostCount())
			if !c.waitRetry(ctx, delay) {
				return nil, &TransportError{Endpoint: endpoint, Err: ctx.Err()}
			}
			continue
		}
		c.logTraceCtx(ctx, "corvus.http.success",
			"method", req.Method, "url", target, "status", resp.StatusCode, "duration", time.Since(start))
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no attempt succeeded")
	}
	err := fmt.Errorf("all hosts unreachable within %d tries: %w", maxTries, lastErr)
	c.logWarnCtx(ctx, "corvus.http.unreachable", "hosts", c.hosts, "error", err)
	return nil, &TransportError{Endpoint: lastEndpoint, Err: err}
}

// requestURL joins the endpoint with the request path. Paths under /_open/
// are server-global and skip the database prefix.
func (c *Connection) requestURL(hostIndex int, req *Request) string {
	if strings.HasPrefix(req.Path, "/_open/") {
		return c.hosts[hostIndex] + req.pathWithQuery()
	}
	return c.prefixes[hostIndex] + req.pathWithQuery()
}

func (c *Connection) buildHTTPRequest(ctx context.Context, req *Request, target string, body []byte) (*http.Request, error) {
	contentEncoding := ""
	if c.reqCompression != nil && len(body) >= c.reqCompression.Threshold() {
		compressed, err := c.reqCompression.Compress(body)
		if err != nil {
			return nil, err
		}
		body = compressed
		contentEncoding = c.reqCompression.Encoding()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("corvus: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.HeaderDriver, "corvus-go/"+driverVersion)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentEncoding != "" {
		httpReq.Header.Set("Content-Encoding", contentEncoding)
	}
	if c.respCompression != "" {
		httpReq.Header.Set("Accept-Encoding", c.respCompression)
	}
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		httpReq.Header.Set(api.HeaderCorrelationID, cid)
	}
	if c.auth != nil && !req.noAuth {
		header, err := c.auth.Header(ctx)
		if err != nil {
			return nil, err
		}
		if header != "" {
			httpReq.Header.Set("Authorization", header)
		}
	}
	return httpReq, nil
}

func (c *Connection) readResponse(req *Request, target string, rawResp *http.Response) (*Response, error) {
	defer rawResp.Body.Close()
	reader, closeFn, err := decodeBody(rawResp.Header.Get("Content-Encoding"), rawResp.Body)
	if err != nil {
		return nil, err
	}
	if closeFn != nil {
		defer closeFn()
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return prepareResponse(c.codec, req.Method, target, rawResp.StatusCode, rawResp.Status, rawResp.Header, data, req.RawResponse), nil
}

func (c *Connection) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.timeout)
}

func (c *Connection) failoverBackoff() *backoff.ExponentialBackOff {
	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = c.retryInitial
	delay.MaxInterval = c.retryMax
	delay.MaxElapsedTime = 0
	return delay
}

// waitRetry sleeps for the next failover delay, honoring ctx cancellation.
func (c *Connection) waitRetry(ctx context.Context, delay *backoff.ExponentialBackOff) bool {
	d := delay.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func markFailed(failed []int, idx, hostCount int) []int {
	if !excludedContains(failed, idx) {
		failed = append(failed, idx)
	}
	if len(failed) >= hostCount {
		// every host failed once: clear the filter and cycle again
		failed = failed[:0]
	}
	return failed
}

// issueToken performs the token issuance call for a JWT authenticator. It
// bypasses the database prefix and the Authorization header.
func (c *Connection) issueToken(ctx context.Context, username, password string) (string, error) {
	req := &Request{
		Method: http.MethodPost,
		Path:   "/_open/auth",
		Body:   api.AuthRequest{Username: username, Password: password},
		noAuth: true,
	}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", newServerError(resp)
	}
	var out api.AuthResponse
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if out.JWT == "" {
		return "", fmt.Errorf("auth response missing token")
	}
	return out.JWT, nil
}

// Ping probes the connection and credentials. 401/403 replies map to
// ErrNoAuth so callers can distinguish bad credentials from other
// failures. Returns the HTTP status code on success.
func (c *Connection) Ping(ctx context.Context) (int, error) {
	resp, err := c.Execute(ctx, &Request{Method: http.MethodGet, Path: "/_api/collection"})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, fmt.Errorf("%w (HTTP %d)", ErrNoAuth, resp.StatusCode)
	}
	if !resp.IsSuccess() {
		return resp.StatusCode, newServerError(resp)
	}
	return resp.StatusCode, nil
}

func (c *Connection) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	cid := CorrelationIDFromContext(ctx)
	if cid == "" {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	return append(enriched, "cid", cid)
}

func (c *Connection) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Trace(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Connection) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Connection) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, c.enrichKeyvals(ctx, keyvals)...)
}
