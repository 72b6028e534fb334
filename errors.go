package corvus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"pkt.systems/corvus/api"
)

// Sentinel errors for client-origin failures. Match with errors.Is.
var (
	// ErrBatchCommitted is returned when a batch context receives a call
	// after its commit.
	ErrBatchCommitted = errors.New("corvus: batch already committed")
	// ErrJobNotDone is returned when a job result is requested before the
	// job finished.
	ErrJobNotDone = errors.New("corvus: job not done")
	// ErrJobNotFound is returned when the server no longer knows the job,
	// including after its result was fetched and cleared.
	ErrJobNotFound = errors.New("corvus: job not found")
	// ErrTransactionClosed is returned for operations on a transaction
	// handle that was committed, aborted, or poisoned by a failed request.
	ErrTransactionClosed = errors.New("corvus: transaction no longer running")
	// ErrContextNotAllowed is returned when an operation is not permitted
	// under the current execution context.
	ErrContextNotAllowed = errors.New("corvus: operation not allowed in this execution context")
	// ErrMissingCredentials is returned when a token refresh is required
	// but no username/password is configured.
	ErrMissingCredentials = errors.New("corvus: username and password required")
	// ErrTokenExpired is returned when a caller-supplied bearer token is
	// already expired.
	ErrTokenExpired = errors.New("corvus: bearer token expired")
	// ErrNoAuth is returned when the server rejects the configured
	// credentials during a connection probe.
	ErrNoAuth = errors.New("corvus: bad username/password or token expired")
)

// ServerError is a failure reported by the server: an HTTP reply was
// received with a non-2xx status or an embedded error envelope. It always
// means the server saw the request.
type ServerError struct {
	// HTTPCode is the HTTP status code of the reply.
	HTTPCode int
	// ErrorCode is the Corvus error number. When the reply body carried no
	// envelope it falls back to the HTTP status code.
	ErrorCode int
	// Msg is the server's error message, or the HTTP status text.
	Msg string
	// Resp is the prepared response the error was derived from.
	Resp *Response
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("[HTTP %d][ERR %d] %s", e.HTTPCode, e.ErrorCode, e.Msg)
}

// newServerError derives a ServerError from a non-success response.
func newServerError(resp *Response) *ServerError {
	msg := resp.ErrorMessage
	if msg == "" {
		msg = resp.Status
	}
	code := resp.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	return &ServerError{
		HTTPCode:  resp.StatusCode,
		ErrorCode: code,
		Msg:       msg,
		Resp:      resp,
	}
}

// TransportError is a client-origin failure raised before any HTTP reply
// was obtained: connection refused, timeout, TLS failure, or all hosts
// unreachable.
type TransportError struct {
	// Endpoint is the last coordinator attempted.
	Endpoint string
	// Err is the underlying transport failure.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("corvus: transport error (endpoint %s): %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsServerError extracts the ServerError wrapped in err, if any.
func IsServerError(err error) (*ServerError, bool) {
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr, true
	}
	return nil, false
}

/// IsTransportError reports whether err is a transport-level failure: no
// HTTP response was received from any coordinator.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var trErr *TransportError
	return errors.As(err, &trErr)
}

// Errno reports whether err is a server error carrying the given Corvus
// error number.
func Errno(err error, errno int) bool {
	srvErr, ok := IsServerError(err)
	return ok && srvErr.ErrorCode == errno
}

// IsNotFound reports whether err signals a missing document, collection or
// database.
func IsNotFound(err error) bool {
	srvErr, ok := IsServerError(err)
	if !ok {
		return false
	}
	switch srvErr.ErrorCode {
	case api.ErrnoDocumentNotFound, api.ErrnoCollectionNotFound, api.ErrnoDatabaseNotFound:
		return true
	}
	return false
}

// IsUniqueConstraintViolated reports whether err signals a unique index
// violation such as a duplicate document key.
func IsUniqueConstraintViolated(err error) bool {
	return Errno(err, api.ErrnoUniqueConstraintViolated)
}

// IsDuplicateName reports whether err signals a name collision when
// creating a collection or database.
func IsDuplicateName(err error) bool {
	return Errno(err, api.ErrnoDuplicateName)
}

// retryableTransport classifies send failures that justify trying another
// coordinator. Context cancellation is the caller's decision and is never
// retried.
func retryableTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if errors.Is(urlErr.Err, context.Canceled) {
			return false
		}
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
