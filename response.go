package corvus

import (
	"net/http"

	"pkt.systems/corvus/api"
)

// Response is the prepared reply of one API call. It is read-only once
// returned by the execution layer.
type Response struct {
	// Method is the HTTP method of the originating request.
	Method string
	// URL is the full request URL, including the host that served it.
	URL string
	// StatusCode is the HTTP status code.
	StatusCode int
	// Status is the HTTP status text.
	Status string
	// Headers holds the response headers.
	Headers http.Header
	// RawBody is the response body as received (after transfer decoding).
	RawBody []byte
	// ErrorCode is the server error number from the embedded error
	// envelope, or 0 when the reply carries none.
	ErrorCode int
	// ErrorMessage is the server error message from the envelope.
	ErrorMessage string

	codec Serializer
}

// IsSuccess reports whether the reply has a 2xx status and no embedded
// error envelope.
func (r *Response) IsSuccess() bool {
	if r == nil {
		return false
	}
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.ErrorCode == 0
}

// Decode unmarshals the response body into v using the connection's
// serializer.
func (r *Response) Decode(v any) error {
	codec := r.codec
	if codec == nil {
		codec = jsonSerializer{}
	}
	return codec.Unmarshal(r.RawBody, v)
}

// prepareResponse builds a Response from a raw reply body and extracts the
// error envelope when present. Deserialization of the envelope is skipped
// when the originating request asked for a raw response.
func prepareResponse(codec Serializer, method, rawURL string, statusCode int, status string, headers http.Header, body []byte, raw bool) *Response {
	resp := &Response{
		Method:     method,
		URL:        rawURL,
		StatusCode: statusCode,
		Status:     status,
		Headers:    headers,
		RawBody:    body,
		codec:      codec,
	}
	if raw || len(body) == 0 {
		return resp
	}
	var envelope api.ErrorEnvelope
	if err := codec.Unmarshal(body, &envelope); err == nil && envelope.Error {
		resp.ErrorCode = envelope.ErrorNum
		resp.ErrorMessage = envelope.ErrorMessage
	}
	return resp
}

// hostUnavailable reports whether the reply indicates a coordinator that is
// up but refusing work (503 with the matching envelope code), in which case
// the executor fails over to another host.
func (r *Response) hostUnavailable() bool {
	return r.StatusCode == http.StatusServiceUnavailable &&
		(r.ErrorCode == http.StatusServiceUnavailable || len(r.RawBody) == 0)
}
