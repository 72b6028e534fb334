package corvus

import (
	"net/url"
	"strconv"
)

// driverVersion is reported to the server via the x-corvus-driver header.
const driverVersion = "0.9.2"

// Request describes one logical API call before it is handed to an execution
// context. Wrappers construct a Request, submit it via Executor.Execute, and
// must not mutate it afterwards: retries and deferred contexts resend the
// descriptor verbatim.
type Request struct {
	// Method is the HTTP method, upper case ("GET", "POST", ...).
	Method string
	// Path is the endpoint path relative to the database prefix, e.g.
	// "/_api/document/people". Paths under /_open/ are sent without the
	// database prefix.
	Path string
	// Headers holds additional request headers. Keys are matched
	// case-insensitively on the wire.
	Headers map[string]string
	// Params holds URL query parameters.
	Params url.Values
	// Body is the request payload. Values of type []byte and string are
	// sent as-is; anything else is serialized with the connection's
	// serializer.
	Body any
	// RawResponse disables body deserialization on the reply. Used for
	// endpoints that return non-JSON payloads.
	RawResponse bool

	// noAuth suppresses the Authorization header. Only the token issuance
	// call uses it.
	noAuth bool
}

// SetHeader sets a request header, initializing the map when needed, and
// returns the request for chaining during construction.
func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string, 4)
	}
	r.Headers[key] = value
	return r
}

// SetParam sets a query parameter. Boolean and integer values should be
// rendered with SetBoolParam/strconv by the caller.
func (r *Request) SetParam(key, value string) *Request {
	if r.Params == nil {
		r.Params = make(url.Values, 4)
	}
	r.Params.Set(key, value)
	return r
}

// SetBoolParam sets a query parameter from a bool.
func (r *Request) SetBoolParam(key string, value bool) *Request {
	return r.SetParam(key, strconv.FormatBool(value))
}

// clone returns a shallow copy with copied header/param maps. The execution
// layer clones before stamping context headers so the caller's descriptor
// stays untouched.
func (r *Request) clone() *Request {
	dup := *r
	if r.Headers != nil {
		dup.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			dup.Headers[k] = v
		}
	}
	if r.Params != nil {
		dup.Params = make(url.Values, len(r.Params))
		for k, v := range r.Params {
			dup.Params[k] = append([]string(nil), v...)
		}
	}
	return &dup
}

// pathWithQuery renders Path plus encoded query parameters.
func (r *Request) pathWithQuery() string {
	if len(r.Params) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Params.Encode()
}
