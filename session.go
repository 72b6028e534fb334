package corvus

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/corvus/tlsutil"
)

// HTTPClient abstracts the transport layer: it creates one session per
// configured coordinator at client construction, and performs sends through
// that session. Substitute an implementation via WithHTTPClient to inject
// proxies, tracing round-trippers or test doubles without touching the
// executor.
type HTTPClient interface {
	// CreateSession returns the persistent transport handle for host.
	// Sessions are created once and reused for the client's lifetime.
	CreateSession(host string) (*http.Client, error)
	// Do performs one send on a previously created session.
	Do(session *http.Client, req *http.Request) (*http.Response, error)
}

// Transport tuning shared by all default sessions.
const (
	defaultMaxIdleConns        = 256
	defaultMaxIdleConnsPerHost = 128
	defaultDialKeepAlive       = 15 * time.Second
)

// DefaultHTTPClient is the stock transport: net/http with keep-alive
// connection pooling and the client's TLS policy.
type DefaultHTTPClient struct {
	// TLS overrides the TLS client configuration for https hosts. Nil uses
	// system roots.
	TLS *tls.Config
	// InsecureSkipVerify disables server certificate verification. Ignored
	// when TLS is set.
	InsecureSkipVerify bool
}

func (d *DefaultHTTPClient) CreateSession(host string) (*http.Client, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("corvus: default transport is %T, not *http.Transport", http.DefaultTransport)
	}
	tr := base.Clone()
	if tr.MaxIdleConns < defaultMaxIdleConns {
		tr.MaxIdleConns = defaultMaxIdleConns
	}
	if tr.MaxIdleConnsPerHost < defaultMaxIdleConnsPerHost {
		tr.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	switch {
	case d.TLS != nil:
		tr.TLSClientConfig = d.TLS.Clone()
	case d.InsecureSkipVerify:
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	// Per-request deadlines come from the request context; a client-level
	// timeout would cap long polls too.
	return &http.Client{Transport: tr}, nil
}

func (d *DefaultHTTPClient) Do(session *http.Client, req *http.Request) (*http.Response, error) {
	return session.Do(req)
}

// tlsConfigFromBundle builds the mutual-TLS client configuration for a
// loaded PEM bundle (CA certificates plus client certificate and key).
func tlsConfigFromBundle(bundle *tlsutil.ClientBundle) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{bundle.Certificate},
		RootCAs:      bundle.CAPool,
	}
}

// ParseEndpoints splits a hosts string into normalized endpoint URLs. The
// string may be a single URL or a comma-separated list; scheme defaults to
// http and trailing slashes are dropped.
func ParseEndpoints(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	return NormalizeEndpoints(parts)
}

// NormalizeEndpoints validates and normalizes a slice of endpoint URLs.
func NormalizeEndpoints(endpoints []string) ([]string, error) {
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		normalized, err := normalizeEndpoint(ep)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("corvus: at least one host required")
	}
	return out, nil
}

func normalizeEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("corvus: empty host in endpoint list")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("corvus: parse endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("corvus: endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("corvus: endpoint %q: missing host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
