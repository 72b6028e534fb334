package corvus

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/corvus/tlsutil"
)

// SystemDatabase is the database requests run against when none is named.
const SystemDatabase = "_system"

// DefaultRequestTimeout bounds each HTTP attempt unless overridden with
// WithRequestTimeout. The caller's context can always be shorter.
const DefaultRequestTimeout = 30 * time.Second

// Failover delay defaults, adjustable with WithRetryBackoff.
const (
	defaultRetryInitial = 50 * time.Millisecond
	defaultRetryMax     = 2 * time.Second
)

// Client is the entry point to a Corvus deployment. It owns the endpoint
// list, the per-endpoint sessions, credentials and codec; databases are
// thin views sharing all of it. Safe for concurrent use.
type Client struct {
	endpoints []string
	resolver  HostResolver
	strategy  ResolverStrategy
	maxTries  int

	httpClient HTTPClient
	sessions   []*http.Client
	auth       Authenticator
	codec      Serializer

	reqCompression  RequestCompression
	respCompression string

	timeout      time.Duration
	retryInitial time.Duration
	retryMax     time.Duration

	tlsConfig          *tls.Config
	insecureSkipVerify bool
	bundlePath         string

	logger pslog.Base
	tracer trace.Tracer

	verify bool

	// set by options that can fail, checked once in NewWithEndpoints
	deferredErr error
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBasicAuth authenticates every request with HTTP basic credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) { c.auth = NewBasicAuth(username, password) }
}

// WithJWTAuth exchanges the credentials for a server-issued token and
// refreshes it transparently when it expires or is rejected.
func WithJWTAuth(username, password string) Option {
	return func(c *Client) { c.auth = NewJWTAuth(username, password) }
}

// WithBearerToken authenticates with a caller-supplied token, for example
// a superuser token signed outside the server. The token is never
// refreshed; construction fails later if it is already expired.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		auth, err := NewBearerAuth(token)
		if err != nil {
			c.deferredErr = err
			return
		}
		c.auth = auth
	}
}

// WithAuthenticator installs a custom credential provider.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *Client) { c.auth = auth }
}

// WithResolverStrategy selects how sequential requests spread over the
// configured endpoints. The default is single-host for one endpoint and
// round-robin otherwise.
func WithResolverStrategy(strategy ResolverStrategy) Option {
	return func(c *Client) { c.strategy = strategy }
}

// WithHostResolver installs a custom resolver, overriding the strategy.
func WithHostResolver(resolver HostResolver) Option {
	return func(c *Client) { c.resolver = resolver }
}

// WithMaxTries bounds the failover attempts per request. The default is
// three times the endpoint count.
func WithMaxTries(n int) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithHTTPClient substitutes the transport layer.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTLSConfig sets the TLS client configuration for https endpoints.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithInsecureSkipVerify disables server certificate verification.
func WithInsecureSkipVerify() Option {
	return func(c *Client) { c.insecureSkipVerify = true }
}

// WithClientBundlePath loads a PEM bundle (CA certificates, client
// certificate and key) and derives the mutual-TLS configuration from it.
func WithClientBundlePath(path string) Option {
	return func(c *Client) { c.bundlePath = path }
}

// WithSerializer replaces the JSON payload codec.
func WithSerializer(codec Serializer) Option {
	return func(c *Client) { c.codec = codec }
}

// WithRequestCompression compresses request bodies at or above the
// compressor's threshold.
func WithRequestCompression(rc RequestCompression) Option {
	return func(c *Client) { c.reqCompression = rc }
}

// WithResponseCompression asks the server to compress replies with the
// given encoding ("deflate" or "gzip").
func WithResponseCompression(encoding string) Option {
	return func(c *Client) { c.respCompression = encoding }
}

// WithRequestTimeout bounds each HTTP attempt. Zero disables the
// client-side deadline entirely.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetryBackoff tunes the delay schedule between failover attempts.
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.retryInitial = initial
		c.retryMax = max
	}
}

// WithVerify probes connectivity and credentials during construction. New
// then fails fast with ErrNoAuth on rejected credentials instead of
// surfacing the failure on first use.
func WithVerify() Option {
	return func(c *Client) { c.verify = true }
}

// New connects to one or more coordinators given as a single URL or a
// comma-separated list, for example "http://db1:8529,http://db2:8529".
// Endpoints without a scheme default to http.
func New(hosts string, opts ...Option) (*Client, error) {
	endpoints, err := ParseEndpoints(hosts)
	if err != nil {
		return nil, err
	}
	return NewWithEndpoints(endpoints, opts...)
}

// NewWithEndpoints is New for an already-split endpoint list.
func NewWithEndpoints(endpoints []string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeEndpoints(endpoints)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoints:    normalized,
		codec:        jsonSerializer{},
		timeout:      DefaultRequestTimeout,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		logger:       pslog.NoopLogger(),
		tracer:       otel.Tracer("pkt.systems/corvus"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.deferredErr != nil {
		return nil, c.deferredErr
	}
	if c.resolver == nil {
		c.resolver, err = newResolver(c.strategy, len(c.endpoints), c.maxTries)
		if err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		tlsCfg := c.tlsConfig
		if tlsCfg == nil && c.bundlePath != "" {
			bundle, err := tlsutil.LoadClientBundle(c.bundlePath)
			if err != nil {
				return nil, fmt.Errorf("corvus: load client bundle: %w", err)
			}
			tlsCfg = tlsConfigFromBundle(bundle)
		}
		c.httpClient = &DefaultHTTPClient{TLS: tlsCfg, InsecureSkipVerify: c.insecureSkipVerify}
	}
	c.sessions = make([]*http.Client, len(c.endpoints))
	for i, ep := range c.endpoints {
		session, err := c.httpClient.CreateSession(ep)
		if err != nil {
			return nil, fmt.Errorf("corvus: create session for %s: %w", ep, err)
		}
		c.sessions[i] = session
	}
	if jwtAuth, ok := c.auth.(*JWTAuth); ok {
		// token issuance runs over the _system connection without the
		// database prefix
		jwtAuth.bind(c.connection(SystemDatabase).issueToken)
	}
	if c.verify {
		if _, err := c.Ping(context.Background()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// connection builds the per-database view over the shared transport.
func (c *Client) connection(dbName string) *Connection {
	prefixes := make([]string, len(c.endpoints))
	for i, ep := range c.endpoints {
		prefixes[i] = ep + "/_db/" + dbName
	}
	return &Connection{
		hosts:           c.endpoints,
		prefixes:        prefixes,
		dbName:          dbName,
		resolver:        c.resolver,
		transport:       c.httpClient,
		sessions:        c.sessions,
		auth:            c.auth,
		codec:           c.codec,
		reqCompression:  c.reqCompression,
		respCompression: c.respCompression,
		timeout:         c.timeout,
		retryInitial:    c.retryInitial,
		retryMax:        c.retryMax,
		logger:          c.logger,
		tracer:          c.tracer,
	}
}

// Database returns a handle on the named database. No server round trip
// is made; a missing database surfaces on first use as errno 1228.
func (c *Client) Database(name string) *Database {
	conn := c.connection(name)
	return &Database{conn: conn, exec: &defaultExecutor{conn: conn}, name: name}
}

// SystemDB returns the handle on the _system database.
func (c *Client) SystemDB() *Database {
	return c.Database(SystemDatabase)
}

// Endpoints returns the normalized endpoint list.
func (c *Client) Endpoints() []string {
	out := make([]string, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// Ping verifies connectivity and credentials against the _system database.
func (c *Client) Ping(ctx context.Context) (int, error) {
	return c.connection(SystemDatabase).Ping(ctx)
}
