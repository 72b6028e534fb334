package corvus

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator produces the Authorization header value for outgoing
// requests. Implementations with a token lifecycle additionally implement
// refresher so the executor can force a refresh after a 401.
type Authenticator interface {
	// Header returns the Authorization header value to attach, or an empty
	// string when no credentials apply.
	Header(ctx context.Context) (string, error)
}

// refresher is implemented by authenticators whose credentials can be
// re-obtained. A 401 reply triggers exactly one ForceRefresh + resend.
type refresher interface {
	ForceRefresh(ctx context.Context) error
}

// tokenIssuer performs the token issuance call against the server. The
// connection binds it when the client is constructed, so the authenticator
// never talks to the transport directly.
type tokenIssuer func(ctx context.Context, username, password string) (string, error)

// BasicAuth attaches a Basic credential header to every request. It is
// stateless and safe for concurrent use.
type BasicAuth struct {
	Username string
	Password string
}

// NewBasicAuth returns a basic authentication provider.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{Username: username, Password: password}
}

func (a *BasicAuth) Header(context.Context) (string, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	return "Basic " + credentials, nil
}

// DefaultTokenLeeway is subtracted from a token's expiry when judging
// freshness, absorbing clock drift between client and server.
const DefaultTokenLeeway = 5 * time.Second

// JWTAuth obtains and caches a server-issued JWT for username/password and
// refreshes it when it nears expiry. Token state is shared mutable and
// guarded: concurrent callers observing an expired token wait on the single
// in-flight refresh instead of issuing their own.
type JWTAuth struct {
	username string
	password string

	// Leeway shifts the expiry check earlier. Zero applies
	// DefaultTokenLeeway.
	Leeway time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
	issuer tokenIssuer
}

// NewJWTAuth returns a token authentication provider that logs in with
// username and password on first use.
func NewJWTAuth(username, password string) *JWTAuth {
	return &JWTAuth{username: username, password: password}
}

func (a *JWTAuth) bind(issuer tokenIssuer) { a.issuer = issuer }

func (a *JWTAuth) leeway() time.Duration {
	if a.Leeway > 0 {
		return a.Leeway
	}
	return DefaultTokenLeeway
}

// Token returns the cached token, refreshing it first when it is missing or
// within the expiry leeway. At most one refresh call is in flight per
// provider; concurrent callers block on it and share its outcome.
func (a *JWTAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Now().Before(a.expiry.Add(-a.leeway())) {
		return a.token, nil
	}
	if err := a.refreshLocked(ctx); err != nil {
		return "", err
	}
	return a.token, nil
}

func (a *JWTAuth) Header(ctx context.Context) (string, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return "", err
	}
	return "bearer " + token, nil
}

// ForceRefresh discards the cached token unconditionally and obtains a new
// one. Used after a 401 to rule out a stale-but-not-yet-expired token.
func (a *JWTAuth) ForceRefresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.expiry = time.Time{}
	return a.refreshLocked(ctx)
}

// SetToken installs an externally obtained token, rejecting one that is
// already expired.
func (a *JWTAuth) SetToken(token string) error {
	expiry, err := tokenExpiry(token)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.expiry = expiry
	return nil
}

func (a *JWTAuth) refreshLocked(ctx context.Context) error {
	if a.username == "" || a.password == "" {
		return ErrMissingCredentials
	}
	if a.issuer == nil {
		return fmt.Errorf("corvus: token provider not bound to a connection")
	}
	token, err := a.issuer(ctx, a.username, a.password)
	if err != nil {
		return fmt.Errorf("corvus: token refresh: %w", err)
	}
	expiry, err := tokenExpiry(token)
	if err != nil {
		return err
	}
	a.token = token
	a.expiry = expiry
	return nil
}

// BearerAuth attaches a caller-supplied token verbatim and never refreshes
// it. Used for superuser tokens generated out-of-band.
type BearerAuth struct {
	token string
}

// NewBearerAuth validates the token's expiry claim and returns a static
// bearer authentication provider.
func NewBearerAuth(token string) (*BearerAuth, error) {
	if _, err := tokenExpiry(token); err != nil {
		return nil, err
	}
	return &BearerAuth{token: token}, nil
}

func (a *BearerAuth) Header(context.Context) (string, error) {
	return "bearer " + a.token, nil
}

// tokenExpiry extracts the exp claim without verifying the signature; the
// server is the authority on validity, the client only needs the lifetime
// for its refresh schedule.
func tokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("corvus: decode bearer token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("corvus: bearer token missing exp claim")
	}
	expiry := claims.ExpiresAt.Time
	if !expiry.After(time.Now()) {
		return time.Time{}, ErrTokenExpired
	}
	return expiry, nil
}
