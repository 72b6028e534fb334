package corvus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "root",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestBasicAuthHeader(t *testing.T) {
	auth := NewBasicAuth("root", "passwd")
	header, err := auth.Header(context.Background())
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	credentials, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		t.Fatalf("header %q lacks Basic prefix", header)
	}
	decoded, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		t.Fatalf("decode credentials: %v", err)
	}
	if string(decoded) != "root:passwd" {
		t.Fatalf("credentials = %q, want root:passwd", decoded)
	}
}

func TestJWTAuthSingleFlight(t *testing.T) {
	var issued atomic.Int32
	auth := NewJWTAuth("root", "passwd")
	auth.bind(func(context.Context, string, string) (string, error) {
		time.Sleep(20 * time.Millisecond)
		issued.Add(1)
		return signedToken(t, time.Hour), nil
	})

	const workers = 16
	var wg sync.WaitGroup
	headers := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers[i], errs[i] = auth.Header(context.Background())
		}(i)
	}
	wg.Wait()
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if !strings.HasPrefix(headers[i], "bearer ") {
			t.Fatalf("worker %d header %q lacks bearer prefix", i, headers[i])
		}
	}
	if n := issued.Load(); n != 1 {
		t.Fatalf("issuer called %d times under concurrency, want 1", n)
	}
}

func TestJWTAuthRefreshesWithinLeeway(t *testing.T) {
	var issued atomic.Int32
	auth := NewJWTAuth("root", "passwd")
	auth.bind(func(context.Context, string, string) (string, error) {
		issued.Add(1)
		// expires inside the default leeway, so every call refreshes
		return signedToken(t, 2*time.Second), nil
	})
	for i := 0; i < 3; i++ {
		if _, err := auth.Token(context.Background()); err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
	}
	if n := issued.Load(); n != 3 {
		t.Fatalf("issuer called %d times, want 3", n)
	}
}

func TestJWTAuthForceRefreshReplacesToken(t *testing.T) {
	var issued atomic.Int32
	auth := NewJWTAuth("root", "passwd")
	auth.bind(func(context.Context, string, string) (string, error) {
		n := issued.Add(1)
		claims := jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("gen-%d", n),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	})
	first, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if err := auth.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	second, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("token after refresh: %v", err)
	}
	if first == second {
		t.Fatal("force refresh kept the old token")
	}
	if n := issued.Load(); n != 2 {
		t.Fatalf("issuer called %d times, want 2", n)
	}
}

func TestJWTAuthSetTokenRejectsExpired(t *testing.T) {
	auth := NewJWTAuth("root", "passwd")
	if err := auth.SetToken(signedToken(t, -time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("set expired token: %v, want ErrTokenExpired", err)
	}
	if err := auth.SetToken(signedToken(t, time.Hour)); err != nil {
		t.Fatalf("set valid token: %v", err)
	}
	header, err := auth.Header(context.Background())
	if err != nil {
		t.Fatalf("header after set: %v", err)
	}
	if !strings.HasPrefix(header, "bearer ") {
		t.Fatalf("header %q lacks bearer prefix", header)
	}
}

func TestJWTAuthMissingCredentials(t *testing.T) {
	auth := NewJWTAuth("", "")
	auth.bind(func(context.Context, string, string) (string, error) {
		t.Fatal("issuer must not be called without credentials")
		return "", nil
	})
	if _, err := auth.Token(context.Background()); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("token without credentials: %v, want ErrMissingCredentials", err)
	}
}

func TestBearerAuth(t *testing.T) {
	if _, err := NewBearerAuth(signedToken(t, -time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired bearer token: %v, want ErrTokenExpired", err)
	}
	token := signedToken(t, time.Hour)
	auth, err := NewBearerAuth(token)
	if err != nil {
		t.Fatalf("new bearer auth: %v", err)
	}
	header, err := auth.Header(context.Background())
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if header != "bearer "+token {
		t.Fatalf("header = %q, want lowercase bearer scheme", header)
	}
}
