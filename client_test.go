package corvus_test

import (
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pkt.systems/corvus"
	"pkt.systems/corvus/api"
)

func testToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func writeEnvelope(w http.ResponseWriter, httpCode, errno int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(api.ErrorEnvelope{
		Error:        true,
		ErrorNum:     errno,
		ErrorMessage: msg,
		Code:         httpCode,
	})
}

func TestDriverAndCorrelationHeaders(t *testing.T) {
	var driver, correlation atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		driver.Store(r.Header.Get("x-corvus-driver"))
		correlation.Store(r.Header.Get("X-Correlation-Id"))
		json.NewEncoder(w).Encode(api.VersionResponse{Server: "corvus", Version: "3.12.0"})
	}))
	defer srv.Close()

	client, err := corvus.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := corvus.WithCorrelationID(t.Context(), "req-ab12")
	version, err := client.SystemDB().Version(ctx, false)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version.Version != "3.12.0" {
		t.Fatalf("version = %q, want 3.12.0", version.Version)
	}
	if got, _ := driver.Load().(string); !strings.HasPrefix(got, "corvus-go/") {
		t.Fatalf("driver header = %q", got)
	}
	if got, _ := correlation.Load().(string); got != "req-ab12" {
		t.Fatalf("correlation header = %q, want req-ab12", got)
	}
}

func TestJWTLoginAndRetryAfterRejectedToken(t *testing.T) {
	var issued atomic.Int32
	var apiHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_open/auth", func(w http.ResponseWriter, r *http.Request) {
		var body api.AuthRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username != "root" || body.Password != "passwd" {
			writeEnvelope(w, http.StatusUnauthorized, api.ErrnoForbidden, "bad credentials")
			return
		}
		n := issued.Add(1)
		json.NewEncoder(w).Encode(api.AuthResponse{JWT: testToken(t, fmt.Sprintf("gen-%d", n), time.Hour)})
	})
	var firstToken atomic.Value
	mux.HandleFunc("GET /_db/_system/_api/collection", func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		auth := r.Header.Get("Authorization")
		if prev, _ := firstToken.Load().(string); prev == "" {
			// reject the first token once to force a refresh
			firstToken.Store(auth)
			writeEnvelope(w, http.StatusUnauthorized, api.ErrnoForbidden, "token rejected")
			return
		} else if auth == prev {
			writeEnvelope(w, http.StatusUnauthorized, api.ErrnoForbidden, "token rejected")
			return
		}
		if !strings.HasPrefix(auth, "bearer ") {
			writeEnvelope(w, http.StatusUnauthorized, api.ErrnoForbidden, "bad scheme")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := corvus.New(srv.URL, corvus.WithJWTAuth("root", "passwd"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Ping(t.Context()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if n := issued.Load(); n != 2 {
		t.Fatalf("tokens issued = %d, want 2 (login plus one forced refresh)", n)
	}
	if n := apiHits.Load(); n != 2 {
		t.Fatalf("api attempts = %d, want 2 (original plus one resend)", n)
	}
}

func TestSecondUnauthorizedSurfaces(t *testing.T) {
	var issued atomic.Int32
	var apiHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_open/auth", func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		json.NewEncoder(w).Encode(api.AuthResponse{JWT: testToken(t, fmt.Sprintf("gen-%d", n), time.Hour)})
	})
	mux.HandleFunc("GET /_db/_system/_api/version", func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		writeEnvelope(w, http.StatusUnauthorized, api.ErrnoForbidden, "not authorized")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := corvus.New(srv.URL, corvus.WithJWTAuth("root", "passwd"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SystemDB().Version(t.Context(), false)
	srvErr, ok := corvus.IsServerError(err)
	if !ok {
		t.Fatalf("version error = %v, want ServerError", err)
	}
	if srvErr.HTTPCode != http.StatusUnauthorized || srvErr.ErrorCode != api.ErrnoForbidden {
		t.Fatalf("unexpected server error %v", srvErr)
	}
	if n := issued.Load(); n != 2 {
		t.Fatalf("tokens issued = %d, want 2", n)
	}
	if n := apiHits.Load(); n != 2 {
		t.Fatalf("api attempts = %d, want exactly one retry", n)
	}
}

func TestFailoverToHealthyHost(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.VersionResponse{Server: "corvus", Version: "3.12.0"})
	}))
	defer healthy.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	client, err := corvus.New(dead.URL+","+healthy.URL,
		corvus.WithResolverStrategy(corvus.StrategyRoundRobin),
		corvus.WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SystemDB().Version(t.Context(), false); err != nil {
		t.Fatalf("version should fail over to the healthy host: %v", err)
	}
}

func TestAllHostsDown(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	b.Close()

	client, err := corvus.New(a.URL+","+b.URL,
		corvus.WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SystemDB().Version(t.Context(), false)
	if !corvus.IsTransportError(err) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if !strings.Contains(err.Error(), "all hosts unreachable") {
		t.Fatalf("error %q should report exhausted tries", err)
	}
}

func TestOverloadedHostFailover(t *testing.T) {
	var overloadedHits atomic.Int32
	overloaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overloadedHits.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, http.StatusServiceUnavailable, "maintenance")
	}))
	defer overloaded.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.VersionResponse{Server: "corvus", Version: "3.12.0"})
	}))
	defer healthy.Close()

	client, err := corvus.New(overloaded.URL+","+healthy.URL,
		corvus.WithResolverStrategy(corvus.StrategyRoundRobin),
		corvus.WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SystemDB().Version(t.Context(), false); err != nil {
		t.Fatalf("version should fail over past the 503 host: %v", err)
	}
	if overloadedHits.Load() == 0 {
		t.Fatal("overloaded host was never tried")
	}
}

func TestServerErrorTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, api.ErrnoDocumentNotFound, "document not found")
	}))
	defer srv.Close()

	client, err := corvus.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var doc map[string]any
	_, err = client.Database("shop").Collection("orders").GetDocument(t.Context(), "missing", &doc)
	if err == nil {
		t.Fatal("expected document not found error")
	}
	want := fmt.Sprintf("[HTTP %d][ERR %d] document not found", http.StatusNotFound, api.ErrnoDocumentNotFound)
	if err.Error() != want {
		t.Fatalf("error = %q, want %q", err, want)
	}
	if !corvus.IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false", err)
	}
	if corvus.IsUniqueConstraintViolated(err) {
		t.Fatalf("IsUniqueConstraintViolated(%v) = true", err)
	}
}

func TestAllowDirtyReads(t *testing.T) {
	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("x-corvus-allow-dirty-read"))
		json.NewEncoder(w).Encode(map[string]string{"_key": "1", "state": "shipped"})
	}))
	defer srv.Close()

	client, err := corvus.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	db := client.Database("shop").AllowDirtyReads()
	var doc map[string]string
	if _, err := db.Collection("orders").GetDocument(t.Context(), "1", &doc); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got, _ := header.Load().(string); got != "true" {
		t.Fatalf("dirty read header = %q, want true", got)
	}
	if doc["state"] != "shipped" {
		t.Fatalf("document = %v", doc)
	}
}

func TestOverloadControlQueueTime(t *testing.T) {
	var boundSeen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boundSeen.Store(r.Header.Get("x-corvus-queue-time-seconds"))
		w.Header().Set("x-corvus-queue-time-seconds", "0.035")
		json.NewEncoder(w).Encode(api.DocumentMeta{ID: "orders/1", Key: "1", Rev: "_a"})
	}))
	defer srv.Close()

	client, err := corvus.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	db, oc := client.Database("shop").WithOverloadControl(2.5)
	if _, _, err := db.Collection("orders").InsertDocument(t.Context(), map[string]any{"_key": "1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, _ := boundSeen.Load().(string); got != "2.5" {
		t.Fatalf("queue time bound header = %q, want 2.5", got)
	}
	seconds, ok := oc.QueueTime()
	if !ok || seconds != 0.035 {
		t.Fatalf("observed queue time = %v, %v; want 0.035, true", seconds, ok)
	}
}

func TestRequestCompression(t *testing.T) {
	type order struct {
		Key  string `json:"_key"`
		Note string `json:"note"`
	}
	want := order{Key: "big", Note: strings.Repeat("corvus ", 64)}
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "deflate" {
			t.Errorf("content encoding = %q, want deflate", r.Header.Get("Content-Encoding"))
		}
		zr, err := zlib.NewReader(r.Body)
		if err != nil {
			t.Errorf("zlib reader: %v", err)
			return
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		var doc order
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Errorf("unmarshal body: %v", err)
			return
		}
		got.Store(doc)
		json.NewEncoder(w).Encode(api.DocumentMeta{ID: "orders/big", Key: "big", Rev: "_a"})
	}))
	defer srv.Close()

	client, err := corvus.New(srv.URL,
		corvus.WithRequestCompression(corvus.DeflateCompression{MinSize: 64}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	meta, _, err := client.Database("shop").Collection("orders").InsertDocument(t.Context(), want)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if meta.Key != "big" {
		t.Fatalf("meta key = %q, want big", meta.Key)
	}
	if doc, _ := got.Load().(order); doc != want {
		t.Fatalf("server received %+v, want %+v", doc, want)
	}
}

func TestPingWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeEnvelope(w, http.StatusUnauthorized, api.ErrnoForbidden, "not authorized")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	}))
	defer srv.Close()

	anonymous, err := corvus.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := anonymous.Ping(t.Context()); !errors.Is(err, corvus.ErrNoAuth) {
		t.Fatalf("anonymous ping error = %v, want ErrNoAuth", err)
	}

	authed, err := corvus.New(srv.URL, corvus.WithBasicAuth("root", "passwd"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	code, err := authed.Ping(t.Context())
	if err != nil {
		t.Fatalf("authenticated ping: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("ping status = %d, want 200", code)
	}

	// verification at construction fails fast on rejected credentials
	if _, err := corvus.New(srv.URL, corvus.WithVerify()); !errors.Is(err, corvus.ErrNoAuth) {
		t.Fatalf("verified construction error = %v, want ErrNoAuth", err)
	}
	if _, err := corvus.New(srv.URL, corvus.WithBasicAuth("root", "passwd"), corvus.WithVerify()); err != nil {
		t.Fatalf("verified construction with credentials: %v", err)
	}
}

func TestEndpointParsing(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
		err  bool
	}{
		{raw: "db1:8529", want: []string{"http://db1:8529"}},
		{raw: "http://db1:8529/", want: []string{"http://db1:8529"}},
		{raw: "https://db1:8529, db2:8529", want: []string{"https://db1:8529", "http://db2:8529"}},
		{raw: "ftp://db1:8529", err: true},
		{raw: " ,", err: true},
	}
	for _, tc := range cases {
		got, err := corvus.ParseEndpoints(tc.raw)
		if tc.err {
			if err == nil {
				t.Fatalf("ParseEndpoints(%q) should fail, got %v", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseEndpoints(%q): %v", tc.raw, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("ParseEndpoints(%q) = %v, want %v", tc.raw, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("ParseEndpoints(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		}
	}
}
