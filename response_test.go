package corvus

import (
	"net/http"
	"testing"
)

func TestPrepareResponseExtractsEnvelope(t *testing.T) {
	body := []byte(`{"error":true,"errorNum":1202,"errorMessage":"document not found","code":404}`)
	resp := prepareResponse(jsonSerializer{}, http.MethodGet, "http://db1:8529/x", 404, "404 Not Found", http.Header{}, body, false)
	if resp.IsSuccess() {
		t.Fatal("error reply reported success")
	}
	if resp.ErrorCode != 1202 || resp.ErrorMessage != "document not found" {
		t.Fatalf("envelope = %d %q", resp.ErrorCode, resp.ErrorMessage)
	}

	err := newServerError(resp)
	if err.Error() != "[HTTP 404][ERR 1202] document not found" {
		t.Fatalf("error string = %q", err)
	}
}

func TestPrepareResponseSuccessWithErrorFalse(t *testing.T) {
	body := []byte(`{"error":false,"code":200,"result":[]}`)
	resp := prepareResponse(jsonSerializer{}, http.MethodGet, "http://db1:8529/x", 200, "200 OK", http.Header{}, body, false)
	if !resp.IsSuccess() {
		t.Fatalf("success reply reported failure: errno %d", resp.ErrorCode)
	}
}

func TestPrepareResponseRawSkipsEnvelope(t *testing.T) {
	body := []byte(`{"error":true,"errorNum":1202}`)
	resp := prepareResponse(jsonSerializer{}, http.MethodGet, "http://db1:8529/x", 200, "200 OK", http.Header{}, body, true)
	if resp.ErrorCode != 0 {
		t.Fatalf("raw response extracted envelope errno %d", resp.ErrorCode)
	}
}

func TestServerErrorFallbacks(t *testing.T) {
	resp := prepareResponse(jsonSerializer{}, http.MethodGet, "http://db1:8529/x", 500, "500 Internal Server Error", http.Header{}, nil, false)
	err := newServerError(resp)
	if err.HTTPCode != 500 || err.ErrorCode != 500 {
		t.Fatalf("fallback codes = %d/%d, want 500/500", err.HTTPCode, err.ErrorCode)
	}
	if err.Msg != "500 Internal Server Error" {
		t.Fatalf("fallback message = %q", err.Msg)
	}
}

func TestHostUnavailable(t *testing.T) {
	cases := []struct {
		status int
		errno  int
		body   []byte
		want   bool
	}{
		{503, 503, []byte(`{"error":true,"errorNum":503,"errorMessage":"maintenance","code":503}`), true},
		{503, 0, nil, true},
		{503, 1202, []byte(`{"error":true,"errorNum":1202,"errorMessage":"x","code":503}`), false},
		{500, 0, nil, false},
	}
	for i, tc := range cases {
		resp := prepareResponse(jsonSerializer{}, http.MethodGet, "http://db1:8529/x", tc.status, "", http.Header{}, tc.body, false)
		if resp.ErrorCode != tc.errno {
			t.Fatalf("case %d: errno = %d, want %d", i, resp.ErrorCode, tc.errno)
		}
		if got := resp.hostUnavailable(); got != tc.want {
			t.Fatalf("case %d: hostUnavailable = %v, want %v", i, got, tc.want)
		}
	}
}
