package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallSendsHeadersAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.Header.Get("X-Shared"); got != "s3cret" {
			t.Errorf("shared secret header = %q", got)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.JSONRPC != "2.0" || req.Method != "pool_priceOf" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "42"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, BearerToken: " tok ", SharedSecretHeader: "X-Shared", SharedSecretValue: "s3cret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var out string
	if err := client.Call(context.Background(), "pool_priceOf", []string{"DAI"}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "42" {
		t.Fatalf("result = %q", out)
	}
}

func TestCallSurfacesRPCErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": -32000, "message": "insufficient liquidity"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Call(context.Background(), "pool_borrow", nil, nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestCallRejectsHTTPFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Call(context.Background(), "pool_supply", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway || statusErr.Body != "down" {
		t.Fatalf("expected status error for 502, got %v", err)
	}
}

func TestCallRejectsMismatchedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 9999, "result": "1"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var out string
	if err := client.Call(context.Background(), "pool_supplyIndex", []string{"DAI"}, &out); err == nil {
		t.Fatalf("expected id mismatch error")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(Config{AllowInsecure: true}); err == nil {
		t.Fatalf("expected error without base url")
	}
	if _, err := NewClient(Config{BaseURL: "unix:///tmp/pool.sock"}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := NewClient(Config{BaseURL: "https://pool.example", TLSClientCAFile: "/does/not/exist.pem"}); err == nil {
		t.Fatalf("expected error for missing ca file")
	}
}
