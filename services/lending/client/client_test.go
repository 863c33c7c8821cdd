package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlend/services/lending/engine"
)

func TestClientSendsFlowsWithToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/borrow", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req engine.FlowRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "250", req.Amount)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action":"borrow"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", "secret")
	require.NoError(t, err)
	out, err := c.Flow(context.Background(), "borrow", engine.FlowRequest{Account: "0xa1", Market: "DAI", Amount: "250"})
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"borrow"}`, string(out))

	_, err = c.Flow(context.Background(), "steal", engine.FlowRequest{})
	require.ErrorContains(t, err, "unknown flow")
}

func TestClientDecodesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/markets/USDC" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"lending: not found","code":"not_found","requestId":"abc"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Market(context.Background(), "USDC")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "not_found", apiErr.Code)
	require.Contains(t, apiErr.Error(), "request abc")

	_, err = c.Markets(context.Background())
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "upstream down", apiErr.Message)
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New("", "")
	require.Error(t, err)
	_, err = New("ftp://example.com", "")
	require.ErrorContains(t, err, "unsupported scheme")
}
