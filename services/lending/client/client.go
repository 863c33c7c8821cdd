package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"peerlend/services/lending/engine"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response from lendingd.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("lendingd %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("lendingd %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls the lendingd HTTP API. Responses are returned as raw JSON.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New returns a client for baseURL. token is sent as a bearer token when set.
func New(baseURL, token string) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	return &Client{base: parsed, token: strings.TrimSpace(token), http: &http.Client{Timeout: defaultTimeout}}, nil
}

func (c *Client) Markets(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/markets", nil)
}

func (c *Client) Market(ctx context.Context, market string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/markets/"+url.PathEscape(market), nil)
}

func (c *Client) List(ctx context.Context, market, list string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/markets/"+url.PathEscape(market)+"/lists/"+url.PathEscape(list), nil)
}

func (c *Client) Position(ctx context.Context, account, market string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/positions/"+url.PathEscape(market), nil)
}

func (c *Client) Health(ctx context.Context, account string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/health", nil)
}

// Flow submits supply, borrow, withdraw or repay.
func (c *Client) Flow(ctx context.Context, action string, req engine.FlowRequest) (json.RawMessage, error) {
	switch action {
	case "supply", "borrow", "withdraw", "repay":
	default:
		return nil, fmt.Errorf("unknown flow %q", action)
	}
	return c.do(ctx, http.MethodPost, "/v1/"+action, req)
}

func (c *Client) Liquidate(ctx context.Context, req engine.LiquidationRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/liquidate", req)
}

func (c *Client) SetPaused(ctx context.Context, paused bool) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/v1/admin/pause", map[string]bool{"paused": paused})
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return nil, apiErr
	}
	return json.RawMessage(data), nil
}
