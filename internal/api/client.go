package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable reports that no daemon answered at the configured address.
var ErrUnavailable = errors.New("daemon API unavailable")

// Client talks to a running daemon over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for bind (host:port or a full URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Ledger lists processed files.
func (c *Client) Ledger(ctx context.Context) (LedgerResponse, error) {
	var out LedgerResponse
	err := c.do(ctx, http.MethodGet, "/api/ledger", nil, &out)
	return out, err
}

// KnownBad lists files excluded from processing.
func (c *Client) KnownBad(ctx context.Context) (KnownBadResponse, error) {
	var out KnownBadResponse
	err := c.do(ctx, http.MethodGet, "/api/known-bad", nil, &out)
	return out, err
}

// Rescan asks the daemon to scan the input directory.
func (c *Client) Rescan(ctx context.Context) (RescanResponse, error) {
	var out RescanResponse
	err := c.do(ctx, http.MethodPost, "/api/rescan", nil, &out)
	return out, err
}

// RetryKnownBad clears known-bad markers for files (all when empty).
func (c *Client) RetryKnownBad(ctx context.Context, files []string) (RetryResponse, error) {
	var out RetryResponse
	err := c.do(ctx, http.MethodPost, "/api/known-bad/retry", RetryRequest{Files: files}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return ErrUnavailable
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
