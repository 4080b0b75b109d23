// Package syncclient is the HTTP client for the reconciliation service.
// It classifies failures into the error taxonomy the producer and the
// dispatcher react to: transport faults are retryable and degrade to the
// outbox, rate limiting is retryable with backoff, everything else is a
// server-reported per-event outcome.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/doorlist/doorlist/internal/model"
)

// TransportError marks a network-level failure: the request may never
// have reached the server, so the outcome is unknown and the events must
// stay queued.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError marks a 429 response. The batch was not processed and
// must be retried after backing off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client talks to the reconciliation service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a sync client. The timeout bounds every request; a timed
// out submission is reported as a TransportError.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit sends one batch of check-in payloads to POST /checkins:sync.
func (c *Client) Submit(ctx context.Context, checks []model.CheckinPayload) (*model.SyncResponse, error) {
	body, err := json.Marshal(model.SyncRequest{Checks: checks})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkins:sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, fmt.Errorf("sync rejected: status %d: %s", resp.StatusCode, data)
	}

	var out model.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// The server may have applied the batch; treat as a transport
		// fault so the events are resubmitted and resolved idempotently.
		return nil, &TransportError{Err: err}
	}

	return &out, nil
}

// FetchGuests reads one page of guests for the local cache refresh.
func (c *Client) FetchGuests(ctx context.Context, page, perPage int) ([]*model.Guest, error) {
	url := c.baseURL + "/guests?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(perPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build guests request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guests fetch rejected: status %d", resp.StatusCode)
	}

	var out struct {
		Guests []*model.Guest `json:"guests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode guests response: %w", err)
	}

	return out.Guests, nil
}

// Ping probes server reachability. It is used by the agent's connectivity
// watcher, not for request authorization.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func retryAfter(resp *http.Response) time.Duration {
	if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}

	return time.Second
}
