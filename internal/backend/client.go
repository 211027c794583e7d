// Package backend is the HTTP client for the authoritative backend API. The
// backend upserts records by their client_ref, so re-sending a record during
// sync can never duplicate it.
package backend

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
)

// Record is the wire representation of a syncable record on the backend API.
type Record struct {
	ID        string          `json:"id,omitempty"`
	ClientRef string          `json:"client_ref"`
	OwnerID   string          `json:"owner_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// API is the surface of the backend the sync core consumes. Declared as an
// interface so services can be tested against fakes.
type API interface {
	// CreateRecord posts a record and returns the backend-assigned id.
	CreateRecord(ctx context.Context, rec *Record) (string, error)
	// ListRecords fetches records matching the given query filter.
	ListRecords(ctx context.Context, filter map[string]string) ([]Record, error)
	// UpdateRecord patches an existing record.
	UpdateRecord(ctx context.Context, id string, patch map[string]any) error
	// Status performs the cheap reachability probe call.
	Status(ctx context.Context) error
}

// StatusError is returned for non-2xx backend responses so callers can
// distinguish transient server trouble (5xx) from rejections.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// Transient reports whether a retry might help.
func (e *StatusError) Transient() bool {
	return e.Code >= 500
}

// Client implements API over net/http with a bounded per-call timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateRecord(ctx context.Context, rec *Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/records", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) ListRecords(ctx context.Context, filter map[string]string) ([]Record, error) {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, v)
	}
	path := "/records"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []Record
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateRecord(ctx context.Context, id string, patch map[string]any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	return c.do(ctx, http.MethodPatch, "/records/"+url.PathEscape(id), bytes.NewReader(body), nil)
}

func (c *Client) Status(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/status", nil, nil)
}

// Probe adapts Status to the availability.ProbeFunc shape.
func (c *Client) Probe(ctx context.Context) bool {
	return c.Status(ctx) == nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
