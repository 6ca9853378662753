package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

const defaultTimeout = 30 * time.Second

// Client talks to the asynchronous scraping provider over HTTP. Submission
// returns immediately with a snapshot id; results are collected later by
// polling.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

var _ ports.ScrapeProvider = (*Client)(nil)

func New(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With("component", "scrape"),
	}
}

// NewWithClient is used by tests to inject a transport.
func NewWithClient(baseURL, token string, httpClient *http.Client, log *slog.Logger) *Client {
	c := New(baseURL, token, log)
	c.httpClient = httpClient
	return c
}

type submitRequest struct {
	URLs       []string `json:"urls"`
	MaxResults int      `json:"max_results"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit requests a scrape of the given profile URLs and returns the
// provider's snapshot id.
func (c *Client) Submit(ctx context.Context, urls []string, maxResults int) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: submit without urls", domain.ErrConstraintViolation)
	}

	body, err := json.Marshal(submitRequest{URLs: urls, MaxResults: maxResults})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/snapshots", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", domain.PermanentUpstream("submit scrape", fmt.Errorf("provider returned no snapshot id"))
	}

	c.log.Info("scrape submitted", "snapshot_id", resp.ID, "urls", len(urls))
	return resp.ID, nil
}

// Status reports the provider-side state of a snapshot.
func (c *Client) Status(ctx context.Context, snapshotID string) (domain.ProviderStatus, error) {
	var status domain.ProviderStatus
	if err := c.do(ctx, http.MethodGet, "/snapshots/"+snapshotID, nil, &status); err != nil {
		return domain.ProviderStatus{}, err
	}
	return status, nil
}

// Items downloads the scraped dataset of a ready snapshot as raw
// provider-shaped records.
func (c *Client) Items(ctx context.Context, snapshotID string) ([]map[string]any, error) {
	var items []map[string]any
	if err := c.do(ctx, http.MethodGet, "/snapshots/"+snapshotID+"/items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TransientUpstream(op, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.TransientUpstream(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyStatus splits provider failures into retryable and terminal.
// Throttling and server-side faults clear up on their own; auth and client
// faults never do.
func classifyStatus(op string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.TransientUpstream(op, fmt.Errorf("provider status %d", code))
	default:
		return domain.PermanentUpstream(op, fmt.Errorf("provider status %d", code))
	}
}
