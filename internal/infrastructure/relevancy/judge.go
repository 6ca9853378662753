package relevancy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

const defaultTimeout = 60 * time.Second

// Judge scores content against the product's topical focus by calling an
// external model endpoint.
type Judge struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

var _ ports.Judge = (*Judge)(nil)

func NewJudge(endpoint, apiKey string, log *slog.Logger) *Judge {
	return &Judge{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With("component", "relevancy"),
	}
}

// NewJudgeWithClient is used by tests to inject a transport.
func NewJudgeWithClient(endpoint, apiKey string, httpClient *http.Client, log *slog.Logger) *Judge {
	j := NewJudge(endpoint, apiKey, log)
	j.httpClient = httpClient
	return j
}

type scoreRequest struct {
	Platform    string `json:"platform"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Body        string `json:"body,omitempty"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score asks the judge for a relevancy score in [0, 1] for one record.
func (j *Judge) Score(ctx context.Context, c *domain.Content) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		Platform:    string(c.Platform),
		URL:         c.URL,
		Title:       c.Title,
		Description: c.Description,
		Body:        c.Body,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return 0, domain.TransientUpstream("score content", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, domain.TransientUpstream("score content", fmt.Errorf("judge status %d", resp.StatusCode))
	default:
		return 0, domain.PermanentUpstream("score content", fmt.Errorf("judge status %d", resp.StatusCode))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, domain.TransientUpstream("score content", fmt.Errorf("decode response: %w", err))
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, domain.PermanentUpstream("score content", fmt.Errorf("score %v outside [0,1]", out.Score))
	}
	return out.Score, nil
}
