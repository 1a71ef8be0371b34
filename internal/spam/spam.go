// Package spam is a thin client for the self-hosted spam classification
// service. The model runs out of process; this client forwards batches of
// texts and returns the per-text labels.
package spam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// UpstreamError reports a non-success response or transport failure from
// the classifier service. Body carries the upstream response verbatim.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return "spam classifier unreachable: " + e.Err.Error()
	}
	return fmt.Sprintf("spam classifier returned %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Config for the classifier client.
type Config struct {
	BaseURL string        // service root; /predict is appended
	Timeout time.Duration // defaults to 10s
}

// Client calls the classifier's predict endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a classifier client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Predict classifies each text as "ham" or "spam", preserving order.
// Fails with *UpstreamError when the service is unreachable, times out,
// or returns non-success.
func (c *Client) Predict(ctx context.Context, texts []string) ([]string, error) {
	payload, err := json.Marshal(map[string][]string{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("spam prediction request failed", "error", err)
		return nil, &UpstreamError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("spam prediction rejected by upstream",
			"status", resp.StatusCode,
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody), Err: err}
	}

	c.logger.Info("spam prediction completed",
		"texts", len(texts),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return parsed.Labels, nil
}
