// Package transcribe is a thin client for an external speech-to-text API.
//
// It encapsulates multipart encoding, the request timeout, and error
// translation. Retry policy is deliberately the caller's concern: a
// failed call is surfaced once, with the upstream body kept verbatim
// for diagnostics.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no upstream credential is set.
var ErrNotConfigured = errors.New("transcription API key is not configured")

// UpstreamError reports a non-success response or transport failure
// from the speech-to-text provider. Body carries the upstream response
// verbatim.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return "transcription upstream unreachable: " + e.Err.Error()
	}
	return fmt.Sprintf("transcription upstream returned %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Config for the transcription client.
type Config struct {
	APIKey   string
	Endpoint string
	Model    string        // defaults to whisper-1
	Timeout  time.Duration // defaults to 30s; a user-facing flow must not hang
}

// Client calls the external transcription endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a transcription client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Configured reports whether an upstream credential is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Transcribe uploads audio and returns the recognized text.
// Fails with ErrNotConfigured when no credential is set, and with
// *UpstreamError when the provider is unreachable, times out, or
// returns non-success.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, contentType, err := buildForm(audio, mimeType, c.cfg.Model)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("transcription request failed", "error", err)
		return "", &UpstreamError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &UpstreamError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("transcription rejected by upstream",
			"status", resp.StatusCode,
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return "", &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &UpstreamError{Status: resp.StatusCode, Body: string(respBody), Err: err}
	}

	c.logger.Info("transcription completed",
		"bytes", len(audio),
		"chars", len(parsed.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return parsed.Text, nil
}

// buildForm encodes the audio as a multipart upload with the model field.
func buildForm(audio []byte, mimeType, model string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName(mimeType)+`"`)
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// fileName derives an upload filename from the mime type; the upstream
// uses the extension to sniff the container format.
func fileName(mimeType string) string {
	ext := "webm"
	if i := strings.Index(mimeType, "/"); i >= 0 && i < len(mimeType)-1 {
		ext = mimeType[i+1:]
		if j := strings.Index(ext, ";"); j >= 0 {
			ext = ext[:j]
		}
	}
	return "audio." + ext
}
