// Package client talks to the segment server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/logger"
)

// RetryConfig configures retries of transient segment failures.
type RetryConfig struct {
	MaxAttempts   int           // total attempts including the first (default: 3)
	InitialDelay  time.Duration // delay before the first retry (default: 500ms)
	MaxDelay      time.Duration // upper bound for any delay (default: 5s)
	BackoffFactor float64       // multiplier per attempt (default: 2.0)
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// delay returns the wait before retry number attempt (1-based).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Client is an HTTP client for the segment server. It implements
// playback.Fetcher.
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryConfig
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the retry policy for segment fetches.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg.withDefaults() }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
		retry:   DefaultRetryConfig(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch requests one segment. TranscodeFailure and Overloaded are retried
// with exponential backoff; every other error is returned immediately.
func (c *Client) Fetch(ctx context.Context, req media.SegmentRequest) (media.SegmentResponse, error) {
	body, err := json.Marshal(media.NewSegmentRequestBody(req))
	if err != nil {
		return media.SegmentResponse{}, fmt.Errorf("encoding segment request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, retryAfter, err := c.fetchOnce(ctx, req.CorrelationID, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !media.Retryable(err) || attempt == c.retry.MaxAttempts {
			break
		}

		wait := max(c.retry.delay(attempt), min(retryAfter, c.retry.MaxDelay))
		c.log.Debug("segment fetch failed, retrying",
			slog.String("correlation_id", req.CorrelationID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return media.SegmentResponse{}, ctx.Err()
		case <-t.C:
		}
	}
	return media.SegmentResponse{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, correlationID string, body []byte) (media.SegmentResponse, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segments", bytes.NewReader(body))
	if err != nil {
		return media.SegmentResponse{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		httpReq.Header.Set(logger.CorrelationHeader, correlationID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return media.SegmentResponse{}, 0, fmt.Errorf("posting segment request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return media.SegmentResponse{}, retryAfter(resp), decodeError(resp)
	}

	var out media.SegmentResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return media.SegmentResponse{}, 0, fmt.Errorf("decoding segment response: %w", err)
	}
	return out.ToResponse(), 0, nil
}

// ListThumbnails returns the server's video list.
func (c *Client) ListThumbnails(ctx context.Context) ([]media.ThumbnailEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/thumbnails", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing thumbnails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var entries []media.ThumbnailEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding thumbnails: %w", err)
	}
	return entries, nil
}

// Upload sends r as a new source video named name and returns its ID.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (media.VideoID, error) {
	u := c.baseURL + "/videos?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, r)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", decodeError(resp)
	}
	var out struct {
		ID media.VideoID `json:"videoId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	return out.ID, nil
}

// decodeError rebuilds a typed error from a non-2xx response.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body media.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.ErrorKind == "" {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return media.ErrorForKind(body.ErrorKind, body.Message)
}

func retryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
