// Package client is the HTTP transport shared by the structured price APIs
// and the plain-fetch page loader. It sets request headers, classifies
// failures, feeds rate limit feedback to a ratelimit.Tracker and skips
// sources that are cooling off.
//
// The client performs a single attempt per call; retries belong to the
// caller's retry policy.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps how much of a response is read.
const MaxBodyBytes = 8 << 20

var (
	sourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_source_requests_total",
		Help: "Total outbound source requests by source and status",
	}, []string{"source", "status"})

	sourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_source_request_duration_seconds",
		Help:    "Outbound source request duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
	}, []string{"source"})

	sourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_source_errors_total",
		Help: "Total outbound source errors by source and class",
	}, []string{"source", "class"})
)

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent when the request does not set its own.
	UserAgent string

	// Timeout bounds each request; zero means 10s.
	Timeout time.Duration

	// Tracker receives rate limit feedback; nil disables tracking.
	Tracker *ratelimit.Tracker

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration with a 10s timeout and in-memory
// rate limit tracking.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   10 * time.Second,
		Tracker:   ratelimit.NewTracker(nil, logging.NewLogger(logging.ComponentRateLimit)),
	}
}

// Client performs requests against price sources.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	userAgent  string
	timeout    time.Duration
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		tracker:    cfg.Tracker,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		logger:     log.With().Str("component", "source-client").Logger(),
	}, nil
}

// Do sends req on behalf of source. A response is returned only for 2xx and
// 3xx statuses; anything else is a *SourceError whose body has been closed.
// The request is bounded by the client timeout unless ctx is shorter.
func (c *Client) Do(ctx context.Context, source string, req *http.Request) (*http.Response, error) {
	if c.tracker != nil {
		allowed, wait, err := c.tracker.Allow(ctx, source)
		if err != nil {
			c.logger.Warn().Err(err).Str("source", source).Msg("Rate limit check failed")
		} else if !allowed {
			sourceRequestsTotal.WithLabelValues(source, "rate_limited").Inc()
			return nil, fmt.Errorf("%s: %w (resets in %s)", source, ErrRateLimited, wait.Round(time.Second))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	c.logger.Debug().
		Str("source", source).
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Msg("Executing source request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	sourceRequestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		cancel()
		class := classifyTransport(err)
		sourceErrorsTotal.WithLabelValues(source, string(class)).Inc()
		sourceRequestsTotal.WithLabelValues(source, string(class)).Inc()
		c.logger.Warn().Err(err).Str("source", source).Str("error_class", string(class)).Msg("Source request failed")
		return nil, &SourceError{Source: source, ErrorClass: class, Message: "request failed", Err: err}
	}

	if c.tracker != nil {
		if err := c.tracker.UpdateFromResponse(ctx, source, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Str("source", source).Msg("Failed to update rate limit from headers")
		}
	}
	sourceRequestsTotal.WithLabelValues(source, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		sourceErrorsTotal.WithLabelValues(source, string(class)).Inc()
		c.logger.Warn().
			Str("source", source).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Source request error")
		resp.Body.Close()
		cancel()
		return nil, &SourceError{Source: source, StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Get fetches url and returns the body.
func (c *Client) Get(ctx context.Context, source, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(ctx, source, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		class := classifyTransport(err)
		return nil, &SourceError{Source: source, StatusCode: resp.StatusCode, ErrorClass: class, Message: "read body", Err: err}
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("%s: %w", source, ErrBodyTooLarge)
	}
	return body, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, source, url string, header http.Header, out any) error {
	body, err := c.Get(ctx, source, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &SourceError{Source: source, StatusCode: http.StatusOK, ErrorClass: ErrorClassClient, Message: "decode json", Err: err}
	}
	return nil
}

// Tracker returns the rate limit tracker, which may be nil.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool {
	return Class(err) == ErrorClassTimeout || errors.Is(err, context.DeadlineExceeded)
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
