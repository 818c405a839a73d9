// Package transport defines the injected Downloader interface the rest
// of the engine fetches through (spec's UriDownloader), plus a reference
// implementation backed by a resilient HTTP client: retries with
// exponential backoff, a per-client circuit breaker against a flaky
// origin, and transparent gzip/deflate/brotli response decompression.
//
// The retry policy here covers transient transport faults only; the
// scheduler owns fragment-level failure semantics (its own N=3 counter)
// on top of whatever this client could not recover.
package transport

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

var (
	// ErrCircuitOpen is returned while the breaker is rejecting requests.
	ErrCircuitOpen = errors.New("transport: circuit breaker open")
	// ErrMaxRetries wraps the last failure once every attempt is spent.
	ErrMaxRetries = errors.New("transport: max retries exceeded")
)

// HeaderRange is the HTTP Range request header name.
const HeaderRange = "Range"

const (
	defaultTimeout       = 30 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = 1 * time.Second
	defaultRetryMaxDelay = 30 * time.Second
	defaultUserAgent     = "corestream/1.0"
)

// Config tunes the resilient client. Zero values fall back to defaults,
// except RetryAttempts, where 0 means no retries.
type Config struct {
	// Timeout bounds one whole request, including body read.
	Timeout time.Duration

	// RetryAttempts is how many times a failed request is re-issued
	// beyond the first try.
	RetryAttempts int

	// RetryDelay is the first backoff step; each retry doubles it up to
	// RetryMaxDelay.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// UserAgent is set on requests that don't carry one already.
	UserAgent string

	Logger *slog.Logger

	// BaseClient overrides the underlying http.Client, for tests.
	BaseClient *http.Client
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       defaultTimeout,
		RetryAttempts: defaultRetryAttempts,
		RetryDelay:    defaultRetryDelay,
		RetryMaxDelay: defaultRetryMaxDelay,
		UserAgent:     defaultUserAgent,
	}
}

// Client is the retrying, circuit-breaking HTTP client behind
// HTTPDownloader.
type Client struct {
	cfg     Config
	httpc   *http.Client
	breaker *circuitBreaker
	logger  *slog.Logger
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpc := cfg.BaseClient
	if httpc == nil {
		httpc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:     cfg,
		httpc:   httpc,
		breaker: newCircuitBreaker(defaultBreakerThreshold, defaultBreakerCooldown),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults builds a Client with DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do issues req, retrying transient failures with exponential backoff
// while the circuit breaker permits. The response body is transparently
// decompressed when the origin applied a Content-Encoding.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	ctx := req.Context()
	delay := c.cfg.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.cfg.RetryMaxDelay)
		}

		if !c.breaker.allow() {
			lastErr = ErrCircuitOpen
			continue
		}

		start := time.Now()
		resp, err := c.httpc.Do(req)
		if err != nil {
			c.breaker.observe(false)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
			c.logger.Warn("transport: request failed",
				"url", req.URL.String(), "attempt", attempt, "error", err)
			continue
		}

		if retryableStatus(resp.StatusCode) {
			c.breaker.observe(false)
			lastErr = fmt.Errorf("transport: status %d", resp.StatusCode)
			resp.Body.Close()
			c.logger.Warn("transport: retryable status",
				"url", req.URL.String(), "status", resp.StatusCode, "attempt", attempt)
			continue
		}

		c.breaker.observe(true)
		c.logger.Debug("transport: request completed",
			"url", req.URL.String(), "status", resp.StatusCode,
			"elapsed", time.Since(start), "content_length", resp.ContentLength)

		resp.Body = decodeBody(resp)
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

// CircuitState reports the breaker's current state, for the debug HTTP
// surface.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.currentState()
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// decodeBody wraps resp.Body with the decoder matching its
// Content-Encoding, or returns it untouched.
func decodeBody(resp *http.Response) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.Body
		}
		return &decodedBody{r: zr, underlying: resp.Body}
	case "deflate":
		return &decodedBody{r: flate.NewReader(resp.Body), underlying: resp.Body}
	case "br":
		return &decodedBody{r: brotli.NewReader(resp.Body), underlying: resp.Body}
	default:
		return resp.Body
	}
}

type decodedBody struct {
	r          io.Reader
	underlying io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *decodedBody) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		c.Close()
	}
	return d.underlying.Close()
}
