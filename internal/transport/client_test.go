package transport

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastClient(base *http.Client) *Client {
	cfg := DefaultConfig()
	cfg.RetryAttempts = 2
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.BaseClient = base
	return New(cfg)
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	resp, err := newFastClient(nil).Do(mustRequest(t, srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp, err := newFastClient(nil).Do(mustRequest(t, srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := newFastClient(nil).Do(mustRequest(t, srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newFastClient(nil).Do(mustRequest(t, srv.URL))
	require.ErrorIs(t, err, ErrMaxRetries)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = newFastClient(nil).Do(req)
	require.Error(t, err)
}

func TestDoDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		io.WriteString(zw, "#EXTM3U\n")
		zw.Close()
	}))
	defer srv.Close()

	// DisableCompression keeps net/http from silently handling gzip itself,
	// exercising this client's own decoder.
	base := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := newFastClient(base).Do(mustRequest(t, srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "#EXTM3U"))
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	b := newCircuitBreaker(2, 10*time.Millisecond)

	assert.Equal(t, CircuitClosed, b.currentState())
	require.True(t, b.allow())
	b.observe(false)
	require.True(t, b.allow())
	b.observe(false)
	assert.Equal(t, CircuitOpen, b.currentState())
	assert.False(t, b.allow())

	time.Sleep(15 * time.Millisecond)
	require.True(t, b.allow(), "cooldown elapsed, one probe admitted")
	assert.Equal(t, CircuitHalfOpen, b.currentState())
	assert.False(t, b.allow(), "only one probe at a time")

	b.observe(true)
	assert.Equal(t, CircuitClosed, b.currentState())
	assert.True(t, b.allow())
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	b := newCircuitBreaker(1, time.Millisecond)
	require.True(t, b.allow())
	b.observe(false)
	assert.Equal(t, CircuitOpen, b.currentState())

	time.Sleep(2 * time.Millisecond)
	require.True(t, b.allow())
	b.observe(false)
	assert.Equal(t, CircuitOpen, b.currentState())
	assert.False(t, b.allow())
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}
