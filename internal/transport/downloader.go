package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Downloader is the injected fetch primitive every component that touches
// the network depends on (manifest parsers, the fragment fetcher, the
// HTTP-date clock source). Components never call net/http directly — this
// keeps the whole tree host-testable with an in-memory fake.
type Downloader interface {
	// Get fetches uri in full and returns the body plus the URI the
	// response was actually served from (after redirects) — callers use
	// the returned URI as the new base for relative resolution.
	Get(ctx context.Context, uri string) (body io.ReadCloser, finalURI string, err error)

	// GetRange fetches a byte range [start, end] (inclusive, end<0 means
	// "to EOF") of uri, for ISOBMFF/MPEG-TS chunked trick-mode refinement.
	GetRange(ctx context.Context, uri string, start, end int64) (body io.ReadCloser, finalURI string, err error)

	// Head performs a HEAD request, used by the HTTP-date clock source to
	// read the Date response header without downloading a body.
	Head(ctx context.Context, uri string) (headers http.Header, finalURI string, err error)
}

// HTTPDownloader is the reference Downloader built on the resilient
// Client above.
type HTTPDownloader struct {
	client *Client
}

// NewHTTPDownloader wraps a resilient Client as a Downloader.
func NewHTTPDownloader(client *Client) *HTTPDownloader {
	if client == nil {
		client = NewWithDefaults()
	}
	return &HTTPDownloader{client: client}
}

func (d *HTTPDownloader) Get(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("transport: building request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, "", fmt.Errorf("transport: %s: status %d", uri, resp.StatusCode)
	}
	return resp.Body, finalURI(resp, uri), nil
}

func (d *HTTPDownloader) GetRange(ctx context.Context, uri string, start, end int64) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("transport: building request: %w", err)
	}
	req.Header.Set(HeaderRange, rangeHeaderValue(start, end))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, "", fmt.Errorf("transport: %s: status %d", uri, resp.StatusCode)
	}
	return resp.Body, finalURI(resp, uri), nil
}

func (d *HTTPDownloader) Head(ctx context.Context, uri string) (http.Header, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("transport: building request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("transport: %s: status %d", uri, resp.StatusCode)
	}
	return resp.Header, finalURI(resp, uri), nil
}

// finalURI returns the URL the response actually came from, which differs
// from the requested URI when the origin issued a redirect. Playlist base
// URIs must track this.
func finalURI(resp *http.Response, requested string) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return requested
}

// rangeHeaderValue builds an HTTP Range header value. end<0 means open-ended.
func rangeHeaderValue(start, end int64) string {
	if end < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

var _ Downloader = (*HTTPDownloader)(nil)
