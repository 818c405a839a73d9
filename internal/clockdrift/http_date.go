package clockdrift

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/streamcore/corestream/internal/transport"
)

// httpDateSource implements urn:mpeg:dash:utc:http-head:2014: the
// server's current time is read from the Date response header of a HEAD
// request, avoiding a body download entirely.
type httpDateSource struct {
	uri        string
	downloader transport.Downloader
}

func (s *httpDateSource) String() string { return "http-head:" + s.uri }

func (s *httpDateSource) Sample(ctx context.Context) (serverNow, sentAt, receivedAt time.Time, err error) {
	sentAt = time.Now()
	headers, _, err := s.downloader.Head(ctx, s.uri)
	receivedAt = time.Now()
	if err != nil {
		return time.Time{}, sentAt, receivedAt, fmt.Errorf("clockdrift: http-head %s: %w", s.uri, err)
	}

	dateHeader := headers.Get("Date")
	if dateHeader == "" {
		return time.Time{}, sentAt, receivedAt, fmt.Errorf("clockdrift: http-head %s: no Date header", s.uri)
	}
	parsed, err := http.ParseTime(dateHeader)
	if err != nil {
		return time.Time{}, sentAt, receivedAt, fmt.Errorf("clockdrift: http-head %s: parsing Date header: %w", s.uri, err)
	}
	return parsed, sentAt, receivedAt, nil
}
