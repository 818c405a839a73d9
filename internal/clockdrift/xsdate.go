package clockdrift

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/streamcore/corestream/internal/transport"
)

// bodyFormat selects how httpBodySource interprets a fetched response
// body: the xsdate and iso schemes share an ISO-8601 text body, the
// http-ntp scheme carries an 8-byte binary NTP timestamp.
type bodyFormat int

const (
	formatXSDate bodyFormat = iota
	formatISO
	formatNTPBody
)

// httpBodySource implements urn:mpeg:dash:utc:http-xsdate:2014,
// :http-iso:2014, and :http-ntp:2014: the server's current time is read
// from the response body of a GET request, rather than a header.
type httpBodySource struct {
	uri        string
	downloader transport.Downloader
	format     bodyFormat
}

func (s *httpBodySource) String() string {
	switch s.format {
	case formatNTPBody:
		return "http-ntp-body:" + s.uri
	case formatISO:
		return "http-iso:" + s.uri
	default:
		return "http-xsdate:" + s.uri
	}
}

func (s *httpBodySource) Sample(ctx context.Context) (serverNow, sentAt, receivedAt time.Time, err error) {
	sentAt = time.Now()
	body, _, err := s.downloader.Get(ctx, s.uri)
	if err != nil {
		receivedAt = time.Now()
		return time.Time{}, sentAt, receivedAt, fmt.Errorf("clockdrift: %s: %w", s.uri, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, 256))
	receivedAt = time.Now()
	if err != nil {
		return time.Time{}, sentAt, receivedAt, fmt.Errorf("clockdrift: %s: reading body: %w", s.uri, err)
	}

	switch s.format {
	case formatNTPBody:
		serverNow, err = parseNTPBody(raw)
	default:
		serverNow, err = parseXSDateOrISO(raw)
	}
	if err != nil {
		return time.Time{}, sentAt, receivedAt, fmt.Errorf("clockdrift: %s: %w", s.uri, err)
	}
	return serverNow, sentAt, receivedAt, nil
}

// parseXSDateOrISO parses an xs:dateTime or RFC 3339 timestamp body,
// tolerating the small formatting variance real DASH origins emit
// (trailing newline, no sub-second component, "Z" vs explicit offset).
func parseXSDateOrISO(raw []byte) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parsing xs:dateTime/ISO body %q: %w", text, lastErr)
}

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// parseNTPBody decodes an 8-byte NTP timestamp body (32-bit seconds
// since the NTP epoch, 32-bit fraction) for the :http-ntp:2014 scheme.
func parseNTPBody(raw []byte) (time.Time, error) {
	if len(raw) < 8 {
		return time.Time{}, fmt.Errorf("NTP body too short: %d bytes", len(raw))
	}
	seconds := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	fraction := uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])

	unixSeconds := int64(seconds) - ntpEpochOffset
	nanos := int64(float64(fraction) / (1 << 32) * 1e9)
	return time.Unix(unixSeconds, nanos).UTC(), nil
}
