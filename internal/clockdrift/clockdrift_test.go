package clockdrift

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/pkg/playlist"
)

// fakeDownloader serves canned responses keyed by URI, for testing
// Sources without a real network round-trip.
type fakeDownloader struct {
	headers map[string]http.Header
	bodies  map[string]string
	err     error
}

func (f *fakeDownloader) Get(_ context.Context, uri string) (io.ReadCloser, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(strings.NewReader(f.bodies[uri])), uri, nil
}

func (f *fakeDownloader) GetRange(ctx context.Context, uri string, _, _ int64) (io.ReadCloser, string, error) {
	return f.Get(ctx, uri)
}

func (f *fakeDownloader) Head(_ context.Context, uri string) (http.Header, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.headers[uri], uri, nil
}

func TestHTTPDateSourceParsesDateHeader(t *testing.T) {
	want := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	headers := http.Header{}
	headers.Set("Date", want.Format(http.TimeFormat))

	dl := &fakeDownloader{headers: map[string]http.Header{"http://origin/time": headers}}
	src := &httpDateSource{uri: "http://origin/time", downloader: dl}

	serverNow, sentAt, receivedAt, err := src.Sample(context.Background())
	require.NoError(t, err)
	assert.True(t, serverNow.Equal(want))
	assert.False(t, sentAt.After(receivedAt))
}

func TestHTTPDateSourceMissingHeader(t *testing.T) {
	dl := &fakeDownloader{headers: map[string]http.Header{"http://origin/time": {}}}
	src := &httpDateSource{uri: "http://origin/time", downloader: dl}

	_, _, _, err := src.Sample(context.Background())
	assert.Error(t, err)
}

func TestHTTPBodySourceXSDate(t *testing.T) {
	want := time.Date(2026, 7, 29, 8, 30, 0, 0, time.UTC)
	dl := &fakeDownloader{bodies: map[string]string{"http://origin/xsdate": want.Format(time.RFC3339) + "\n"}}
	src := &httpBodySource{uri: "http://origin/xsdate", downloader: dl, format: formatXSDate}

	serverNow, _, _, err := src.Sample(context.Background())
	require.NoError(t, err)
	assert.True(t, serverNow.Equal(want))
}

func TestHTTPBodySourceNTPBody(t *testing.T) {
	body := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	unixSeconds := int64(1_800_000_000)
	ntpSeconds := uint32(unixSeconds + ntpEpochOffset)
	body[0] = byte(ntpSeconds >> 24)
	body[1] = byte(ntpSeconds >> 16)
	body[2] = byte(ntpSeconds >> 8)
	body[3] = byte(ntpSeconds)

	dl := &fakeDownloader{bodies: map[string]string{"http://origin/ntpbody": string(body)}}
	src := &httpBodySource{uri: "http://origin/ntpbody", downloader: dl, format: formatNTPBody}

	serverNow, _, _, err := src.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, unixSeconds, serverNow.Unix())
}

func TestBuildSourcesSkipsUnknownSchemes(t *testing.T) {
	timings := []playlist.UTCTimingSource{
		{Scheme: "urn:mpeg:dash:utc:http-head:2014", Value: "http://origin/time"},
		{Scheme: "urn:unknown:scheme", Value: "ignored"},
	}
	sources := BuildSources(timings, &fakeDownloader{})
	require.Len(t, sources, 1)
	assert.Equal(t, "http-head:http://origin/time", sources[0].String())
}

func TestOffsetNowAppliesCompensation(t *testing.T) {
	var offset Offset
	offset.set(5_000_000) // +5s

	before := time.Now()
	now := offset.Now()
	assert.True(t, now.After(before))
	assert.WithinDuration(t, before.Add(5*time.Second), now, 100*time.Millisecond)
}

// stubSource lets Service tests control success/failure deterministically.
type stubSource struct {
	name    string
	fail    bool
	delta   time.Duration
	samples int
}

func (s *stubSource) String() string { return s.name }

func (s *stubSource) Sample(_ context.Context) (time.Time, time.Time, time.Time, error) {
	s.samples++
	sentAt := time.Now()
	receivedAt := sentAt.Add(time.Millisecond)
	if s.fail {
		return time.Time{}, sentAt, receivedAt, assertErr
	}
	return sentAt.Add(s.delta), sentAt, receivedAt, nil
}

var assertErr = assertError("stub source failure")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestServiceSamplesAndPublishesOffset(t *testing.T) {
	var offset Offset
	src := &stubSource{name: "stub", delta: 2 * time.Second}
	svc := NewService([]Source{src}, &offset, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	assert.Equal(t, 1, src.samples)
	assert.InDelta(t, float64(2*time.Second.Microseconds()), float64(offset.Get()), float64(50*time.Millisecond.Microseconds()))
}

func TestServiceWithNoSourcesIsNoop(t *testing.T) {
	var offset Offset
	svc := NewService(nil, &offset, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	assert.Equal(t, int64(0), offset.Get())
}
