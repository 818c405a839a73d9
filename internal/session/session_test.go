package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/internal/scheduler"
)

type fakeDownloader struct {
	bodies map[string][]byte
}

func (d *fakeDownloader) Get(_ context.Context, uri string) (io.ReadCloser, string, error) {
	b, ok := d.bodies[uri]
	if !ok {
		return nil, "", fmt.Errorf("fake: no body registered for %s", uri)
	}
	return io.NopCloser(bytes.NewReader(b)), uri, nil
}

func (d *fakeDownloader) GetRange(ctx context.Context, uri string, _, _ int64) (io.ReadCloser, string, error) {
	return d.Get(ctx, uri)
}

func (d *fakeDownloader) Head(_ context.Context, uri string) (http.Header, string, error) {
	return http.Header{}, uri, nil
}

// mpegtsBody builds n bytes with three 0x47 sync bytes spaced 188 apart,
// enough for typefind.MagicByteProber to recognize MPEG-TS.
func mpegtsBody(n int) []byte {
	buf := make([]byte, n)
	buf[0] = 0x47
	buf[188] = 0x47
	buf[376] = 0x47
	return buf
}

// VOD HLS with 3 cleartext segments. Exercises
// session.New's HLS parse path, SelectTrack's adapter seeding, and that
// buffers flow end to end to EventEndOfStream.
func TestSessionVODHLSPlaysToEndOfStream(t *testing.T) {
	manifest := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.0,
seg0.ts
#EXTINF:10.0,
seg1.ts
#EXTINF:10.0,
seg2.ts
#EXT-X-ENDLIST
`
	downloader := &fakeDownloader{bodies: map[string][]byte{
		"http://h/seg0.ts": mpegtsBody(3000),
		"http://h/seg1.ts": mpegtsBody(3000),
		"http://h/seg2.ts": mpegtsBody(3000),
	}}

	s, err := New([]byte(manifest), FlavorHLS, "http://h/media.m3u8", downloader, nil, Caps{FragmentsCache: 2}, nil)
	require.NoError(t, err)

	pl := s.Playlist()
	require.Len(t, pl.Periods, 1)
	require.Len(t, pl.Periods[0].AdaptationSets, 1)
	set := pl.Periods[0].AdaptationSets[0]
	require.NoError(t, s.SelectTrack(context.Background(), set))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)

	var sawBuffer, sawEOS bool
	for ev := range s.Events() {
		if ev.Kind == scheduler.EventBuffer {
			sawBuffer = true
		}
		if ev.Kind == scheduler.EventEndOfStream {
			sawEOS = true
			break
		}
	}
	s.Stop()

	require.True(t, sawBuffer, "expected at least one buffer event")
	require.True(t, sawEOS, "expected end-of-stream event")
}

func TestSessionRejectsUnknownFlavor(t *testing.T) {
	_, err := New([]byte("not a manifest"), Flavor(99), "http://h/x", &fakeDownloader{}, nil, Caps{}, nil)
	require.Error(t, err)
}

// Master HLS: a two-variant master playlist whose media sub-playlist
// must be fetched and resolved before any segment can be requested. The
// track plays the lowest variant's three segments through to
// end-of-stream.
func TestSessionMasterHLSResolvesVariantAndPlays(t *testing.T) {
	master := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720
high.m3u8
`
	low := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.0,
seg0.ts
#EXTINF:10.0,
seg1.ts
#EXTINF:10.0,
seg2.ts
#EXT-X-ENDLIST
`
	downloader := &fakeDownloader{bodies: map[string][]byte{
		"http://h/low.m3u8": []byte(low),
		"http://h/seg0.ts":  mpegtsBody(3000),
		"http://h/seg1.ts":  mpegtsBody(3000),
		"http://h/seg2.ts":  mpegtsBody(3000),
	}}

	s, err := New([]byte(master), FlavorHLS, "http://h/master.m3u8", downloader, nil, Caps{FragmentsCache: 2}, nil)
	require.NoError(t, err)

	set := s.Playlist().Periods[0].AdaptationSets[0]
	require.NoError(t, s.SelectTrack(context.Background(), set))

	// Selection resolved the low variant's sub-playlist into segments.
	rep := set.Current()
	require.NotNil(t, rep)
	require.Equal(t, "http://h/low.m3u8", rep.MediaPlaylistURI)
	require.Len(t, rep.Segments, 3)
	require.Equal(t, "http://h/seg0.ts", rep.Segments[0].URI)
	require.False(t, s.Playlist().IsLiveStream())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)

	var buffers int
	var sawEOS bool
	for ev := range s.Events() {
		if ev.Kind == scheduler.EventBuffer {
			buffers++
		}
		if ev.Kind == scheduler.EventEndOfStream {
			sawEOS = true
			break
		}
		if ev.Kind == scheduler.EventError {
			t.Fatalf("unexpected fatal error: %v", ev.Err)
		}
	}
	s.Stop()

	require.GreaterOrEqual(t, buffers, 3)
	require.True(t, sawEOS)
}
