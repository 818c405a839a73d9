package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/internal/adapter"
	"github.com/streamcore/corestream/internal/fragment"
	"github.com/streamcore/corestream/internal/isobmff"
	"github.com/streamcore/corestream/internal/typefind"
	"github.com/streamcore/corestream/pkg/playlist"
)

type fakeDownloader struct {
	bodies map[string][]byte
}

func (d *fakeDownloader) Get(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	b, ok := d.bodies[uri]
	if !ok {
		return nil, "", fmt.Errorf("fake: no body registered for %s", uri)
	}
	return io.NopCloser(bytes.NewReader(b)), uri, nil
}

func (d *fakeDownloader) GetRange(ctx context.Context, uri string, start, end int64) (io.ReadCloser, string, error) {
	return d.Get(ctx, uri)
}

func (d *fakeDownloader) Head(ctx context.Context, uri string) (http.Header, string, error) {
	return http.Header{}, uri, nil
}

// mpegtsBody builds n bytes with three 0x47 sync bytes spaced 188 apart at
// offset 0, enough for typefind.MagicByteProber to recognize MPEG-TS once
// buffered past its 2 KiB threshold.
func mpegtsBody(n int) []byte {
	buf := make([]byte, n)
	buf[0] = 0x47
	buf[188] = 0x47
	buf[376] = 0x47
	return buf
}

func twoSegmentTrack(downloader *fakeDownloader) (*Track, chan Event) {
	rep := &playlist.Representation{
		ID:        "v0",
		Bandwidth: 100_000,
		Segments: []*playlist.Segment{
			{MediaSequence: 0, URI: "frag0", Duration: 2 * time.Second},
			{MediaSequence: 1, URI: "frag1", Duration: 2 * time.Second},
		},
	}
	set := &playlist.AdaptationSet{Representations: []*playlist.Representation{rep}}
	pl := &playlist.Playlist{
		IsLive:  false,
		Periods: []*playlist.Period{{AdaptationSets: []*playlist.AdaptationSet{set}}},
	}

	keyCache := fragment.NewKeyCache(downloader, 0)
	ad := adapter.New(adapter.Caps{}, 0)
	events := make(chan Event, 16)

	tr := NewTrack("t0", pl, set, downloader, keyCache, typefind.MagicByteProber{}, nil, ad, events, Config{}, nil)
	return tr, events
}

func TestTrackRunEmitsBuffersThenEndOfStream(t *testing.T) {
	downloader := &fakeDownloader{bodies: map[string][]byte{
		"frag0": mpegtsBody(3000),
		"frag1": mpegtsBody(3000),
	}}
	tr, events := twoSegmentTrack(downloader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr.Run(ctx)
	close(events)

	var buffers, eos, errs int
	for ev := range events {
		switch ev.Kind {
		case EventBuffer:
			buffers++
		case EventEndOfStream:
			eos++
		case EventError:
			errs++
		}
	}
	assert.Equal(t, 2, buffers)
	assert.Equal(t, 1, eos)
	assert.Equal(t, 0, errs)
}

func TestTrackRunFailsFatalAfterMaxRetries(t *testing.T) {
	downloader := &fakeDownloader{bodies: map[string][]byte{
		"frag1": mpegtsBody(3000),
		// frag0 deliberately missing so every attempt at it fails.
	}}
	tr, events := twoSegmentTrack(downloader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr.Run(ctx)
	close(events)

	var gotFatal bool
	for ev := range events {
		if ev.Kind == EventError {
			gotFatal = true
			require.Error(t, ev.Err)
		}
	}
	assert.True(t, gotFatal)
}

func TestComputeTargetTimeLowBufferSeeksAhead(t *testing.T) {
	state := TrickmodeState{CurRT: 10 * time.Second, AvgDownload: 100 * time.Millisecond}
	target := ComputeTargetTime(state, 9800*time.Millisecond, TrickCaps{}, 1)
	assert.True(t, target >= state.CurRT)
}

func TestComputeTargetTimeHealthyBufferStepsByAvgDownload(t *testing.T) {
	state := TrickmodeState{CurRT: 10 * time.Second, AvgDownload: 50 * time.Millisecond}
	// buffer_level = CurRT - nowRT = 1s, which is >= 4*avg_dl (200ms) ->
	// default branch: step = avg_dl.
	target := ComputeTargetTime(state, 9*time.Second, TrickCaps{}, 1)
	assert.Equal(t, state.CurRT+state.AvgDownload, target)
}

func TestComputeTargetTimeHonorsMinSkipFloor(t *testing.T) {
	state := TrickmodeState{
		CurRT:            10 * time.Second,
		AvgDownload:      10 * time.Millisecond,
		LastKeyframeDist: 2 * time.Second,
	}
	target := ComputeTargetTime(state, 9*time.Second, TrickCaps{}, 1)
	assert.Equal(t, state.CurRT+state.LastKeyframeDist, target)
}

func TestComputeTargetTimeReverseDirectionSubtracts(t *testing.T) {
	state := TrickmodeState{CurRT: 10 * time.Second, AvgDownload: 50 * time.Millisecond}
	target := ComputeTargetTime(state, 9*time.Second, TrickCaps{}, -1)
	assert.True(t, target < state.CurRT)
}

func TestComputeTargetTimeCapsByMaxFramerate(t *testing.T) {
	state := TrickmodeState{CurRT: 10 * time.Second, AvgDownload: time.Millisecond}
	caps := TrickCaps{MaxFramerate: 2} // minimum 500ms between keyframes
	target := ComputeTargetTime(state, 9*time.Second, caps, 1)
	assert.GreaterOrEqual(t, target-state.CurRT, 500*time.Millisecond)
}

func TestInitialChunkSizeAddsHeaderMoofAndKeyframe(t *testing.T) {
	table := isobmff.SyncSampleTable{MoofAvgSize: 500, KeyframeAvgSize: 4000}
	got := InitialChunkSize(1000, table)
	assert.EqualValues(t, 1000+500+4000, got)
}

func TestRefineRangeKeepsChunkWhenSyncSampleFollowsMoof(t *testing.T) {
	sample := isobmff.SyncSample{StartOffset: 1000, EndOffset: 5000}
	keep, rng := RefineRange(sample, 1000, 6000)
	assert.True(t, keep)
	assert.Equal(t, playlist.ByteRange{Offset: 1000, Size: 4000}, rng)
}

func TestRefineRangeRefetchesWhenSyncSampleIsElsewhere(t *testing.T) {
	sample := isobmff.SyncSample{StartOffset: 9000, EndOffset: 12000}
	keep, rng := RefineRange(sample, 1000, 6000)
	assert.False(t, keep)
	assert.Equal(t, playlist.ByteRange{Offset: 9000, Size: 3000}, rng)
}
