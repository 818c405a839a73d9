package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/internal/isobmff"
	"github.com/streamcore/corestream/pkg/playlist"
)

func buildLivePlaylist() (*playlist.Playlist, *playlist.Representation) {
	rep := &playlist.Representation{ID: "v0"}
	for i := uint64(0); i < 10; i++ {
		rep.Segments = append(rep.Segments, &playlist.Segment{
			MediaSequence:    i,
			PresentationTime: time.Duration(i) * 4 * time.Second,
			Duration:         4 * time.Second,
		})
	}
	set := &playlist.AdaptationSet{Representations: []*playlist.Representation{rep}}
	period := &playlist.Period{AdaptationSets: []*playlist.AdaptationSet{set}}
	pl := &playlist.Playlist{IsLive: true, Periods: []*playlist.Period{period}}
	return pl, rep
}

func TestRepositionClampsLiveSequence(t *testing.T) {
	pl, rep := buildLivePlaylist()

	// last=9, MinLiveDistance=3 -> max allowed sequence is 6.
	assert.Equal(t, uint64(6), Reposition(pl, rep, 9, 0))
	assert.Equal(t, uint64(0), Reposition(pl, rep, 0, 0))
	assert.Equal(t, uint64(4), Reposition(pl, rep, 4, 0))
}

func TestRepositionVODUsesPresentationTime(t *testing.T) {
	pl, rep := buildLivePlaylist()
	pl.IsLive = false

	seq := Reposition(pl, rep, 0, 21*time.Second)
	assert.Equal(t, uint64(5), seq) // segment 5 spans [20s,24s)
}

func TestSeekRangeShiftsByClockCompensation(t *testing.T) {
	pl, rep := buildLivePlaylist()
	depth := 20 * time.Second
	pl.TimeShiftBufferDepth = &depth

	start, stop := SeekRange(pl, rep, 2*time.Second)
	// last segment ends at 40s; start = 40-20+2=22s, stop = 40-4+2=38s
	assert.Equal(t, 22*time.Second, start)
	assert.Equal(t, 38*time.Second, stop)
}

func TestBackoffMultiplierSequence(t *testing.T) {
	assert.Equal(t, 0.5, backoffMultiplier(0))
	assert.Equal(t, 1.5, backoffMultiplier(1))
	assert.Equal(t, 3.0, backoffMultiplier(2))
	assert.Equal(t, 3.0, backoffMultiplier(5))
}

func TestControllerRetriesAndResetsOnSuccess(t *testing.T) {
	pl, _ := buildLivePlaylist()
	var calls atomic.Int32
	var failFirst atomic.Bool
	failFirst.Store(true)

	refresh := func(ctx context.Context) error {
		calls.Add(1)
		if failFirst.Swap(false) {
			return errors.New("boom")
		}
		return nil
	}

	c := NewController(pl, time.Millisecond, refresh, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	c.mu.Lock()
	assert.Equal(t, 1, c.attempt, "the failed first attempt counts toward the backoff")
	c.mu.Unlock()

	// The next attempt is 6s away (1.5x the 4s target duration); run it now.
	c.tick()
	assert.Equal(t, int32(2), calls.Load())
	c.mu.Lock()
	assert.Equal(t, 0, c.attempt, "a successful refresh resets the backoff")
	c.mu.Unlock()
}

func TestLookaheadTrackerNeverShrinks(t *testing.T) {
	var tracker LookaheadTracker
	tracker.Merge(&isobmff.TfrfBox{Entries: []isobmff.TfrfEntry{{AbsoluteTime: 1}, {AbsoluteTime: 2}}})
	assert.Equal(t, 2, tracker.NextFragmentCount())

	tracker.Merge(&isobmff.TfrfBox{Entries: []isobmff.TfrfEntry{{AbsoluteTime: 1}}})
	assert.Equal(t, 2, tracker.NextFragmentCount())

	tracker.Merge(&isobmff.TfrfBox{Entries: []isobmff.TfrfEntry{{AbsoluteTime: 3}}})
	assert.Equal(t, 3, tracker.NextFragmentCount())
}
