package playlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildVODRep() *Representation {
	return &Representation{
		ID:        "rep-1",
		Bandwidth: 1_000_000,
		Timescale: 1,
		Segments: []*Segment{
			{MediaSequence: 0, PresentationTime: 0, Duration: 4 * time.Second},
			{MediaSequence: 1, PresentationTime: 4 * time.Second, Duration: 4 * time.Second},
			{MediaSequence: 2, PresentationTime: 8 * time.Second, Duration: 4 * time.Second},
			{MediaSequence: 3, PresentationTime: 12 * time.Second, Duration: 4 * time.Second},
		},
	}
}

func TestPlaylist_Duration_VOD(t *testing.T) {
	p := &Playlist{IsLive: false}
	rep := buildVODRep()

	d, ok := p.Duration(rep)
	require.True(t, ok)
	assert.Equal(t, 16*time.Second, d)
}

func TestPlaylist_Duration_Live_ReturnsNotOK(t *testing.T) {
	p := &Playlist{IsLive: true}
	rep := buildVODRep()

	_, ok := p.Duration(rep)
	assert.False(t, ok)
}

func TestPlaylist_TargetDuration_RoundsUp(t *testing.T) {
	p := &Playlist{}
	rep := &Representation{Segments: []*Segment{
		{Duration: 6*time.Second + 600*time.Millisecond},
	}}
	assert.Equal(t, 7*time.Second, p.TargetDuration(rep))
}

func TestPlaylist_Seek_SnapBefore(t *testing.T) {
	p := &Playlist{}
	rep := buildVODRep()

	seq, snapped, err := p.Seek(rep, SnapBefore, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, 4*time.Second, snapped)
}

func TestPlaylist_Seek_ClampsNearLiveEdge(t *testing.T) {
	p := &Playlist{IsLive: true}
	rep := buildVODRep() // 4 segments, indices 0..3

	seq, _, err := p.Seek(rep, SnapAfter, 15*time.Second)
	require.NoError(t, err)
	// MinLiveDistance=3 means max allowed index is len-1-3 = 0
	assert.Equal(t, uint64(0), seq)
}

func TestPlaylist_CurrentFragment(t *testing.T) {
	p := &Playlist{}
	rep := buildVODRep()

	seg, err := p.CurrentFragment(rep, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seg.MediaSequence)

	_, err = p.CurrentFragment(rep, 99)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestPlaylist_Advance(t *testing.T) {
	p := &Playlist{}
	rep := buildVODRep()

	next, err := p.Advance(rep, 1, Forward)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)

	_, err = p.Advance(rep, 3, Forward)
	assert.ErrorIs(t, err, ErrEndOfStream)

	prev, err := p.Advance(rep, 1, Backward)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), prev)
}

func TestPlaylist_LiveSeekRange_ExcludesTrailingMaxDuration(t *testing.T) {
	p := &Playlist{IsLive: true}
	rep := buildVODRep()

	start, stop := p.LiveSeekRange(rep)
	assert.Equal(t, time.Duration(0), start)
	assert.Equal(t, 12*time.Second, stop) // 16s total - 4s max segment duration
}

func TestRepresentationForBitrate_PicksHighestWithinCap(t *testing.T) {
	set := &AdaptationSet{Representations: []*Representation{
		{ID: "low", Bandwidth: 500_000},
		{ID: "mid", Bandwidth: 1_500_000},
		{ID: "high", Bandwidth: 5_000_000},
	}}

	rep := RepresentationForBitrate(set, 2_000_000, 0, 0, 0)
	assert.Equal(t, "mid", rep.ID)
}

func TestRepresentationForBitrate_FallsBackToLowestWhenNoneFit(t *testing.T) {
	set := &AdaptationSet{Representations: []*Representation{
		{ID: "low", Bandwidth: 5_000_000},
		{ID: "high", Bandwidth: 8_000_000},
	}}

	rep := RepresentationForBitrate(set, 100, 0, 0, 0)
	assert.Equal(t, "low", rep.ID)
}

func TestAdaptationSet_SetCurrent(t *testing.T) {
	repA := &Representation{ID: "a"}
	repB := &Representation{ID: "b"}
	set := &AdaptationSet{Representations: []*Representation{repA, repB}, current: -1}

	assert.Nil(t, set.Current())
	require.True(t, set.SetCurrent(repB))
	assert.Equal(t, repB, set.Current())

	other := &Representation{ID: "c"}
	assert.False(t, set.SetCurrent(other))
}

func TestDefaultIV(t *testing.T) {
	iv := DefaultIV(0x0102030405060708)
	expected := []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, expected, iv)
}
