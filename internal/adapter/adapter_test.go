package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/pkg/playlist"
)

func ladder() *playlist.AdaptationSet {
	set := &playlist.AdaptationSet{
		Representations: []*playlist.Representation{
			{ID: "low", Bandwidth: 800_000, Width: 640, Height: 360},
			{ID: "mid", Bandwidth: 1_500_000, Width: 960, Height: 540},
			{ID: "high", Bandwidth: 2_400_000, Width: 1280, Height: 720},
		},
	}
	set.SetCurrent(set.Representations[0])
	return set
}

func TestSelectBitratePicksHighestAffordable(t *testing.T) {
	a := New(Caps{}, 0)
	a.Observe(300_000, time.Second) // 2,400,000 bits/s

	decision := a.SelectBitrate(ladder(), false)
	require.True(t, decision.Switch)
	assert.Equal(t, "high", decision.Target.ID)
}

func TestSelectBitrateRespectsWidthCap(t *testing.T) {
	a := New(Caps{MaxWidth: 1000}, 0)
	a.Observe(300_000, time.Second)

	decision := a.SelectBitrate(ladder(), false)
	require.True(t, decision.Switch)
	assert.Equal(t, "mid", decision.Target.ID)
}

func TestSelectBitrateNoSwitchInTrickmode(t *testing.T) {
	a := New(Caps{}, 0)
	a.Observe(300_000, time.Second)

	set := ladder()
	decision := a.SelectBitrate(set, true)
	assert.False(t, decision.Switch)
	assert.Equal(t, "low", decision.Target.ID)
}

func TestSelectBitrateNoSwitchWhenAlreadyCurrent(t *testing.T) {
	a := New(Caps{}, 0)
	a.Observe(80_000, time.Second) // ~640,000 bits/s, still picks "low"

	decision := a.SelectBitrate(ladder(), false)
	assert.False(t, decision.Switch)
	assert.Equal(t, "low", decision.Target.ID)
}

func TestDeclineStepsDownOneRung(t *testing.T) {
	a := New(Caps{}, 0)
	set := ladder()

	next, ok := a.Decline(set, set.Representations[2])
	require.True(t, ok)
	assert.Equal(t, "mid", next.ID)
}

func TestDeclineAtFloorFails(t *testing.T) {
	a := New(Caps{}, 0)
	set := ladder()

	_, ok := a.Decline(set, set.Representations[0])
	assert.False(t, ok)
}

func TestTrackerEMASmoothsSamples(t *testing.T) {
	tr := NewTracker(0)
	tr.Observe(1000, time.Second)
	first := tr.RateBps()
	assert.Equal(t, 1000.0, first)

	tr.Observe(2000, time.Second)
	second := tr.RateBps()
	assert.Greater(t, second, first)
	assert.Less(t, second, 2000.0)
}
