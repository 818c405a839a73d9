package dash

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/pkg/playlist"
)

// mpdLive is a live MPD with a SegmentTemplate and a UTCTiming source.
const mpdLive = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic"
     availabilityStartTime="2026-01-01T00:00:00Z"
     minimumUpdatePeriod="PT4S"
     timeShiftBufferDepth="PT60S"
     suggestedPresentationDelay="PT12S">
  <UTCTiming schemeIdUri="urn:mpeg:dash:utc:http-xsdate:2014" value="http://h/time"/>
  <Period id="0" start="PT0S">
    <AdaptationSet contentType="video">
      <Representation id="v0" bandwidth="2000000" width="1280" height="720">
        <SegmentTemplate timescale="1" duration="4" startNumber="1" media="$RepresentationID$_$Number$.m4s" initialization="$RepresentationID$_init.mp4"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>
`

func TestParse_LiveTemplate(t *testing.T) {
	pl, err := Parse([]byte(mpdLive), "http://h/live.mpd")
	require.NoError(t, err)
	assert.True(t, pl.IsLive)
	require.NotNil(t, pl.MinimumUpdatePeriod)
	assert.Equal(t, 4*time.Second, *pl.MinimumUpdatePeriod)
	require.NotNil(t, pl.SuggestedPresentationDelay)
	assert.Equal(t, 12*time.Second, *pl.SuggestedPresentationDelay)
	require.NotNil(t, pl.TimeShiftBufferDepth)
	assert.Equal(t, 60*time.Second, *pl.TimeShiftBufferDepth)
	require.NotNil(t, pl.AvailabilityStartTime)
	assert.Equal(t, 2026, pl.AvailabilityStartTime.Year())
	require.Len(t, pl.UTCTimingSources, 1)
	assert.Equal(t, "urn:mpeg:dash:utc:http-xsdate:2014", pl.UTCTimingSources[0].Scheme)

	rep := pl.Periods[0].AdaptationSets[0].Representations[0]
	assert.Equal(t, "http://h/v0_init.mp4", rep.InitURI)
	require.GreaterOrEqual(t, len(rep.Segments), 1)
	assert.Equal(t, "http://h/v0_1.m4s", rep.Segments[0].URI)
	assert.Equal(t, 4*time.Second, rep.Segments[0].Duration)
}

const mpdTimeline = `<?xml version="1.0"?>
<MPD type="static">
  <Period>
    <AdaptationSet contentType="audio" lang="en">
      <Representation id="a0" bandwidth="64000">
        <SegmentTemplate timescale="48000" media="a0_$Time$.m4s">
          <SegmentTimeline>
            <S t="0" d="96000"/>
            <S d="96000" r="2"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>
`

func TestParse_SegmentTimeline(t *testing.T) {
	pl, err := Parse([]byte(mpdTimeline), "http://h/vod.mpd")
	require.NoError(t, err)

	set := pl.Periods[0].AdaptationSets[0]
	assert.Equal(t, playlist.KindAudio, set.Kind)
	assert.Equal(t, "en", set.Language)

	rep := set.Representations[0]
	require.Len(t, rep.Segments, 4)
	assert.Equal(t, "http://h/a0_0.m4s", rep.Segments[0].URI)
	assert.Equal(t, "http://h/a0_96000.m4s", rep.Segments[1].URI)
	for i, seg := range rep.Segments {
		assert.Equal(t, uint64(i), seg.MediaSequence)
		assert.Equal(t, 2*time.Second, seg.Duration)
		assert.Equal(t, time.Duration(i)*2*time.Second, seg.PresentationTime)
	}
}

const mpdList = `<?xml version="1.0"?>
<MPD type="static">
  <Period>
    <AdaptationSet contentType="video">
      <Representation id="v0" bandwidth="1000000">
        <SegmentList timescale="1" duration="10">
          <Initialization sourceURL="init.mp4" range="0-699"/>
          <SegmentURL media="seg1.m4s" mediaRange="700-10699"/>
          <SegmentURL media="seg2.m4s" mediaRange="10700-20699"/>
        </SegmentList>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>
`

func TestParse_SegmentList(t *testing.T) {
	pl, err := Parse([]byte(mpdList), "http://h/vod.mpd")
	require.NoError(t, err)

	rep := pl.Periods[0].AdaptationSets[0].Representations[0]
	assert.Equal(t, playlist.SegmentIndexFixedList, rep.SegmentIndexKind)
	assert.Equal(t, "http://h/init.mp4", rep.InitURI)
	require.NotNil(t, rep.InitRange)
	assert.Equal(t, int64(0), rep.InitRange.Offset)
	assert.Equal(t, int64(700), rep.InitRange.Size)

	require.Len(t, rep.Segments, 2)
	require.NotNil(t, rep.Segments[0].Range)
	assert.Equal(t, int64(700), rep.Segments[0].Range.Offset)
	assert.Equal(t, int64(10000), rep.Segments[0].Range.Size)
	assert.Equal(t, 10*time.Second, rep.Segments[1].PresentationTime)
}

const mpdOnDemandSIDX = `<?xml version="1.0"?>
<MPD type="static" profiles="urn:mpeg:dash:profile:isoff-on-demand:2011">
  <Period>
    <AdaptationSet contentType="video">
      <Representation id="v0" bandwidth="5000000">
        <BaseURL>video.mp4</BaseURL>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>
`

func TestParse_OnDemandSIDX(t *testing.T) {
	pl, err := Parse([]byte(mpdOnDemandSIDX), "http://h/vod.mpd")
	require.NoError(t, err)
	assert.False(t, pl.IsLive)

	rep := pl.Periods[0].AdaptationSets[0].Representations[0]
	assert.Equal(t, "http://h/video.mp4", rep.SIDXURI)
}

func TestUpdate_NoOpOnIdenticalBytes(t *testing.T) {
	existing, err := Parse([]byte(mpdTimeline), "http://h/vod.mpd")
	require.NoError(t, err)

	updated, err := Update(existing, []byte(mpdTimeline), []byte(mpdTimeline), "http://h/vod.mpd")
	require.NoError(t, err)
	assert.Same(t, existing, updated)
}

func TestUpdate_InconsistentURIRejected(t *testing.T) {
	existing, err := Parse([]byte(mpdTimeline), "http://h/vod.mpd")
	require.NoError(t, err)

	// Same timeline, different media template: sequence 0 now maps to a
	// different URI.
	changed := strings.Replace(mpdTimeline, `media="a0_$Time$.m4s"`, `media="b0_$Time$.m4s"`, 1)
	_, err = Update(existing, []byte(mpdTimeline), []byte(changed), "http://h/vod.mpd")
	require.Error(t, err)
	assert.ErrorIs(t, err, playlist.ErrInconsistent)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("not xml at all"), "http://h/x.mpd")
	assert.Error(t, err)

	_, err = Parse([]byte("<SmoothStreamingMedia/>"), "http://h/x.mpd")
	assert.Error(t, err, "wrong root element")

	_, err = Parse([]byte("<MPD type=\"static\"></MPD>"), "http://h/x.mpd")
	assert.Error(t, err, "no periods")
}

func TestParseXSDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"PT4S", 4 * time.Second, true},
		{"PT1H2M3S", time.Hour + 2*time.Minute + 3*time.Second, true},
		{"PT0.5S", 500 * time.Millisecond, true},
		{"P1DT1H", 25 * time.Hour, true},
		{"", 0, false},
		{"4S", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseXSDuration(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "input %q", tt.in)
		}
	}
}
