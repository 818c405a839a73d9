package mss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/corestream/pkg/playlist"
)

const smoothManifest = `<?xml version="1.0" encoding="utf-8"?>
<SmoothStreamingMedia MajorVersion="2" MinorVersion="0" TimeScale="10000000" Duration="100000000" IsLive="FALSE">
  <StreamIndex Type="video" Name="video" Url="QualityLevels({bitrate})/Fragments(video={start time})">
    <QualityLevel Index="0" Bitrate="2000000" FourCC="H264" MaxWidth="1280" MaxHeight="720"/>
    <c t="0" d="20000000"/>
    <c d="20000000" r="4"/>
  </StreamIndex>
</SmoothStreamingMedia>
`

func TestParse_Basic(t *testing.T) {
	pl, err := Parse([]byte(smoothManifest), "http://h/manifest")
	require.NoError(t, err)
	assert.False(t, pl.IsLive)

	set := pl.Periods[0].AdaptationSets[0]
	assert.Equal(t, playlist.KindVideo, set.Kind)
	require.Len(t, set.Representations, 1)

	rep := set.Representations[0]
	require.Len(t, rep.Segments, 6)
	assert.Equal(t, "http://h/QualityLevels(2000000)/Fragments(video=0)", rep.Segments[0].URI)
	assert.Equal(t, "http://h/QualityLevels(2000000)/Fragments(video=20000000)", rep.Segments[1].URI)
}

func TestParse_ChunkTimingAndDurations(t *testing.T) {
	pl, err := Parse([]byte(smoothManifest), "http://h/manifest")
	require.NoError(t, err)

	rep := pl.Periods[0].AdaptationSets[0].Representations[0]
	for i, seg := range rep.Segments {
		assert.Equal(t, uint64(i), seg.MediaSequence)
		assert.Equal(t, 2*time.Second, seg.Duration)
		assert.Equal(t, time.Duration(i)*2*time.Second, seg.PresentationTime)
	}
}

func TestParse_LiveMultiStream(t *testing.T) {
	const manifest = `<?xml version="1.0" encoding="utf-8"?>
<SmoothStreamingMedia TimeScale="10000000" IsLive="TRUE" LookAheadFragmentCount="2">
  <Protection>
    <ProtectionHeader SystemID="9A04F079-9840-4286-AB92-E65BE0885F95">b64payload</ProtectionHeader>
  </Protection>
  <StreamIndex Type="video" Url="QualityLevels({bitrate})/Fragments(video={start time})">
    <QualityLevel Index="0" Bitrate="600000" FourCC="H264" MaxWidth="640" MaxHeight="360"/>
    <QualityLevel Index="1" Bitrate="300000" FourCC="H264" MaxWidth="320" MaxHeight="180"/>
    <c t="120000000" d="20000000"/>
  </StreamIndex>
  <StreamIndex Type="audio" Language="eng" Url="QualityLevels({bitrate})/Fragments(audio={start time})">
    <QualityLevel Index="0" Bitrate="64000" FourCC="AACL" SamplingRate="44100"/>
    <c t="120000000" d="20000000"/>
  </StreamIndex>
</SmoothStreamingMedia>
`
	pl, err := Parse([]byte(manifest), "http://h/manifest")
	require.NoError(t, err)
	assert.True(t, pl.IsLive)
	require.Len(t, pl.Periods[0].AdaptationSets, 2)

	video := pl.Periods[0].AdaptationSets[0]
	assert.Equal(t, playlist.KindVideo, video.Kind)
	require.Len(t, video.Representations, 2)
	// Sorted ascending by bandwidth regardless of manifest order.
	assert.Equal(t, int64(300000), video.Representations[0].Bandwidth)
	assert.Equal(t, int64(600000), video.Representations[1].Bandwidth)
	require.Len(t, video.ContentProtections, 1)
	assert.Equal(t, "9A04F079-9840-4286-AB92-E65BE0885F95", video.ContentProtections[0].SchemeURI)

	audio := pl.Periods[0].AdaptationSets[1]
	assert.Equal(t, playlist.KindAudio, audio.Kind)
	assert.Equal(t, "eng", audio.Language)
	// A chunk with an explicit t anchors presentation time mid-stream.
	assert.Equal(t, 12*time.Second, audio.Representations[0].Segments[0].PresentationTime)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("<MPD></MPD>"), "http://h/manifest")
	assert.Error(t, err, "wrong root element")

	_, err = Parse([]byte("<SmoothStreamingMedia></SmoothStreamingMedia>"), "http://h/manifest")
	assert.Error(t, err, "no stream indexes")

	_, err = Parse([]byte{0xff, 0xfe, 0x00}, "http://h/manifest")
	assert.Error(t, err, "not UTF-8")
}
