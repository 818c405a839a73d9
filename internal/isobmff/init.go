package isobmff

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// TrackInfo is the subset of an initialization segment's track
// description the box walker needs: its timescale and, for NAL-based
// video codecs, the length-prefix size used by samples in trun.
type TrackInfo struct {
	ID            int
	Timescale     uint32
	IsH264        bool
	IsH265        bool
	NALLengthSize int
}

// ParseInit decodes an initialization segment (ftyp+moov, or bare moov)
// into per-track info using bluenviron/mediacommon's fmp4.Init decoder.
func ParseInit(data []byte) ([]TrackInfo, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("isobmff: unmarshaling init segment: %w", err)
	}

	infos := make([]TrackInfo, 0, len(init.Tracks))
	for _, track := range init.Tracks {
		info := TrackInfo{ID: track.ID, Timescale: track.TimeScale}
		switch track.Codec.(type) {
		case *mp4.CodecH264:
			info.IsH264 = true
			info.NALLengthSize = 4
		case *mp4.CodecH265:
			info.IsH265 = true
			info.NALLengthSize = 4
		}
		infos = append(infos, info)
	}
	return infos, nil
}
