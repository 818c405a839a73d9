package isobmff

import (
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// splitNALs splits a length-prefixed (avc1/hvc1) sample payload into its
// individual NAL units, the access-unit shape mediacommon's
// h264.IsRandomAccess/h265.IsRandomAccess expect.
func splitNALs(payload []byte, nalLengthSize int) [][]byte {
	if nalLengthSize <= 0 {
		nalLengthSize = 4
	}
	var nals [][]byte
	offset := 0
	for offset+nalLengthSize <= len(payload) {
		var nalLen uint32
		switch nalLengthSize {
		case 1:
			nalLen = uint32(payload[offset])
		case 2:
			nalLen = uint32(binary.BigEndian.Uint16(payload[offset:]))
		default:
			nalLen = binary.BigEndian.Uint32(payload[offset:])
		}
		offset += nalLengthSize
		if offset+int(nalLen) > len(payload) {
			break
		}
		nals = append(nals, payload[offset:offset+int(nalLen)])
		offset += int(nalLen)
	}
	return nals
}

// IsRandomAccess is the secondary keyframe classifier: the sync-sample
// table built from trun flags (syncsamples.go) is authoritative when
// available, but callers that need to double-check a sample outside
// that table (e.g. the first sample of a fragment whose flags came from
// a degenerate encoder) can fall back to inspecting the NAL stream
// itself via mediacommon's IDR/IRAP detection.
func IsRandomAccess(track TrackInfo, payload []byte) bool {
	nals := splitNALs(payload, track.NALLengthSize)
	if len(nals) == 0 {
		return false
	}
	switch {
	case track.IsH264:
		return h264.IsRandomAccess(nals)
	case track.IsH265:
		return h265.IsRandomAccess(nals)
	default:
		return false
	}
}
