package mpegts

import "encoding/binary"

// applePRIVOwner is the ID3v2 PRIV frame owner identifier Apple's HLS
// packager writes into the first TS fragment of an audio-only AAC
// carrier.
const applePRIVOwner = "com.apple.streaming.transportStreamTimestamp"

// AppleID3Timestamp extracts the 33-bit MPEG-TS PTS Apple's PRIV frame
// carries and reports how many leading bytes made up the ID3v2 header so
// the caller can strip it from the outgoing buffer. ok is
// false when buf doesn't begin with a recognizable ID3v2 tag containing
// that PRIV frame.
func AppleID3Timestamp(buf []byte) (ptsNs int64, headerLen int, ok bool) {
	if len(buf) < 10 || buf[0] != 'I' || buf[1] != 'D' || buf[2] != '3' {
		return 0, 0, false
	}
	tagSize := synchsafe(buf[6:10])
	totalLen := 10 + tagSize
	if totalLen > len(buf) {
		totalLen = len(buf)
	}

	frames := buf[10:totalLen]
	for len(frames) >= 10 {
		frameID := string(frames[0:4])
		frameSize := int(binary.BigEndian.Uint32(frames[4:8]))
		if frameSize <= 0 || 10+frameSize > len(frames) {
			break
		}
		frameBody := frames[10 : 10+frameSize]

		if frameID == "PRIV" {
			if pts, found := parsePRIVTimestamp(frameBody); found {
				return ptsToNs(pts), totalLen, true
			}
		}
		frames = frames[10+frameSize:]
	}
	return 0, 0, false
}

// synchsafe decodes a 4-byte ID3v2 synchsafe integer (each byte's MSB is
// always 0, 7 usable bits per byte).
func synchsafe(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

// parsePRIVTimestamp matches the Apple transportStreamTimestamp owner
// and decodes its 8-byte big-endian payload (a 33-bit 90 kHz PTS).
func parsePRIVTimestamp(body []byte) (int64, bool) {
	owner := applePRIVOwner + "\x00"
	if len(body) < len(owner)+8 || string(body[:len(owner)]) != owner {
		return 0, false
	}
	payload := body[len(owner) : len(owner)+8]
	raw := int64(binary.BigEndian.Uint64(payload))
	// The 64-bit field carries a 33-bit PTS; mask to the MPEG-TS PTS
	// width in case an encoder leaves high bits dirty.
	return raw & 0x1ffffffff, true
}

// ptsToNs converts a 90 kHz-referenced MPEG-TS PTS value to
// nanoseconds.
func ptsToNs(pts int64) int64 {
	return pts * 100000 / 9
}
