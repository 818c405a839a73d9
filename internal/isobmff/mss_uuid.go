package isobmff

import (
	"encoding/binary"
	"fmt"
)

// Microsoft Smooth Streaming extension box UUIDs (MS-SSTR §2.2.6.1-2).
var (
	uuidTfxd = [16]byte{0x6d, 0x1d, 0x9b, 0x05, 0x42, 0xd5, 0x44, 0xe6, 0x80, 0xe2, 0x14, 0x1d, 0xaf, 0xf7, 0x57, 0xb2}
	uuidTfrf = [16]byte{0xd4, 0x80, 0x7e, 0xf2, 0xca, 0x39, 0x46, 0x95, 0x8e, 0x54, 0x26, 0xcb, 0x9e, 0x46, 0xa7, 0x9f}
)

// TfxdBox carries a fragment's MSS-reported absolute presentation time
// and duration.
type TfxdBox struct {
	AbsoluteTime uint64
	Duration     uint64
}

// TfrfEntry is one look-ahead (time, duration) pair from a tfrf box,
// describing fragments beyond the current one that the server already
// knows about.
type TfrfEntry struct {
	AbsoluteTime uint64
	Duration     uint64
}

// TfrfBox is the decoded look-ahead table.
type TfrfBox struct {
	Entries []TfrfEntry
}

// parseUUIDBox dispatches a uuid box's 16-byte extended type to the MSS
// tfxd/tfrf decoders. ok is false for uuid boxes this package doesn't
// recognize.
func parseUUIDBox(payload []byte) (tfxd *TfxdBox, tfrf *TfrfBox, ok bool, err error) {
	if len(payload) < 16 {
		return nil, nil, false, nil
	}
	var id [16]byte
	copy(id[:], payload[:16])
	body := payload[16:]

	switch id {
	case uuidTfxd:
		b, err := parseTfxd(body)
		return b, nil, true, err
	case uuidTfrf:
		b, err := parseTfrf(body)
		return nil, b, true, err
	default:
		return nil, nil, false, nil
	}
}

func parseTfxd(data []byte) (*TfxdBox, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("isobmff: tfxd too short")
	}
	version, _ := fullBoxVersion(binary.BigEndian.Uint32(data[0:4]))
	off := 4
	if version == 1 {
		if len(data) < off+16 {
			return nil, fmt.Errorf("isobmff: tfxd v1 truncated")
		}
		return &TfxdBox{
			AbsoluteTime: binary.BigEndian.Uint64(data[off : off+8]),
			Duration:     binary.BigEndian.Uint64(data[off+8 : off+16]),
		}, nil
	}
	if len(data) < off+8 {
		return nil, fmt.Errorf("isobmff: tfxd v0 truncated")
	}
	return &TfxdBox{
		AbsoluteTime: uint64(binary.BigEndian.Uint32(data[off : off+4])),
		Duration:     uint64(binary.BigEndian.Uint32(data[off+4 : off+8])),
	}, nil
}

func parseTfrf(data []byte) (*TfrfBox, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("isobmff: tfrf too short")
	}
	version, _ := fullBoxVersion(binary.BigEndian.Uint32(data[0:4]))
	count := int(data[4])
	off := 5

	b := &TfrfBox{}
	entrySize := 8
	if version == 1 {
		entrySize = 16
	}
	for i := 0; i < count; i++ {
		if len(data) < off+entrySize {
			return nil, fmt.Errorf("isobmff: tfrf entry %d truncated", i)
		}
		var entry TfrfEntry
		if version == 1 {
			entry.AbsoluteTime = binary.BigEndian.Uint64(data[off : off+8])
			entry.Duration = binary.BigEndian.Uint64(data[off+8 : off+16])
		} else {
			entry.AbsoluteTime = uint64(binary.BigEndian.Uint32(data[off : off+4]))
			entry.Duration = uint64(binary.BigEndian.Uint32(data[off+4 : off+8]))
		}
		b.Entries = append(b.Entries, entry)
		off += entrySize
	}
	return b, nil
}

// MergeLookahead merges fresh tfrf entries into an existing look-ahead
// list without ever shrinking it (Open Question #2 in DESIGN.md: MSS
// look-ahead only grows, since a later tfrf may legitimately report
// fewer entries than a prior one without invalidating fragments already
// scheduled from it).
func MergeLookahead(existing []TfrfEntry, fresh []TfrfEntry) []TfrfEntry {
	seen := make(map[uint64]bool, len(existing))
	for _, e := range existing {
		seen[e.AbsoluteTime] = true
	}
	merged := existing
	for _, e := range fresh {
		if !seen[e.AbsoluteTime] {
			merged = append(merged, e)
			seen[e.AbsoluteTime] = true
		}
	}
	return merged
}
