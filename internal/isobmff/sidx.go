package isobmff

import (
	"encoding/binary"
	"fmt"
)

// SidxEntry is one sub-fragment byte range from a segment index box.
type SidxEntry struct {
	Offset         int64 // byte offset relative to the first byte after the sidx box
	Size           uint32
	Duration       uint32
	StartsWithSAP  bool
	ReferencedSize uint32
}

// Sidx is a decoded segment index box.
type Sidx struct {
	ReferenceID              uint32
	Timescale                uint32
	EarliestPresentationTime uint64
	FirstOffset              uint64
	Entries                  []SidxEntry
}

// parseSidx decodes a sidx box payload (ISO/IEC 14496-12 §8.16.3).
func parseSidx(data []byte) (*Sidx, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("isobmff: sidx too short")
	}
	version, _ := fullBoxVersion(binary.BigEndian.Uint32(data[0:4]))
	s := &Sidx{
		ReferenceID: binary.BigEndian.Uint32(data[4:8]),
		Timescale:   binary.BigEndian.Uint32(data[8:12]),
	}
	off := 12

	if version == 0 {
		if len(data) < off+8 {
			return nil, fmt.Errorf("isobmff: sidx v0 time fields truncated")
		}
		s.EarliestPresentationTime = uint64(binary.BigEndian.Uint32(data[off : off+4]))
		s.FirstOffset = uint64(binary.BigEndian.Uint32(data[off+4 : off+8]))
		off += 8
	} else {
		if len(data) < off+16 {
			return nil, fmt.Errorf("isobmff: sidx v1 time fields truncated")
		}
		s.EarliestPresentationTime = binary.BigEndian.Uint64(data[off : off+8])
		s.FirstOffset = binary.BigEndian.Uint64(data[off+8 : off+16])
		off += 16
	}

	if len(data) < off+4 {
		return nil, fmt.Errorf("isobmff: sidx reserved+count truncated")
	}
	refCount := binary.BigEndian.Uint16(data[off+2 : off+4])
	off += 4

	cursor := int64(0)
	for i := uint16(0); i < refCount; i++ {
		if len(data) < off+12 {
			return nil, fmt.Errorf("isobmff: sidx reference %d truncated", i)
		}
		word1 := binary.BigEndian.Uint32(data[off : off+4])
		referencedSize := word1 & 0x7fffffff
		duration := binary.BigEndian.Uint32(data[off+4 : off+8])
		word3 := binary.BigEndian.Uint32(data[off+8 : off+12])
		startsWithSAP := word3>>31 != 0

		s.Entries = append(s.Entries, SidxEntry{
			Offset:         cursor,
			Size:           referencedSize,
			Duration:       duration,
			StartsWithSAP:  startsWithSAP,
			ReferencedSize: referencedSize,
		})
		cursor += int64(referencedSize)
		off += 12
	}

	return s, nil
}
