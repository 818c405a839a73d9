// Package isobmff implements the streaming ISOBMFF box walker:
// moof/traf/tfhd/tfdt/trun/sidx/mdat/uuid recognition, sync-sample table
// construction, and the MSS tfxd/tfrf live look-ahead extension.
// Box buffering peeks the size+type header (handling the 64-bit
// extended-size form) and waits for the full box before consuming.
package isobmff

import "encoding/binary"

// boxHeader is the decoded 8- or 16-byte box header.
type boxHeader struct {
	size       uint64 // total box size including the header, in bytes
	boxType    string
	headerSize int // 8 normally, 16 when a 64-bit extended size is used
}

// peekBoxHeader reads a box header from the start of buf without
// consuming it. ok is false when buf doesn't yet hold a complete header.
func peekBoxHeader(buf []byte) (boxHeader, bool) {
	if len(buf) < 8 {
		return boxHeader{}, false
	}
	size32 := binary.BigEndian.Uint32(buf[0:4])
	boxType := string(buf[4:8])

	if size32 != 1 {
		return boxHeader{size: uint64(size32), boxType: boxType, headerSize: 8}, true
	}
	if len(buf) < 16 {
		return boxHeader{}, false
	}
	size64 := binary.BigEndian.Uint64(buf[8:16])
	return boxHeader{size: size64, boxType: boxType, headerSize: 16}, true
}

// fullBoxVersion splits a FullBox's 4-byte version+flags word.
func fullBoxVersion(word uint32) (version uint8, flags uint32) {
	return uint8(word >> 24), word & 0x00ffffff
}

// Tfhd flag bits (ISO/IEC 14496-12 §8.8.7).
const (
	tfhdBaseDataOffsetPresent       = 0x000001
	tfhdSampleDescriptionIndexPres  = 0x000002
	tfhdDefaultSampleDurationPres   = 0x000008
	tfhdDefaultSampleSizePresent    = 0x000010
	tfhdDefaultSampleFlagsPresent   = 0x000020
	tfhdDurationIsEmpty             = 0x010000
	tfhdDefaultBaseIsMoof           = 0x020000
)

// Trun flag bits (ISO/IEC 14496-12 §8.8.8).
const (
	trunDataOffsetPresent         = 0x000001
	trunFirstSampleFlagsPresent   = 0x000004
	trunSampleDurationPresent     = 0x000100
	trunSampleSizePresent         = 0x000200
	trunSampleFlagsPresent        = 0x000400
	trunSampleCompTimeOffsetsPres = 0x000800
)

// sampleFlagIsNonSync is bit 16 (0x00010000) of a sample_flags word: set
// means the sample is NOT a sync sample.
const sampleFlagIsNonSync = 0x00010000

// sampleDependsOn extracts the 2-bit sample_depends_on field (bits 25:24
// of sample_flags, ISO/IEC 14496-12 §8.6.4.3).
func sampleDependsOn(flags uint32) uint8 {
	return uint8((flags >> 24) & 0x3)
}

func isSyncSample(flags uint32) bool {
	return flags&sampleFlagIsNonSync == 0 || sampleDependsOn(flags) == 2
}
