package isobmff

import (
	"encoding/binary"
	"fmt"
)

// Sample is one decoded trun sample with its absolute byte offset
// already resolved.
type Sample struct {
	Offset            int64
	Size              uint32
	Duration          uint32
	Flags             uint32
	CompositionOffset int32
	IsSync            bool

	// FlagsUnknown is true when neither this trun's per-sample flags,
	// its first_sample_flags, nor the tfhd's default_sample_flags were
	// present, so IsSync was computed from an all-zero flags word rather
	// than a real one. BuildSyncSampleTable treats this as a cue to
	// double-check the sample via IsRandomAccess instead of trusting
	// IsSync outright.
	FlagsUnknown bool
}

// Traf is one parsed track fragment (tfhd+tfdt+trun*).
type Traf struct {
	TrackID           uint32
	BaseDecodeTime    uint64
	DefaultBaseIsMoof bool
	Samples           []Sample

	// TrexFallback is true when a duration or size field for this traf's
	// samples was present in neither trun nor tfhd defaults, i.e. it
	// would have to come from the trex box, which disables trick mode
	// for the representation. Missing flags alone do not set this — see
	// Sample.FlagsUnknown.
	TrexFallback bool

	tfhdDefaults tfhdDefaults
}

// Moof is one parsed movie fragment box.
type Moof struct {
	Offset uint64 // absolute byte offset of the moof box itself
	Size   uint64
	Trafs  []*Traf
}

// parseMoof walks a moof box's payload (traf children) and resolves
// every sample's absolute byte offset from tfhd.base_data_offset,
// default-base-is-moof, or the prior trun's end.
func parseMoof(moofOffset uint64, payload []byte) (*Moof, error) {
	m := &Moof{Offset: moofOffset, Size: uint64(len(payload)) + 8}

	// priorTrafEnd tracks the end-offset of the previous traf's last
	// sample, used as the implicit base when neither base-data-offset nor
	// default-base-is-moof is set (ISO/IEC 14496-12 §8.8.7 default rule).
	priorTrafEnd := int64(moofOffset)

	boxes, err := walkChildren(payload)
	if err != nil {
		return nil, err
	}
	for _, b := range boxes {
		if b.boxType != "traf" {
			continue
		}
		traf, end, err := parseTraf(int64(moofOffset), priorTrafEnd, b.payload)
		if err != nil {
			return nil, err
		}
		m.Trafs = append(m.Trafs, traf)
		priorTrafEnd = end
	}
	return m, nil
}

// PeekFragmentHeader parses the moof box at the start of data (absolute
// file offset moofOffset) and reports the byte range of the mdat box
// that follows it, without requiring the mdat's payload to be present.
// It serves trick mode: the chunked initial
// trick-mode request only ever carries the header allowance plus the
// moof and keyframe size averages, far short of a full mdat, so the moof must
// be parsed off of a genuinely partial read. ok is false when data does
// not yet contain a complete moof+mdat-header pair.
func PeekFragmentHeader(moofOffset int64, data []byte) (moof *Moof, mdatStart, mdatEnd int64, ok bool, err error) {
	hdr, ok := peekBoxHeader(data)
	if !ok || hdr.boxType != "moof" {
		return nil, 0, 0, false, nil
	}
	if uint64(len(data)) < hdr.size+8 {
		return nil, 0, 0, false, nil // wait for the mdat header too
	}
	mdatHdr, ok := peekBoxHeader(data[hdr.size:])
	if !ok || mdatHdr.boxType != "mdat" {
		return nil, 0, 0, false, nil
	}

	m, err := parseMoof(uint64(moofOffset), data[hdr.headerSize:hdr.size])
	if err != nil {
		return nil, 0, 0, false, fmt.Errorf("isobmff: parsing moof: %w", err)
	}

	mdatStart = moofOffset + int64(hdr.size) + int64(mdatHdr.headerSize)
	mdatEnd = moofOffset + int64(hdr.size) + int64(mdatHdr.size)
	return m, mdatStart, mdatEnd, true, nil
}

type childBox struct {
	boxType string
	payload []byte
}

// walkChildren splits a box's payload into its immediate child boxes.
func walkChildren(data []byte) ([]childBox, error) {
	var out []childBox
	for len(data) > 0 {
		hdr, ok := peekBoxHeader(data)
		if !ok || uint64(len(data)) < hdr.size {
			return nil, fmt.Errorf("isobmff: truncated child box %q", safeType(data))
		}
		out = append(out, childBox{boxType: hdr.boxType, payload: data[hdr.headerSize:hdr.size]})
		data = data[hdr.size:]
	}
	return out, nil
}

func safeType(data []byte) string {
	if len(data) >= 8 {
		return string(data[4:8])
	}
	return "?"
}

func parseTraf(moofOffset, priorTrafEnd int64, payload []byte) (*Traf, int64, error) {
	boxes, err := walkChildren(payload)
	if err != nil {
		return nil, priorTrafEnd, err
	}

	traf := &Traf{}
	var baseDataOffset int64
	haveBaseDataOffset := false

	for _, b := range boxes {
		switch b.boxType {
		case "tfhd":
			trackID, bdo, haveBDO, defaultBaseIsMoof, defDur, haveDefDur, defSize, haveDefSize, defFlags, haveDefFlags, err := parseTfhd(b.payload)
			if err != nil {
				return nil, priorTrafEnd, err
			}
			traf.TrackID = trackID
			traf.DefaultBaseIsMoof = defaultBaseIsMoof
			if haveBDO {
				baseDataOffset = bdo
				haveBaseDataOffset = true
			}
			traf.tfhdDefaults = tfhdDefaults{
				duration: defDur, haveDuration: haveDefDur,
				size: defSize, haveSize: haveDefSize,
				flags: defFlags, haveFlags: haveDefFlags,
			}
		case "tfdt":
			dt, err := parseTfdt(b.payload)
			if err != nil {
				return nil, priorTrafEnd, err
			}
			traf.BaseDecodeTime = dt
		}
	}

	base := priorTrafEnd
	if haveBaseDataOffset {
		base = baseDataOffset
	} else if traf.DefaultBaseIsMoof {
		base = moofOffset
	}

	runBase := base
	for _, b := range boxes {
		if b.boxType != "trun" {
			continue
		}
		samples, newBase, err := parseTrun(b.payload, runBase, traf.tfhdDefaults, traf)
		if err != nil {
			return nil, priorTrafEnd, err
		}
		traf.Samples = append(traf.Samples, samples...)
		runBase = newBase
	}

	return traf, runBase, nil
}

// tfhdDefaults holds the per-traf defaults a trun falls back to when its
// own per-sample fields are absent.
type tfhdDefaults struct {
	duration     uint32
	haveDuration bool
	size         uint32
	haveSize     bool
	flags        uint32
	haveFlags    bool
}

func parseTfhd(data []byte) (trackID uint32, baseDataOffset int64, haveBaseDataOffset bool, defaultBaseIsMoof bool, defDur uint32, haveDefDur bool, defSize uint32, haveDefSize bool, defFlags uint32, haveDefFlags bool, err error) {
	if len(data) < 8 {
		return 0, 0, false, false, 0, false, 0, false, 0, false, fmt.Errorf("isobmff: tfhd too short")
	}
	_, flags := fullBoxVersion(binary.BigEndian.Uint32(data[0:4]))
	trackID = binary.BigEndian.Uint32(data[4:8])
	off := 8

	defaultBaseIsMoof = flags&tfhdDefaultBaseIsMoof != 0

	if flags&tfhdBaseDataOffsetPresent != 0 {
		if len(data) < off+8 {
			return 0, 0, false, false, 0, false, 0, false, 0, false, fmt.Errorf("isobmff: tfhd base_data_offset truncated")
		}
		baseDataOffset = int64(binary.BigEndian.Uint64(data[off : off+8]))
		haveBaseDataOffset = true
		off += 8
	}
	if flags&tfhdSampleDescriptionIndexPres != 0 {
		off += 4
	}
	if flags&tfhdDefaultSampleDurationPres != 0 {
		if len(data) < off+4 {
			return 0, 0, false, false, 0, false, 0, false, 0, false, fmt.Errorf("isobmff: tfhd default_sample_duration truncated")
		}
		defDur = binary.BigEndian.Uint32(data[off : off+4])
		haveDefDur = true
		off += 4
	}
	if flags&tfhdDefaultSampleSizePresent != 0 {
		if len(data) < off+4 {
			return 0, 0, false, false, 0, false, 0, false, 0, false, fmt.Errorf("isobmff: tfhd default_sample_size truncated")
		}
		defSize = binary.BigEndian.Uint32(data[off : off+4])
		haveDefSize = true
		off += 4
	}
	if flags&tfhdDefaultSampleFlagsPresent != 0 {
		if len(data) < off+4 {
			return 0, 0, false, false, 0, false, 0, false, 0, false, fmt.Errorf("isobmff: tfhd default_sample_flags truncated")
		}
		defFlags = binary.BigEndian.Uint32(data[off : off+4])
		haveDefFlags = true
		off += 4
	}
	return trackID, baseDataOffset, haveBaseDataOffset, defaultBaseIsMoof, defDur, haveDefDur, defSize, haveDefSize, defFlags, haveDefFlags, nil
}

func parseTfdt(data []byte) (uint64, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("isobmff: tfdt too short")
	}
	version, _ := fullBoxVersion(binary.BigEndian.Uint32(data[0:4]))
	if version == 1 {
		if len(data) < 12 {
			return 0, fmt.Errorf("isobmff: tfdt v1 truncated")
		}
		return binary.BigEndian.Uint64(data[4:12]), nil
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("isobmff: tfdt v0 truncated")
	}
	return uint64(binary.BigEndian.Uint32(data[4:8])), nil
}

// parseTrun decodes one trun box's samples, resolving each sample's
// absolute file offset from base plus the running size accumulator, and
// flags traf.TrexFallback when a field this trun needs isn't present in
// either the trun itself or the tfhd defaults.
func parseTrun(data []byte, base int64, defaults tfhdDefaults, traf *Traf) ([]Sample, int64, error) {
	if len(data) < 8 {
		return nil, base, fmt.Errorf("isobmff: trun too short")
	}
	_, flags := fullBoxVersion(binary.BigEndian.Uint32(data[0:4]))
	sampleCount := binary.BigEndian.Uint32(data[4:8])
	off := 8

	dataOffset := int64(0)
	if flags&trunDataOffsetPresent != 0 {
		if len(data) < off+4 {
			return nil, base, fmt.Errorf("isobmff: trun data_offset truncated")
		}
		dataOffset = int64(int32(binary.BigEndian.Uint32(data[off : off+4])))
		off += 4
	}
	firstSampleFlags := uint32(0)
	haveFirstSampleFlags := false
	if flags&trunFirstSampleFlagsPresent != 0 {
		if len(data) < off+4 {
			return nil, base, fmt.Errorf("isobmff: trun first_sample_flags truncated")
		}
		firstSampleFlags = binary.BigEndian.Uint32(data[off : off+4])
		haveFirstSampleFlags = true
		off += 4
	}

	haveDuration := flags&trunSampleDurationPresent != 0 || defaults.haveDuration
	haveSize := flags&trunSampleSizePresent != 0 || defaults.haveSize
	haveFlags := flags&trunSampleFlagsPresent != 0 || defaults.haveFlags || haveFirstSampleFlags
	if !haveDuration || !haveSize {
		traf.TrexFallback = true
	}
	flagsUnknown := !haveFlags

	samples := make([]Sample, 0, sampleCount)
	cursor := base + dataOffset

	for i := uint32(0); i < sampleCount; i++ {
		var dur, size, sflags uint32
		var comp int32

		if flags&trunSampleDurationPresent != 0 {
			if len(data) < off+4 {
				return nil, base, fmt.Errorf("isobmff: trun sample_duration truncated")
			}
			dur = binary.BigEndian.Uint32(data[off : off+4])
			off += 4
		} else {
			dur = defaults.duration
		}
		if flags&trunSampleSizePresent != 0 {
			if len(data) < off+4 {
				return nil, base, fmt.Errorf("isobmff: trun sample_size truncated")
			}
			size = binary.BigEndian.Uint32(data[off : off+4])
			off += 4
		} else {
			size = defaults.size
		}
		if flags&trunSampleFlagsPresent != 0 {
			if len(data) < off+4 {
				return nil, base, fmt.Errorf("isobmff: trun sample_flags truncated")
			}
			sflags = binary.BigEndian.Uint32(data[off : off+4])
			off += 4
		} else if i == 0 && haveFirstSampleFlags {
			sflags = firstSampleFlags
		} else {
			sflags = defaults.flags
		}
		if flags&trunSampleCompTimeOffsetsPres != 0 {
			if len(data) < off+4 {
				return nil, base, fmt.Errorf("isobmff: trun sample_composition_time_offset truncated")
			}
			comp = int32(binary.BigEndian.Uint32(data[off : off+4]))
			off += 4
		}

		samples = append(samples, Sample{
			Offset:            cursor,
			Size:              size,
			Duration:          dur,
			Flags:             sflags,
			CompositionOffset: comp,
			IsSync:            isSyncSample(sflags),
			FlagsUnknown:      flagsUnknown,
		})
		cursor += int64(size)
	}

	return samples, cursor, nil
}
