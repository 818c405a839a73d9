package hls

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/pkg/playlist"
)

// parseMedia parses a media playlist (segment list) into a single-
// Representation Playlist.
func parseMedia(text, baseURI string) (*playlist.Playlist, error) {
	rep, meta, err := parseMediaInto(text, baseURI)
	if err != nil {
		return nil, err
	}
	if len(rep.Segments) == 0 {
		return nil, corestreamerrors.New(corestreamerrors.EmptyMediaPlaylist, Domain, "E004", "media playlist has no segments")
	}

	pl := &playlist.Playlist{
		MPDURI:  baseURI,
		BaseURI: baseURI,
		IsLive:  !meta.endlist,
		Version: meta.version,
	}
	set := &playlist.AdaptationSet{Kind: playlist.KindVideo, Representations: []*playlist.Representation{rep}}
	pl.Periods = []*playlist.Period{{ID: "0", AdaptationSets: []*playlist.AdaptationSet{set}}}
	return pl, nil
}

type mediaMeta struct {
	version          int
	endlist          bool
	discontinuitySeq uint64
	targetDuration   time.Duration

	// mediaSequenceSet records whether the playlist carried an explicit
	// EXT-X-MEDIA-SEQUENCE tag. The update protocol branches on this:
	// tag present means numeric sequence matching, tag absent means
	// continuity is deduced by URI match, regardless of the zero-based
	// numbers the parser assigns by default.
	mediaSequenceSet bool
}

// parseMediaInto does the actual tag walk, producing a single
// Representation's Segment list plus the playlist-level metadata that
// parseMedia/Update need. Shared by the initial parse and the live-
// refresh path so both apply identical tag semantics.
func parseMediaInto(text, baseURI string) (*playlist.Representation, mediaMeta, error) {
	rep := &playlist.Representation{ID: "media", Timescale: 1_000_000_000, SegmentIndexKind: playlist.SegmentIndexFixedList}
	var meta mediaMeta

	var (
		curDuration   time.Duration
		curDiscont    bool
		curByteSize   int64 = -1
		curByteOffset int64 = -1
		priorByteEnd  int64
		curKey        *Key
		ptsAccum      time.Duration
		seq           uint64
		allowCache    = true
	)

	scanner := newScanner(text)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:")); err == nil {
				meta.version = v
			}
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64); err == nil {
				meta.targetDuration = secondsToDuration(v)
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if v, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64); err == nil {
				seq = v
				meta.mediaSequenceSet = true
			}
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"):
			if v, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"), 10, 64); err == nil {
				meta.discontinuitySeq = v
			}
		case line == "#EXT-X-DISCONTINUITY":
			curDiscont = true
		case line == "#EXT-X-ENDLIST":
			meta.endlist = true
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-KEY:"))
			k, err := parseKey(attrs, baseURI)
			if err != nil {
				return nil, meta, err
			}
			curKey = k
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			size, offset, err := parseByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"), priorByteEnd)
			if err != nil {
				return nil, meta, err
			}
			curByteSize, curByteOffset = size, offset
		case strings.HasPrefix(line, "#EXTINF:"):
			d, err := parseExtinfDuration(strings.TrimPrefix(line, "#EXTINF:"))
			if err != nil {
				return nil, meta, err
			}
			curDuration = d
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			// Parsed for completeness but not modeled at
			// this layer; wall-clock anchoring is the clock-drift
			// service's concern.
		case strings.HasPrefix(line, "#EXT-X-ALLOW-CACHE:"):
			allowCache = !strings.EqualFold(strings.TrimPrefix(line, "#EXT-X-ALLOW-CACHE:"), "NO")
		case strings.HasPrefix(line, "#"):
			// unrecognised tag, ignored
		default:
			seg := &playlist.Segment{
				MediaSequence:    seq,
				URI:              resolve(baseURI, line),
				PresentationTime: ptsAccum,
				Duration:         curDuration,
				Discontinuity:    curDiscont,
				AllowCache:       allowCache,
			}
			if curByteSize >= 0 {
				offset := curByteOffset
				if offset < 0 {
					offset = priorByteEnd
				}
				seg.Range = &playlist.ByteRange{Offset: offset, Size: curByteSize}
				priorByteEnd = offset + curByteSize
			}
			if curKey != nil && curKey.Method == "AES-128" {
				seg.KeyURI = curKey.URI
				if curKey.IV != nil {
					seg.IV = curKey.IV
				} else {
					seg.IV = playlist.DefaultIV(seq)
				}
			}

			rep.Segments = append(rep.Segments, seg)
			ptsAccum += curDuration
			seq++
			curDiscont = false
			curByteSize, curByteOffset = -1, -1
		}
	}

	if err := checkStrictlyIncreasing(rep.Segments); err != nil {
		return nil, meta, err
	}
	return rep, meta, nil
}

func checkStrictlyIncreasing(segs []*playlist.Segment) error {
	for i := 1; i < len(segs); i++ {
		if segs[i].MediaSequence <= segs[i-1].MediaSequence {
			return corestreamerrors.New(corestreamerrors.InternalBug, Domain, "E099", "segment sequence numbers not strictly increasing")
		}
		if segs[i-1].Duration <= 0 {
			return corestreamerrors.New(corestreamerrors.InternalBug, Domain, "E098", "segment duration must be > 0")
		}
	}
	return nil
}

// parseExtinfDuration parses "<seconds>[,<title>]".
func parseExtinfDuration(s string) (time.Duration, error) {
	parts := strings.SplitN(s, ",", 2)
	secs, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, corestreamerrors.Wrap(corestreamerrors.NotAPlaylist, Domain, "E010", "invalid EXTINF duration", err)
	}
	return secondsToDuration(secs), nil
}

// parseByteRange parses "<size>[@<offset>]"; offset defaults to
// priorEnd, the byte just past the previous segment's range.
func parseByteRange(s string, priorEnd int64) (size, offset int64, err error) {
	parts := strings.SplitN(s, "@", 2)
	size, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, corestreamerrors.Wrap(corestreamerrors.NotAPlaylist, Domain, "E011", "invalid EXT-X-BYTERANGE", err)
	}
	if len(parts) == 2 {
		offset, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return 0, 0, corestreamerrors.Wrap(corestreamerrors.NotAPlaylist, Domain, "E011", "invalid EXT-X-BYTERANGE offset", err)
		}
		return size, offset, nil
	}
	return size, -1, nil
}

// parseKey parses an EXT-X-KEY attribute list. METHOD=NONE resets
// encryption state (caller should set curKey = nil); other methods besides
// AES-128 are rejected as UnsupportedEncryption.
func parseKey(attrs map[string]string, baseURI string) (*Key, error) {
	method := strings.ToUpper(attrs["METHOD"])
	if method == "NONE" {
		return nil, nil
	}
	if method != "AES-128" {
		return nil, corestreamerrors.New(corestreamerrors.UnsupportedEncryption, Domain, "E020", "unsupported EXT-X-KEY method: "+method)
	}
	k := &Key{Method: method, URI: resolve(baseURI, attrs["URI"])}
	if ivStr, ok := attrs["IV"]; ok {
		iv, err := parseIV(ivStr)
		if err != nil {
			return nil, err
		}
		k.IV = iv
	}
	return k, nil
}

// parseIV parses a "0x"-prefixed 32-hex-nibble IV.
func parseIV(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 32 {
		return nil, corestreamerrors.New(corestreamerrors.NotAPlaylist, Domain, "E021", "EXT-X-KEY IV must be exactly 32 hex nibbles")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.NotAPlaylist, Domain, "E021", "invalid EXT-X-KEY IV hex", err)
	}
	return b, nil
}
