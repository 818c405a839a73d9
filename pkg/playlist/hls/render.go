package hls

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/streamcore/corestream/pkg/playlist"
)

// Render produces the canonical HLS media-playlist subset for rep,
// the inverse of parseMediaInto for that subset:
// Parse(Render(playlist)) == playlist. #EXT-X-TARGETDURATION uses
// ceil((d+500ms)/1s); #EXT-X-MEDIA-SEQUENCE is the first segment's
// sequence number.
func Render(rep *playlist.Representation, endlist bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	target := targetDurationSeconds(rep.Segments)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)

	if len(rep.Segments) > 0 {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", rep.Segments[0].MediaSequence)
	}

	var lastKey string
	for _, seg := range rep.Segments {
		if seg.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if seg.KeyURI != lastKey {
			if seg.KeyURI == "" {
				b.WriteString("#EXT-X-KEY:METHOD=NONE\n")
			} else {
				fmt.Fprintf(&b, "#EXT-X-KEY:METHOD=AES-128,URI=%q\n", seg.KeyURI)
			}
			lastKey = seg.KeyURI
		}
		if seg.Range != nil {
			fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d@%d\n", seg.Range.Size, seg.Range.Offset)
		}
		secs := float64(seg.Duration) / float64(time.Second)
		fmt.Fprintf(&b, "#EXTINF:%s,\n", trimTrailingZeros(secs))
		fmt.Fprintln(&b, seg.URI)
	}

	if endlist {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

func targetDurationSeconds(segs []*playlist.Segment) int64 {
	var maxDur time.Duration
	for _, s := range segs {
		if s.Duration > maxDur {
			maxDur = s.Duration
		}
	}
	secs := float64(maxDur)/float64(time.Second) + 0.5
	return int64(math.Ceil(secs))
}

func trimTrailingZeros(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		s = "0"
	}
	return s
}
