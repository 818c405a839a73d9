package playlist

import (
	"fmt"
	"sort"
	"time"
)

// MinLiveDistance is how many segments from the live edge a seek must
// stay clear of on a live playlist.
const MinLiveDistance = 3

// SeekFlag controls how Seek snaps a timestamp to a segment boundary.
type SeekFlag int

const (
	SnapBefore SeekFlag = iota
	SnapAfter
	SnapNearest
	KeyUnit // snap to the nearest segment that starts with a keyframe
)

// Direction is a playback direction for Advance.
type Direction int

const (
	Forward Direction = 1
	Backward Direction = -1
)

// ErrEndOfStream indicates a query ran off the end (or start) of a VOD
// representation's segment list.
var ErrEndOfStream = fmt.Errorf("playlist: end of stream")

// FindRepresentation locates a Representation by ID across all Periods.
func (p *Playlist) FindRepresentation(id string) *Representation {
	p.Mu.RLock()
	defer p.Mu.RUnlock()
	return p.findRepresentationLocked(id)
}

func (p *Playlist) findRepresentationLocked(id string) *Representation {
	for _, period := range p.Periods {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				if rep.ID == id {
					return rep
				}
			}
		}
	}
	return nil
}

// Duration returns the sum of segment durations for a VOD representation.
// ok is false for a live playlist"duration() ...
// NONE for live".
func (p *Playlist) Duration(rep *Representation) (d time.Duration, ok bool) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()
	if p.IsLive {
		return 0, false
	}
	for _, seg := range rep.Segments {
		d += seg.Duration
	}
	return d, true
}

// TargetDuration returns the largest segment duration, rounded to the
// nearest whole second (floor((d+500ms)/1s), so 6.6s gives 7s and 6.4s
// gives 6s).
// DASH callers should instead use the MPD's maxSegmentDuration attribute
// directly; this is the fallback when a manifest carries no explicit one.
func (p *Playlist) TargetDuration(rep *Representation) time.Duration {
	p.Mu.RLock()
	defer p.Mu.RUnlock()

	var maxDur time.Duration
	for _, seg := range rep.Segments {
		if seg.Duration > maxDur {
			maxDur = seg.Duration
		}
	}
	return roundUpToSecond(maxDur)
}

func roundUpToSecond(d time.Duration) time.Duration {
	const half = 500 * time.Millisecond
	secs := (d + half) / time.Second
	return secs * time.Second
}

// IsLiveStream reports whether the playlist has no EXT-X-ENDLIST (or
// MPD equivalent).
func (p *Playlist) IsLiveStream() bool {
	p.Mu.RLock()
	defer p.Mu.RUnlock()
	return p.IsLive
}

// Seek resolves a presentation timestamp to a segment sequence number
// within rep, snapping per flags. For a live playlist the result is
// clamped so it is never closer than MinLiveDistance segments from the
// end.
func (p *Playlist) Seek(rep *Representation, flags SeekFlag, ts time.Duration) (sequence uint64, snapped time.Duration, err error) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()

	segs := rep.Segments
	if len(segs) == 0 {
		return 0, 0, ErrEndOfStream
	}

	idx := sort.Search(len(segs), func(i int) bool {
		return segs[i].PresentationTime+segs[i].Duration > ts
	})
	if idx >= len(segs) {
		idx = len(segs) - 1
	}

	switch flags {
	case SnapBefore:
		if idx > 0 && segs[idx].PresentationTime > ts {
			idx--
		}
	case SnapAfter:
		if segs[idx].PresentationTime < ts && idx+1 < len(segs) {
			idx++
		}
	case SnapNearest:
		if idx > 0 {
			prevDelta := ts - segs[idx-1].PresentationTime
			curDelta := segs[idx].PresentationTime - ts
			if prevDelta >= 0 && prevDelta < curDelta {
				idx--
			}
		}
	case KeyUnit:
		// Fixed-list segments are whole addressable units; every segment
		// boundary is implicitly a keyframe boundary at this layer (the
		// box walker resolves true keyframe alignment within a segment).
	}

	if p.IsLive {
		maxIdx := len(segs) - 1 - MinLiveDistance
		if maxIdx < 0 {
			maxIdx = 0
		}
		if idx > maxIdx {
			idx = maxIdx
		}
	}

	return segs[idx].MediaSequence, segs[idx].PresentationTime, nil
}

// CurrentFragment returns the Segment for sequence within rep, or
// ErrEndOfStream if sequence is past the last known segment of a VOD
// representation (a live representation instead returns ErrEndOfStream
// only transiently — the caller should retry after the next live
// refresh).
func (p *Playlist) CurrentFragment(rep *Representation, sequence uint64) (*Segment, error) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()

	seg := findSegmentLocked(rep, sequence)
	if seg == nil {
		return nil, ErrEndOfStream
	}
	return seg, nil
}

func findSegmentLocked(rep *Representation, sequence uint64) *Segment {
	// Segments are sorted by MediaSequence; binary search.
	segs := rep.Segments
	i := sort.Search(len(segs), func(i int) bool { return segs[i].MediaSequence >= sequence })
	if i < len(segs) && segs[i].MediaSequence == sequence {
		return segs[i]
	}
	return nil
}

// Advance returns the next (or previous) sequence number relative to
// sequence within rep, honoring dir. Returns ErrEndOfStream when there is
// no such neighbor in a VOD representation's segment list.
func (p *Playlist) Advance(rep *Representation, sequence uint64, dir Direction) (uint64, error) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()

	segs := rep.Segments
	i := sort.Search(len(segs), func(i int) bool { return segs[i].MediaSequence >= sequence })
	if i >= len(segs) || segs[i].MediaSequence != sequence {
		return 0, ErrEndOfStream
	}

	next := i + int(dir)
	if next < 0 || next >= len(segs) {
		return 0, ErrEndOfStream
	}
	return segs[next].MediaSequence, nil
}

// LiveSeekRange returns the [start, stop) presentation-time window a live
// playlist currently permits seeking within. stop excludes the trailing
// max segment duration, since that segment may not yet be fully available
// at the origin.
func (p *Playlist) LiveSeekRange(rep *Representation) (start, stop time.Duration) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()

	segs := rep.Segments
	if len(segs) == 0 {
		return 0, 0
	}
	start = segs[0].PresentationTime

	last := segs[len(segs)-1]
	stop = last.PresentationTime + last.Duration

	var maxDur time.Duration
	for _, seg := range segs {
		if seg.Duration > maxDur {
			maxDur = seg.Duration
		}
	}
	stop -= maxDur
	if stop < start {
		stop = start
	}
	return start, stop
}

// NextHeaderInfo returns the init segment URI/range a track must fetch
// before it can parse rep's fragments, or ("", nil) if none is
// required.
func (p *Playlist) NextHeaderInfo(rep *Representation) (uri string, byteRange *ByteRange) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()
	return rep.InitURI, rep.InitRange
}

// RepresentationForBitrate picks the highest-bandwidth Representation in
// set that does not exceed bw and the optional width/height/framerate
// caps (0 means uncapped), feeding the bitrate adapter's ladder choice.
func RepresentationForBitrate(set *AdaptationSet, bw int64, maxW, maxH int, maxFPS float64) *Representation {
	var best *Representation
	for _, rep := range set.Representations {
		if rep.Bandwidth > bw {
			continue
		}
		if maxW > 0 && rep.Width > maxW {
			continue
		}
		if maxH > 0 && rep.Height > maxH {
			continue
		}
		if maxFPS > 0 && rep.Framerate > maxFPS {
			continue
		}
		if best == nil || rep.Bandwidth > best.Bandwidth {
			best = rep
		}
	}
	if best == nil && len(set.Representations) > 0 {
		// No representation fits under the cap — fall back to the lowest
		// rung rather than refusing to play at all.
		best = set.Representations[0]
	}
	return best
}
