// Package adapter implements bitrate adaptation: given a measured
// download rate and caller-configured caps, it chooses the best-fitting
// Representation from an AdaptationSet's ladder, with a step-down policy
// on declined switches.
package adapter

import (
	"time"

	"github.com/streamcore/corestream/pkg/playlist"
)

// Caps bounds the ladder the Adapter may select from
// (width/height/framerate, 0 meaning unbounded).
type Caps struct {
	MaxBitrate   int64
	MaxWidth     int
	MaxHeight    int
	MaxFramerate float64
}

// Decision is the outcome of one SelectBitrate call.
type Decision struct {
	Switch bool
	Target *playlist.Representation
}

// Adapter holds the rolling throughput estimate and ladder-walk state for
// one track. It never switches while trick-mode key-units are active.
type Adapter struct {
	tracker *Tracker
	caps    Caps

	// decline tracks consecutive declined switches (playlist refresh
	// failures) so repeated declines step down the ladder one rung at a
	// time rather than re-trying the same target forever.
	declineSteps int
}

// New builds an Adapter seeded with startBitrate; 0 means wait for the
// first fragment's observed throughput.
func New(caps Caps, startBitrate int64) *Adapter {
	return &Adapter{tracker: NewTracker(startBitrate), caps: caps}
}

// Observe records one fragment download's byte count and wall-clock
// duration, feeding the rolling download-rate estimate the track loop
// updates after every fragment.
func (a *Adapter) Observe(bytes int64, elapsed time.Duration) {
	a.tracker.Observe(bytes, elapsed)
}

// CurrentRateBps returns the adapter's current EMA'd download rate
// estimate in bytes/second.
func (a *Adapter) CurrentRateBps() float64 {
	return a.tracker.RateBps()
}

// SelectBitrate chooses a Representation from set given the current
// throughput estimate. trickmode suppresses any switch — keyframe-only
// playback keeps its representation until trick mode ends.
func (a *Adapter) SelectBitrate(set *playlist.AdaptationSet, trickmode bool) Decision {
	if trickmode {
		return Decision{Switch: false, Target: set.Current()}
	}

	measuredBps := a.tracker.RateBps()
	measuredBits := int64(measuredBps * 8)
	if a.caps.MaxBitrate > 0 && measuredBits > a.caps.MaxBitrate {
		measuredBits = a.caps.MaxBitrate
	}

	target := playlist.RepresentationForBitrate(set, measuredBits, a.caps.MaxWidth, a.caps.MaxHeight, a.caps.MaxFramerate)
	if target == nil {
		return Decision{Switch: false, Target: set.Current()}
	}

	current := set.Current()
	if current != nil && target.ID == current.ID {
		return Decision{Switch: false, Target: current}
	}

	a.declineSteps = 0
	return Decision{Switch: true, Target: target}
}

// Decline records that a chosen switch could not be completed (the
// child playlist refresh failed) and returns the next-lower ladder rung
// to try. ok is false once the floor is reached — the caller should
// give up and keep the current Representation.
func (a *Adapter) Decline(set *playlist.AdaptationSet, declined *playlist.Representation) (next *playlist.Representation, ok bool) {
	reps := set.Representations
	idx := -1
	for i, r := range reps {
		if r.ID == declined.ID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return nil, false
	}
	a.declineSteps++
	return reps[idx-1], true
}
