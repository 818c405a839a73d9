package adapter

import (
	"sync"
	"time"
)

// emaWeight mirrors the 3/4-weighted running average isobmff.BuildSyncSampleTable
// uses for its own per-fragment statistics — the same shape applied
// here to the adapter's download-rate estimate.
const emaWeight = 0.25

// Tracker holds the adapter's rolling bytes/second estimate as a
// per-fragment EMA: the scheduler calls Observe once per completed
// fragment rather than on a wall-clock tick.
type Tracker struct {
	mu      sync.Mutex
	rateBps float64
	seeded  bool
}

// NewTracker builds a Tracker seeded with an optional initial
// bits/second estimate; 0 means unseeded — the first Observe call sets
// the estimate outright.
func NewTracker(startBitrate int64) *Tracker {
	t := &Tracker{}
	if startBitrate > 0 {
		t.rateBps = float64(startBitrate) / 8
		t.seeded = true
	}
	return t
}

// Observe folds one fragment's (bytes, elapsed) sample into the EMA.
func (t *Tracker) Observe(bytes int64, elapsed time.Duration) {
	if elapsed <= 0 || bytes <= 0 {
		return
	}
	sample := float64(bytes) / elapsed.Seconds()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seeded {
		t.rateBps = sample
		t.seeded = true
		return
	}
	t.rateBps += emaWeight * (sample - t.rateBps)
}

// RateBps returns the current bytes/second estimate.
func (t *Tracker) RateBps() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rateBps
}
