package live

import (
	"sync"

	"github.com/streamcore/corestream/internal/isobmff"
)

// LookaheadTracker owns one representation's MSS look-ahead list, grown
// from every tfrf box a fragment's uuid extension carries (Open Question
// #2: tfrf entries are authoritative and never shrink the list).
type LookaheadTracker struct {
	mu      sync.Mutex
	entries []isobmff.TfrfEntry
}

// Merge folds a freshly parsed tfrf box's entries into the tracked
// list.
func (t *LookaheadTracker) Merge(tfrf *isobmff.TfrfBox) {
	if tfrf == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = isobmff.MergeLookahead(t.entries, tfrf.Entries)
}

// Entries returns a snapshot of the current look-ahead list.
func (t *LookaheadTracker) Entries() []isobmff.TfrfEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]isobmff.TfrfEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// NextFragmentCount reports how many fragments beyond the current one
// the look-ahead already knows about, which the scheduler can use to
// decide whether a live manifest refresh is actually needed before the
// next request — MSS has no MEDIA-SEQUENCE ceiling to clamp against,
// only whatever the latest tfrf has announced.
func (t *LookaheadTracker) NextFragmentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
