package hls

import (
	"bytes"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/pkg/playlist"
)

// Update implements the live-refresh protocol: identical bytes
// are a no-op; otherwise old and new segment lists are reconciled either
// by matching EXT-X-MEDIA-SEQUENCE numbers directly or, if the new
// playlist omits it, by matching URIs and continuing numbering from
// last_old_sequence+1.
func Update(existing *playlist.Playlist, rawOld, rawNew []byte, baseURI string) (*playlist.Playlist, error) {
	if bytes.Equal(rawOld, rawNew) {
		return existing, nil
	}

	newRep, meta, err := parseMediaInto(string(rawNew), baseURI)
	if err != nil {
		return nil, err
	}
	if len(newRep.Segments) == 0 {
		return nil, corestreamerrors.New(corestreamerrors.EmptyMediaPlaylist, Domain, "E004", "media playlist refresh has no segments")
	}

	oldRep := existing.Periods[0].AdaptationSets[0].Representations[0]

	if err := reconcile(oldRep, newRep, meta.mediaSequenceSet); err != nil {
		return nil, err
	}

	updated := &playlist.Playlist{
		MPDURI:  baseURI,
		BaseURI: baseURI,
		IsLive:  !meta.endlist,
		Version: meta.version,
	}
	set := &playlist.AdaptationSet{Kind: playlist.KindVideo, Representations: []*playlist.Representation{newRep}}
	updated.Periods = []*playlist.Period{{ID: "0", AdaptationSets: []*playlist.AdaptationSet{set}}}
	return updated, nil
}

// reconcile aligns the new playlist's numbering with the old one.
// newHasSequenceTag reports whether the new playlist carried an explicit
// EXT-X-MEDIA-SEQUENCE: if so, its numbering is authoritative and every
// sequence number common to both lists must map to the same URI. If not,
// the parser's default zero-based numbering means nothing — continuity
// is deduced by URI match, mutating newRep.Segments' sequence numbers in
// place.
func reconcile(oldRep, newRep *playlist.Representation, newHasSequenceTag bool) error {
	if newHasSequenceTag {
		oldBySeq := make(map[uint64]string, len(oldRep.Segments))
		for _, s := range oldRep.Segments {
			oldBySeq[s.MediaSequence] = s.URI
		}
		for _, s := range newRep.Segments {
			if oldURI, ok := oldBySeq[s.MediaSequence]; ok && oldURI != s.URI {
				return corestreamerrors.Wrap(corestreamerrors.Inconsistent, Domain, "E030",
					"live refresh URI mismatch at sequence", playlist.ErrInconsistent)
			}
		}
		return checkStrictlyIncreasing(newRep.Segments)
	}

	// No EXT-X-MEDIA-SEQUENCE in the new playlist: segments whose URI
	// was already known keep their old sequence number; unmatched ones
	// continue from the last old sequence + 1.
	oldByURI := make(map[string]uint64, len(oldRep.Segments))
	for _, s := range oldRep.Segments {
		oldByURI[s.URI] = s.MediaSequence
	}
	lastOld := uint64(0)
	if len(oldRep.Segments) > 0 {
		lastOld = oldRep.Segments[len(oldRep.Segments)-1].MediaSequence
	}
	next := lastOld + 1
	for _, s := range newRep.Segments {
		if seq, ok := oldByURI[s.URI]; ok {
			s.MediaSequence = seq
		} else {
			s.MediaSequence = next
			next++
		}
	}

	return checkStrictlyIncreasing(newRep.Segments)
}
