package dash

import (
	"bytes"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/pkg/playlist"
)

// Update re-parses a refreshed MPD and reconciles it against the
// existing Playlist's segment lists, applying the same sequence/URI
// consistency rule live HLS refreshes use: for every sequence number
// present in both old and new playlists the URI must match, equally
// for a dynamic MPD's SegmentTemplate/SegmentList-derived segments.
func Update(existing *playlist.Playlist, rawOld, rawNew []byte, baseURI string) (*playlist.Playlist, error) {
	if bytes.Equal(rawOld, rawNew) {
		return existing, nil
	}

	updated, err := Parse(rawNew, baseURI)
	if err != nil {
		return nil, err
	}

	for pi, period := range updated.Periods {
		if pi >= len(existing.Periods) {
			break
		}
		oldPeriod := existing.Periods[pi]
		for si, set := range period.AdaptationSets {
			if si >= len(oldPeriod.AdaptationSets) {
				continue
			}
			oldSet := oldPeriod.AdaptationSets[si]
			for ri, rep := range set.Representations {
				oldRep := findRepByID(oldSet, rep.ID)
				if oldRep == nil && ri < len(oldSet.Representations) {
					oldRep = oldSet.Representations[ri]
				}
				if oldRep == nil {
					continue
				}
				if err := checkConsistent(oldRep, rep); err != nil {
					return nil, err
				}
			}
		}
	}

	// The active Period's first segment start must never move backward.
	if len(existing.Periods) > 0 && len(updated.Periods) > 0 {
		oldStart := firstSegmentStart(existing.Periods[0])
		newStart := firstSegmentStart(updated.Periods[0])
		if newStart < oldStart {
			return nil, corestreamerrors.New(corestreamerrors.Inconsistent, Domain, "E031",
				"active period's first segment start moved backward on refresh")
		}
	}

	return updated, nil
}

func findRepByID(set *playlist.AdaptationSet, id string) *playlist.Representation {
	for _, r := range set.Representations {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func checkConsistent(oldRep, newRep *playlist.Representation) error {
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
	return nil
}

func firstSegmentStart(period *playlist.Period) (start int64) {
	for _, set := range period.AdaptationSets {
		for _, rep := range set.Representations {
			if len(rep.Segments) == 0 {
				continue
			}
			v := int64(rep.Segments[0].PresentationTime)
			if start == 0 || v < start {
				start = v
			}
		}
	}
	return start
}
