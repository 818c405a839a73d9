package isobmff

// SyncSample is one entry of the sync-sample table: the byte range a
// keyframe occupies within the fragment.
type SyncSample struct {
	StartOffset int64
	EndOffset   int64
	Duration    uint32
}

// SyncSampleTable is the per-fragment keyframe index plus the running
// EMA statistics the trick-mode scheduler uses to size its initial
// chunked-download requests.
type SyncSampleTable struct {
	Samples []SyncSample

	MoofAvgSize         float64
	KeyframeAvgSize     float64
	KeyframeAvgDistance float64
}

// emaWeight is the 3/4 running-average weight: each new sample
// contributes 1/4 of the delta from the current average, in both
// playback directions.
const emaWeight = 0.25

func ema(prev, sample float64, seeded bool) float64 {
	if !seeded {
		return sample
	}
	return prev + emaWeight*(sample-prev)
}

// BuildSyncSampleTable walks every traf's samples in a moof and produces
// the sync-sample table plus updated running averages. A rejected
// traf (TrexFallback, multiple track IDs, or zero sync samples) yields
// rejected=true and the table/averages are left at their prior values.
//
// mdat/mdatStart/track are optional (mdat may be nil): when a sample's
// flags were absent from both trun and tfhd (Sample.FlagsUnknown) and
// the sample's bytes are available in mdat, its sync status is instead
// decided by inspecting the NAL stream via IsRandomAccess rather than
// trusting an all-zero flags word. A sample that can't be checked either
// way (no mdat, or its bytes fall outside the buffered range) is treated
// as non-sync.
func BuildSyncSampleTable(moof *Moof, moofSize int64, prevTable SyncSampleTable, seeded bool, mdat []byte, mdatStart int64, track TrackInfo) (table SyncSampleTable, rejected bool) {
	if len(moof.Trafs) == 0 {
		return prevTable, true
	}

	trackID := moof.Trafs[0].TrackID
	var syncSamples []SyncSample

	for _, traf := range moof.Trafs {
		if traf.TrackID != trackID {
			return prevTable, true
		}
		if traf.TrexFallback {
			return prevTable, true
		}
		for i, s := range traf.Samples {
			isSync := s.IsSync
			if s.FlagsUnknown {
				isSync = false
				if mdat != nil {
					rel := s.Offset - mdatStart
					if rel >= 0 && rel+int64(s.Size) <= int64(len(mdat)) {
						isSync = IsRandomAccess(track, mdat[rel:rel+int64(s.Size)])
					}
				}
			}
			if !isSync {
				continue
			}
			end := s.Offset + int64(s.Size)
			dur := s.Duration
			if dur == 0 && i+1 < len(traf.Samples) {
				dur = traf.Samples[i+1].Duration
			}
			syncSamples = append(syncSamples, SyncSample{
				StartOffset: s.Offset,
				EndOffset:   end,
				Duration:    dur,
			})
		}
	}

	if len(syncSamples) == 0 {
		return prevTable, true
	}

	table.Samples = syncSamples
	table.MoofAvgSize = ema(prevTable.MoofAvgSize, float64(moofSize), seeded)

	var keyframeSizeSum float64
	for _, s := range syncSamples {
		keyframeSizeSum += float64(s.EndOffset - s.StartOffset)
	}
	avgKeyframeSize := keyframeSizeSum / float64(len(syncSamples))
	table.KeyframeAvgSize = ema(prevTable.KeyframeAvgSize, avgKeyframeSize, seeded)

	if len(syncSamples) > 1 {
		span := float64(syncSamples[len(syncSamples)-1].StartOffset - syncSamples[0].StartOffset)
		avgDistance := span / float64(len(syncSamples)-1)
		table.KeyframeAvgDistance = ema(prevTable.KeyframeAvgDistance, avgDistance, seeded)
	} else {
		table.KeyframeAvgDistance = prevTable.KeyframeAvgDistance
	}

	return table, false
}

// SelectSyncSample returns the sync sample at position targetIndex in
// table, used by the scheduler's target-time trick-mode selection; ok is
// false when targetIndex is out of range. The caller is responsible for
// mapping a presentation timestamp to a sample index.
func SelectSyncSample(table SyncSampleTable, targetIndex int) (SyncSample, bool) {
	if targetIndex < 0 || targetIndex >= len(table.Samples) {
		return SyncSample{}, false
	}
	return table.Samples[targetIndex], true
}
