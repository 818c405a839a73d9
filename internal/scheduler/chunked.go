package scheduler

import (
	"github.com/streamcore/corestream/internal/isobmff"
	"github.com/streamcore/corestream/pkg/playlist"
)

// InitialChunkSize computes the byte count to request up front for a
// trick-mode ISOBMFF fragment before its moof has been parsed:
// headerSize plus the running moof-size average plus, once known, the
// keyframe-size average.
func InitialChunkSize(headerSize int64, table isobmff.SyncSampleTable) int64 {
	size := headerSize + int64(table.MoofAvgSize)
	if table.KeyframeAvgSize > 0 {
		size += int64(table.KeyframeAvgSize)
	}
	return size
}

// RefineRange decides whether the already-downloaded initial chunk
// already covers the chosen sync sample, or whether the sync sample must
// be refetched by range: when the selected sync sample directly follows
// the moof the initial chunk is kept, otherwise the sample is refetched
// by range.
//
// moofEnd is the absolute offset of the first mdat payload byte (the
// mdatStart reported by isobmff.PeekFragmentHeader); initialChunkEnd is the absolute end offset of the bytes already in
// hand.
func RefineRange(sample isobmff.SyncSample, moofEnd, initialChunkEnd int64) (keep bool, byteRange playlist.ByteRange) {
	if sample.StartOffset == moofEnd && sample.EndOffset <= initialChunkEnd {
		return true, playlist.ByteRange{Offset: sample.StartOffset, Size: sample.EndOffset - sample.StartOffset}
	}
	return false, playlist.ByteRange{Offset: sample.StartOffset, Size: sample.EndOffset - sample.StartOffset}
}
