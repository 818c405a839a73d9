package isobmff

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeBox(boxType string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], boxType)
	copy(out[8:], payload)
	return out
}

func encodeTfhd(trackID uint32, flags uint32) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], flags) // version 0
	binary.BigEndian.PutUint32(payload[4:8], trackID)
	return encodeBox("tfhd", payload)
}

func encodeTfdt(baseMediaDecodeTime uint32) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[4:8], baseMediaDecodeTime)
	return encodeBox("tfdt", payload)
}

type testSample struct {
	duration uint32
	size     uint32
	flags    uint32
}

func encodeTrun(flags uint32, samples []testSample) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], flags)
	binary.BigEndian.PutUint32(payload[4:8], uint32(len(samples)))
	for _, s := range samples {
		var rec []byte
		if flags&trunSampleDurationPresent != 0 {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, s.duration)
			rec = append(rec, b...)
		}
		if flags&trunSampleSizePresent != 0 {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, s.size)
			rec = append(rec, b...)
		}
		if flags&trunSampleFlagsPresent != 0 {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, s.flags)
			rec = append(rec, b...)
		}
		payload = append(payload, rec...)
	}
	return encodeBox("trun", payload)
}

func TestWalker_MoofMdat_SyncSampleTable(t *testing.T) {
	trunFlags := uint32(trunSampleDurationPresent | trunSampleSizePresent | trunSampleFlagsPresent)
	trun := encodeTrun(trunFlags, []testSample{
		{duration: 3000, size: 1000, flags: 0},          // sync (nonsync bit unset)
		{duration: 3000, size: 2000, flags: 0x00010000}, // non-sync
	})
	tfhd := encodeTfhd(1, tfhdDefaultBaseIsMoof)
	tfdt := encodeTfdt(90000)
	traf := encodeBox("traf", append(append(append([]byte{}, tfhd...), tfdt...), trun...))
	moof := encodeBox("moof", traf)
	mdat := encodeBox("mdat", make([]byte, 16))

	w := NewWalker()
	fragments, sidxBoxes, uuidBoxes, err := w.Push(append(append([]byte{}, moof...), mdat...))
	require.NoError(t, err)
	require.Len(t, fragments, 2, "one moof announcement plus one mdat payload run")
	assert.Empty(t, sidxBoxes)
	assert.Empty(t, uuidBoxes)

	frag := fragments[0]
	require.NotNil(t, frag.Moof)
	assert.Nil(t, frag.Mdat)
	require.Nil(t, fragments[1].Moof)
	assert.Len(t, fragments[1].Mdat, 16)
	assert.Equal(t, int64(len(moof)+8), fragments[1].MdatStart)

	require.Len(t, frag.Moof.Trafs, 1)
	traf0 := frag.Moof.Trafs[0]
	assert.Equal(t, uint32(1), traf0.TrackID)
	assert.Equal(t, uint64(90000), traf0.BaseDecodeTime)
	assert.False(t, traf0.TrexFallback)
	require.Len(t, traf0.Samples, 2)
	assert.True(t, traf0.Samples[0].IsSync)
	assert.False(t, traf0.Samples[1].IsSync)
	assert.Equal(t, int64(0), traf0.Samples[0].Offset)
	assert.Equal(t, int64(1000), traf0.Samples[1].Offset)

	table, rejected := BuildSyncSampleTable(frag.Moof, int64(len(moof)), SyncSampleTable{}, false, nil, 0, TrackInfo{})
	require.False(t, rejected)
	require.Len(t, table.Samples, 1)
	assert.Equal(t, int64(0), table.Samples[0].StartOffset)
	assert.Equal(t, int64(1000), table.Samples[0].EndOffset)
	assert.Equal(t, float64(1000), table.KeyframeAvgSize)
}

func TestWalker_TrexFallback_Rejects(t *testing.T) {
	// trun declares samples but sets none of the size/duration/flags
	// present bits, and tfhd supplies no defaults either: both must fall
	// back to trex, which this package never reads.
	trun := encodeTrun(0, []testSample{{}, {}})
	tfhd := encodeTfhd(1, 0)
	traf := encodeBox("traf", append(tfhd, trun...))
	moof := encodeBox("moof", traf)
	mdat := encodeBox("mdat", make([]byte, 8))

	w := NewWalker()
	fragments, _, _, err := w.Push(append(append([]byte{}, moof...), mdat...))
	require.NoError(t, err)
	require.NotEmpty(t, fragments)
	require.NotNil(t, fragments[0].Moof)
	assert.True(t, fragments[0].Moof.Trafs[0].TrexFallback)

	_, rejected := BuildSyncSampleTable(fragments[0].Moof, int64(len(moof)), SyncSampleTable{}, false, nil, 0, TrackInfo{})
	assert.True(t, rejected)
}

func TestParseSidx(t *testing.T) {
	payload := make([]byte, 12+8+4)
	binary.BigEndian.PutUint32(payload[4:8], 1)     // reference_id
	binary.BigEndian.PutUint32(payload[8:12], 1000) // timescale
	binary.BigEndian.PutUint32(payload[12:16], 0)   // earliest_presentation_time
	binary.BigEndian.PutUint32(payload[16:20], 0)   // first_offset
	binary.BigEndian.PutUint16(payload[22:24], 2)   // reference_count

	entry := func(size, duration uint32) []byte {
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], size&0x7fffffff)
		binary.BigEndian.PutUint32(b[4:8], duration)
		return b
	}
	payload = append(payload, entry(500, 1000)...)
	payload = append(payload, entry(600, 1000)...)

	sidx, err := parseSidx(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), sidx.ReferenceID)
	require.Len(t, sidx.Entries, 2)
	assert.Equal(t, int64(0), sidx.Entries[0].Offset)
	assert.Equal(t, uint32(500), sidx.Entries[0].Size)
	assert.Equal(t, int64(500), sidx.Entries[1].Offset)
	assert.Equal(t, uint32(600), sidx.Entries[1].Size)
}

func TestParseUUIDBox_TfxdTfrf(t *testing.T) {
	tfxdPayload := append(append([]byte{}, uuidTfxd[:]...), make([]byte, 12)...)
	binary.BigEndian.PutUint32(tfxdPayload[16+4:16+8], 5000000)
	binary.BigEndian.PutUint32(tfxdPayload[16+8:16+12], 20000000)

	tfxd, tfrf, ok, err := parseUUIDBox(tfxdPayload)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, tfxd)
	assert.Nil(t, tfrf)
	assert.Equal(t, uint64(5000000), tfxd.AbsoluteTime)
	assert.Equal(t, uint64(20000000), tfxd.Duration)

	tfrfPayload := append(append([]byte{}, uuidTfrf[:]...), byte(0), byte(0), byte(0), byte(0), byte(1))
	entryBytes := make([]byte, 8)
	binary.BigEndian.PutUint32(entryBytes[0:4], 25000000)
	binary.BigEndian.PutUint32(entryBytes[4:8], 20000000)
	tfrfPayload = append(tfrfPayload, entryBytes...)

	_, tfrfBox, ok, err := parseUUIDBox(tfrfPayload)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, tfrfBox)
	require.Len(t, tfrfBox.Entries, 1)
	assert.Equal(t, uint64(25000000), tfrfBox.Entries[0].AbsoluteTime)
}

func TestMergeLookahead_NeverShrinks(t *testing.T) {
	existing := []TfrfEntry{{AbsoluteTime: 1, Duration: 10}, {AbsoluteTime: 2, Duration: 10}}
	fresh := []TfrfEntry{{AbsoluteTime: 2, Duration: 10}}

	merged := MergeLookahead(existing, fresh)
	assert.Len(t, merged, 2, "a fresh tfrf reporting fewer entries must not drop previously known ones")
}

func TestWalker_StreamsMdatIncrementally(t *testing.T) {
	trunFlags := uint32(trunSampleDurationPresent | trunSampleSizePresent | trunSampleFlagsPresent)
	trun := encodeTrun(trunFlags, []testSample{{duration: 3000, size: 32, flags: 0}})
	tfhd := encodeTfhd(1, tfhdDefaultBaseIsMoof)
	traf := encodeBox("traf", append(tfhd, trun...))
	moof := encodeBox("moof", traf)
	mdat := encodeBox("mdat", make([]byte, 32))

	stream := append(append([]byte{}, moof...), mdat...)
	w := NewWalker()

	// Feed everything up to the middle of the mdat payload: the payload
	// bytes received so far must come out immediately, not once the
	// whole mdat has arrived.
	split := len(moof) + 8 + 10
	fragments, _, _, err := w.Push(stream[:split])
	require.NoError(t, err)
	require.Len(t, fragments, 2)
	require.NotNil(t, fragments[0].Moof)
	assert.Len(t, fragments[1].Mdat, 10)
	assert.Equal(t, int64(len(moof)+8), fragments[1].MdatStart)

	fragments, _, _, err = w.Push(stream[split:])
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Len(t, fragments[0].Mdat, 22)
	assert.Equal(t, int64(len(moof)+8+10), fragments[0].MdatStart)
}
