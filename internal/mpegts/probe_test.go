package mpegts

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packet builds one 188-byte TS packet. adaptation is the full
// adaptation-field byte slice (length byte included), or nil for none.
func packet(pid int, pusi bool, payload []byte, adaptation []byte) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = syncByte
	pkt[1] = byte(pid >> 8 & 0x1f)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)

	off := 4
	afc := byte(1)
	if len(adaptation) > 0 {
		afc = 3
		pkt[4] = byte(len(adaptation) - 1)
		copy(pkt[5:], adaptation[1:])
		off = 4 + len(adaptation)
	}
	pkt[3] = afc<<4 | 0x10 // continuity counter nibble left at 0

	copy(pkt[off:], payload)
	return pkt
}

func patPacket() []byte {
	section := make([]byte, 0, 16)
	section = append(section, 0x00)             // table_id
	section = append(section, 0xb0, 0x0d)       // section_syntax+length (13)
	section = append(section, 0x00, 0x01)       // transport_stream_id
	section = append(section, 0xc1, 0x00, 0x00) // version/current/section/last
	// program 1 -> PMT pid 0x100
	section = append(section, 0x00, 0x01, 0xe1, 0x00)
	section = append(section, 0, 0, 0, 0) // CRC32 placeholder

	payload := append([]byte{0x00}, section...) // pointer_field
	return packet(0x0000, true, payload, nil)
}

func pmtPacket(pcrPID int) []byte {
	section := make([]byte, 0, 16)
	section = append(section, 0x02)
	section = append(section, 0xb0, 0x0d)
	section = append(section, 0x00, 0x01)
	section = append(section, 0xc1, 0x00, 0x00)
	section = append(section, byte(pcrPID>>8&0x1f)|0xe0, byte(pcrPID))
	section = append(section, 0xf0, 0x00) // program_info_length = 0
	section = append(section, 0, 0, 0, 0) // CRC placeholder

	payload := append([]byte{0x00}, section...)
	return packet(0x0100, true, payload, nil)
}

func pcrAdaptationField(pcr27 int64) []byte {
	base := pcr27 / 300
	ext := pcr27 % 300
	field := make([]byte, 6)
	field[0] = byte(base >> 25)
	field[1] = byte(base >> 17)
	field[2] = byte(base >> 9)
	field[3] = byte(base >> 1)
	field[4] = byte(base<<7) | byte(ext>>8) | 0x7e
	field[5] = byte(ext)

	adapt := make([]byte, 0, 8)
	adapt = append(adapt, byte(1+len(field))) // adaptation_field_length
	adapt = append(adapt, 0x10)               // PCR_flag set, rest clear
	adapt = append(adapt, field...)
	return adapt
}

func TestDetectFindsSyncOffset(t *testing.T) {
	var buf []byte
	buf = append(buf, 0xde, 0xad) // leading junk before TS alignment
	for i := 0; i < 30; i++ {
		buf = append(buf, packet(0x100, false, make([]byte, 184), nil)...)
	}

	offset, ok := Detect(buf)
	require.True(t, ok)
	assert.Equal(t, 2, offset)
}

func TestDetectRejectsNonTS(t *testing.T) {
	_, ok := Detect(make([]byte, 4096))
	assert.False(t, ok)
}

func TestScanTracksPATPMTPCR(t *testing.T) {
	const pcrPID = 0x101
	const pcrValue27 = 27_000_000 // 1 second at 27 MHz

	var buf []byte
	buf = append(buf, patPacket()...)
	buf = append(buf, pmtPacket(pcrPID)...)
	buf = append(buf, packet(pcrPID, false, make([]byte, 0), pcrAdaptationField(pcrValue27))...)
	buf = append(buf, packet(pcrPID, false, make([]byte, 0), pcrAdaptationField(pcrValue27*2))...)

	p := NewProbe()
	require.NoError(t, p.Scan(buf, 0))

	assert.Equal(t, int64(1_000_000_000), p.FirstPCR)
	assert.Equal(t, int64(2_000_000_000), p.LastPCR)
}

func TestParsePCRRequiresFlag(t *testing.T) {
	pkt := packet(0x101, false, make([]byte, 0), []byte{0x01, 0x00}) // adaptation present, PCR_flag clear
	_, ok := parsePCR(pkt)
	assert.False(t, ok)
}

func TestAppleID3Timestamp(t *testing.T) {
	owner := applePRIVOwner + "\x00"
	frameBody := append([]byte(owner), 0x00, 0x00, 0x00, 0x00, 0x00, 0x4c, 0x4b, 0x40)

	frame := make([]byte, 10+len(frameBody))
	copy(frame[0:4], "PRIV")
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(frameBody)))
	copy(frame[10:], frameBody)

	tagSize := len(frame)
	header := make([]byte, 10)
	header[0], header[1], header[2] = 'I', 'D', '3'
	header[6] = byte(tagSize >> 21 & 0x7f)
	header[7] = byte(tagSize >> 14 & 0x7f)
	header[8] = byte(tagSize >> 7 & 0x7f)
	header[9] = byte(tagSize & 0x7f)

	buf := append(header, frame...)
	buf = append(buf, []byte("trailing media bytes")...)

	ptsNs, headerLen, ok := AppleID3Timestamp(buf)
	require.True(t, ok)
	assert.InDelta(t, 55_555_555_555.0, float64(ptsNs), 1)
	assert.Equal(t, 10+tagSize, headerLen)
	assert.Equal(t, "trailing media bytes", string(buf[headerLen:]))
}

func TestAppleID3TimestampRejectsNonID3(t *testing.T) {
	_, _, ok := AppleID3Timestamp([]byte("not an id3 tag at all"))
	assert.False(t, ok)
}
