// Package mpegts implements the MPEG-TS probe: TS sync search,
// PAT→PMT→PCR pid tracking, 27 MHz PCR → ns conversion, and the Apple
// ID3 PRIV timestamp fallback for audio-only AAC-in-TS carriers.
// Hand-rolled on stdlib encoding/binary: table-assembling demuxer
// libraries don't expose the raw per-packet adaptation-field PCR or
// the candidate-offset sync search this probe needs.
package mpegts

import "fmt"

const (
	PacketSize    = 188
	syncByte      = 0x47
	minSyncChecks = 25

	nullPID = 0x1fff
)

// Probe holds the PAT→PMT→PCR state accumulated across one pass over a
// TS buffer.
type Probe struct {
	PacketOffset int // the sync-search winning offset within the buffer

	pmtPID int // -1 until found
	pcrPID int // -1 until found

	FirstPCR int64 // nanoseconds, -1 until seen
	LastPCR  int64
}

// Detect runs the TS sync search: for each
// candidate offset in [0, PacketSize) verify at least
// min(minSyncChecks, len(buf)/PacketSize) consecutive valid packet
// headers. Returns ok=false when no candidate offset passes.
func Detect(buf []byte) (offset int, ok bool) {
	maxPackets := len(buf) / PacketSize
	if maxPackets == 0 {
		return 0, false
	}
	required := minSyncChecks
	if maxPackets < required {
		required = maxPackets
	}
	if required == 0 {
		return 0, false
	}

	for candidate := 0; candidate < PacketSize && candidate < len(buf); candidate++ {
		matched := 0
		for pos := candidate; pos+PacketSize <= len(buf); pos += PacketSize {
			if !validPacketHeader(buf[pos : pos+PacketSize]) {
				break
			}
			matched++
			if matched >= required {
				return candidate, true
			}
		}
	}
	return 0, false
}

func validPacketHeader(pkt []byte) bool {
	if len(pkt) < 4 || pkt[0] != syncByte {
		return false
	}
	tei := pkt[1]&0x80 != 0
	if tei {
		return false
	}
	afc := (pkt[3] >> 4) & 0x3
	pid := (int(pkt[1]&0x1f) << 8) | int(pkt[2])
	if afc == 0 && pid != nullPID {
		return false
	}
	return true
}

// NewProbe returns a Probe with no PIDs resolved yet.
func NewProbe() *Probe {
	return &Probe{pmtPID: -1, pcrPID: -1, FirstPCR: -1, LastPCR: -1}
}

// Scan runs the single PAT->PMT->PCR pass over a TS-aligned buffer,
// starting at the offset Detect found.
func (p *Probe) Scan(buf []byte, offset int) error {
	for pos := offset; pos+PacketSize <= len(buf); pos += PacketSize {
		pkt := buf[pos : pos+PacketSize]
		if err := p.handlePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Probe) handlePacket(pkt []byte) error {
	if len(pkt) < 4 {
		return fmt.Errorf("mpegts: short packet")
	}
	pid := (int(pkt[1]&0x1f) << 8) | int(pkt[2])
	pusi := pkt[1]&0x40 != 0
	afc := (pkt[3] >> 4) & 0x3
	hasPayload := afc == 1 || afc == 3
	hasAdaptation := afc == 2 || afc == 3

	switch {
	case pid == 0 && hasPayload:
		pmtPID, err := parsePAT(pkt, pusi)
		if err == nil && pmtPID > 0 {
			p.pmtPID = pmtPID
		}
	case p.pmtPID >= 0 && pid == p.pmtPID && hasPayload:
		pcrPID, err := parsePMT(pkt, pusi)
		if err == nil && pcrPID > 0 {
			p.pcrPID = pcrPID
		}
	case p.pcrPID >= 0 && pid == p.pcrPID && hasAdaptation:
		if pcr, ok := parsePCR(pkt); ok {
			ns := pcrToNs(pcr)
			if p.FirstPCR < 0 {
				p.FirstPCR = ns
			}
			p.LastPCR = ns
		}
	}
	return nil
}

// pcrToNs converts a 27 MHz PCR value to nanoseconds.
func pcrToNs(pcr int64) int64 {
	return pcr * 1000 / 27
}
