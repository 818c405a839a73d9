package mpegts

import "fmt"

// payload returns a TS packet's payload bytes, skipping the adaptation
// field when present.
func payload(pkt []byte) ([]byte, error) {
	if len(pkt) < 4 {
		return nil, fmt.Errorf("mpegts: short packet")
	}
	afc := (pkt[3] >> 4) & 0x3
	off := 4
	if afc == 2 || afc == 3 {
		if len(pkt) < 5 {
			return nil, fmt.Errorf("mpegts: truncated adaptation field")
		}
		adaptLen := int(pkt[4])
		off += 1 + adaptLen
	}
	if off > len(pkt) {
		return nil, fmt.Errorf("mpegts: adaptation field overruns packet")
	}
	return pkt[off:], nil
}

// psiSection strips a payload-unit-start packet's pointer_field, leaving
// the PSI table section starting at table_id.
func psiSection(p []byte, pusi bool) ([]byte, error) {
	if !pusi {
		return p, nil
	}
	if len(p) < 1 {
		return nil, fmt.Errorf("mpegts: empty payload")
	}
	pointer := int(p[0])
	if 1+pointer > len(p) {
		return nil, fmt.Errorf("mpegts: pointer_field overruns payload")
	}
	return p[1+pointer:], nil
}

// parsePAT extracts the first program's PMT PID from a PAT packet.
func parsePAT(pkt []byte, pusi bool) (int, error) {
	p, err := payload(pkt)
	if err != nil {
		return 0, err
	}
	section, err := psiSection(p, pusi)
	if err != nil {
		return 0, err
	}
	if len(section) < 8 {
		return 0, fmt.Errorf("mpegts: PAT section too short")
	}
	sectionLength := int(section[1]&0x0f)<<8 | int(section[2])
	if len(section) < 3+sectionLength {
		return 0, fmt.Errorf("mpegts: PAT section truncated")
	}

	// Program entries start at byte 8, each 4 bytes, table ends 4 bytes
	// (CRC32) before the section's declared end.
	end := 3 + sectionLength - 4
	for off := 8; off+4 <= end && off+4 <= len(section); off += 4 {
		programNumber := int(section[off])<<8 | int(section[off+1])
		pid := int(section[off+2]&0x1f)<<8 | int(section[off+3])
		if programNumber != 0 {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("mpegts: no program found in PAT")
}

// parsePMT extracts the PCR PID from a PMT packet.
func parsePMT(pkt []byte, pusi bool) (int, error) {
	p, err := payload(pkt)
	if err != nil {
		return 0, err
	}
	section, err := psiSection(p, pusi)
	if err != nil {
		return 0, err
	}
	if len(section) < 12 {
		return 0, fmt.Errorf("mpegts: PMT section too short")
	}
	pcrPID := int(section[8]&0x1f)<<8 | int(section[9])
	return pcrPID, nil
}
