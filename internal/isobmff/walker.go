package isobmff

import (
	"bytes"
	"fmt"
)

// FragmentEvent is one parser output. A completed moof box is announced
// with Moof set and no payload; mdat payload bytes are forwarded as they
// arrive, with Moof nil, so one mdat may span several events.
type FragmentEvent struct {
	Moof *Moof

	// MdatStart is the absolute offset of the first byte in Mdat.
	MdatStart int64
	Mdat      []byte
}

// Walker incrementally parses a stream of ISOBMFF bytes into moof
// announcements, streamed mdat payload runs, sidx boxes, and MSS
// tfxd/tfrf uuid boxes. Metadata boxes are buffered only until complete
// (peek the 8- or 16-byte extended-size header, wait for the whole box,
// consume it); mdat payload is never accumulated — each Push forwards
// whatever payload bytes it has.
type Walker struct {
	buf      bytes.Buffer
	consumed int64 // absolute file offset of buf.Bytes()[0]

	// mdatRemaining > 0 means the walker is inside an mdat box,
	// streaming its payload; mdatOffset is the absolute offset of the
	// next payload byte.
	mdatRemaining int64
	mdatOffset    int64
}

// NewWalker returns a Walker starting at absolute offset 0. Call Reset
// between representation switches, alongside re-running typefind.
func NewWalker() *Walker {
	return &Walker{}
}

// Reset clears all buffered state, as required on a flush-seek or
// representation switch.
func (w *Walker) Reset() {
	w.buf.Reset()
	w.consumed = 0
	w.mdatRemaining = 0
	w.mdatOffset = 0
}

// Push feeds the next chunk of bytes and returns every event that became
// available as a result: completed moof/sidx/uuid boxes plus any mdat
// payload bytes, forwarded immediately.
func (w *Walker) Push(data []byte) ([]FragmentEvent, []*Sidx, []UUIDBox, error) {
	w.buf.Write(data)

	var fragments []FragmentEvent
	var sidxBoxes []*Sidx
	var uuidBoxes []UUIDBox

	for {
		raw := w.buf.Bytes()

		if w.mdatRemaining > 0 {
			if len(raw) == 0 {
				return fragments, sidxBoxes, uuidBoxes, nil
			}
			n := int64(len(raw))
			if n > w.mdatRemaining {
				n = w.mdatRemaining
			}
			fragments = append(fragments, FragmentEvent{
				MdatStart: w.mdatOffset,
				Mdat:      append([]byte(nil), raw[:n]...),
			})
			w.mdatOffset += n
			w.mdatRemaining -= n
			w.advance(n)
			continue
		}

		hdr, ok := peekBoxHeader(raw)
		if !ok {
			return fragments, sidxBoxes, uuidBoxes, nil
		}

		if hdr.boxType == "mdat" {
			w.mdatRemaining = int64(hdr.size) - int64(hdr.headerSize)
			w.mdatOffset = w.consumed + int64(hdr.headerSize)
			w.advance(int64(hdr.headerSize))
			continue
		}

		if uint64(len(raw)) < hdr.size {
			return fragments, sidxBoxes, uuidBoxes, nil
		}

		switch hdr.boxType {
		case "moof":
			moof, err := parseMoof(uint64(w.consumed), raw[hdr.headerSize:hdr.size])
			if err != nil {
				return fragments, sidxBoxes, uuidBoxes, fmt.Errorf("isobmff: parsing moof: %w", err)
			}
			fragments = append(fragments, FragmentEvent{Moof: moof})
			w.advance(int64(hdr.size))

		case "sidx":
			sidx, err := parseSidx(raw[hdr.headerSize:hdr.size])
			if err != nil {
				return fragments, sidxBoxes, uuidBoxes, fmt.Errorf("isobmff: parsing sidx: %w", err)
			}
			sidxBoxes = append(sidxBoxes, sidx)
			w.advance(int64(hdr.size))

		case "uuid":
			tfxd, tfrf, ok, err := parseUUIDBox(raw[hdr.headerSize:hdr.size])
			if err != nil {
				return fragments, sidxBoxes, uuidBoxes, fmt.Errorf("isobmff: parsing uuid box: %w", err)
			}
			if ok {
				uuidBoxes = append(uuidBoxes, UUIDBox{Tfxd: tfxd, Tfrf: tfrf})
			}
			w.advance(int64(hdr.size))

		default:
			// ftyp, styp, moov, free, and anything else we don't need to
			// inspect structurally: skip whole.
			w.advance(int64(hdr.size))
		}
	}
}

// UUIDBox wraps whichever MSS extension box was recognized (at most one
// of Tfxd/Tfrf is non-nil).
type UUIDBox struct {
	Tfxd *TfxdBox
	Tfrf *TfrfBox
}

func (w *Walker) advance(n int64) {
	w.buf.Next(int(n))
	w.consumed += n
	if w.buf.Len() == 0 && w.buf.Cap() > 1<<20 {
		w.buf = bytes.Buffer{}
	}
}
