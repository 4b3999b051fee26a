// Package av1 locates and parses the AV1 sequence header in a stream of
// concatenated OBUs and builds the AV1CodecConfigurationRecord (av1C) a
// decoder needs to be configured without in-band headers.
package av1

import (
	"bytes"
	"fmt"

	"github.com/pion/rtp/codecs/av1/obu"
)

// SequenceHeaderOBU is a sequence header OBU located inside a larger buffer.
type SequenceHeaderOBU struct {
	// Payload is the sequence_header_obu() syntax, header and size excluded.
	Payload []byte
	// Raw spans the OBU header through the end of the payload.
	Raw []byte
	// HasSizeField reports whether the OBU carried obu_size.
	HasSizeField bool
}

// FindSequenceHeader walks concatenated OBUs (low-overhead bitstream format)
// and returns the first sequence header. An OBU without a size field extends
// to the end of buf. Bytes with the forbidden bit set are skipped one at a
// time so the walk can resynchronize after garbage.
func FindSequenceHeader(buf []byte) (SequenceHeaderOBU, error) {
	off := 0
	for off < len(buf) {
		if buf[off]&0x80 != 0 {
			off++
			continue
		}
		h, err := obu.ParseOBUHeader(buf[off:])
		if err != nil {
			return SequenceHeaderOBU{}, fmt.Errorf("%w: header at offset %d: %v", ErrMalformedOBU, off, err)
		}

		start := off
		off += h.Size()
		end := len(buf)
		if h.HasSizeField {
			size, n, err := obu.ReadLeb128(buf[off:])
			if err != nil {
				return SequenceHeaderOBU{}, fmt.Errorf("%w: obu_size at offset %d: %v", ErrMalformedOBU, off, err)
			}
			off += int(n)
			if size > uint(len(buf)-off) {
				return SequenceHeaderOBU{}, fmt.Errorf("%w: obu_size %d exceeds remaining %d bytes",
					ErrMalformedOBU, size, len(buf)-off)
			}
			end = off + int(size)
		}

		if h.Type == obu.OBUSequenceHeader {
			return SequenceHeaderOBU{
				Payload:      buf[off:end],
				Raw:          buf[start:end],
				HasSizeField: h.HasSizeField,
			}, nil
		}
		off = end
	}
	return SequenceHeaderOBU{}, ErrSequenceHeaderNotFound
}

// ConfigOBU returns the sequence header in the form av1C requires: an OBU
// with obu_has_size_field set. OBUs that already carry a size are reused
// verbatim.
func (s SequenceHeaderOBU) ConfigOBU() []byte {
	if s.HasSizeField {
		return bytes.Clone(s.Raw)
	}
	h := obu.Header{Type: obu.OBUSequenceHeader, HasSizeField: true}
	out := h.Marshal()
	out = append(out, obu.WriteToLeb128(uint(len(s.Payload)))...)
	return append(out, s.Payload...)
}
