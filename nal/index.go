package nal

// Index locates one NAL unit inside an Annex-B buffer.
type Index struct {
	// Start is the offset of the first start-code byte.
	Start int
	// PayloadStart is the offset of the first byte after the start code.
	PayloadStart int
	// PayloadSize runs up to the next start code or the end of the buffer.
	PayloadSize int
	// ShortStartCode is set for 3-byte (00 00 01) start codes.
	ShortStartCode bool
}

// Payload returns the NAL bytes (header included, start code excluded).
func (ix Index) Payload(buf []byte) []byte {
	return buf[ix.PayloadStart : ix.PayloadStart+ix.PayloadSize]
}

// FindIndices scans buf for Annex-B start codes. The second result reports
// whether every start code found is 4 bytes long, which is the condition for
// rewriting the buffer into length-prefixed form in place.
//
// The scan skips ahead three bytes whenever buf[i+2] > 1, since no start code
// can then end at i+2. Buffers shorter than three bytes yield no indices.
func FindIndices(buf []byte) ([]Index, bool) {
	if len(buf) < 3 {
		return nil, false
	}

	var out []Index
	inPlace := true
	end := len(buf) - 3

	for i := 0; i < end; {
		switch {
		case buf[i+2] > 1:
			i += 3
		case buf[i+2] == 1 && buf[i+1] == 0 && buf[i] == 0:
			ix := Index{Start: i, PayloadStart: i + 3}
			if i > 0 && buf[i-1] == 0 {
				ix.Start--
			} else {
				ix.ShortStartCode = true
				inPlace = false
			}
			if n := len(out); n > 0 {
				out[n-1].PayloadSize = ix.Start - out[n-1].PayloadStart
			}
			out = append(out, ix)
			i += 3
		default:
			i++
		}
	}

	if n := len(out); n > 0 {
		out[n-1].PayloadSize = len(buf) - out[n-1].PayloadStart
	}
	return out, inPlace
}

// Units returns the payload of every NAL unit in buf, in stream order.
// The returned slices alias buf.
func Units(buf []byte) [][]byte {
	idx, _ := FindIndices(buf)
	units := make([][]byte, 0, len(idx))
	for _, ix := range idx {
		if ix.PayloadSize > 0 {
			units = append(units, ix.Payload(buf))
		}
	}
	return units
}
