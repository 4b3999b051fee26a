package reframe

import (
	"encoding/binary"
	"fmt"
)

// Split parses a length-prefixed sample back into its NAL units. The returned
// slices alias data.
func Split(data []byte) ([][]byte, error) {
	var units [][]byte
	for off := 0; off < len(data); {
		if len(data)-off < LengthSize {
			return nil, fmt.Errorf("reframe: %d trailing bytes at offset %d", len(data)-off, off)
		}
		n := int(binary.BigEndian.Uint32(data[off:]))
		off += LengthSize
		if n > len(data)-off {
			return nil, fmt.Errorf("reframe: NAL length %d exceeds remaining %d bytes", n, len(data)-off)
		}
		units = append(units, data[off:off+n])
		off += n
	}
	if len(units) == 0 {
		return nil, ErrNoNALUnits
	}
	return units, nil
}
