// Package reframe converts Annex-B elementary streams (start-code delimited)
// into the 4-byte length-prefixed sample layout that hardware decoders take.
package reframe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zsiec/vrframe/nal"
)

// LengthSize is the size of the big-endian NAL length prefix.
const LengthSize = 4

var (
	// ErrNoNALUnits is returned when a buffer contains no start code.
	ErrNoNALUnits = errors.New("reframe: no NAL units found")
	// ErrShortStartCode rejects in-place conversion of a buffer that uses
	// 3-byte start codes.
	ErrShortStartCode = errors.New("reframe: 3-byte start code prevents in-place conversion")
)

// Path identifies which conversion produced a Sample.
type Path uint8

const (
	PathInPlace Path = iota + 1
	PathCopy
)

func (p Path) String() string {
	switch p {
	case PathInPlace:
		return "in-place"
	case PathCopy:
		return "copy"
	default:
		return fmt.Sprintf("Path(%d)", uint8(p))
	}
}

// Sample is a length-prefixed access unit ready for submission.
type Sample struct {
	Data  []byte
	Path  Path
	NALUs int
}

// ToLengthPrefixed reframes buf. When every start code is four bytes long the
// conversion happens in place and buf is consumed: the caller must not use it
// afterwards. Otherwise a new buffer is allocated and buf is left untouched.
func ToLengthPrefixed(buf []byte) (Sample, error) {
	idx, inPlace := nal.FindIndices(buf)
	if len(idx) == 0 {
		return Sample{}, ErrNoNALUnits
	}
	if inPlace {
		return Sample{Data: rewrite(buf, idx), Path: PathInPlace, NALUs: len(idx)}, nil
	}
	return Sample{Data: copyOut(buf, idx), Path: PathCopy, NALUs: len(idx)}, nil
}

// InPlace overwrites each 4-byte start code in buf with the length of the
// NAL unit that follows it. It fails if any start code is three bytes long.
func InPlace(buf []byte) ([]byte, error) {
	idx, inPlace := nal.FindIndices(buf)
	if len(idx) == 0 {
		return nil, ErrNoNALUnits
	}
	if !inPlace {
		return nil, ErrShortStartCode
	}
	return rewrite(buf, idx), nil
}

// Copy writes a length-prefixed copy of buf. buf is not modified.
func Copy(buf []byte) ([]byte, error) {
	idx, _ := nal.FindIndices(buf)
	if len(idx) == 0 {
		return nil, ErrNoNALUnits
	}
	return copyOut(buf, idx), nil
}

// rewrite relies on payload i ending exactly where start code i+1 begins.
func rewrite(buf []byte, idx []nal.Index) []byte {
	for _, ix := range idx {
		binary.BigEndian.PutUint32(buf[ix.Start:ix.Start+LengthSize], uint32(ix.PayloadSize))
	}
	return buf[idx[0].Start:]
}

func copyOut(buf []byte, idx []nal.Index) []byte {
	total := 0
	for _, ix := range idx {
		total += LengthSize + ix.PayloadSize
	}
	out := make([]byte, 0, total)
	var lenBuf [LengthSize]byte
	for _, ix := range idx {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(ix.PayloadSize))
		out = append(out, lenBuf[:]...)
		out = append(out, ix.Payload(buf)...)
	}
	return out
}
