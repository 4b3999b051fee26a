// Package bitstream provides an MSB-first bit reader for codec header
// syntax (AV1 sequence headers, H.264/HEVC RBSP fields).
//
// The [Reader] is lenient: reads past the end of the buffer yield zero bits
// instead of failing, and [Reader.Overrun] reports whether that happened.
// Syntax parsers that need strict bounds checks should consult Overrun
// after decoding a structure.
package bitstream

import "math"

// UVLCInfinite is returned by [Reader.ReadUVLC] when 32 or more leading
// zero bits are encountered.
const UVLCInfinite = math.MaxUint32

// Reader reads bits from a byte slice, most significant bit first.
// A Reader is not safe for concurrent use.
type Reader struct {
	data    []byte
	pos     int // bit offset
	overrun bool
}

// NewReader returns a Reader positioned at the first bit of b.
func NewReader(b []byte) *Reader {
	return &Reader{data: b}
}

// ReadBit returns the next bit. Past the end of the buffer it returns 0 and
// marks the reader as overrun.
func (r *Reader) ReadBit() uint32 {
	idx := r.pos >> 3
	if idx >= len(r.data) {
		r.overrun = true
		r.pos++
		return 0
	}
	bit := uint32(r.data[idx]>>(7-uint(r.pos&7))) & 1
	r.pos++
	return bit
}

// ReadBits reads n bits (n <= 32) as an unsigned big-endian value.
func (r *Reader) ReadBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | r.ReadBit()
	}
	return v
}

// ReadFlag reads a single bit as a bool.
func (r *Reader) ReadFlag() bool {
	return r.ReadBit() == 1
}

// ReadUVLC decodes an AV1 uvlc() value: k leading zeros, a one bit, then k
// suffix bits, giving (1<<k)-1+suffix.
func (r *Reader) ReadUVLC() uint32 {
	zeros := 0
	for zeros < 32 && r.ReadBit() == 0 {
		zeros++
	}
	if zeros >= 32 {
		return UVLCInfinite
	}
	suffix := r.ReadBits(zeros)
	return uint32((uint64(1)<<zeros)-1) + suffix
}

// ByteAlign advances to the next byte boundary.
func (r *Reader) ByteAlign() {
	if rem := r.pos & 7; rem != 0 {
		r.pos += 8 - rem
	}
}

// Position returns the current bit offset.
func (r *Reader) Position() int {
	return r.pos
}

// Overrun reports whether any read went past the end of the buffer.
func (r *Reader) Overrun() bool {
	return r.overrun
}

// Writer is the inverse of Reader, used to construct bitstreams in tests and
// when synthesizing headers.
type Writer struct {
	buf  []byte
	nbit int
}

// WriteBits appends the low n bits of v, most significant first.
func (w *Writer) WriteBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(v>>uint(i)&1 == 1)
	}
}

// WriteBit appends a single bit.
func (w *Writer) WriteBit(b bool) {
	if w.nbit&7 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[len(w.buf)-1] |= 0x80 >> uint(w.nbit&7)
	}
	w.nbit++
}

// WriteUVLC appends v in uvlc() form.
func (w *Writer) WriteUVLC(v uint32) {
	x := uint64(v) + 1
	k := 0
	for x>>uint(k+1) != 0 {
		k++
	}
	w.WriteBits(0, k)
	w.WriteBit(true)
	w.WriteBits(uint32(x-(uint64(1)<<uint(k))), k)
}

// Bytes returns the written bits, zero-padded to a whole byte.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bits written.
func (w *Writer) Len() int {
	return w.nbit
}
