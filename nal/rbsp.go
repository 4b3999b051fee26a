package nal

import (
	"errors"

	"github.com/zsiec/vrframe/bitstream"
)

// ErrSPSTooShort is returned when an SPS ends before a required field.
var ErrSPSTooShort = errors.New("nal: SPS data too short")

// rbspReader adds Exp-Golomb decoding and strict bounds checks on top of the
// lenient bitstream reader.
type rbspReader struct {
	br *bitstream.Reader
}

func newRBSPReader(rbsp []byte) *rbspReader {
	return &rbspReader{br: bitstream.NewReader(rbsp)}
}

func (r *rbspReader) bits(n int) (uint, error) {
	v := r.br.ReadBits(n)
	if r.br.Overrun() {
		return 0, ErrSPSTooShort
	}
	return uint(v), nil
}

func (r *rbspReader) flag() (bool, error) {
	v, err := r.bits(1)
	return v == 1, err
}

func (r *rbspReader) ue() (uint, error) {
	zeros := 0
	for {
		b, err := r.bits(1)
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, ErrSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := r.bits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (r *rbspReader) se() (int, error) {
	v, err := r.ue()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int(v / 2), nil
	}
	return int((v + 1) / 2), nil
}

// skip discards a run of ue(v) fields.
func (r *rbspReader) skipUE(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.ue(); err != nil {
			return err
		}
	}
	return nil
}

func (r *rbspReader) skipScalingList(size int) error {
	last, next := 8, 8
	for j := 0; j < size; j++ {
		if next != 0 {
			delta, err := r.se()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}

// removeEmulationPrevention strips 0x03 bytes inserted after two zero bytes
// to turn a NAL payload back into its RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
