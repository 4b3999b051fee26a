package nal

import "errors"

var (
	// ErrNoParameterSets is returned when a buffer carries no SPS (and, for
	// HEVC, no VPS). Callers should wait for the next keyframe.
	ErrNoParameterSets = errors.New("nal: no parameter sets in buffer")
	// ErrIncompleteParameterSets is returned when some but not all of the
	// parameter sets needed to configure a decoder are present.
	ErrIncompleteParameterSets = errors.New("nal: incomplete parameter sets")
)

// ParameterSets holds the raw NAL units (header included, start code
// excluded) needed to initialize a decoder. Unobserved sets are nil.
type ParameterSets struct {
	VPS []byte
	SPS []byte
	PPS []byte
	SEI []byte
}

// List returns the sets in decoder-configuration order, skipping nil
// entries. SEI is not included.
func (ps ParameterSets) List() [][]byte {
	var out [][]byte
	for _, b := range [][]byte{ps.VPS, ps.SPS, ps.PPS} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// ExtractHEVC walks the NAL units in buf and returns the first VPS, SPS,
// PPS and prefix SEI it finds. The returned slices are copies.
func ExtractHEVC(buf []byte) (ParameterSets, error) {
	var ps ParameterSets
	for _, u := range Units(buf) {
		switch HEVCType(u[0]) {
		case HEVCVPS:
			if ps.VPS == nil {
				ps.VPS = clone(u)
			}
		case HEVCSPS:
			if ps.SPS == nil {
				ps.SPS = clone(u)
			}
		case HEVCPPS:
			if ps.PPS == nil {
				ps.PPS = clone(u)
			}
		case HEVCSEIPrefix:
			if ps.SEI == nil {
				ps.SEI = clone(u)
			}
		}
	}

	if ps.VPS == nil && ps.SPS == nil {
		return ParameterSets{}, ErrNoParameterSets
	}
	if ps.VPS == nil || ps.SPS == nil || ps.PPS == nil {
		return ParameterSets{}, ErrIncompleteParameterSets
	}
	return ps, nil
}

// ExtractH264 returns the first SPS in buf and the first PPS that follows
// it. Encoders emit the two back to back at the head of each IDR access
// unit.
func ExtractH264(buf []byte) (ParameterSets, error) {
	var ps ParameterSets
	for _, u := range Units(buf) {
		switch H264Type(u[0]) {
		case H264SPS:
			if ps.SPS == nil {
				ps.SPS = clone(u)
			}
		case H264PPS:
			if ps.SPS != nil && ps.PPS == nil {
				ps.PPS = clone(u)
			}
		}
	}

	if ps.SPS == nil {
		return ParameterSets{}, ErrNoParameterSets
	}
	if ps.PPS == nil {
		return ParameterSets{}, ErrIncompleteParameterSets
	}
	return ps, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
