package format

import (
	"github.com/zsiec/vrframe/av1"
	"github.com/zsiec/vrframe/nal"
)

// Detect guesses the codec of a keyframe. Start-code delimited streams are
// recognized by an H.264 SPS or an HEVC VPS; anything else is tried as a
// sequence of AV1 OBUs. Delta frames carry none of these and yield
// CodecUnknown.
func Detect(buf []byte) Codec {
	for _, u := range nal.Units(buf) {
		if u[0]&0x80 != 0 {
			continue // forbidden_zero_bit
		}
		// A VPS header is exactly 0x40 with nuh_layer_id 0 and a nonzero
		// temporal id. H.264 units with nal_ref_idc 2 share the first
		// byte's type bits (0x41 is a P slice).
		if len(u) >= 2 && u[0] == 0x40 && u[1]>>3 == 0 && u[1]&7 != 0 {
			return CodecHEVC
		}
		if nal.H264Type(u[0]) == nal.H264SPS {
			return CodecH264
		}
	}
	if _, err := av1.FindSequenceHeader(buf); err == nil {
		return CodecAV1
	}
	return CodecUnknown
}
