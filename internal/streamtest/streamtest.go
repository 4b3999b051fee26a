// Package streamtest provides small, valid elementary-stream access units
// for tests across the module.
package streamtest

import (
	"slices"

	"github.com/pion/rtp/codecs/av1/obu"

	"github.com/zsiec/vrframe/bitstream"
	"github.com/zsiec/vrframe/media"
)

// H.264 High profile 1280x720 SPS and a matching PPS.
var (
	H264SPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	H264PPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

// HEVC Main profile 320x240 parameter sets.
var (
	HEVCVPS = []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60}
	HEVCSPS = []byte{
		0x42, 0x01,
		0x01,
		0x01,
		0x40, 0x00, 0x00, 0x00,
		0xB0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5D,
		0xA0, 0x0A, 0x08, 0x0F, 0x16,
	}
	HEVCPPS = []byte{0x44, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = append(out, startCode...)
		out = append(out, u...)
	}
	return out
}

// Fragment wraps data with a timestamp.
func Fragment(ts uint64, data []byte) media.Fragment {
	return media.Fragment{Timestamp: ts, Data: data}
}

// H264Keyframe returns SPS, PPS and an IDR slice. Each call returns a fresh
// buffer the caller may consume.
func H264Keyframe() []byte {
	return AnnexB(H264SPS, H264PPS, []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xFF})
}

// H264Delta returns a single non-IDR slice.
func H264Delta() []byte {
	return AnnexB([]byte{0x41, 0x9A, 0x02, 0x04, 0x80})
}

// HEVCKeyframe returns VPS, SPS, PPS and an IDR_W_RADL slice.
func HEVCKeyframe() []byte {
	return AnnexB(HEVCVPS, HEVCSPS, HEVCPPS, []byte{0x26, 0x01, 0xAF, 0x09, 0x40})
}

// HEVCDelta returns a single TRAIL_R slice.
func HEVCDelta() []byte {
	return AnnexB([]byte{0x02, 0x01, 0xD0, 0x11, 0x80})
}

// AV1SequenceHeader encodes a profile 0, level 8, 8-bit 4:2:0 sequence
// header payload for a width x height stream (both at most 65536).
func AV1SequenceHeader(width, height int) []byte {
	var w bitstream.Writer
	w.WriteBits(0, 3)  // seq_profile
	w.WriteBit(false)  // still_picture
	w.WriteBit(false)  // reduced_still_picture_header
	w.WriteBit(false)  // timing_info_present_flag
	w.WriteBit(false)  // initial_display_delay_present_flag
	w.WriteBits(0, 5)  // operating_points_cnt_minus_1
	w.WriteBits(0, 12) // operating_point_idc[0]
	w.WriteBits(8, 5)  // seq_level_idx[0]
	w.WriteBit(false)  // seq_tier[0]
	w.WriteBits(15, 4) // frame_width_bits_minus_1
	w.WriteBits(15, 4) // frame_height_bits_minus_1
	w.WriteBits(uint32(width-1), 16)
	w.WriteBits(uint32(height-1), 16)
	w.WriteBit(false) // frame_id_numbers_present_flag
	w.WriteBits(0, 3) // superblock, filter intra, intra edge
	w.WriteBits(0, 4) // inter tools
	w.WriteBit(false) // enable_order_hint
	w.WriteBit(true)  // seq_choose_screen_content_tools
	w.WriteBit(true)  // seq_choose_integer_mv
	w.WriteBits(0, 3) // superres, cdef, restoration
	w.WriteBit(false) // high_bitdepth
	w.WriteBit(false) // mono_chrome
	w.WriteBit(false) // color_description_present_flag
	w.WriteBit(false) // color_range
	w.WriteBits(0, 2) // chroma_sample_position
	w.WriteBit(false) // separate_uv_delta_q
	w.WriteBit(false) // film_grain_params_present
	w.WriteBit(true)  // trailing one bit
	for w.Len()%8 != 0 {
		w.WriteBit(false)
	}
	return w.Bytes()
}

// AV1Keyframe returns a temporal unit: temporal delimiter, a sequence header
// and a frame OBU. The sequence header carries a size field when sized is
// true.
func AV1Keyframe(width, height int, sized bool) []byte {
	out := obuBytes(obu.OBUTemporalDelimiter, nil, true)
	out = append(out, obuBytes(obu.OBUSequenceHeader, AV1SequenceHeader(width, height), sized)...)
	if !sized {
		return out
	}
	return append(out, obuBytes(obu.OBUFrame, []byte{0x10, 0x00, 0x80, 0x24}, true)...)
}

// AV1Delta returns a temporal unit without a sequence header.
func AV1Delta() []byte {
	out := obuBytes(obu.OBUTemporalDelimiter, nil, true)
	return append(out, obuBytes(obu.OBUFrame, []byte{0x30, 0x10, 0x00}, true)...)
}

func obuBytes(t obu.Type, payload []byte, sized bool) []byte {
	h := obu.Header{Type: t, HasSizeField: sized}
	out := h.Marshal()
	if sized {
		out = append(out, obu.WriteToLeb128(uint(len(payload)))...)
	}
	return append(out, slices.Clone(payload)...)
}
