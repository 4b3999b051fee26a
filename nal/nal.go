// Package nal locates and classifies H.264/HEVC NAL units in Annex-B
// elementary streams, extracts the parameter sets needed to configure a
// decoder, and builds the matching avcC/hvcC configuration records.
//
// The central entry points are [FindIndices], [ExtractH264], [ExtractHEVC],
// [ParseSPS] and [ParseHEVCSPS].
package nal

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	H264Slice      = 1
	H264IDR        = 5
	H264SEI        = 6
	H264SPS        = 7
	H264PPS        = 8
	H264AUD        = 9
	H264FillerData = 12
)

// HEVC NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCBlaWLP     = 16
	HEVCIDRWRadl   = 19
	HEVCIDRNlp     = 20
	HEVCCraNut     = 21
	HEVCVPS        = 32
	HEVCSPS        = 33
	HEVCPPS        = 34
	HEVCAUD        = 35
	HEVCFillerData = 38
	HEVCSEIPrefix  = 39
)

// H264Type returns the nal_unit_type of an H.264 NAL header byte.
func H264Type(b byte) byte {
	return b & 0x1F
}

// HEVCType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCType(b byte) byte {
	return (b & 0x7E) >> 1
}

// IsH264Keyframe reports whether the H.264 NAL type is an IDR slice.
func IsH264Keyframe(t byte) bool {
	return t == H264IDR
}

// IsHEVCKeyframe reports whether the HEVC NAL type is a random access
// point (BLA, IDR or CRA).
func IsHEVCKeyframe(t byte) bool {
	return t >= HEVCBlaWLP && t <= HEVCCraNut
}
