package nal

import (
	"fmt"
	"math/bits"
	"strings"
)

// HEVCSPSInfo holds the fields of an HEVC SPS needed for hvcC and the codec
// string.
type HEVCSPSInfo struct {
	Width          int
	Height         int
	ProfileSpace   byte
	TierFlag       byte
	ProfileIDC     byte
	LevelIDC       byte
	MaxSubLayers   int
	TemporalNest   bool
	ChromaFormat   byte
	BitDepthLuma   int
	BitDepthChroma int

	// From the VUI video_signal_type; unspecified (2) when absent.
	FullRange               bool
	ColourPrimaries         int
	TransferCharacteristics int
	MatrixCoefficients      int

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64 // low 48 bits
}

// CodecString returns the RFC 6381 / ISO 14496-15 Annex E codec parameter,
// e.g. "hev1.1.6.L93.B0".
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}
	space := ""
	if s.ProfileSpace > 0 {
		space = string(rune('A' + s.ProfileSpace - 1))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "hev1.%s%d.%X.%s%d", space, s.ProfileIDC,
		bits.Reverse32(s.ProfileCompatibilityFlags), tier, s.LevelIDC)

	var cb [6]byte
	last := -1
	for i := range cb {
		cb[i] = byte(s.ConstraintIndicatorFlags >> uint((5-i)*8))
		if cb[i] != 0 {
			last = i
		}
	}
	for i := 0; i <= last; i++ {
		fmt.Fprintf(&b, ".%X", cb[i])
	}
	return b.String()
}

// ParseHEVCSPS parses an HEVC SPS NAL unit including its 2-byte header.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, ErrSPSTooShort
	}
	r := newRBSPReader(removeEmulationPrevention(nalu[2:]))

	if _, err := r.bits(4); err != nil { // sps_video_parameter_set_id
		return HEVCSPSInfo{}, err
	}
	subLayersMinus1, err := r.bits(3)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	nesting, err := r.flag()
	if err != nil {
		return HEVCSPSInfo{}, err
	}

	info := HEVCSPSInfo{
		MaxSubLayers:            int(subLayersMinus1) + 1,
		TemporalNest:            nesting,
		BitDepthLuma:            8,
		BitDepthChroma:          8,
		ColourPrimaries:         colourUnspecified,
		TransferCharacteristics: colourUnspecified,
		MatrixCoefficients:      colourUnspecified,
	}
	if err := parseProfileTierLevel(r, &info, subLayersMinus1); err != nil {
		return HEVCSPSInfo{}, err
	}

	if _, err := r.ue(); err != nil { // sps_seq_parameter_set_id
		return HEVCSPSInfo{}, err
	}
	chroma, err := r.ue()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.ChromaFormat = byte(chroma)
	if chroma == 3 {
		if _, err := r.bits(1); err != nil { // separate_colour_plane_flag
			return HEVCSPSInfo{}, err
		}
	}

	w, err := r.ue()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	h, err := r.ue()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.Width, info.Height = int(w), int(h)

	// Everything past the luma dimensions is optional for our purposes;
	// a truncated tail keeps what was decoded so far.
	window, err := r.flag()
	if err != nil {
		return info, nil
	}
	if window {
		var off [4]uint
		for i := range off {
			if off[i], err = r.ue(); err != nil {
				return info, nil
			}
		}
		subW, subH := uint(1), uint(1)
		switch chroma {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW, subH = 2, 1
		}
		info.Width -= int((off[0] + off[1]) * subW)
		info.Height -= int((off[2] + off[3]) * subH)
	}

	bdl, err := r.ue()
	if err != nil {
		return info, nil
	}
	bdc, err := r.ue()
	if err != nil {
		return info, nil
	}
	info.BitDepthLuma = 8 + int(bdl)
	info.BitDepthChroma = 8 + int(bdc)

	if vui, err := skipToHEVCVUI(r, subLayersMinus1); err == nil && vui {
		parseHEVCVUI(r, &info)
	}
	return info, nil
}

// skipToHEVCVUI walks the SPS fields between the bit depths and
// vui_parameters_present_flag, returning that flag.
func skipToHEVCVUI(r *rbspReader, subLayersMinus1 uint) (bool, error) {
	pocBits, err := r.ue() // log2_max_pic_order_cnt_lsb_minus4
	if err != nil {
		return false, err
	}
	pocBits += 4

	ordering, err := r.flag()
	if err != nil {
		return false, err
	}
	n := 1
	if ordering {
		n = int(subLayersMinus1) + 1
	}
	// max_dec_pic_buffering, max_num_reorder_pics, max_latency_increase
	// per sub-layer, then six coding/transform block size fields.
	if err := r.skipUE(3*n + 6); err != nil {
		return false, err
	}

	scaling, err := r.flag()
	if err != nil {
		return false, err
	}
	if scaling {
		present, err := r.flag()
		if err != nil {
			return false, err
		}
		if present {
			if err := skipHEVCScalingListData(r); err != nil {
				return false, err
			}
		}
	}

	if _, err := r.bits(2); err != nil { // amp_enabled, sample_adaptive_offset
		return false, err
	}
	pcm, err := r.flag()
	if err != nil {
		return false, err
	}
	if pcm {
		if _, err := r.bits(8); err != nil { // pcm sample bit depths
			return false, err
		}
		if err := r.skipUE(2); err != nil {
			return false, err
		}
		if _, err := r.bits(1); err != nil { // pcm_loop_filter_disabled
			return false, err
		}
	}

	sets, err := r.ue()
	if err != nil {
		return false, err
	}
	if sets > 64 {
		return false, ErrSPSTooShort
	}
	numDeltaPocs := make([]uint, sets)
	for i := range numDeltaPocs {
		if numDeltaPocs[i], err = skipShortTermRefPicSet(r, i, numDeltaPocs); err != nil {
			return false, err
		}
	}

	longTerm, err := r.flag()
	if err != nil {
		return false, err
	}
	if longTerm {
		count, err := r.ue()
		if err != nil {
			return false, err
		}
		if count > 32 {
			return false, ErrSPSTooShort
		}
		for range count {
			if _, err := r.bits(int(pocBits) + 1); err != nil { // lt_ref_pic_poc_lsb, used flag
				return false, err
			}
		}
	}

	if _, err := r.bits(2); err != nil { // temporal_mvp, strong_intra_smoothing
		return false, err
	}
	return r.flag()
}

// skipShortTermRefPicSet parses st_ref_pic_set(idx) as it appears in an SPS
// and returns its NumDeltaPocs.
func skipShortTermRefPicSet(r *rbspReader, idx int, numDeltaPocs []uint) (uint, error) {
	if idx > 0 {
		inter, err := r.flag()
		if err != nil {
			return 0, err
		}
		if inter {
			if _, err := r.bits(1); err != nil { // delta_rps_sign
				return 0, err
			}
			if _, err := r.ue(); err != nil { // abs_delta_rps_minus1
				return 0, err
			}
			var n uint
			for j := uint(0); j <= numDeltaPocs[idx-1]; j++ {
				used, err := r.flag()
				if err != nil {
					return 0, err
				}
				useDelta := true
				if !used {
					if useDelta, err = r.flag(); err != nil {
						return 0, err
					}
				}
				if used || useDelta {
					n++
				}
			}
			return n, nil
		}
	}

	neg, err := r.ue()
	if err != nil {
		return 0, err
	}
	pos, err := r.ue()
	if err != nil {
		return 0, err
	}
	if neg > 16 || pos > 16 {
		return 0, ErrSPSTooShort
	}
	for range neg + pos {
		if _, err := r.ue(); err != nil { // delta_poc_minus1
			return 0, err
		}
		if _, err := r.bits(1); err != nil { // used_by_curr_pic
			return 0, err
		}
	}
	return neg + pos, nil
}

func skipHEVCScalingListData(r *rbspReader) error {
	for sizeID := 0; sizeID < 4; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			predMode, err := r.flag()
			if err != nil {
				return err
			}
			if !predMode {
				if _, err := r.ue(); err != nil { // pred_matrix_id_delta
					return err
				}
				continue
			}
			coefs := min(64, 1<<(4+(sizeID<<1)))
			if sizeID > 1 {
				coefs++ // scaling_list_dc_coef_minus8
			}
			for range coefs {
				if _, err := r.se(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// parseHEVCVUI reads video_signal_type. A truncated VUI leaves the colour
// fields unspecified.
func parseHEVCVUI(r *rbspReader, info *HEVCSPSInfo) {
	if ar, err := r.flag(); err != nil {
		return
	} else if ar {
		idc, err := r.bits(8)
		if err != nil {
			return
		}
		if idc == 255 { // EXTENDED_SAR
			if _, err := r.bits(32); err != nil {
				return
			}
		}
	}

	if overscan, err := r.flag(); err != nil {
		return
	} else if overscan {
		if _, err := r.bits(1); err != nil {
			return
		}
	}

	signal, err := r.flag()
	if err != nil || !signal {
		return
	}
	if _, err := r.bits(3); err != nil { // video_format
		return
	}
	full, err := r.flag()
	if err != nil {
		return
	}
	desc, err := r.flag()
	if err != nil {
		return
	}
	if !desc {
		info.FullRange = full
		return
	}
	cp, err1 := r.bits(8)
	tc, err2 := r.bits(8)
	mc, err3 := r.bits(8)
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	info.FullRange = full
	info.ColourPrimaries = int(cp)
	info.TransferCharacteristics = int(tc)
	info.MatrixCoefficients = int(mc)
}

func parseProfileTierLevel(r *rbspReader, info *HEVCSPSInfo, subLayersMinus1 uint) error {
	space, err := r.bits(2)
	if err != nil {
		return err
	}
	tier, err := r.bits(1)
	if err != nil {
		return err
	}
	profile, err := r.bits(5)
	if err != nil {
		return err
	}
	compat, err := r.bits(32)
	if err != nil {
		return err
	}
	hi, err := r.bits(16)
	if err != nil {
		return err
	}
	lo, err := r.bits(32)
	if err != nil {
		return err
	}
	level, err := r.bits(8)
	if err != nil {
		return err
	}

	info.ProfileSpace = byte(space)
	info.TierFlag = byte(tier)
	info.ProfileIDC = byte(profile)
	info.ProfileCompatibilityFlags = uint32(compat)
	info.ConstraintIndicatorFlags = uint64(hi)<<32 | uint64(lo)
	info.LevelIDC = byte(level)

	if subLayersMinus1 == 0 {
		return nil
	}

	var profilePresent, levelPresent [8]bool
	for i := uint(0); i < subLayersMinus1; i++ {
		if profilePresent[i], err = r.flag(); err != nil {
			return err
		}
		if levelPresent[i], err = r.flag(); err != nil {
			return err
		}
	}
	for i := subLayersMinus1; i < 8; i++ {
		if _, err := r.bits(2); err != nil { // reserved_zero_2bits
			return err
		}
	}
	for i := uint(0); i < subLayersMinus1; i++ {
		if profilePresent[i] {
			// profile space, tier, idc, compat flags, constraint flags: 88 bits
			for _, n := range []int{32, 32, 24} {
				if _, err := r.bits(n); err != nil {
					return err
				}
			}
		}
		if levelPresent[i] {
			if _, err := r.bits(8); err != nil {
				return err
			}
		}
	}
	return nil
}
