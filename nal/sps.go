package nal

import "fmt"

// Colour description defaults when the VUI carries none (unspecified).
const colourUnspecified = 2

// SPSInfo holds the fields of an H.264 sequence parameter set that a decoder
// format description needs.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	ChromaFormatIDC int
	BitDepthLuma    int
	BitDepthChroma  int

	FullRange               bool
	ColourPrimaries         int
	TransferCharacteristics int
	MatrixCoefficients      int

	NumUnitsInTick uint32
	TimeScale      uint32
}

// CodecString returns the RFC 6381 codec parameter (e.g. "avc1.64002A").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameRate derives frames per second from VUI timing, or 0 if absent.
func (s SPSInfo) FrameRate() float64 {
	if s.NumUnitsInTick == 0 {
		return 0
	}
	return float64(s.TimeScale) / float64(2*s.NumUnitsInTick)
}

func highProfile(profile uint) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit (header byte included, no start
// code).
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrSPSTooShort
	}
	r := newRBSPReader(removeEmulationPrevention(nalu[1:]))

	profile, err := r.bits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraints, err := r.bits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	level, err := r.bits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := r.ue(); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	info := SPSInfo{
		ProfileIDC:              byte(profile),
		ConstraintFlags:         byte(constraints),
		LevelIDC:                byte(level),
		ChromaFormatIDC:         1,
		BitDepthLuma:            8,
		BitDepthChroma:          8,
		ColourPrimaries:         colourUnspecified,
		TransferCharacteristics: colourUnspecified,
		MatrixCoefficients:      colourUnspecified,
	}

	separatePlanes := false
	if highProfile(profile) {
		cf, err := r.ue()
		if err != nil {
			return SPSInfo{}, err
		}
		info.ChromaFormatIDC = int(cf)
		if cf == 3 {
			if separatePlanes, err = r.flag(); err != nil {
				return SPSInfo{}, err
			}
		}
		bdl, err := r.ue()
		if err != nil {
			return SPSInfo{}, err
		}
		bdc, err := r.ue()
		if err != nil {
			return SPSInfo{}, err
		}
		info.BitDepthLuma = 8 + int(bdl)
		info.BitDepthChroma = 8 + int(bdc)
		if _, err := r.bits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return SPSInfo{}, err
		}
		scaling, err := r.flag()
		if err != nil {
			return SPSInfo{}, err
		}
		if scaling {
			lists := 8
			if cf == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := r.flag()
				if err != nil {
					return SPSInfo{}, err
				}
				if !present {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := r.skipScalingList(size); err != nil {
					return SPSInfo{}, err
				}
			}
		}
	}

	if _, err := r.ue(); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	pocType, err := r.ue()
	if err != nil {
		return SPSInfo{}, err
	}
	switch pocType {
	case 0:
		if _, err := r.ue(); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := r.bits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := r.se(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := r.se(); err != nil {
			return SPSInfo{}, err
		}
		cycle, err := r.ue()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < cycle; i++ {
			if _, err := r.se(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := r.ue(); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := r.bits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return SPSInfo{}, err
	}

	widthMbs, err := r.ue()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := r.ue()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := r.bits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := r.bits(1); err != nil { // mb_adaptive_frame_field_flag
			return SPSInfo{}, err
		}
	}
	if _, err := r.bits(1); err != nil { // direct_8x8_inference_flag
		return SPSInfo{}, err
	}

	var crop [4]uint // left, right, top, bottom
	cropping, err := r.flag()
	if err != nil {
		return SPSInfo{}, err
	}
	if cropping {
		for i := range crop {
			if crop[i], err = r.ue(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	chromaArrayType := info.ChromaFormatIDC
	if separatePlanes {
		chromaArrayType = 0
	}
	subW, subH := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subW, subH = 1, 1
	case 2:
		subW, subH = 2, 1
	}
	cropX := subW
	cropY := subH * (2 - frameMbsOnly)

	info.Width = int((widthMbs+1)*16 - cropX*(crop[0]+crop[1]))
	info.Height = int((heightMapUnits+1)*16*(2-frameMbsOnly) - cropY*(crop[2]+crop[3]))

	vui, err := r.flag()
	if err != nil || !vui {
		return info, nil
	}
	parseH264VUI(r, &info)
	return info, nil
}

// parseH264VUI reads the colour description and timing fields of the VUI.
// A truncated VUI leaves the remaining fields at their defaults.
func parseH264VUI(r *rbspReader, info *SPSInfo) {
	if ar, err := r.flag(); err != nil {
		return
	} else if ar {
		idc, err := r.bits(8)
		if err != nil {
			return
		}
		if idc == 255 { // Extended_SAR
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

	if signal, err := r.flag(); err != nil {
		return
	} else if signal {
		if _, err := r.bits(3); err != nil { // video_format
			return
		}
		full, err := r.flag()
		if err != nil {
			return
		}
		info.FullRange = full
		desc, err := r.flag()
		if err != nil {
			return
		}
		if desc {
			cp, err1 := r.bits(8)
			tc, err2 := r.bits(8)
			mc, err3 := r.bits(8)
			if err1 != nil || err2 != nil || err3 != nil {
				return
			}
			info.ColourPrimaries = int(cp)
			info.TransferCharacteristics = int(tc)
			info.MatrixCoefficients = int(mc)
		}
	}

	if loc, err := r.flag(); err != nil {
		return
	} else if loc {
		if err := r.skipUE(2); err != nil {
			return
		}
	}

	timing, err := r.flag()
	if err != nil || !timing {
		return
	}
	units, err1 := r.bits(32)
	scale, err2 := r.bits(32)
	if err1 != nil || err2 != nil {
		return
	}
	info.NumUnitsInTick = uint32(units)
	info.TimeScale = uint32(scale)
}
