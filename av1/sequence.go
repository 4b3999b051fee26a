package av1

import (
	"fmt"

	"github.com/zsiec/vrframe/bitstream"
)

// Colour description code points (AV1 §6.4.2) referenced by the parser.
const (
	ColorPrimariesBT709      = 1
	ColorUnspecified         = 2
	TransferSRGB             = 13
	MatrixIdentity           = 0
	ChromaSamplePosUnknown   = 0
	ChromaSamplePosVertical  = 1
	ChromaSamplePosColocated = 2
)

const (
	selectScreenContentTools = 2
	maxDimension             = 65536
)

// SequenceInfo is the subset of sequence_header_obu() needed for av1C, the
// codec string and the decoder format description.
type SequenceInfo struct {
	Profile      uint8
	Level        uint8 // seq_level_idx of operating point 0
	Tier         uint8
	StillPicture bool

	HighBitdepth         bool
	TwelveBit            bool
	Monochrome           bool
	ChromaSubsamplingX   uint8
	ChromaSubsamplingY   uint8
	ChromaSamplePosition uint8

	InitialPresentationDelayPresent  bool
	InitialPresentationDelayMinusOne uint8

	Width    int
	Height   int
	BitDepth int

	FullRange               bool
	ColorPrimaries          uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8

	NumUnitsInDisplayTick  uint32
	TimeScale              uint32
	FilmGrainParamsPresent bool
}

// ParseSequenceHeader decodes a sequence_header_obu() payload (AV1 §5.5).
func ParseSequenceHeader(payload []byte) (SequenceInfo, error) {
	r := bitstream.NewReader(payload)
	var info SequenceInfo

	info.Profile = uint8(r.ReadBits(3))
	info.StillPicture = r.ReadFlag()
	reduced := r.ReadFlag()

	if reduced {
		info.Level = uint8(r.ReadBits(5))
	} else {
		parseOperatingPoints(r, &info)
	}

	widthBits := int(r.ReadBits(4)) + 1
	heightBits := int(r.ReadBits(4)) + 1
	info.Width = int(r.ReadBits(widthBits)) + 1
	info.Height = int(r.ReadBits(heightBits)) + 1

	if !reduced && r.ReadFlag() { // frame_id_numbers_present_flag
		r.ReadBits(4) // delta_frame_id_length_minus_2
		r.ReadBits(3) // additional_frame_id_length_minus_1
	}

	r.ReadBits(3) // use_128x128_superblock, enable_filter_intra, enable_intra_edge_filter
	if !reduced {
		parseInterTools(r)
	}
	r.ReadBits(3) // enable_superres, enable_cdef, enable_restoration

	parseColorConfig(r, &info)
	info.FilmGrainParamsPresent = r.ReadFlag()

	if r.Overrun() {
		return SequenceInfo{}, &ParseError{Field: "sequence_header_obu", Err: ErrTruncated}
	}
	if err := validateDimensions(info.Width, info.Height); err != nil {
		return SequenceInfo{}, err
	}
	return info, nil
}

func parseOperatingPoints(r *bitstream.Reader, info *SequenceInfo) {
	decoderModelInfo := false
	bufferDelayLen := 0

	if r.ReadFlag() { // timing_info_present_flag
		info.NumUnitsInDisplayTick = r.ReadBits(32)
		info.TimeScale = r.ReadBits(32)
		if r.ReadFlag() { // equal_picture_interval
			r.ReadUVLC() // num_ticks_per_picture_minus_1
		}
		decoderModelInfo = r.ReadFlag()
		if decoderModelInfo {
			bufferDelayLen = int(r.ReadBits(5)) + 1
			r.ReadBits(32) // num_units_in_decoding_tick
			r.ReadBits(5)  // buffer_removal_time_length_minus_1
			r.ReadBits(5)  // frame_presentation_time_length_minus_1
		}
	}

	info.InitialPresentationDelayPresent = r.ReadFlag()
	count := int(r.ReadBits(5)) + 1
	for i := 0; i < count; i++ {
		r.ReadBits(12) // operating_point_idc
		level := uint8(r.ReadBits(5))
		var tier uint8
		if level > 7 {
			tier = uint8(r.ReadBit())
		}
		if decoderModelInfo && r.ReadFlag() {
			// operating_parameters_info
			r.ReadBits(bufferDelayLen) // decoder_buffer_delay
			r.ReadBits(bufferDelayLen) // encoder_buffer_delay
			r.ReadBit()                // low_delay_mode_flag
		}
		var delay uint8
		if info.InitialPresentationDelayPresent && r.ReadFlag() {
			delay = uint8(r.ReadBits(4))
		}
		if i == 0 {
			info.Level = level
			info.Tier = tier
			info.InitialPresentationDelayMinusOne = delay
		}
	}
}

func parseInterTools(r *bitstream.Reader) {
	r.ReadBits(4) // interintra, masked compound, warped motion, dual filter
	orderHint := r.ReadFlag()
	if orderHint {
		r.ReadBits(2) // enable_jnt_comp, enable_ref_frame_mvs
	}

	forceScreenContent := uint32(selectScreenContentTools)
	if !r.ReadFlag() { // seq_choose_screen_content_tools
		forceScreenContent = r.ReadBit()
	}
	if forceScreenContent > 0 && !r.ReadFlag() { // seq_choose_integer_mv
		r.ReadBit() // seq_force_integer_mv
	}
	if orderHint {
		r.ReadBits(3) // order_hint_bits_minus_1
	}
}

func parseColorConfig(r *bitstream.Reader, info *SequenceInfo) {
	info.HighBitdepth = r.ReadFlag()
	info.BitDepth = 8
	switch {
	case info.Profile == 2 && info.HighBitdepth:
		info.TwelveBit = r.ReadFlag()
		info.BitDepth = 10
		if info.TwelveBit {
			info.BitDepth = 12
		}
	case info.Profile <= 2 && info.HighBitdepth:
		info.BitDepth = 10
	}

	if info.Profile != 1 {
		info.Monochrome = r.ReadFlag()
	}

	info.ColorPrimaries = ColorUnspecified
	info.TransferCharacteristics = ColorUnspecified
	info.MatrixCoefficients = ColorUnspecified
	if r.ReadFlag() { // color_description_present_flag
		info.ColorPrimaries = uint8(r.ReadBits(8))
		info.TransferCharacteristics = uint8(r.ReadBits(8))
		info.MatrixCoefficients = uint8(r.ReadBits(8))
	}

	switch {
	case info.Monochrome:
		info.FullRange = r.ReadFlag()
		info.ChromaSubsamplingX, info.ChromaSubsamplingY = 1, 1
		info.ChromaSamplePosition = ChromaSamplePosUnknown
		return
	case info.ColorPrimaries == ColorPrimariesBT709 &&
		info.TransferCharacteristics == TransferSRGB &&
		info.MatrixCoefficients == MatrixIdentity:
		info.FullRange = true
	default:
		info.FullRange = r.ReadFlag()
		switch info.Profile {
		case 0:
			info.ChromaSubsamplingX, info.ChromaSubsamplingY = 1, 1
		case 1:
			// 4:4:4
		default:
			if info.BitDepth == 12 {
				info.ChromaSubsamplingX = uint8(r.ReadBit())
				if info.ChromaSubsamplingX == 1 {
					info.ChromaSubsamplingY = uint8(r.ReadBit())
				}
			} else {
				info.ChromaSubsamplingX = 1
			}
		}
		if info.ChromaSubsamplingX == 1 && info.ChromaSubsamplingY == 1 {
			info.ChromaSamplePosition = uint8(r.ReadBits(2))
		}
	}
	r.ReadBit() // separate_uv_delta_q
}

func validateDimensions(w, h int) error {
	if w < 1 || h < 1 || w > maxDimension || h > maxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	return nil
}

// CodecString returns the RFC 6381 codecs parameter in the long form defined
// by AV1-ISOBMFF (e.g. "av01.0.08M.08.0.110.01.01.01.0").
func (s SequenceInfo) CodecString() string {
	tier := "M"
	if s.Tier == 1 {
		tier = "H"
	}
	mono := 0
	if s.Monochrome {
		mono = 1
	}
	full := 0
	if s.FullRange {
		full = 1
	}
	return fmt.Sprintf("av01.%d.%02d%s.%02d.%d.%d%d%d.%02d.%02d.%02d.%d",
		s.Profile, s.Level, tier, s.BitDepth, mono,
		s.ChromaSubsamplingX, s.ChromaSubsamplingY, s.ChromaSamplePosition,
		s.ColorPrimaries, s.TransferCharacteristics, s.MatrixCoefficients, full)
}

// FrameRate returns the display rate from timing_info, or 0 if absent.
func (s SequenceInfo) FrameRate() float64 {
	if s.NumUnitsInDisplayTick == 0 {
		return 0
	}
	return float64(s.TimeScale) / float64(s.NumUnitsInDisplayTick)
}
