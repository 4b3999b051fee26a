package av1

import "fmt"

const configRecordMarkerVersion = 0x81 // marker(1) = 1, version(7) = 1

// BuildConfigRecord serializes an AV1CodecConfigurationRecord (AV1-ISOBMFF
// §2.3.3) followed by configOBU, which must carry obu_has_size_field.
func BuildConfigRecord(info SequenceInfo, configOBU []byte) []byte {
	out := make([]byte, 4, 4+len(configOBU))
	out[0] = configRecordMarkerVersion
	out[1] = (info.Profile&0x07)<<5 | info.Level&0x1F
	out[2] = bit(info.Tier == 1)<<7 |
		bit(info.HighBitdepth)<<6 |
		bit(info.TwelveBit)<<5 |
		bit(info.Monochrome)<<4 |
		(info.ChromaSubsamplingX&1)<<3 |
		(info.ChromaSubsamplingY&1)<<2 |
		info.ChromaSamplePosition&0x03
	if info.InitialPresentationDelayPresent {
		out[3] = 1<<4 | info.InitialPresentationDelayMinusOne&0x0F
	}
	return append(out, configOBU...)
}

// Config is everything a decoder needs from an AV1 keyframe.
type Config struct {
	Info SequenceInfo
	// Record is the complete av1C box payload.
	Record []byte
}

// ExtractConfig locates the sequence header in buf, parses it and builds
// the av1C record.
func ExtractConfig(buf []byte) (Config, error) {
	seq, err := FindSequenceHeader(buf)
	if err != nil {
		return Config{}, err
	}
	info, err := ParseSequenceHeader(seq.Payload)
	if err != nil {
		return Config{}, fmt.Errorf("parse sequence header: %w", err)
	}
	return Config{
		Info:   info,
		Record: BuildConfigRecord(info, seq.ConfigOBU()),
	}, nil
}

func bit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
