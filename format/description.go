package format

import (
	"fmt"

	"github.com/zsiec/vrframe/av1"
	"github.com/zsiec/vrframe/nal"
)

// Description carries everything needed to create a decoder for a stream.
// It is built once per session from the first keyframe and never mutated.
type Description struct {
	Codec            Codec
	Width            int
	Height           int
	BitsPerComponent int
	FullRange        bool

	ColorPrimaries          int
	TransferCharacteristics int
	MatrixCoefficients      int

	// CodecString is the RFC 6381 codecs parameter.
	CodecString string

	// ParameterSets holds VPS/SPS/PPS for H.264 and HEVC, in that order.
	// It is empty for AV1.
	ParameterSets [][]byte
	// NALUnitHeaderLength is the size of each sample's length prefix.
	// Zero for AV1.
	NALUnitHeaderLength int

	// Extensions maps sample-description atom names (avcC, hvcC, av1C) to
	// their payloads.
	Extensions map[string][]byte
}

// ConfigRecord returns the codec configuration record for d's codec.
func (d *Description) ConfigRecord() []byte {
	return d.Extensions[d.Codec.ConfigKey()]
}

// Describe builds a Description from a keyframe. When codec is CodecUnknown
// it is detected from buf first. Errors wrap the underlying parser's
// sentinel (nal.ErrNoParameterSets, av1.ErrSequenceHeaderNotFound, ...) so
// callers can tell "not a keyframe yet" from corrupt input.
func Describe(codec Codec, buf []byte) (*Description, error) {
	if codec == CodecUnknown {
		codec = Detect(buf)
	}
	switch codec {
	case CodecH264:
		return describeH264(buf)
	case CodecHEVC:
		return describeHEVC(buf)
	case CodecAV1:
		return describeAV1(buf)
	}
	return nil, ErrUnknownCodec
}

func describeH264(buf []byte) (*Description, error) {
	ps, err := nal.ExtractH264(buf)
	if err != nil {
		return nil, fmt.Errorf("h264 parameter sets: %w", err)
	}
	info, err := nal.ParseSPS(ps.SPS)
	if err != nil {
		return nil, fmt.Errorf("h264 sps: %w", err)
	}
	record, err := nal.BuildAVCDecoderConfig(ps.SPS, ps.PPS)
	if err != nil {
		return nil, fmt.Errorf("avcC: %w", err)
	}
	return &Description{
		Codec:                   CodecH264,
		Width:                   info.Width,
		Height:                  info.Height,
		BitsPerComponent:        info.BitDepthLuma,
		FullRange:               info.FullRange,
		ColorPrimaries:          info.ColourPrimaries,
		TransferCharacteristics: info.TransferCharacteristics,
		MatrixCoefficients:      info.MatrixCoefficients,
		CodecString:             info.CodecString(),
		ParameterSets:           ps.List(),
		NALUnitHeaderLength:     nal.NALUnitHeaderLength,
		Extensions:              map[string][]byte{"avcC": record},
	}, nil
}

func describeHEVC(buf []byte) (*Description, error) {
	ps, err := nal.ExtractHEVC(buf)
	if err != nil {
		return nil, fmt.Errorf("hevc parameter sets: %w", err)
	}
	info, err := nal.ParseHEVCSPS(ps.SPS)
	if err != nil {
		return nil, fmt.Errorf("hevc sps: %w", err)
	}
	record, err := nal.BuildHEVCDecoderConfig(ps.VPS, ps.SPS, ps.PPS, ps.SEI)
	if err != nil {
		return nil, fmt.Errorf("hvcC: %w", err)
	}
	return &Description{
		Codec:                   CodecHEVC,
		Width:                   info.Width,
		Height:                  info.Height,
		BitsPerComponent:        info.BitDepthLuma,
		FullRange:               info.FullRange,
		ColorPrimaries:          info.ColourPrimaries,
		TransferCharacteristics: info.TransferCharacteristics,
		MatrixCoefficients:      info.MatrixCoefficients,
		CodecString:             info.CodecString(),
		ParameterSets:           ps.List(),
		NALUnitHeaderLength:     nal.NALUnitHeaderLength,
		Extensions:              map[string][]byte{"hvcC": record},
	}, nil
}

func describeAV1(buf []byte) (*Description, error) {
	cfg, err := av1.ExtractConfig(buf)
	if err != nil {
		return nil, err
	}
	info := cfg.Info
	return &Description{
		Codec:                   CodecAV1,
		Width:                   info.Width,
		Height:                  info.Height,
		BitsPerComponent:        info.BitDepth,
		FullRange:               info.FullRange,
		ColorPrimaries:          int(info.ColorPrimaries),
		TransferCharacteristics: int(info.TransferCharacteristics),
		MatrixCoefficients:      int(info.MatrixCoefficients),
		CodecString:             info.CodecString(),
		Extensions:              map[string][]byte{"av1C": cfg.Record},
	}, nil
}
