package nal

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrParameterSetTooLarge is returned when a parameter set does not fit the
// 16-bit length field of a decoder configuration record.
var ErrParameterSetTooLarge = errors.New("nal: parameter set exceeds 65535 bytes")

// NALUnitHeaderLength is the length-prefix size written by the reframer and
// advertised in avcC/hvcC (lengthSizeMinusOne = 3).
const NALUnitHeaderLength = 4

// BuildAVCDecoderConfig builds an AVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §5.3.3.1) from an SPS and PPS without start codes.
func BuildAVCDecoderConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, ErrIncompleteParameterSets
	}
	if len(sps) > 0xFFFF || len(pps) > 0xFFFF {
		return nil, ErrParameterSetTooLarge
	}

	buf := make([]byte, 0, 15+len(sps)+len(pps))
	buf = append(buf,
		1,      // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xFC|(NALUnitHeaderLength-1),
		0xE0|1, // numOfSequenceParameterSets
	)
	buf = appendU16Prefixed(buf, sps)
	buf = append(buf, 1) // numOfPictureParameterSets
	buf = appendU16Prefixed(buf, pps)

	switch sps[1] {
	case 100, 110, 122, 144:
		info, err := ParseSPS(sps)
		if err != nil {
			return nil, fmt.Errorf("parse SPS for avcC: %w", err)
		}
		buf = append(buf,
			0xFC|byte(info.ChromaFormatIDC&0x03),
			0xF8|byte((info.BitDepthLuma-8)&0x07),
			0xF8|byte((info.BitDepthChroma-8)&0x07),
			0, // numOfSequenceParameterSetExt
		)
	}
	return buf, nil
}

// BuildHEVCDecoderConfig builds an HEVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §8.3.3.1) from VPS, SPS and PPS NAL units without start
// codes. A non-nil sei is carried as a fourth, declarative SEI array.
func BuildHEVCDecoderConfig(vps, sps, pps, sei []byte) ([]byte, error) {
	if len(vps) == 0 || len(sps) < 4 || len(pps) == 0 {
		return nil, ErrIncompleteParameterSets
	}
	for _, ps := range [][]byte{vps, sps, pps, sei} {
		if len(ps) > 0xFFFF {
			return nil, ErrParameterSetTooLarge
		}
	}

	info, err := ParseHEVCSPS(sps)
	if err != nil {
		return nil, fmt.Errorf("parse SPS for hvcC: %w", err)
	}

	buf := make([]byte, 0, 23+4*5+len(vps)+len(sps)+len(pps)+len(sei))
	buf = append(buf, 1) // configurationVersion
	buf = append(buf, info.ProfileSpace<<6|info.TierFlag<<5|info.ProfileIDC)
	buf = binary.BigEndian.AppendUint32(buf, info.ProfileCompatibilityFlags)
	for i := 5; i >= 0; i-- {
		buf = append(buf, byte(info.ConstraintIndicatorFlags>>(uint(i)*8)))
	}
	buf = append(buf, info.LevelIDC)
	buf = append(buf,
		0xF0, 0x00, // reserved | min_spatial_segmentation_idc = 0
		0xFC, // reserved | parallelismType = 0
		0xFC|info.ChromaFormat&0x03,
		0xF8|byte((info.BitDepthLuma-8)&0x07),
		0xF8|byte((info.BitDepthChroma-8)&0x07),
		0x00, 0x00, // avgFrameRate
	)

	nested := byte(0)
	if info.TemporalNest {
		nested = 1
	}
	// constantFrameRate(2) | numTemporalLayers(3) | temporalIdNested(1) | lengthSizeMinusOne(2)
	buf = append(buf, byte(info.MaxSubLayers&0x07)<<3|nested<<2|(NALUnitHeaderLength-1))

	arrays := [][]byte{vps, sps, pps}
	types := []byte{HEVCVPS, HEVCSPS, HEVCPPS}
	if len(sei) > 0 {
		arrays = append(arrays, sei)
		types = append(types, HEVCSEIPrefix)
	}
	buf = append(buf, byte(len(arrays)))
	for i, ps := range arrays {
		completeness := byte(0x80)
		if types[i] == HEVCSEIPrefix {
			completeness = 0
		}
		buf = append(buf, completeness|types[i])
		buf = append(buf, 0x00, 0x01) // numNalus
		buf = appendU16Prefixed(buf, ps)
	}
	return buf, nil
}

func appendU16Prefixed(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...)
}
