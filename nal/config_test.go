package nal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestBuildAVCDecoderConfigBaseline(t *testing.T) {
	t.Parallel()
	sps := []byte{0x67, 0x42, 0xE0, 0x1E, 0xAB, 0xCD}
	pps := []byte{0x68, 0xCE, 0x38, 0x80}

	config, err := BuildAVCDecoderConfig(sps, pps)
	if err != nil {
		t.Fatalf("BuildAVCDecoderConfig: %v", err)
	}

	header := []byte{0x01, 0x42, 0xE0, 0x1E, 0xFF, 0xE1}
	if !bytes.Equal(config[:6], header) {
		t.Errorf("header = % X, want % X", config[:6], header)
	}
	if n := binary.BigEndian.Uint16(config[6:8]); int(n) != len(sps) {
		t.Errorf("SPS length = %d, want %d", n, len(sps))
	}
	if !bytes.Equal(config[8:8+len(sps)], sps) {
		t.Error("SPS data mismatch")
	}
	off := 8 + len(sps)
	if config[off] != 1 {
		t.Errorf("numPPS = %d, want 1", config[off])
	}
	if !bytes.Equal(config[off+3:], pps) {
		t.Errorf("PPS data = % X, want % X", config[off+3:], pps)
	}
}

func TestBuildAVCDecoderConfigHighProfileExtension(t *testing.T) {
	t.Parallel()
	pps := []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}

	config, err := BuildAVCDecoderConfig(sps720p, pps)
	if err != nil {
		t.Fatalf("BuildAVCDecoderConfig: %v", err)
	}
	base := 6 + 2 + len(sps720p) + 1 + 2 + len(pps)
	if len(config) != base+4 {
		t.Fatalf("len = %d, want %d", len(config), base+4)
	}
	ext := config[base:]
	want := []byte{0xFD, 0xF8, 0xF8, 0x00} // 4:2:0, 8-bit luma and chroma, no SPS ext
	if !bytes.Equal(ext, want) {
		t.Errorf("high profile extension = % X, want % X", ext, want)
	}
}

func TestBuildAVCDecoderConfigErrors(t *testing.T) {
	t.Parallel()
	if _, err := BuildAVCDecoderConfig([]byte{0x67, 0x42}, []byte{0x68}); !errors.Is(err, ErrIncompleteParameterSets) {
		t.Errorf("short SPS: error = %v", err)
	}
	if _, err := BuildAVCDecoderConfig([]byte{0x67, 0x42, 0xE0, 0x1E}, nil); !errors.Is(err, ErrIncompleteParameterSets) {
		t.Errorf("missing PPS: error = %v", err)
	}
	big := make([]byte, 0x10000)
	big[0], big[1] = 0x67, 0x42
	if _, err := BuildAVCDecoderConfig(big, []byte{0x68, 0x01}); !errors.Is(err, ErrParameterSetTooLarge) {
		t.Errorf("oversized SPS: error = %v", err)
	}
}

func TestBuildHEVCDecoderConfig(t *testing.T) {
	t.Parallel()
	vps := []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF}
	pps := []byte{0x44, 0x01, 0xC0, 0xF7}

	config, err := BuildHEVCDecoderConfig(vps, hevcSPS320, pps, nil)
	if err != nil {
		t.Fatalf("BuildHEVCDecoderConfig: %v", err)
	}

	if config[0] != 1 {
		t.Errorf("configurationVersion = %d, want 1", config[0])
	}
	if config[1] != 0x01 {
		t.Errorf("profile byte = 0x%02X, want 0x01", config[1])
	}
	if got := binary.BigEndian.Uint32(config[2:6]); got != 0x40000000 {
		t.Errorf("compatibility flags = 0x%08X, want 0x40000000", got)
	}
	if config[6] != 0xB0 {
		t.Errorf("first constraint byte = 0x%02X, want 0xB0", config[6])
	}
	if config[12] != 93 {
		t.Errorf("general_level_idc = %d, want 93", config[12])
	}
	if config[16] != 0xFD {
		t.Errorf("chromaFormat = 0x%02X, want 0xFD", config[16])
	}
	if config[17] != 0xF8 || config[18] != 0xF8 {
		t.Errorf("bit depth bytes = 0x%02X 0x%02X, want 0xF8 0xF8", config[17], config[18])
	}
	// one temporal layer, nested, 4-byte lengths
	if config[21] != 0x0F {
		t.Errorf("layer byte = 0x%02X, want 0x0F", config[21])
	}
	if config[22] != 3 {
		t.Fatalf("numOfArrays = %d, want 3", config[22])
	}

	off := 23
	for i, want := range []struct {
		typ byte
		ps  []byte
	}{{0xA0, vps}, {0xA1, hevcSPS320}, {0xA2, pps}} {
		if config[off] != want.typ {
			t.Errorf("array %d type byte = 0x%02X, want 0x%02X", i, config[off], want.typ)
		}
		n := int(binary.BigEndian.Uint16(config[off+3 : off+5]))
		if !bytes.Equal(config[off+5:off+5+n], want.ps) {
			t.Errorf("array %d payload mismatch", i)
		}
		off += 5 + n
	}
	if off != len(config) {
		t.Errorf("trailing bytes: parsed %d of %d", off, len(config))
	}
}

func TestBuildHEVCDecoderConfigWithSEI(t *testing.T) {
	t.Parallel()
	vps := []byte{0x40, 0x01, 0x0C}
	pps := []byte{0x44, 0x01, 0xC0}
	sei := []byte{0x4E, 0x01, 0x05, 0x10}

	config, err := BuildHEVCDecoderConfig(vps, hevcSPS320, pps, sei)
	if err != nil {
		t.Fatalf("BuildHEVCDecoderConfig: %v", err)
	}
	if config[22] != 4 {
		t.Fatalf("numOfArrays = %d, want 4", config[22])
	}
	tail := config[len(config)-len(sei)-5:]
	if tail[0] != HEVCSEIPrefix {
		t.Errorf("SEI array type byte = 0x%02X, want 0x%02X", tail[0], HEVCSEIPrefix)
	}
	if !bytes.Equal(tail[5:], sei) {
		t.Error("SEI payload mismatch")
	}
}

func TestBuildHEVCDecoderConfigMissingSets(t *testing.T) {
	t.Parallel()
	vps := []byte{0x40, 0x01}
	pps := []byte{0x44, 0x01}
	tests := []struct {
		name          string
		vps, sps, pps []byte
	}{
		{"no VPS", nil, hevcSPS320, pps},
		{"no SPS", vps, nil, pps},
		{"no PPS", vps, hevcSPS320, nil},
	}
	for _, tt := range tests {
		if _, err := BuildHEVCDecoderConfig(tt.vps, tt.sps, tt.pps, nil); !errors.Is(err, ErrIncompleteParameterSets) {
			t.Errorf("%s: error = %v, want ErrIncompleteParameterSets", tt.name, err)
		}
	}
}
