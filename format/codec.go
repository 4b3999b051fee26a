// Package format identifies the codec of an incoming stream and builds the
// description a platform decoder is configured from: dimensions, colour
// information, parameter sets and the avcC/hvcC/av1C configuration record.
package format

import (
	"errors"
	"fmt"
	"strings"
)

// Codec is the video codec of a stream. It is selected once per decode
// session.
type Codec uint8

const (
	// CodecUnknown asks the session to detect the codec from the first
	// keyframe.
	CodecUnknown Codec = iota
	CodecH264
	CodecHEVC
	CodecAV1
)

// ErrUnknownCodec is returned when a codec cannot be detected or parsed.
var ErrUnknownCodec = errors.New("format: unknown codec")

func (c Codec) String() string {
	switch c {
	case CodecUnknown:
		return "auto"
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecAV1:
		return "av1"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// ParseCodec accepts the names returned by String plus common aliases.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return CodecUnknown, nil
	case "h264", "avc", "avc1":
		return CodecH264, nil
	case "hevc", "h265", "hev1", "hvc1":
		return CodecHEVC, nil
	case "av1", "av01":
		return CodecAV1, nil
	}
	return CodecUnknown, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

// UnmarshalText lets Codec be loaded from environment variables and flags.
func (c *Codec) UnmarshalText(text []byte) error {
	v, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ConfigKey returns the sample-description extension key carrying the
// codec's configuration record.
func (c Codec) ConfigKey() string {
	switch c {
	case CodecH264:
		return "avcC"
	case CodecHEVC:
		return "hvcC"
	case CodecAV1:
		return "av1C"
	}
	return ""
}

// AnnexB reports whether the codec's elementary stream is start-code
// delimited and therefore needs reframing before submission.
func (c Codec) AnnexB() bool {
	return c == CodecH264 || c == CodecHEVC
}
