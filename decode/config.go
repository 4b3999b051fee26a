package decode

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/zsiec/vrframe/format"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig,
// e.g. VRFRAME_LAG_THRESHOLD.
const EnvPrefix = "VRFRAME"

// TimestampPolicy controls what happens to fragments that arrive with a
// timestamp older than the newest decoded frame.
type TimestampPolicy string

const (
	// PolicyPassthrough submits out-of-order fragments anyway. They are
	// counted and logged at debug level.
	PolicyPassthrough TimestampPolicy = "passthrough"
	// PolicyMonotonic drops them with StatusStale.
	PolicyMonotonic TimestampPolicy = "monotonic"
)

func (p TimestampPolicy) String() string {
	return string(p)
}

// Decode implements envconfig.Decoder.
func (p *TimestampPolicy) Decode(value string) error {
	switch TimestampPolicy(value) {
	case "":
		*p = PolicyPassthrough
	case PolicyPassthrough, PolicyMonotonic:
		*p = TimestampPolicy(value)
	default:
		return fmt.Errorf("invalid timestamp policy %q (want %q or %q)", value, PolicyPassthrough, PolicyMonotonic)
	}
	return nil
}

func (p *TimestampPolicy) UnmarshalText(text []byte) error {
	return p.Decode(string(text))
}

// Config tunes the decode session. The zero value is not usable; start from
// DefaultConfig or LoadConfig.
type Config struct {
	// Codec forces the stream codec. format.CodecUnknown detects it from
	// the first keyframe.
	Codec format.Codec `envconfig:"CODEC" default:"auto"`

	// LagThreshold is how far behind the renderer's last requested
	// timestamp a fragment may be before it counts toward a lag spike.
	LagThreshold time.Duration `envconfig:"LAG_THRESHOLD" default:"600ms"`
	// FrameThreshold is the fragment count (2s at 90 fps) used by both lag
	// spike conditions.
	FrameThreshold int `envconfig:"FRAME_THRESHOLD" default:"180"`

	QueueCapacity    int             `envconfig:"QUEUE_CAPACITY" default:"2"`
	TimestampPolicy  TimestampPolicy `envconfig:"TIMESTAMP_POLICY" default:"passthrough"`
	PendingFragments int             `envconfig:"PENDING_FRAGMENTS" default:"64"`
}

// DefaultConfig returns the settings used when no environment overrides are
// present.
func DefaultConfig() Config {
	return Config{
		Codec:            format.CodecUnknown,
		LagThreshold:     600 * time.Millisecond,
		FrameThreshold:   180,
		QueueCapacity:    2,
		TimestampPolicy:  PolicyPassthrough,
		PendingFragments: 64,
	}
}

// LoadConfig reads VRFRAME_* environment variables on top of the defaults
// and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.LagThreshold <= 0 {
		errs = append(errs, fmt.Errorf("lag threshold must be positive, got %s", c.LagThreshold))
	}
	if c.FrameThreshold <= 0 {
		errs = append(errs, fmt.Errorf("frame threshold must be positive, got %d", c.FrameThreshold))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.PendingFragments < 1 {
		errs = append(errs, fmt.Errorf("pending fragments must be at least 1, got %d", c.PendingFragments))
	}
	switch c.TimestampPolicy {
	case PolicyPassthrough, PolicyMonotonic:
	default:
		errs = append(errs, fmt.Errorf("unknown timestamp policy %q", c.TimestampPolicy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid decode config: %w", err)
	}
	return nil
}
