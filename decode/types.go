package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/media"
)

var (
	// ErrDecoderCreate wraps a DecoderFactory failure. It is fatal for the
	// session, which returns to Idle; the caller decides whether to restart.
	ErrDecoderCreate = errors.New("decode: decoder creation failed")
	// ErrFragmentDropped wraps the reason a single fragment was discarded.
	// The session keeps streaming.
	ErrFragmentDropped = errors.New("decode: fragment dropped")
	// ErrNotStreaming is returned by operations that need an active decoder.
	ErrNotStreaming = errors.New("decode: session is not streaming")
	// ErrSourceClosed is returned by a FragmentSource with no more input.
	ErrSourceClosed = errors.New("decode: fragment source closed")
)

// State is the session lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingParameterSets
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingParameterSets:
		return "awaiting-parameter-sets"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Status reports what HandleFragment did with a fragment.
type Status uint8

const (
	// StatusIgnored means the session is idle.
	StatusIgnored Status = iota
	// StatusAwaitingKeyframe means the fragment did not carry the
	// parameter sets or sequence header needed to create a decoder.
	StatusAwaitingKeyframe
	// StatusSubmitted means the fragment went to the decoder.
	StatusSubmitted
	// StatusLagRecovered means a lag spike was detected: pending input was
	// abandoned, a keyframe requested and the fragment discarded.
	StatusLagRecovered
	// StatusDropped means the fragment alone was discarded; the returned
	// error wraps ErrFragmentDropped.
	StatusDropped
	// StatusStale means the monotonic timestamp policy rejected the
	// fragment.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusIgnored:
		return "ignored"
	case StatusAwaitingKeyframe:
		return "awaiting-keyframe"
	case StatusSubmitted:
		return "submitted"
	case StatusLagRecovered:
		return "lag-recovered"
	case StatusDropped:
		return "dropped"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Frame is a decoded picture handed to the renderer.
type Frame = media.DecodedFrame

// Request is one unit of decoder input. Payload is length-prefixed NAL
// units for H.264/HEVC and the raw temporal unit for AV1.
type Request struct {
	Timestamp uint64
	Payload   []byte
}

// CompletionFunc is invoked by a Decoder, on any goroutine, once per
// submitted request. A nil image means the decoder produced nothing for
// the request.
type CompletionFunc func(timestamp uint64, image any)

// Decoder is the platform decoder. Submit must not block on decoding.
// Submit may be called after Close when a stop races with an in-flight
// fragment; it should then return an error.
type Decoder interface {
	Submit(req Request, done CompletionFunc) error
	Close()
}

// DecoderFactory creates a Decoder configured from a stream description.
type DecoderFactory func(desc *format.Description) (Decoder, error)

// Upstream is the link back to the encoder.
type Upstream interface {
	// RequestKeyframe asks the encoder for an out-of-band IDR.
	RequestKeyframe()
	// AbandonPending discards fragments received but not yet handled.
	AbandonPending()
}

// FragmentSource yields encoded fragments in arrival order. Next blocks
// until a fragment is available, ctx is done, or the source is closed
// (ErrSourceClosed).
type FragmentSource interface {
	Next(ctx context.Context) (media.Fragment, error)
}

type noopUpstream struct{}

func (noopUpstream) RequestKeyframe() {}
func (noopUpstream) AbandonPending() {}
