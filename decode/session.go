// Package decode runs the real-time decode loop of the client: it turns
// network fragments into decoder submissions, keeps a small queue of decoded
// frames for the renderer, and recovers from decoder lag by abandoning
// pending input and requesting a keyframe.
//
// A Session moves through three states:
//
//	Idle -> AwaitingParameterSets -> Streaming -> Idle
//
// Start arms the session. The first fragment that carries parameter sets
// (H.264/HEVC) or a sequence header (AV1) creates the decoder. Stop tears
// everything down; decode completions that arrive afterwards are ignored.
package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/media"
	"github.com/zsiec/vrframe/metrics"
	"github.com/zsiec/vrframe/reframe"
)

// Options configures a Session. Factory is required.
type Options struct {
	Config   Config
	Factory  DecoderFactory
	Upstream Upstream
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Session is safe for concurrent use: fragments arrive on one goroutine,
// completions on the decoder's, and the renderer calls TakeNewest on a
// third.
type Session struct {
	cfg      Config
	factory  DecoderFactory
	upstream Upstream
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	codec      format.Codec
	desc       *format.Description
	decoder    Decoder
	lag        LagState
	queue      *FrameQueue
	generation uint64
}

// NewSession validates opts and returns an idle session.
func NewSession(opts Options) (*Session, error) {
	if opts.Factory == nil {
		return nil, errors.New("decode: nil DecoderFactory")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	up := opts.Upstream
	if up == nil {
		up = noopUpstream{}
	}
	return &Session{
		cfg:      opts.Config,
		factory:  opts.Factory,
		upstream: up,
		metrics:  opts.Metrics,
		log:      log.With("component", "decode-session"),
		queue:    NewFrameQueue(opts.Config.QueueCapacity),
	}, nil
}

// Start arms the session for a new stream and requests a keyframe. codec
// overrides Config.Codec unless it is format.CodecUnknown. Starting an
// active session restarts it.
func (s *Session) Start(codec format.Codec) {
	if codec == format.CodecUnknown {
		codec = s.cfg.Codec
	}

	s.mu.Lock()
	old := s.teardownLocked()
	s.codec = codec
	s.setStateLocked(StateAwaitingParameterSets)
	gen := s.generation
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.log.Info("session started", "codec", codec, "generation", gen)
	s.requestKeyframe()
}

// Stop returns the session to Idle, discarding queued frames, parameter
// sets and counters. The decoder is closed after the lock is released so a
// decoder that waits for in-flight completions cannot deadlock.
func (s *Session) Stop() {
	s.mu.Lock()
	wasIdle := s.state == StateIdle
	old := s.teardownLocked()
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if !wasIdle {
		s.log.Info("session stopped")
	}
}

// teardownLocked clears all stream state and bumps the generation so late
// completions are recognized. It returns the decoder for the caller to
// close.
func (s *Session) teardownLocked() Decoder {
	dec := s.decoder
	s.decoder = nil
	s.desc = nil
	s.lag.Reset()
	s.queue.Reset()
	s.generation++
	s.setStateLocked(StateIdle)
	s.metrics.SetQueueDepth(0)
	return dec
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	s.metrics.SetSessionState(int(st))
}

// HandleFragment processes one fragment. Only decoder creation failures
// (ErrDecoderCreate) are fatal; a fragment-level problem returns
// StatusDropped with an error wrapping ErrFragmentDropped, and lag is
// reported as StatusLagRecovered with a nil error.
func (s *Session) HandleFragment(f media.Fragment) (Status, error) {
	s.metrics.FragmentReceived(len(f.Data))

	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return StatusIgnored, nil
	case StateAwaitingParameterSets:
		if err := s.createDecoderLocked(f); err != nil {
			s.mu.Unlock()
			if errors.Is(err, ErrDecoderCreate) {
				return StatusIgnored, err
			}
			s.log.Debug("waiting for keyframe", "ts", f.Timestamp, "error", err)
			return StatusAwaitingKeyframe, nil
		}
	}

	s.lag.FramesSinceLastIDR++
	s.lag.FramesSinceLastDecode++

	if s.lag.Spiked(f.Timestamp, s.cfg.LagThreshold, s.cfg.FrameThreshold) {
		lag := s.lag
		s.lag.resetCounters()
		s.mu.Unlock()

		s.log.Warn("lag spike, requesting keyframe",
			"ts", f.Timestamp,
			"behind", lag.Behind(f.Timestamp),
			"framesSinceIDR", lag.FramesSinceLastIDR,
			"framesSinceDecode", lag.FramesSinceLastDecode)
		s.metrics.LagSpike()
		s.metrics.FragmentDropped(metrics.ReasonLag, 1)
		s.upstream.AbandonPending()
		s.requestKeyframe()
		return StatusLagRecovered, nil
	}

	if newest, ok := s.queue.Newest(); ok && f.Timestamp < newest {
		s.metrics.FragmentOutOfOrder()
		if s.cfg.TimestampPolicy == PolicyMonotonic {
			s.mu.Unlock()
			s.metrics.FragmentDropped(metrics.ReasonStale, 1)
			return StatusStale, nil
		}
		s.log.Debug("out-of-order fragment", "ts", f.Timestamp, "newest", newest)
	}

	codec := s.desc.Codec
	dec := s.decoder
	gen := s.generation
	s.mu.Unlock()

	payload := f.Data
	path := "passthrough"
	if codec.AnnexB() {
		sample, err := reframe.ToLengthPrefixed(f.Data)
		if err != nil {
			s.metrics.FragmentDropped(metrics.ReasonReframe, 1)
			return StatusDropped, fmt.Errorf("%w: ts %d: %w", ErrFragmentDropped, f.Timestamp, err)
		}
		payload = sample.Data
		path = sample.Path.String()
	}

	submitted := time.Now()
	req := Request{Timestamp: f.Timestamp, Payload: payload}
	err := dec.Submit(req, func(ts uint64, image any) {
		s.complete(gen, ts, image, submitted)
	})
	if err != nil {
		s.metrics.FragmentDropped(metrics.ReasonSubmit, 1)
		return StatusDropped, fmt.Errorf("%w: submit ts %d: %w", ErrFragmentDropped, f.Timestamp, err)
	}
	s.metrics.FragmentSubmitted(path)
	return StatusSubmitted, nil
}

// createDecoderLocked builds the stream description from f and creates the
// decoder. Parse errors leave the session waiting; a factory error returns
// it to Idle.
func (s *Session) createDecoderLocked(f media.Fragment) error {
	desc, err := format.Describe(s.codec, f.Data)
	if err != nil {
		return err
	}

	dec, err := s.factory(desc)
	s.metrics.DecoderCreated(desc.Codec.String(), err)
	if err != nil {
		s.teardownLocked()
		s.log.Warn("decoder creation failed", "codec", desc.Codec, "error", err)
		return fmt.Errorf("%w: %s %dx%d: %w", ErrDecoderCreate, desc.Codec, desc.Width, desc.Height, err)
	}

	s.desc = desc
	s.decoder = dec
	s.codec = desc.Codec
	s.setStateLocked(StateStreaming)
	s.log.Info("decoder created",
		"codec", desc.CodecString,
		"width", desc.Width,
		"height", desc.Height,
		"bitDepth", desc.BitsPerComponent)
	return nil
}

// complete is the decoder's completion path for requests submitted under
// generation gen.
func (s *Session) complete(gen, ts uint64, image any, submitted time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != StateStreaming {
		return
	}
	s.metrics.Decoded(image != nil, time.Since(submitted).Seconds())
	if image == nil {
		return
	}

	s.lag.FramesSinceLastDecode = 0
	s.metrics.Evicted(s.queue.Push(ts, image))
	s.metrics.SetQueueDepth(s.queue.Len())
}

// TakeNewest returns the newest decoded frame, dropping older queued ones.
// When nothing new has decoded it returns the last good frame with IsRepeat
// set. ok is false if the session has never decoded a frame.
func (s *Session) TakeNewest() (Frame, bool) {
	s.mu.Lock()
	frame, discarded, ok := s.queue.TakeNewest()
	if ok {
		s.lag.LastRequestedTimestamp = frame.Timestamp
	}
	s.metrics.SetQueueDepth(s.queue.Len())
	s.mu.Unlock()

	if ok {
		s.metrics.Presented(frame.IsRepeat, discarded)
	}
	return frame, ok
}

// MarkPresented records the timestamp the renderer finally displayed.
func (s *Session) MarkPresented(ts uint64) {
	s.mu.Lock()
	s.lag.LastSubmittedTimestamp = ts
	s.mu.Unlock()
}

// RequestKeyframe forwards an explicit keyframe request upstream, e.g. after
// the renderer detects corruption.
func (s *Session) RequestKeyframe() error {
	s.mu.Lock()
	st := s.state
	if st == StateStreaming {
		s.lag.resetCounters()
	}
	s.mu.Unlock()

	if st == StateIdle {
		return ErrNotStreaming
	}
	s.requestKeyframe()
	return nil
}

func (s *Session) requestKeyframe() {
	s.metrics.KeyframeRequested()
	s.upstream.RequestKeyframe()
}

// Snapshot is a point-in-time view of the session for diagnostics.
type Snapshot struct {
	State       State
	Codec       format.Codec
	Description *format.Description
	Lag         LagState
	QueueDepth  int
	Generation  uint64
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		Codec:       s.codec,
		Description: s.desc,
		Lag:         s.lag,
		QueueDepth:  s.queue.Len(),
		Generation:  s.generation,
	}
}

// Run starts the session if it is idle and feeds it from src until ctx is
// done, src is closed, or a fatal error occurs. The session is stopped on
// return.
func (s *Session) Run(ctx context.Context, src FragmentSource) error {
	s.mu.Lock()
	idle := s.state == StateIdle
	s.mu.Unlock()
	if idle {
		s.Start(format.CodecUnknown)
	}
	defer s.Stop()

	for {
		f, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("read fragment: %w", err)
		}

		status, err := s.HandleFragment(f)
		switch {
		case errors.Is(err, ErrDecoderCreate):
			return err
		case err != nil:
			s.log.Debug("fragment dropped", "ts", f.Timestamp, "status", status, "error", err)
		}
	}
}
