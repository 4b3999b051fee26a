package decode

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/internal/streamtest"
	"github.com/zsiec/vrframe/media"
	"github.com/zsiec/vrframe/metrics"
	"github.com/zsiec/vrframe/reframe"
)

const ms = uint64(time.Millisecond)

type fakeDecoder struct {
	mu        sync.Mutex
	desc      *format.Description
	reqs      []Request
	pending   []CompletionFunc
	closed    bool
	inline    bool // complete every request immediately with an image
	submitErr error
}

func (d *fakeDecoder) Submit(req Request, done CompletionFunc) error {
	d.mu.Lock()
	if d.submitErr != nil {
		d.mu.Unlock()
		return d.submitErr
	}
	d.reqs = append(d.reqs, req)
	inline := d.inline
	if !inline {
		d.pending = append(d.pending, done)
	}
	d.mu.Unlock()

	if inline {
		done(req.Timestamp, req.Timestamp)
	}
	return nil
}

func (d *fakeDecoder) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *fakeDecoder) requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.reqs...)
}

func (d *fakeDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeUpstream struct {
	keyframes atomic.Int32
	abandons  atomic.Int32
}

func (u *fakeUpstream) RequestKeyframe() { u.keyframes.Add(1) }
func (u *fakeUpstream) AbandonPending() { u.abandons.Add(1) }

type harness struct {
	session  *Session
	decoder  *fakeDecoder
	upstream *fakeUpstream
}

func newHarness(t *testing.T, cfg Config, dec *fakeDecoder) *harness {
	t.Helper()
	h := &harness{decoder: dec, upstream: &fakeUpstream{}}
	s, err := NewSession(Options{
		Config: cfg,
		Factory: func(desc *format.Description) (Decoder, error) {
			dec.mu.Lock()
			dec.desc = desc
			dec.mu.Unlock()
			return dec, nil
		},
		Upstream: h.upstream,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	h.session = s
	return h
}

func frag(ts uint64, data []byte) media.Fragment {
	return media.Fragment{Timestamp: ts, Data: data}
}

func TestNewSessionValidates(t *testing.T) {
	t.Parallel()

	_, err := NewSession(Options{Config: DefaultConfig()})
	require.Error(t, err, "nil factory")

	cfg := DefaultConfig()
	cfg.QueueCapacity = 0
	_, err = NewSession(Options{Config: cfg, Factory: func(*format.Description) (Decoder, error) { return nil, nil }})
	require.Error(t, err)
}

func TestSessionIgnoresFragmentsWhenIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})

	status, err := h.session.HandleFragment(frag(1, streamtest.H264Keyframe()))
	require.NoError(t, err)
	require.Equal(t, StatusIgnored, status)
	require.Empty(t, h.decoder.requests())
}

func TestSessionAwaitsKeyframeThenStreams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	h.session.Start(format.CodecUnknown)
	require.EqualValues(t, 1, h.upstream.keyframes.Load(), "Start requests a keyframe")

	status, err := h.session.HandleFragment(frag(1*ms, streamtest.H264Delta()))
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingKeyframe, status)

	status, err = h.session.HandleFragment(frag(2*ms, []byte{0xDE, 0xAD}))
	require.NoError(t, err, "malformed input while waiting is not an error")
	require.Equal(t, StatusAwaitingKeyframe, status)

	status, err = h.session.HandleFragment(frag(3*ms, streamtest.H264Keyframe()))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, status)

	snap := h.session.Snapshot()
	require.Equal(t, StateStreaming, snap.State)
	require.Equal(t, format.CodecH264, snap.Codec)
	require.Equal(t, 1280, snap.Description.Width)
	require.Equal(t, 1, snap.Lag.FramesSinceLastIDR)

	reqs := h.decoder.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, 3*ms, reqs[0].Timestamp)
	units, err := reframe.Split(reqs[0].Payload)
	require.NoError(t, err)
	require.Len(t, units, 3)
	require.Equal(t, streamtest.H264SPS, units[0])
	require.NotNil(t, h.decoder.desc.Extensions["avcC"])
}

func TestSessionCodecHintOverridesDetection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	h.session.Start(format.CodecHEVC)

	status, err := h.session.HandleFragment(frag(1, streamtest.H264Keyframe()))
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingKeyframe, status, "h264 keyframe cannot configure an hevc session")

	status, err = h.session.HandleFragment(frag(2, streamtest.HEVCKeyframe()))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, status)
	require.Equal(t, "hvcC", h.decoder.desc.Codec.ConfigKey())
}

func TestSessionAV1PassesTemporalUnitsThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	h.session.Start(format.CodecUnknown)

	key := streamtest.AV1Keyframe(2048, 2048, true)
	status, err := h.session.HandleFragment(frag(1, bytes.Clone(key)))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, status)

	delta := streamtest.AV1Delta()
	status, err = h.session.HandleFragment(frag(2, bytes.Clone(delta)))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, status)

	reqs := h.decoder.requests()
	require.Len(t, reqs, 2)
	require.Equal(t, key, reqs[0].Payload)
	require.Equal(t, delta, reqs[1].Payload)
	require.Equal(t, byte(0x81), h.decoder.desc.ConfigRecord()[0])
}

func TestSessionDecoderCreateFailureIsFatal(t *testing.T) {
	t.Parallel()
	up := &fakeUpstream{}
	boom := errors.New("hardware decoder unavailable")
	s, err := NewSession(Options{
		Config:   DefaultConfig(),
		Factory:  func(*format.Description) (Decoder, error) { return nil, boom },
		Upstream: up,
	})
	require.NoError(t, err)
	s.Start(format.CodecUnknown)

	_, err = s.HandleFragment(frag(1, streamtest.HEVCKeyframe()))
	require.ErrorIs(t, err, ErrDecoderCreate)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateIdle, s.Snapshot().State)

	status, err := s.HandleFragment(frag(2, streamtest.HEVCKeyframe()))
	require.NoError(t, err)
	require.Equal(t, StatusIgnored, status, "session stays idle until restarted")
}

func TestSessionDropsUnframeableFragment(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	h.session.Start(format.CodecH264)
	_, err := h.session.HandleFragment(frag(1, streamtest.H264Keyframe()))
	require.NoError(t, err)

	status, err := h.session.HandleFragment(frag(2, []byte{0x41, 0x9A, 0x02}))
	require.Equal(t, StatusDropped, status)
	require.ErrorIs(t, err, ErrFragmentDropped)
	require.ErrorIs(t, err, reframe.ErrNoNALUnits)

	status, err = h.session.HandleFragment(frag(3, streamtest.H264Delta()))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, status, "a bad fragment does not stop the stream")
}

func TestSessionSubmitFailureDropsFragment(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	h := newHarness(t, DefaultConfig(), dec)
	h.session.Start(format.CodecUnknown)
	_, err := h.session.HandleFragment(frag(1, streamtest.H264Keyframe()))
	require.NoError(t, err)

	dec.mu.Lock()
	dec.submitErr = errors.New("queue full")
	dec.mu.Unlock()

	status, err := h.session.HandleFragment(frag(2, streamtest.H264Delta()))
	require.Equal(t, StatusDropped, status)
	require.ErrorIs(t, err, ErrFragmentDropped)
}

func TestSessionLagSpikeWhenDecoderStalls(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{}) // never completes
	h.session.Start(format.CodecUnknown)

	var recovered []int
	for i := range 200 {
		data := streamtest.H264Delta()
		if i == 0 {
			data = streamtest.H264Keyframe()
		}
		status, err := h.session.HandleFragment(frag(uint64(i+1)*11*ms, data))
		require.NoError(t, err)
		if status == StatusLagRecovered {
			recovered = append(recovered, i)
		}
	}

	require.Equal(t, []int{180}, recovered, "the 181st fragment without a decode trips recovery")
	require.EqualValues(t, 1, h.upstream.abandons.Load())
	require.EqualValues(t, 2, h.upstream.keyframes.Load(), "one from Start, one from recovery")
	require.Len(t, h.decoder.requests(), 199)

	lag := h.session.Snapshot().Lag
	require.Equal(t, 19, lag.FramesSinceLastIDR)
	require.Equal(t, 19, lag.FramesSinceLastDecode)
}

func TestSessionLagSpikeWhenFragmentsTrailRenderer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{inline: true})
	h.session.Start(format.CodecUnknown)

	_, err := h.session.HandleFragment(frag(10_000*ms, streamtest.H264Keyframe()))
	require.NoError(t, err)
	f, ok := h.session.TakeNewest()
	require.True(t, ok)
	require.Equal(t, 10_000*ms, f.Timestamp)

	// Fragments 9s behind the renderer keep decoding, so only the
	// renderer-distance condition can fire, and only after 180 frames.
	var recovered []int
	for i := 1; i < 200; i++ {
		status, err := h.session.HandleFragment(frag(1_000*ms+uint64(i)*ms, streamtest.H264Delta()))
		require.NoError(t, err)
		if status == StatusLagRecovered {
			recovered = append(recovered, i)
		}
	}
	require.Equal(t, []int{180}, recovered)
	require.EqualValues(t, 1, h.upstream.abandons.Load())
}

func TestSessionNoLagSpikeWhenHealthy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{inline: true})
	h.session.Start(format.CodecUnknown)

	for i := range 500 {
		data := streamtest.HEVCDelta()
		if i == 0 {
			data = streamtest.HEVCKeyframe()
		}
		ts := uint64(i) * 11 * ms
		status, err := h.session.HandleFragment(frag(ts, data))
		require.NoError(t, err)
		require.Equal(t, StatusSubmitted, status, "fragment %d", i)
		if i%2 == 0 {
			_, ok := h.session.TakeNewest()
			require.True(t, ok)
		}
	}
	require.Zero(t, h.upstream.abandons.Load())
}

func TestSessionQueueKeepsNewestTwo(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	h := newHarness(t, DefaultConfig(), dec)
	h.session.Start(format.CodecUnknown)

	for i := range 5 {
		data := streamtest.H264Delta()
		if i == 0 {
			data = streamtest.H264Keyframe()
		}
		_, err := h.session.HandleFragment(frag(uint64(i+1), data))
		require.NoError(t, err)
	}
	require.Len(t, dec.pending, 5)
	for i, done := range dec.pending {
		done(uint64(i+1), i+1)
	}
	require.Equal(t, 2, h.session.Snapshot().QueueDepth)

	h.session.mu.Lock()
	var kept []uint64
	for _, f := range h.session.queue.frames {
		kept = append(kept, f.Timestamp)
	}
	h.session.mu.Unlock()
	require.Equal(t, []uint64{4, 5}, kept, "oldest frames are evicted first")

	f, ok := h.session.TakeNewest()
	require.True(t, ok)
	require.Equal(t, uint64(5), f.Timestamp)
	require.Equal(t, 5, f.Image)
	require.False(t, f.IsRepeat)
	require.Equal(t, 0, h.session.Snapshot().QueueDepth, "older frame is discarded as stale")
	require.Equal(t, uint64(5), h.session.Snapshot().Lag.LastRequestedTimestamp)

	f, ok = h.session.TakeNewest()
	require.True(t, ok)
	require.True(t, f.IsRepeat)
	require.Equal(t, uint64(5), f.Timestamp)
}

func TestSessionEmptyCompletionIsOnlyAReport(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	h := newHarness(t, DefaultConfig(), dec)
	h.session.Start(format.CodecUnknown)
	_, err := h.session.HandleFragment(frag(1, streamtest.H264Keyframe()))
	require.NoError(t, err)

	dec.pending[0](1, nil)
	_, ok := h.session.TakeNewest()
	require.False(t, ok)
	require.Equal(t, 1, h.session.Snapshot().Lag.FramesSinceLastDecode)
}

func TestSessionStopIgnoresLateCompletion(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	h := newHarness(t, DefaultConfig(), dec)
	h.session.Start(format.CodecUnknown)
	_, err := h.session.HandleFragment(frag(1, streamtest.H264Keyframe()))
	require.NoError(t, err)
	dec.pending[0](1, "frame-1")

	h.session.Stop()
	require.True(t, dec.isClosed())

	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Description)
	require.Zero(t, snap.QueueDepth)
	require.Equal(t, LagState{}, snap.Lag)

	_, ok := h.session.TakeNewest()
	require.False(t, ok, "Stop clears the last good frame")

	// The decoder delivers a frame it was working on before Stop; a
	// restarted session must not see it.
	h.session.Start(format.CodecUnknown)
	dec.pending[0](1, "late")
	_, ok = h.session.TakeNewest()
	require.False(t, ok)
}

func TestSessionTimestampPolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy TimestampPolicy
		want   Status
	}{
		{PolicyPassthrough, StatusSubmitted},
		{PolicyMonotonic, StatusStale},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			cfg.TimestampPolicy = tt.policy
			h := newHarness(t, cfg, &fakeDecoder{inline: true})
			h.session.Start(format.CodecUnknown)

			_, err := h.session.HandleFragment(frag(100*ms, streamtest.H264Keyframe()))
			require.NoError(t, err)
			status, err := h.session.HandleFragment(frag(50*ms, streamtest.H264Delta()))
			require.NoError(t, err)
			require.Equal(t, tt.want, status)
		})
	}
}

func TestSessionRequestKeyframe(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	require.ErrorIs(t, h.session.RequestKeyframe(), ErrNotStreaming)

	h.session.Start(format.CodecUnknown)
	require.NoError(t, h.session.RequestKeyframe())
	require.EqualValues(t, 2, h.upstream.keyframes.Load())
}

func TestSessionMarkPresented(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	h.session.Start(format.CodecUnknown)
	h.session.MarkPresented(42)
	require.Equal(t, uint64(42), h.session.Snapshot().Lag.LastSubmittedTimestamp)
}

type chanSource chan media.Fragment

func (c chanSource) Next(ctx context.Context) (media.Fragment, error) {
	select {
	case <-ctx.Done():
		return media.Fragment{}, ctx.Err()
	case f, ok := <-c:
		if !ok {
			return media.Fragment{}, ErrSourceClosed
		}
		return f, nil
	}
}

func TestSessionRun(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{inline: true}
	h := newHarness(t, DefaultConfig(), dec)

	src := make(chanSource, 4)
	src <- frag(1, streamtest.H264Keyframe())
	src <- frag(2, streamtest.H264Delta())
	src <- frag(3, []byte{0xFF})
	src <- frag(4, streamtest.H264Delta())
	close(src)

	require.NoError(t, h.session.Run(context.Background(), src))
	require.Len(t, dec.requests(), 3)
	require.True(t, dec.isClosed(), "Run stops the session on return")
	require.Equal(t, StateIdle, h.session.Snapshot().State)
}

func TestSessionRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig(), &fakeDecoder{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx, make(chanSource)) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSessionRunReturnsFatalError(t *testing.T) {
	t.Parallel()
	s, err := NewSession(Options{
		Config: DefaultConfig(),
		Factory: func(*format.Description) (Decoder, error) {
			return nil, errors.New("no decoder")
		},
	})
	require.NoError(t, err)

	src := make(chanSource, 1)
	src <- frag(1, streamtest.HEVCKeyframe())
	require.ErrorIs(t, s.Run(context.Background(), src), ErrDecoderCreate)
}

func TestSessionConcurrentCompletions(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	h := newHarness(t, DefaultConfig(), dec)
	h.session.Start(format.CodecUnknown)

	for i := range 50 {
		data := streamtest.H264Delta()
		if i == 0 {
			data = streamtest.H264Keyframe()
		}
		_, err := h.session.HandleFragment(frag(uint64(i+1), data))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i, done := range dec.pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done(uint64(i+1), i)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			h.session.TakeNewest()
		}
	}()
	wg.Wait()

	require.LessOrEqual(t, h.session.Snapshot().QueueDepth, 2)
}
