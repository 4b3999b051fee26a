package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/vrframe/decode"
	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/ingest"
	"github.com/zsiec/vrframe/internal/streamtest"
	"github.com/zsiec/vrframe/reframe"
)

func TestNullDecoder(t *testing.T) {
	t.Parallel()

	desc, err := format.Describe(format.CodecH264, streamtest.H264Keyframe())
	require.NoError(t, err)
	dec, err := nullDecoderFactory(0)(desc)
	require.NoError(t, err)

	sample, err := reframe.ToLengthPrefixed(streamtest.H264Keyframe())
	require.NoError(t, err)

	type result struct {
		ts    uint64
		image any
	}
	got := make(chan result, 2)
	done := func(ts uint64, image any) { got <- result{ts, image} }

	require.NoError(t, dec.Submit(decode.Request{Timestamp: 42, Payload: sample.Data}, done))
	require.NoError(t, dec.Submit(decode.Request{Timestamp: 43, Payload: []byte{0, 0, 0, 9, 1}}, done))
	dec.Close()

	for range 2 {
		select {
		case r := <-got:
			switch r.ts {
			case 42:
				img, ok := r.image.(nullImage)
				require.True(t, ok)
				require.Equal(t, 3, img.NALUnits)
				require.Equal(t, 1280, img.Width)
			case 43:
				require.Nil(t, r.image)
			default:
				t.Fatalf("completion ts = %d, want 42 or 43", r.ts)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("completion not delivered")
		}
	}

	require.ErrorIs(t, dec.Submit(decode.Request{Timestamp: 44}, done), errDecoderClosed)
}

func TestDebugHandler(t *testing.T) {
	t.Parallel()

	s, err := decode.NewSession(decode.Options{
		Config:  decode.DefaultConfig(),
		Factory: nullDecoderFactory(0),
	})
	require.NoError(t, err)
	q := ingest.NewQueue(4, nil, nil)
	h := debugHandler(s, q)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/keyframe", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	s.Start(format.CodecUnknown)
	_, err = s.HandleFragment(streamtest.Fragment(1, streamtest.H264Keyframe()))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats debugStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, "streaming", stats.Session.State)
	require.Equal(t, "h264", stats.Session.Codec)
	require.Equal(t, "avc1.64001F", stats.Session.CodecString)
	require.Equal(t, 720, stats.Session.Height)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/keyframe", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	s.Stop()
}

func TestPresentMarksFrames(t *testing.T) {
	t.Parallel()

	s, err := decode.NewSession(decode.Options{
		Config:  decode.DefaultConfig(),
		Factory: nullDecoderFactory(0),
	})
	require.NoError(t, err)
	s.Start(format.CodecUnknown)
	defer s.Stop()

	_, err = s.HandleFragment(streamtest.Fragment(1000, streamtest.H264Keyframe()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go present(ctx, s, time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Snapshot().Lag.LastSubmittedTimestamp == 1000
	}, 2*time.Second, 5*time.Millisecond)
}
