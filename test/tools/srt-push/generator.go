package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/internal/streamtest"
	"github.com/zsiec/vrframe/internal/wire"
)

// generator produces a synthetic fragment sequence: a keyframe every gop
// fragments, deltas in between, and an early keyframe whenever one is
// requested.
type generator struct {
	codec    format.Codec
	gop      int
	interval time.Duration
	width    int
	height   int

	n        uint64
	keyframe atomic.Bool
}

func newGenerator(codec format.Codec, gop int, fps float64) (*generator, error) {
	switch codec {
	case format.CodecH264, format.CodecHEVC, format.CodecAV1:
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
	if gop < 1 {
		return nil, fmt.Errorf("gop must be at least 1, got %d", gop)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %g", fps)
	}
	return &generator{
		codec:    codec,
		gop:      gop,
		interval: time.Duration(float64(time.Second) / fps),
		width:    1920,
		height:   1080,
	}, nil
}

// RequestKeyframe makes the next fragment a keyframe.
func (g *generator) RequestKeyframe() {
	g.keyframe.Store(true)
}

// Next returns the next fragment and whether it is a keyframe.
func (g *generator) Next() (wire.Message, bool) {
	forced := g.keyframe.Swap(false)
	key := forced || g.n%uint64(g.gop) == 0
	msg := wire.Message{
		Type:      wire.MsgFragment,
		Timestamp: g.n * uint64(g.interval),
		Payload:   g.payload(key),
	}
	g.n++
	return msg, key
}

func (g *generator) payload(key bool) []byte {
	switch g.codec {
	case format.CodecH264:
		if key {
			return streamtest.H264Keyframe()
		}
		return streamtest.H264Delta()
	case format.CodecHEVC:
		if key {
			return streamtest.HEVCKeyframe()
		}
		return streamtest.HEVCDelta()
	default:
		if key {
			return streamtest.AV1Keyframe(g.width, g.height, true)
		}
		return streamtest.AV1Delta()
	}
}

// chunks splits b into writes no larger than size, the SRT live-mode
// payload limit.
func chunks(b []byte, size int) [][]byte {
	out := make([][]byte, 0, (len(b)+size-1)/size)
	for len(b) > size {
		out = append(out, b[:size])
		b = b[size:]
	}
	if len(b) > 0 {
		out = append(out, b)
	}
	return out
}
