package main

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/vrframe/decode"
	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/reframe"
)

var errDecoderClosed = errors.New("null decoder closed")

// nullImage stands in for a platform picture.
type nullImage struct {
	Width, Height int
	NALUnits      int
	Bytes         int
}

// nullDecoder completes each request on its own goroutine after delay,
// producing a nullImage. It checks that H.264/HEVC payloads are well-formed
// length-prefixed samples.
type nullDecoder struct {
	desc  *format.Description
	delay time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func nullDecoderFactory(delay time.Duration) decode.DecoderFactory {
	return func(desc *format.Description) (decode.Decoder, error) {
		slog.Info("null decoder configured",
			"codec", desc.CodecString,
			"width", desc.Width,
			"height", desc.Height,
			"config_record_bytes", len(desc.ConfigRecord()))
		return &nullDecoder{desc: desc, delay: delay}, nil
	}
}

func (d *nullDecoder) Submit(req decode.Request, done decode.CompletionFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDecoderClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.delay > 0 {
			time.Sleep(d.delay)
		}
		done(req.Timestamp, d.decode(req.Payload))
	}()
	return nil
}

// decode returns nil for a payload that would not have produced a picture.
func (d *nullDecoder) decode(payload []byte) any {
	img := nullImage{Width: d.desc.Width, Height: d.desc.Height, Bytes: len(payload)}
	if d.desc.Codec.AnnexB() {
		units, err := reframe.Split(payload)
		if err != nil {
			return nil
		}
		img.NALUnits = len(units)
	}
	return img
}

// Close waits for in-flight completions.
func (d *nullDecoder) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
