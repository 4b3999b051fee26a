// Command srt-push is a synthetic streamer for exercising vrframe. It
// listens for SRT callers and sends a paced sequence of H.264, HEVC or AV1
// fragments, answering keyframe requests with an early keyframe. With
// --record it writes the same framed sequence to a file instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/vrframe/format"
	"github.com/zsiec/vrframe/internal/wire"
)

// srtPayloadSize is the SRT live-mode maximum payload (7 x 188 bytes).
const srtPayloadSize = 1316

func main() {
	addr := flag.String("addr", ":6000", "SRT listen address")
	codecName := flag.String("codec", "h264", "codec to send (h264, hevc, av1)")
	fps := flag.Float64("fps", 90, "fragment rate")
	gop := flag.Int("gop", 180, "fragments between periodic keyframes")
	record := flag.String("record", "", "write framed fragments to this file instead of serving SRT")
	frames := flag.Int("frames", 900, "fragments to write with --record")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	codec, err := format.ParseCodec(*codecName)
	if err != nil {
		fail(err)
	}

	if *record != "" {
		gen, err := newGenerator(codec, *gop, *fps)
		if err != nil {
			fail(err)
		}
		if err := recordFile(*record, gen, *frames); err != nil {
			fail(err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, *addr, codec, *gop, *fps); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "srt-push: %v\n", err)
	os.Exit(1)
}

func recordFile(path string, gen *generator, n int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeFragments(f, gen, n); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeFragments(w io.Writer, gen *generator, n int) error {
	var buf []byte
	for range n {
		msg, _ := gen.Next()
		buf = wire.Append(buf[:0], msg)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func serve(ctx context.Context, addr string, codec format.Codec, gop int, fps float64) error {
	cfg := srt.DefaultConfig()
	l, err := srt.Listen(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	slog.Info("listening", "addr", addr, "codec", codec, "fps", fps, "gop", gop)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("accept error", "error", err)
			continue
		}
		gen, err := newGenerator(codec, gop, fps)
		if err != nil {
			conn.Close()
			return err
		}
		go handle(ctx, conn, gen)
	}
}

func handle(ctx context.Context, conn *srt.Conn, gen *generator) {
	defer conn.Close()
	log := slog.With("remote", conn.RemoteAddr(), "stream_id", conn.StreamID())
	log.Info("caller connected")

	go func() {
		r := wire.NewReader(conn)
		for {
			msg, err := r.Read()
			if err != nil {
				return
			}
			if msg.Type == wire.MsgKeyframeRequest {
				log.Info("keyframe requested", "ts", msg.Timestamp)
				gen.RequestKeyframe()
			}
		}
	}()

	ticker := time.NewTicker(gen.interval)
	defer ticker.Stop()

	var buf []byte
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msg, key := gen.Next()
		buf = wire.Append(buf[:0], msg)
		for _, c := range chunks(buf, srtPayloadSize) {
			if _, err := conn.Write(c); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Info("connection lost", "error", err, "sent", sent)
				}
				return
			}
		}
		sent++
		if key {
			log.Debug("sent keyframe", "ts", msg.Timestamp)
		}
	}
}
