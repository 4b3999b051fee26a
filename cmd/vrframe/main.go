// Command vrframe connects to a streamer over SRT and runs the decode
// session against a null decoder, presenting frames at a fixed refresh
// rate. It is a soak and diagnostics harness for the client pipeline:
// lag spikes, keyframe requests and queue behaviour show up in the logs
// and on the Prometheus endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vrframe/decode"
	"github.com/zsiec/vrframe/ingest"
	srtingest "github.com/zsiec/vrframe/ingest/srt"
	"github.com/zsiec/vrframe/metrics"
)

var version = "dev"

func main() {
	srtAddr := flag.String("srt-addr", envOr("SRT_ADDR", "127.0.0.1:6000"), "streamer SRT listener address")
	streamKey := flag.String("stream-key", envOr("STREAM_KEY", "default"), "stream key to request")
	streamID := flag.String("stream-id", envOr("STREAM_ID", ""), "raw SRT stream id (overrides --stream-key)")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9464"), "Prometheus and debug HTTP address")
	refresh := flag.Float64("refresh-hz", 90, "display refresh rate used to pull frames")
	decodeDelay := flag.Duration("decode-delay", 0, "simulated per-frame decode time")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := decode.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *refresh <= 0 {
		slog.Error("invalid configuration", "error", fmt.Errorf("refresh rate must be positive, got %g", *refresh))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	queue := ingest.NewQueue(cfg.PendingFragments, m, nil)

	client, err := srtingest.NewClient(srtingest.Config{
		Address:   *srtAddr,
		StreamKey: *streamKey,
		StreamID:  *streamID,
	}, queue, nil)
	if err != nil {
		slog.Error("failed to create SRT client", "error", err)
		os.Exit(1)
	}

	session, err := decode.NewSession(decode.Options{
		Config:   cfg,
		Factory:  nullDecoderFactory(*decodeDelay),
		Upstream: client,
		Metrics:  m,
	})
	if err != nil {
		slog.Error("failed to create decode session", "error", err)
		os.Exit(1)
	}

	slog.Info("vrframe starting",
		"version", version,
		"srt", *srtAddr,
		"metrics", *metricsAddr,
		"codec", cfg.Codec,
		"lag_threshold", cfg.LagThreshold,
		"frame_threshold", cfg.FrameThreshold,
		"timestamp_policy", cfg.TimestampPolicy,
	)

	g, ctx := errgroup.WithContext(ctx)

	metricsSrv := &http.Server{
		Addr:    *metricsAddr,
		Handler: debugHandler(session, queue),
	}

	g.Go(func() error {
		// The stream ending is a normal shutdown for a single-session harness.
		defer cancel()
		return client.Run(ctx)
	})

	g.Go(func() error {
		return session.Run(ctx, queue)
	})

	g.Go(func() error {
		present(ctx, session, time.Duration(float64(time.Second) / *refresh))
		return nil
	})

	g.Go(func() error {
		slog.Info("metrics server listening", "addr", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("vrframe error", "error", err)
		os.Exit(1)
	}
}

// present pulls the newest frame once per refresh interval, as a
// compositor would, and reports it back as displayed.
func present(ctx context.Context, s *decode.Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f, ok := s.TakeNewest(); ok {
				s.MarkPresented(f.Timestamp)
			}
		}
	}
}

type debugStats struct {
	Session sessionStats `json:"session"`
	Ingest  ingest.Stats `json:"ingest"`
}

type sessionStats struct {
	State          string `json:"state"`
	Codec          string `json:"codec"`
	CodecString    string `json:"codecString,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	QueueDepth     int    `json:"queueDepth"`
	Generation     uint64 `json:"generation"`
	FramesSinceIDR int    `json:"framesSinceIdr"`
	FramesSinceDec int    `json:"framesSinceDecode"`
	LastRequested  uint64 `json:"lastRequestedTs"`
	LastPresented  uint64 `json:"lastPresentedTs"`
}

func snapshotStats(s *decode.Session, q *ingest.Queue) debugStats {
	snap := s.Snapshot()
	st := sessionStats{
		State:          snap.State.String(),
		Codec:          snap.Codec.String(),
		QueueDepth:     snap.QueueDepth,
		Generation:     snap.Generation,
		FramesSinceIDR: snap.Lag.FramesSinceLastIDR,
		FramesSinceDec: snap.Lag.FramesSinceLastDecode,
		LastRequested:  snap.Lag.LastRequestedTimestamp,
		LastPresented:  snap.Lag.LastSubmittedTimestamp,
	}
	if d := snap.Description; d != nil {
		st.CodecString = d.CodecString
		st.Width = d.Width
		st.Height = d.Height
	}
	return debugStats{Session: st, Ingest: q.Stats()}
}

func debugHandler(s *decode.Session, q *ingest.Queue) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshotStats(s, q)); err != nil {
			slog.Debug("debug stats encode failed", "error", err)
		}
	})
	mux.HandleFunc("POST /debug/keyframe", func(w http.ResponseWriter, r *http.Request) {
		if err := s.RequestKeyframe(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
