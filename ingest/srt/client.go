// Package srt connects to the streamer over SRT in caller mode. Fragments
// read from the connection are pushed into an ingest.Queue; keyframe
// requests are written back on the same connection.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vrframe/ingest"
	"github.com/zsiec/vrframe/internal/wire"
	"github.com/zsiec/vrframe/media"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (40ms). Remote
// rendering trades retransmission headroom for motion-to-photon latency.
const srtLatencyNs = 40_000_000

const defaultDialTimeout = 10 * time.Second

// ErrNotConnected is returned by SendKeyframeRequest with no live connection.
var ErrNotConnected = errors.New("srt: not connected")

// Config describes the streamer to dial.
type Config struct {
	Address     string
	StreamKey   string
	StreamID    string // defaults to "live/" + StreamKey
	DialTimeout time.Duration
}

// Client is the network side of a decode session. It implements
// decode.Upstream.
type Client struct {
	log   *slog.Logger
	cfg   Config
	queue *ingest.Queue

	mu   sync.Mutex
	conn io.Writer

	lastTimestamp atomic.Uint64
	requests      atomic.Int64
}

// NewClient creates a Client feeding queue. If log is nil, slog.Default()
// is used.
func NewClient(cfg Config, queue *ingest.Queue, log *slog.Logger) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:   log.With("component", "srt-client", "address", cfg.Address),
		cfg:   cfg,
		queue: queue,
	}, nil
}

// Run dials the streamer and reads fragments until ctx is cancelled or the
// connection ends. The queue is closed on return so the session drains and
// stops.
func (c *Client) Run(ctx context.Context) error {
	defer c.queue.Close()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.queue.SetRemoteAddr(conn.RemoteAddr().String())
	return c.serve(ctx, conn)
}

func (c *Client) dial(ctx context.Context) (*srtgo.Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID(c.cfg)

	c.log.Info("dialing", "stream_id", cfg.StreamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(c.cfg.Address, cfg)
		ch <- dialResult{conn, err}
	}()
	// Close any connection that completes after we gave up on it.
	drain := func() {
		if res := <-ch; res.conn != nil {
			res.conn.Close()
		}
	}

	timer := time.NewTimer(c.cfg.DialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		go drain()
		return nil, fmt.Errorf("SRT dial timed out after %s", c.cfg.DialTimeout)
	case <-ctx.Done():
		go drain()
		return nil, ctx.Err()
	}
}

// serve owns conn until ctx is done or the peer disconnects.
func (c *Client) serve(ctx context.Context, conn io.ReadWriteCloser) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		// Close first so a blocked keyframe request releases c.mu.
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		st := c.queue.Stats()
		c.log.Info("connection closed",
			"bytes", st.BytesReceived, "fragments", st.Received,
			"overflowed", st.Overflowed, "abandoned", st.Abandoned,
			"keyframe_requests", c.requests.Load(), "uptime_ms", st.UptimeMs)
	}()

	c.log.Info("connected")
	// The decoder asks for a keyframe before any connection exists, so ask
	// again here. Async since the sender may not read until it has written.
	go c.RequestKeyframe()

	r := wire.NewReader(conn)
	for {
		msg, err := r.Read()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case wire.MsgFragment:
			c.lastTimestamp.Store(msg.Timestamp)
			c.queue.Push(media.Fragment{Timestamp: msg.Timestamp, Data: msg.Payload})
		default:
			c.log.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// SendKeyframeRequest writes a keyframe request carrying the newest
// timestamp received.
func (c *Client) SendKeyframeRequest() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.requests.Add(1)
	return wire.WriteKeyframeRequest(c.conn, c.lastTimestamp.Load())
}

// RequestKeyframe implements decode.Upstream. Failures are logged; the
// session asks again on the next lag spike.
func (c *Client) RequestKeyframe() {
	if err := c.SendKeyframeRequest(); err != nil {
		c.log.Debug("keyframe request not sent", "error", err)
	}
}

// AbandonPending implements decode.Upstream by discarding queued fragments.
func (c *Client) AbandonPending() {
	c.queue.AbandonPending()
}

func streamID(cfg Config) string {
	if cfg.StreamID != "" {
		return cfg.StreamID
	}
	key := strings.TrimPrefix(cfg.StreamKey, "/")
	key = strings.TrimPrefix(key, "live/")
	if key == "" {
		key = "default"
	}
	return "live/" + key
}
