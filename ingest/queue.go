// Package ingest buffers encoded fragments between the network reader and
// the decode session. The queue is bounded: when the session falls behind,
// the oldest pending fragment is dropped, and a lag spike discards
// everything pending at once.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/vrframe/decode"
	"github.com/zsiec/vrframe/media"
	"github.com/zsiec/vrframe/metrics"
)

// Stats captures queue and connection counters for diagnostics.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	Received      int64  `json:"received"`
	Delivered     int64  `json:"delivered"`
	Overflowed    int64  `json:"overflowed"`
	Abandoned     int64  `json:"abandoned"`
	Pending       int    `json:"pending"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Queue is a bounded FIFO of fragments. It implements decode.FragmentSource
// and the AbandonPending half of decode.Upstream. Push never blocks.
type Queue struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  []media.Fragment
	capacity int
	closed   bool

	ready chan struct{}
	done  chan struct{}

	startedAt     time.Time
	bytesReceived atomic.Int64
	received      atomic.Int64
	delivered     atomic.Int64
	overflowed    atomic.Int64
	abandoned     atomic.Int64
	remoteAddr    atomic.Value
}

// NewQueue returns a queue holding at most capacity fragments (minimum 1).
// m and log may be nil.
func NewQueue(capacity int, m *metrics.Metrics, log *slog.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		log:       log.With("component", "ingest-queue"),
		metrics:   m,
		pending:   make([]media.Fragment, 0, capacity),
		capacity:  capacity,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Push appends f, dropping the oldest pending fragment when full. It
// reports false if the queue is closed.
func (q *Queue) Push(f media.Fragment) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.bytesReceived.Add(int64(len(f.Data)))
	q.received.Add(1)

	overflow := 0
	if len(q.pending) == q.capacity {
		q.pending[0] = media.Fragment{}
		q.pending = q.pending[1:]
		overflow = 1
	}
	q.pending = append(q.pending, f)
	depth := len(q.pending)
	q.mu.Unlock()

	if overflow > 0 {
		q.overflowed.Add(1)
		q.metrics.FragmentDropped(metrics.ReasonOverflow, overflow)
		q.log.Debug("pending queue full, dropped oldest fragment", "ts", f.Timestamp)
	}
	q.metrics.SetPendingDepth(depth)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a fragment is pending, ctx is done, or the queue is
// closed and drained (decode.ErrSourceClosed).
func (q *Queue) Next(ctx context.Context) (media.Fragment, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			f := q.pending[0]
			q.pending[0] = media.Fragment{}
			q.pending = q.pending[1:]
			depth := len(q.pending)
			q.mu.Unlock()

			q.delivered.Add(1)
			q.metrics.SetPendingDepth(depth)
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return media.Fragment{}, decode.ErrSourceClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return media.Fragment{}, ctx.Err()
		}
	}
}

// AbandonPending discards every fragment not yet handed to the session.
func (q *Queue) AbandonPending() {
	q.mu.Lock()
	n := len(q.pending)
	clear(q.pending)
	q.pending = q.pending[:0]
	q.mu.Unlock()

	if n == 0 {
		return
	}
	q.abandoned.Add(int64(n))
	q.metrics.FragmentDropped(metrics.ReasonAbandoned, n)
	q.metrics.SetPendingDepth(0)
	q.log.Debug("abandoned pending fragments", "count", n)
}

// Close stops accepting fragments. Fragments already pending are still
// delivered by Next. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of pending fragments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SetRemoteAddr records the peer address for Stats.
func (q *Queue) SetRemoteAddr(addr string) {
	q.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	addr, _ := q.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: q.bytesReceived.Load(),
		Received:      q.received.Load(),
		Delivered:     q.delivered.Load(),
		Overflowed:    q.overflowed.Load(),
		Abandoned:     q.abandoned.Load(),
		Pending:       q.Len(),
		ConnectedAt:   q.startedAt.UnixMilli(),
		UptimeMs:      time.Since(q.startedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}
