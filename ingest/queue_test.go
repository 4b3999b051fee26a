package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vrframe/decode"
	"github.com/zsiec/vrframe/media"
	"github.com/zsiec/vrframe/metrics"
)

func frag(ts uint64) media.Fragment {
	return media.Fragment{Timestamp: ts, Data: []byte{byte(ts)}}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, nil, nil)
	for ts := uint64(1); ts <= 3; ts++ {
		require.True(t, q.Push(frag(ts)))
	}

	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		f, err := q.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, f.Timestamp)
	}
	require.Equal(t, 0, q.Len())
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	q := NewQueue(2, metrics.New(reg), nil)
	for ts := uint64(1); ts <= 5; ts++ {
		q.Push(frag(ts))
	}
	require.Equal(t, 2, q.Len())

	f, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(4), f.Timestamp)

	st := q.Stats()
	require.Equal(t, int64(5), st.Received)
	require.Equal(t, int64(3), st.Overflowed)
	require.Equal(t, int64(1), st.Delivered)
	require.Equal(t, int64(5), st.BytesReceived)
}

func TestQueueAbandonPending(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, nil, nil)
	for ts := uint64(1); ts <= 6; ts++ {
		q.Push(frag(ts))
	}
	q.AbandonPending()
	require.Equal(t, 0, q.Len())
	require.Equal(t, int64(6), q.Stats().Abandoned)

	q.Push(frag(7))
	f, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), f.Timestamp)

	// Nothing pending is a no-op.
	q.AbandonPending()
	require.Equal(t, int64(6), q.Stats().Abandoned)
}

func TestQueueCloseDrainsThenEnds(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, nil, nil)
	q.Push(frag(1))
	q.Close()
	q.Close()

	require.False(t, q.Push(frag(2)))

	f, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.Timestamp)

	_, err = q.Next(context.Background())
	require.ErrorIs(t, err, decode.ErrSourceClosed)
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, nil, nil)

	got := make(chan media.Fragment, 1)
	go func() {
		f, err := q.Next(context.Background())
		if err == nil {
			got <- f
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(frag(9))
	select {
	case f := <-got:
		require.Equal(t, uint64(9), f.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up after Push")
	}
}

func TestQueueNextHonorsContext(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueueCloseWakesNext(t *testing.T) {
	t.Parallel()
	q := NewQueue(4, nil, nil)
	errc := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, decode.ErrSourceClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()
	const producers, each = 4, 250
	q := NewQueue(producers*each, nil, nil)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				q.Push(frag(uint64(p*each + i)))
			}
		}()
	}
	wg.Wait()
	q.Close()

	n := 0
	for {
		if _, err := q.Next(context.Background()); err != nil {
			require.ErrorIs(t, err, decode.ErrSourceClosed)
			break
		}
		n++
	}
	require.Equal(t, producers*each, n)
}

func TestQueueStatsRemoteAddr(t *testing.T) {
	t.Parallel()
	q := NewQueue(1, nil, nil)
	require.Empty(t, q.Stats().RemoteAddr)
	q.SetRemoteAddr("10.0.0.2:9000")
	require.Equal(t, "10.0.0.2:9000", q.Stats().RemoteAddr)
}
