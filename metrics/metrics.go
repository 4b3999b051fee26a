// Package metrics exposes decode-path telemetry as Prometheus collectors.
// A nil *Metrics is valid and records nothing, so library users that do not
// scrape metrics pay no cost.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vrframe"

// Drop reasons used with FragmentsDropped.
const (
	ReasonReframe   = "reframe"
	ReasonSubmit    = "submit"
	ReasonStale     = "stale"
	ReasonLag       = "lag"
	ReasonAbandoned = "abandoned"
	ReasonOverflow  = "overflow"
)

// Metrics holds every collector the client updates.
type Metrics struct {
	FragmentsReceived  prometheus.Counter
	FragmentsSubmitted *prometheus.CounterVec
	FragmentsDropped   *prometheus.CounterVec
	FragmentBytes      prometheus.Histogram
	OutOfOrder         prometheus.Counter

	LagSpikes        prometheus.Counter
	KeyframeRequests prometheus.Counter

	DecoderCreates *prometheus.CounterVec
	FramesDecoded  prometheus.Counter
	EmptyDecodes   prometheus.Counter
	DecodeLatency  prometheus.Histogram

	FramesPresented *prometheus.CounterVec
	FramesEvicted   prometheus.Counter
	QueueDepth      prometheus.Gauge
	PendingDepth    prometheus.Gauge
	SessionState    prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg falls
// back to prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FragmentsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_received_total",
			Help:      "Encoded fragments handed to the decode session",
		}),
		FragmentsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_submitted_total",
			Help:      "Fragments submitted to the decoder, by reframe path",
		}, []string{"path"}),
		FragmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_dropped_total",
			Help:      "Fragments discarded before decode",
		}, []string{"reason"}),
		FragmentBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fragment_size_bytes",
			Help:      "Size of received fragments",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to 2MB
		}),
		OutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_out_of_order_total",
			Help:      "Fragments older than the newest decoded frame",
		}),
		LagSpikes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lag_spikes_total",
			Help:      "Lag spikes that triggered keyframe recovery",
		}),
		KeyframeRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyframe_requests_total",
			Help:      "Keyframe requests sent upstream",
		}),
		DecoderCreates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoder_creates_total",
			Help:      "Decoder creation attempts",
		}, []string{"codec", "result"}),
		FramesDecoded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Decode completions that produced an image",
		}),
		EmptyDecodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decodes_empty_total",
			Help:      "Decode completions that produced no image",
		}),
		DecodeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_latency_seconds",
			Help:      "Time from submission to decode completion",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to 1s
		}),
		FramesPresented: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_presented_total",
			Help:      "Frames handed to the renderer",
		}, []string{"kind"}),
		FramesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_evicted_total",
			Help:      "Decoded frames discarded before presentation",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_queue_depth",
			Help:      "Decoded frames waiting for the renderer",
		}),
		PendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_fragments",
			Help:      "Received fragments waiting for the decode session",
		}),
		SessionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Decode session state (0 idle, 1 awaiting parameter sets, 2 streaming)",
		}),
	}
}

func (m *Metrics) FragmentReceived(size int) {
	if m == nil {
		return
	}
	m.FragmentsReceived.Inc()
	m.FragmentBytes.Observe(float64(size))
}

func (m *Metrics) FragmentSubmitted(path string) {
	if m == nil {
		return
	}
	m.FragmentsSubmitted.WithLabelValues(path).Inc()
}

func (m *Metrics) FragmentDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FragmentsDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) FragmentOutOfOrder() {
	if m == nil {
		return
	}
	m.OutOfOrder.Inc()
}

// LagSpike records one recovery cycle: the spike and the keyframe request it
// triggers.
func (m *Metrics) LagSpike() {
	if m == nil {
		return
	}
	m.LagSpikes.Inc()
}

func (m *Metrics) KeyframeRequested() {
	if m == nil {
		return
	}
	m.KeyframeRequests.Inc()
}

func (m *Metrics) DecoderCreated(codec string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DecoderCreates.WithLabelValues(codec, result).Inc()
}

// Decoded records a completion. seconds is the submit-to-complete latency.
func (m *Metrics) Decoded(hasImage bool, seconds float64) {
	if m == nil {
		return
	}
	if hasImage {
		m.FramesDecoded.Inc()
	} else {
		m.EmptyDecodes.Inc()
	}
	m.DecodeLatency.Observe(seconds)
}

func (m *Metrics) Presented(repeat bool, evicted int) {
	if m == nil {
		return
	}
	kind := "new"
	if repeat {
		kind = "repeat"
	}
	m.FramesPresented.WithLabelValues(kind).Inc()
	if evicted > 0 {
		m.FramesEvicted.Add(float64(evicted))
	}
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesEvicted.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetPendingDepth(n int) {
	if m == nil {
		return
	}
	m.PendingDepth.Set(float64(n))
}

func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}
