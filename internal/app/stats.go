package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats holds hub metrics on a private registry.
type Stats struct {
	reg *prometheus.Registry

	sessions *prometheus.GaugeVec
	buckets  prometheus.Gauge

	framesIn         *prometheus.CounterVec
	bytesIn          *prometheus.CounterVec
	framesDelivered  prometheus.Counter
	framesBuffered   prometheus.Counter
	fragmentsSkipped prometheus.Counter
	queueOverflow    prometheus.Counter
	pendingEvicted   prometheus.Counter
	supersessions    prometheus.Counter

	signalsForwarded *prometheus.CounterVec
	noPeer           prometheus.Counter
	rejected         *prometheus.CounterVec
	closes           *prometheus.CounterVec
}

func NewStats() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relayhub_sessions",
			Help: "Active sessions by role",
		}, []string{"role"}),
		buckets: f.NewGauge(prometheus.GaugeOpts{
			Name: "relayhub_identities",
			Help: "Device identities with live state",
		}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_frames_in_total",
			Help: "Frames received from producers",
		}, []string{"direction"}),
		bytesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_bytes_in_total",
			Help: "Frame bytes received from producers",
		}, []string{"direction"}),
		framesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_frames_delivered_total",
			Help: "Frames queued to consumers",
		}),
		framesBuffered: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_frames_buffered_total",
			Help: "Frames stored in pending buffers",
		}),
		fragmentsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_fragments_skipped_total",
			Help: "Undersized frames not buffered",
		}),
		queueOverflow: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_queue_overflow_total",
			Help: "Frames dropped from full consumer queues",
		}),
		pendingEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_pending_evicted_total",
			Help: "Frames evicted from pending buffers",
		}),
		supersessions: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_supersessions_total",
			Help: "Producers displaced by a newer producer",
		}),
		signalsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_signals_forwarded_total",
			Help: "Negotiation messages forwarded to peers",
		}, []string{"type"}),
		noPeer: f.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_no_peer_total",
			Help: "Negotiation messages with no counterpart",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_rejected_total",
			Help: "Rejected declarations and messages by error code",
		}, []string{"code"}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_session_closes_total",
			Help: "Closed sessions by reason",
		}, []string{"reason"}),
	}
}

// Registry exposes the metrics registry for scraping.
func (s *Stats) Registry() *prometheus.Registry { return s.reg }

func (s *Stats) SignalForwarded(kind string) { s.signalsForwarded.WithLabelValues(kind).Inc() }

func (s *Stats) NoPeer() { s.noPeer.Inc() }

func (s *Stats) Rejected(code string) { s.rejected.WithLabelValues(code).Inc() }

func (s *Stats) Closed(reason string) { s.closes.WithLabelValues(reason).Inc() }
