package monitoring

import (
	"context"

	"pype/internal/core/domain"
	"pype/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector tracks the signaling plane. It is fed from the event
// bus, so the core services never see it.
type PrometheusCollector struct {
	peersOnline    prometheus.Gauge
	callsRinging   prometheus.Gauge
	sessionsActive prometheus.Gauge

	callsTotal        *prometheus.CounterVec
	chatMessagesTotal prometheus.Counter
	statSamplesTotal  prometheus.Counter

	reportedRTT        prometheus.Histogram
	reportedPacketLoss prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		peersOnline: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pype_peers_online",
			Help: "Number of peers currently registered in the directory",
		}),

		callsRinging: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pype_calls_ringing",
			Help: "Number of calls currently in the ringing state",
		}),

		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pype_sessions_active",
			Help: "Number of established sessions",
		}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pype_calls_total",
			Help: "Resolved calls by outcome",
		}, []string{"outcome"}),

		chatMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pype_chat_messages_total",
			Help: "Chat messages appended across all sessions",
		}),

		statSamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pype_stat_samples_total",
			Help: "Transport stat samples recorded",
		}),

		reportedRTT: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pype_reported_rtt_seconds",
			Help:    "Round-trip time reported by peers",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		reportedPacketLoss: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pype_reported_packet_loss_ratio",
			Help:    "Packet loss ratio reported by peers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5},
		}),
	}
}

// Run consumes the event stream until ctx is cancelled.
func (p *PrometheusCollector) Run(ctx context.Context, events ports.EventStream) {
	stream, unsubscribe := events.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-stream:
			if !ok {
				return
			}
			p.observe(evt)
		}
	}
}

func (p *PrometheusCollector) observe(evt domain.Event) {
	switch evt.Type {
	case domain.EventPeerJoined:
		p.peersOnline.Inc()
	case domain.EventPeerLeft:
		p.peersOnline.Dec()

	case domain.EventCallRinging:
		p.callsRinging.Inc()
	case domain.EventCallAccepted:
		p.callsRinging.Dec()
		p.callsTotal.WithLabelValues("accepted").Inc()
	case domain.EventCallRejected:
		p.callsRinging.Dec()
		p.callsTotal.WithLabelValues("rejected").Inc()
	case domain.EventCallTimedOut:
		p.callsRinging.Dec()
		p.callsTotal.WithLabelValues("timed_out").Inc()
	case domain.EventCallCancelled:
		p.callsRinging.Dec()
		p.callsTotal.WithLabelValues("cancelled").Inc()

	case domain.EventSessionStarted:
		p.sessionsActive.Inc()
	case domain.EventSessionEnded:
		p.sessionsActive.Dec()

	case domain.EventChatMessage:
		p.chatMessagesTotal.Inc()

	case domain.EventStatSample:
		p.statSamplesTotal.Inc()
		if sample, ok := evt.Payload.(domain.StatSample); ok {
			p.reportedRTT.Observe(sample.RTTMs / 1000)
			p.reportedPacketLoss.Observe(sample.PacketLossPct / 100)
		}
	}
}
