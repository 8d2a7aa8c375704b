package monitoring

import (
	"time"

	"stagecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	liveParticipants  prometheus.Gauge
	signalConnections prometheus.Gauge
	destinationState  *prometheus.GaugeVec

	// Counters
	framesRenderedTotal    prometheus.Counter
	reconnectAttemptsTotal *prometheus.CounterVec
	chatMessagesTotal      prometheus.Counter

	// Histograms
	frameRenderDuration prometheus.Histogram
	negotiationDuration prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		liveParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stagecast_live_participants",
			Help: "Number of participants currently on stage",
		}),

		signalConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stagecast_signal_connections",
			Help: "Number of open signaling connections",
		}),

		destinationState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stagecast_destination_state",
			Help: "Connection state of each destination session (1 for the current state)",
		}, []string{"destination_id", "state"}),

		framesRenderedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stagecast_frames_rendered_total",
			Help: "Total number of composite frames rendered",
		}),

		reconnectAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stagecast_destination_reconnect_attempts_total",
			Help: "Total number of destination connection attempts",
		}, []string{"destination_id"}),

		chatMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stagecast_chat_messages_total",
			Help: "Total number of chat messages fanned out",
		}),

		frameRenderDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stagecast_frame_render_duration_seconds",
			Help:    "Time spent rendering one composite frame",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1},
		}),

		negotiationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stagecast_negotiation_duration_seconds",
			Help:    "Duration of destination ingest negotiations",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
	}
}

func (p *PrometheusCollector) RecordFrame(d time.Duration) {
	p.framesRenderedTotal.Inc()
	p.frameRenderDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) SetLiveParticipants(n int) {
	p.liveParticipants.Set(float64(n))
}

func (p *PrometheusCollector) SetSignalConnections(n int) {
	p.signalConnections.Set(float64(n))
}

var connectionStates = []domain.ConnectionState{
	domain.ConnIdle,
	domain.ConnConnecting,
	domain.ConnConnected,
	domain.ConnDegraded,
	domain.ConnDisconnected,
	domain.ConnTerminated,
}

func (p *PrometheusCollector) RecordDestinationState(id domain.DestinationID, state domain.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		p.destinationState.WithLabelValues(string(id), string(s)).Set(value)
	}
}

func (p *PrometheusCollector) RecordReconnectAttempt(id domain.DestinationID) {
	p.reconnectAttemptsTotal.WithLabelValues(string(id)).Inc()
}

func (p *PrometheusCollector) RecordChatMessage() {
	p.chatMessagesTotal.Inc()
}

func (p *PrometheusCollector) RecordNegotiation(duration time.Duration) {
	p.negotiationDuration.Observe(duration.Seconds())
}
