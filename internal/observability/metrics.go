package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StageAcceptToFirstChunk = "accept_to_first_chunk"
	StageStreamTotal        = "stream_total"

	IndicatorLateChunkDropped  = "late_chunk_dropped"
	IndicatorBusyRejected      = "busy_rejected"
	IndicatorPlainTextFallback = "plain_text_fallback"
)

// Metrics groups all Prometheus instruments used by the widget host.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	LocalIntercepts   *prometheus.CounterVec
	Suggestions       *prometheus.CounterVec
	Escalations       prometheus.Counter
	StreamOutcomes    *prometheus.CounterVec
	FirstChunkLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live widget instances.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Widget session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		LocalIntercepts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_intercepts_total",
			Help:      "Submissions answered locally, by command.",
		}, []string{"command"}),
		Suggestions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Intent suggestions attached to replies, by kind.",
		}, []string{"kind"}),
		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Human support prompts offered after unhelpful replies.",
		}),
		StreamOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "Assistant streams by result and failure reason.",
		}, []string{"result", "reason"}),
		FirstChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_latency_ms",
			Help:      "Latency from accepted submission to first visible reply text in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstChunkLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstChunkLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageAcceptToFirstChunk, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveStreamTotal(d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(StageStreamTotal, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveStreamOutcome(result, reason string) {
	if m == nil {
		return
	}
	m.StreamOutcomes.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) ObserveIntercept(command string) {
	if m == nil {
		return
	}
	m.LocalIntercepts.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveSuggestion(kind string) {
	if m == nil {
		return
	}
	m.Suggestions.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return newStageWindow(1).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
