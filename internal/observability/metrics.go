package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveStreams    prometheus.Gauge
	StreamEvents     *prometheus.CounterVec
	StreamFailures   *prometheus.CounterVec
	TokensSent       *prometheus.CounterVec
	TokensReceived   *prometheus.CounterVec
	QuotaRejections  *prometheus.CounterVec
	CacheOps         *prometheus.CounterVec
	ResponseDuration prometheus.Histogram

	// Stages holds an in-process latency window alongside the Prometheus
	// instruments, serving the stats endpoint.
	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Stages: NewStageWindow(512),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of in-flight streaming responses.",
		}),
		StreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Stream lifecycle events by type.",
		}, []string{"event"}),
		StreamFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_failures_total",
			Help:      "Failed streams by failure kind.",
		}, []string{"kind"}),
		TokensSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_sent_total",
			Help:      "Input tokens sent to the model by provider and model.",
		}, []string{"provider", "model"}),
		TokensReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_received_total",
			Help:      "Output tokens received from the model by provider and model.",
		}, []string{"provider", "model"}),
		QuotaRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected for insufficient quota by limiter.",
		}, []string{"limiter"}),
		CacheOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_cache_ops_total",
			Help:      "Conversation cache operations by op and outcome.",
		}, []string{"op", "outcome"}),
		ResponseDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "Wall-clock duration of a full streamed response.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
}

func (m *Metrics) ObserveResponseDuration(d time.Duration) {
	m.ResponseDuration.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
