package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PollCount        prometheus.Counter
	PollFailures     prometheus.Counter
	InquiriesQueued  prometheus.Counter
	InquiriesSkipped *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
}

// NewMetrics creates Prometheus metrics registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PollCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquiry_relay_poll_count",
			Help: "Total number of mailbox polling cycles",
		}),
		PollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquiry_relay_poll_failures",
			Help: "Total number of polling cycles that failed",
		}),
		InquiriesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquiry_relay_inquiries_queued",
			Help: "Total number of new inquiries stored and queued",
		}),
		InquiriesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inquiry_relay_inquiries_skipped",
			Help: "Total number of mailbox messages skipped, by reason",
		}, []string{"reason"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inquiry_relay_processing_outcomes",
			Help: "Total number of processing attempts, by outcome",
		}, []string{"outcome"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inquiry_relay_stage_failures",
			Help: "Total number of failed pipeline stages, by error kind",
		}, []string{"kind"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inquiry_relay_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inquiry_relay_queue_depth",
			Help: "Number of inquiries waiting in the processing queue",
		}),
	}
}

// QueueSize records the queue depth
func (m *Metrics) QueueSize(size int) {
	m.QueueDepth.Set(float64(size))
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, started time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}
