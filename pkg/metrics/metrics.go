package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	// Broker metrics
	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_broker_messages_published_total",
			Help: "Total number of messages published to the broker, by message type",
		},
		[]string{"type"},
	)

	MessagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_broker_messages_dispatched_total",
			Help: "Total number of messages dispatched to subscriber callbacks, by message type",
		},
		[]string{"type"},
	)

	CallbackErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_broker_callback_errors_total",
			Help: "Total number of subscriber callbacks that returned or panicked with an error",
		},
		[]string{"component"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipelinecore_broker_queue_depth",
			Help: "Current number of messages waiting in the broker's dispatch queue",
		},
	)

	MessagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_broker_messages_rejected_total",
			Help: "Total number of dispatch jobs refused because the queue was at its high-water mark, by message type",
		},
		[]string{"type"},
	)

	// Control point metrics
	ControlPointsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_control_points_created_total",
			Help: "Total number of control points created, by department and stage",
		},
		[]string{"department", "stage"},
	)

	ControlPointsArchived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_control_points_archived_total",
			Help: "Total number of control points archived, by department and stage",
		},
		[]string{"department", "stage"},
	)

	ControlPointsTimedOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_control_points_timed_out_total",
			Help: "Total number of control points that hit their timeout, by department and stage",
		},
		[]string{"department", "stage"},
	)

	ReviewLoopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_review_loops_total",
			Help: "Total number of rework decisions that sent a pipeline back through a stage",
		},
		[]string{"department", "stage"},
	)

	// Pipeline metrics
	PipelinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_pipelines_total",
			Help: "Total number of pipelines that reached a terminal status",
		},
		[]string{"status"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_pipeline_duration_seconds",
			Help:    "Wall-clock time from pipeline creation to terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"outcome"},
	)

	// Staging metrics
	StagingEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipelinecore_staging_entries_total",
			Help: "Current number of staging entries, by state",
		},
		[]string{"state"},
	)

	StagingBytesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipelinecore_staging_bytes_stored",
			Help: "Total bytes currently held in the staging payload store",
		},
	)

	StagingSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_staging_sweep_duration_seconds",
			Help:    "Time taken for one retention-sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	StagingSweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipelinecore_staging_sweep_cycles_total",
			Help: "Total number of retention-sweep cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesPublished,
		MessagesDispatched,
		CallbackErrors,
		QueueDepth,
		MessagesRejected,
		ControlPointsCreated,
		ControlPointsArchived,
		ControlPointsTimedOut,
		ReviewLoopsTotal,
		PipelinesTotal,
		PipelineDuration,
		StagingEntriesTotal,
		StagingBytesStored,
		StagingSweepDuration,
		StagingSweepCyclesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for a /metrics scrape
// endpoint; "pipelinectl apply --metrics-addr" mounts it.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
