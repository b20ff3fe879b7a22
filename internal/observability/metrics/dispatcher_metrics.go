package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/usageledger/pkg/db"
)

const (
	OutcomeDone    = "done"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

// DispatcherMetrics captures outbox relay health signals.
type DispatcherMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	runLoopLag      prometheus.Observer
	eventsClaimed   prometheus.Counter
	eventsOutcome   *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	leasesRecovered prometheus.Counter
}

var (
	dispatcherMetricsOnce sync.Once
	dispatcherMetrics     *DispatcherMetrics
)

// Dispatcher returns the singleton dispatcher metrics registry.
func Dispatcher() *DispatcherMetrics {
	return DispatcherWithConfig(Config{})
}

// DispatcherWithConfig returns the singleton dispatcher metrics registry using config labels.
func DispatcherWithConfig(cfg Config) *DispatcherMetrics {
	dispatcherMetricsOnce.Do(func() {
		dispatcherMetrics = newDispatcherMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dispatcherMetrics
}

func newDispatcherMetrics(registerer prometheus.Registerer, cfg Config) *DispatcherMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "usageledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "usageledger_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "usageledger_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "usageledger_scheduler_job_timeouts_total",
		Help:        "Scheduler job timeouts.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "usageledger_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "usageledger_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})
	eventsClaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "usageledger_outbox_claimed_total",
		Help:        "Outbox events claimed by a dispatcher worker.",
		ConstLabels: constLabels,
	})
	eventsOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "usageledger_outbox_events_processed_total",
		Help:        "Outbox events by processing outcome.",
		ConstLabels: constLabels,
	}, []string{"event_type", "outcome"})
	eventDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "usageledger_outbox_event_duration_seconds",
		Help:        "Per-event handler latency including commit.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"event_type"})
	leasesRecovered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "usageledger_outbox_leases_recovered_total",
		Help:        "Processing rows returned to retry after their lease expired.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		runLoopLag,
		eventsClaimed,
		eventsOutcome,
		eventDuration,
		leasesRecovered,
	)

	return &DispatcherMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		runLoopLag:      runLoopLag,
		eventsClaimed:   eventsClaimed,
		eventsOutcome:   eventsOutcome,
		eventDuration:   eventDuration,
		leasesRecovered: leasesRecovered,
	}
}

func (m *DispatcherMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *DispatcherMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *DispatcherMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *DispatcherMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *DispatcherMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

func (m *DispatcherMetrics) AddClaimed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.eventsClaimed.Add(float64(count))
}

// ObserveEvent records the outcome and latency of one outbox event.
func (m *DispatcherMetrics) ObserveEvent(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsOutcome.WithLabelValues(eventType, outcome).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *DispatcherMetrics) AddLeasesRecovered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.leasesRecovered.Add(float64(count))
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case db.IsLockNotAvailable(err):
		return JobReasonDBLockTimeout
	case db.IsSerializationFailure(err):
		return JobReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

// IsRetryable reports whether a job error is expected to clear on its own.
func IsRetryable(err error) bool {
	switch ClassifyJobReason(err) {
	case JobReasonDeadlineExceeded, JobReasonDBLockTimeout, JobReasonSerializationFailure:
		return true
	default:
		return false
	}
}
