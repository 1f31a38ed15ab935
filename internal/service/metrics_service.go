package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// Step outcomes reported to generation_steps_total.
const (
	StepOutcomeDone      = "done"
	StepOutcomeRetriable = "retriable"
	StepOutcomeFatal     = "fatal"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	submissions     *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	jobsDone             uint64
	jobsFatal            uint64
	stepRetries          uint64
}

// MetricsSnapshot is a point-in-time summary of the process counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	JobsDone                 uint64    `json:"jobs_done"`
	JobsFatal                uint64    `json:"jobs_fatal"`
	StepRetries              uint64    `json:"step_retries"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	stepsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_steps_total",
		Help: "Workflow step executions by outcome",
	}, []string{"kind", "step", "outcome"})

	jobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_jobs_total",
		Help: "Generation jobs reaching a status",
	}, []string{"kind", "status"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_job_duration_seconds",
		Help:    "Duration of a single job delivery",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_submissions_total",
		Help: "Exam grading attempts by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, stepsTotal, jobsTotal, jobDuration, submissions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		stepsTotal:      stepsTotal,
		jobsTotal:       jobsTotal,
		jobDuration:     jobDuration,
		submissions:     submissions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordStep counts one step execution.
func (m *MetricsService) RecordStep(kind models.GenerationJobKind, step, outcome string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(string(kind), step, outcome).Inc()
	if outcome == StepOutcomeRetriable {
		atomic.AddUint64(&m.stepRetries, 1)
	}
}

// RecordJob counts a job status transition and the delivery duration.
func (m *MetricsService) RecordJob(kind models.GenerationJobKind, status models.GenerationJobStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(kind), string(status)).Inc()
	if duration > 0 {
		m.jobDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	}
	switch status {
	case models.JobStatusDone:
		atomic.AddUint64(&m.jobsDone, 1)
	case models.JobStatusFatal:
		atomic.AddUint64(&m.jobsFatal, 1)
	}
}

// RecordSubmission counts a grading attempt.
func (m *MetricsService) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		JobsDone:                 atomic.LoadUint64(&m.jobsDone),
		JobsFatal:                atomic.LoadUint64(&m.jobsFatal),
		StepRetries:              atomic.LoadUint64(&m.stepRetries),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
