// Package metrics exposes ARRE's Prometheus metrics: dispatch counts
// by selection mode and outcome, dedup hit rate, and job submission
// latency. Replaces the process-health gopsutil collector the control
// plane used, since ARRE's operational concern is alert throughput and
// outcome, not host resource usage.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector ARRE registers.
type Metrics struct {
	DispatchesTotal    *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	TasksExecutedTotal *prometheus.CounterVec
	DedupChecksTotal   *prometheus.CounterVec
	JobSubmitDuration  *prometheus.HistogramVec
	JobSubmitRetries   prometheus.Counter
	AIConfidence       *prometheus.HistogramVec
	AlertsInFlight     prometheus.Gauge

	registry *prometheus.Registry
}

var durationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// New creates and registers the metrics collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arre_dispatches_total",
				Help: "Total processed alerts by selection mode and status",
			},
			[]string{"selection_mode", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arre_dispatch_duration_seconds",
				Help:    "Time to fully process one alert through the dispatcher",
				Buckets: durationBuckets,
			},
			[]string{"selection_mode"},
		),
		TasksExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arre_tasks_executed_total",
				Help: "Total task dispatches by execution status",
			},
			[]string{"execution_status"},
		),
		DedupChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arre_dedup_checks_total",
				Help: "Total dedup window checks by result",
			},
			[]string{"result"},
		),
		JobSubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arre_job_submit_duration_seconds",
				Help:    "Job submission call latency, including retries",
				Buckets: durationBuckets,
			},
			[]string{"outcome"},
		),
		JobSubmitRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arre_job_submit_retries_total",
				Help: "Total job submission retry attempts",
			},
		),
		AIConfidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arre_ai_confidence",
				Help:    "Confidence score of AI-selected and autonomous dispatches",
				Buckets: []float64{0, .1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
			[]string{"selection_mode"},
		),
		AlertsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arre_alerts_in_flight",
				Help: "Alerts currently being processed by the dispatcher",
			},
		),
	}

	registry.MustRegister(
		m.DispatchesTotal,
		m.DispatchDuration,
		m.TasksExecutedTotal,
		m.DedupChecksTotal,
		m.JobSubmitDuration,
		m.JobSubmitRetries,
		m.AIConfidence,
		m.AlertsInFlight,
	)

	return m
}

// Handler returns the HTTP handler serving the registered collectors
// in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a dedicated metrics server on addr until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// RecordDispatch records one completed alert-processing attempt.
func (m *Metrics) RecordDispatch(selectionMode, status string, duration time.Duration) {
	m.DispatchesTotal.WithLabelValues(selectionMode, status).Inc()
	m.DispatchDuration.WithLabelValues(selectionMode).Observe(duration.Seconds())
}

// RecordTaskExecution records one task-level dispatch outcome.
func (m *Metrics) RecordTaskExecution(executionStatus string) {
	m.TasksExecutedTotal.WithLabelValues(executionStatus).Inc()
}

// RecordDedupCheck records one dedup window check.
func (m *Metrics) RecordDedupCheck(result string) {
	m.DedupChecksTotal.WithLabelValues(result).Inc()
}

// RecordJobSubmit records one job submission attempt, including the
// retries the caller already absorbed.
func (m *Metrics) RecordJobSubmit(outcome string, duration time.Duration, retries int) {
	m.JobSubmitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if retries > 0 {
		m.JobSubmitRetries.Add(float64(retries))
	}
}

// RecordAIConfidence records the confidence score of an AI-selected or
// autonomous dispatch.
func (m *Metrics) RecordAIConfidence(selectionMode string, confidence float64) {
	m.AIConfidence.WithLabelValues(selectionMode).Observe(confidence)
}

// SetAlertsInFlight sets the current in-flight alert gauge.
func (m *Metrics) SetAlertsInFlight(n int) {
	m.AlertsInFlight.Set(float64(n))
}
