// Package prom implements metrics.Recorder with Prometheus collectors.
//
// The backend owns its registry. Long-running processes expose it with
// Handler; one-shot runs push it to a Pushgateway with Flush.
package prom

import (
	"fmt"
	"net/http"
	"time"

	"etlplanner/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus metrics backend.
type Backend struct {
	reg        *prometheus.Registry
	gatewayURL string // empty disables Flush
	jobName    string

	stepCounter  *prometheus.CounterVec   // etl_step_total
	stepDuration *prometheus.HistogramVec // etl_step_duration_seconds
	runCounter   *prometheus.CounterVec   // etl_task_runs_total
	runDuration  *prometheus.HistogramVec // etl_task_duration_seconds
	rowCounter   *prometheus.CounterVec   // etl_rows_total
}

var _ metrics.Recorder = (*Backend)(nil)

// New builds a backend. gatewayURL may be empty when metrics are only scraped.
func New(jobName, gatewayURL string) (*Backend, error) {
	if jobName == "" {
		jobName = "etlplanner"
	}
	b := &Backend{
		reg:        prometheus.NewRegistry(),
		gatewayURL: gatewayURL,
		jobName:    jobName,
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_step_total",
			Help: "Step executions by step kind and status.",
		}, []string{"kind", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_step_duration_seconds",
			Help:    "Step duration in seconds by step kind and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		runCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_task_runs_total",
			Help: "Task runs by task and status.",
		}, []string{"task", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_task_duration_seconds",
			Help:    "Task run duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"task"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_total",
			Help: "Rows moved by kind (extracted, written).",
		}, []string{"kind"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":  b.stepCounter,
		"step duration": b.stepDuration,
		"run counter":   b.runCounter,
		"run duration":  b.runDuration,
		"row counter":   b.rowCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prom: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) RecordStep(_ string, kind string, err error, d time.Duration) {
	status := metrics.Status(err)
	b.stepCounter.WithLabelValues(kind, status).Inc()
	b.stepDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

func (b *Backend) RecordRun(task string, err error, d time.Duration) {
	b.runCounter.WithLabelValues(task, metrics.Status(err)).Inc()
	b.runDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (b *Backend) RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	b.rowCounter.WithLabelValues(kind).Add(float64(n))
}

// Flush pushes the registry to the Pushgateway, if one is configured.
func (b *Backend) Flush() error {
	if b.gatewayURL == "" {
		return nil
	}
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prom: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg})
}

// Registry exposes the underlying registry.
func (b *Backend) Registry() *prometheus.Registry {
	return b.reg
}
