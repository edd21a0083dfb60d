package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// Metrics holds all Prometheus metrics for healloop
type Metrics struct {
	// Round metrics
	RoundsTotal   *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec
	RoundDuration *prometheus.HistogramVec
	StepDuration  *prometheus.HistogramVec

	// Run metrics
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	RoundsPerRun   prometheus.Histogram
	MemoryFlushErr prometheus.Counter

	registry *prometheus.Registry
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics on a dedicated
// registry that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		factory := promauto.With(reg)

		sharedMetrics = &Metrics{
			registry: reg,

			RoundsTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "healloop_rounds_total",
					Help: "Total number of rounds by outcome",
				},
				[]string{"result"},
			),
			FailuresTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "healloop_round_failures_total",
					Help: "Failed rounds by error signature",
				},
				[]string{"signature"},
			),
			RoundDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "healloop_round_duration_seconds",
					Help:    "Duration of a sandbox round in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
				},
				[]string{"result"},
			),
			StepDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "healloop_sandbox_step_duration_seconds",
					Help:    "Duration of a sandbox step in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 13), // 100ms to 410s
				},
				[]string{"step", "success"},
			),
			RunsTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "healloop_runs_total",
					Help: "Total number of runs by terminal state",
				},
				[]string{"state"},
			),
			RunDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "healloop_run_duration_seconds",
					Help:    "Run duration in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to 68min
				},
				[]string{"state"},
			),
			RoundsPerRun: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "healloop_rounds_per_run",
					Help:    "Number of rounds a run took",
					Buckets: prometheus.LinearBuckets(1, 1, 10),
				},
			),
			MemoryFlushErr: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "healloop_memory_flush_failures_total",
					Help: "Runs whose memory entries could not be persisted",
				},
			),
		}
	})

	return sharedMetrics
}

// ObserveRound records one round. sig is empty for a healthy round.
func (m *Metrics) ObserveRound(sig models.ErrorSignature, ok bool, d time.Duration) {
	result := "failed"
	if ok {
		result = "healthy"
	} else {
		m.FailuresTotal.WithLabelValues(string(sig)).Inc()
	}
	m.RoundsTotal.WithLabelValues(result).Inc()
	m.RoundDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(state models.RunState, rounds int, d time.Duration) {
	m.RunsTotal.WithLabelValues(string(state)).Inc()
	m.RunDuration.WithLabelValues(string(state)).Observe(d.Seconds())
	m.RoundsPerRun.Observe(float64(rounds))
}

// MemoryFlushFailed counts a failed memory flush.
func (m *Metrics) MemoryFlushFailed() {
	m.MemoryFlushErr.Inc()
}

// ObserveStep records a sandbox step duration.
func (m *Metrics) ObserveStep(step string, d time.Duration, ok bool) {
	m.StepDuration.WithLabelValues(step, strconv.FormatBool(ok)).Observe(d.Seconds())
}

// Gatherer exposes the registry for tests and pushes.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway, grouped by instance.
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(m.registry)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
