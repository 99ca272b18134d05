// Package metrics exposes orchestration, charging gateway and sweeper
// measurements in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocstransfer/internal/models"
	"ocstransfer/internal/services/sweeper"
)

const namespace = "ocs_transfer"

type Metrics struct {
	registry *prometheus.Registry

	transfersTotal    *prometheus.CounterVec
	stepsTotal        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	gatewayCalls      *prometheus.CounterVec
	gatewayDuration   *prometheus.HistogramVec
	sweepRows         *prometheus.CounterVec
	sweepCycles       prometheus.Counter
	sweepDuration     prometheus.Histogram
	sweepLastRunUnix  prometheus.Gauge
}

// NewMetrics registers every collector on a dedicated registry, together
// with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "transfers_total",
				Help:      "Submitted transfers by flow, resulting status and status code.",
			},
			[]string{"flow", "status", "code"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "steps_total",
				Help:      "Saga steps by step name and result.",
			},
			[]string{"step", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "operation_duration_seconds",
				Help:      "Duration of orchestrator operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		gatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Charging gateway calls by operation and result.",
			},
			[]string{"operation", "result"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Latency of charging gateway calls.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		sweepRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "rows_total",
				Help:      "Ledger rows handled by the sweeper by result.",
			},
			[]string{"result"},
		),
		sweepCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "cycles_total",
				Help:      "Completed sweeper cycles.",
			},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of sweeper cycles.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		sweepLastRunUnix: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent sweeper cycle.",
			},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordOutcome(flow string, status models.Status, code int) {
	if status == "" {
		status = "Rejected"
	}
	m.transfersTotal.WithLabelValues(flow, string(status), strconv.Itoa(code)).Inc()
}

func (m *Metrics) RecordStep(step, result string) {
	m.stepsTotal.WithLabelValues(step, result).Inc()
}

func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveGatewayCall(operation, result string, elapsed time.Duration) {
	m.gatewayCalls.WithLabelValues(operation, result).Inc()
	m.gatewayDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordSweep(r sweeper.Report, d time.Duration) {
	m.sweepCycles.Inc()
	m.sweepDuration.Observe(d.Seconds())
	m.sweepLastRunUnix.SetToCurrentTime()
	for result, n := range map[string]int{
		"settled":   r.Settled,
		"escalated": r.Escalated,
		"pending":   r.Pending,
		"skipped":   r.Skipped,
		"failed":    r.Failed,
		"extended":  r.Extended,
	} {
		if n > 0 {
			m.sweepRows.WithLabelValues(result).Add(float64(n))
		}
	}
}

var (
	_ sweeper.MetricsCollector = (*Metrics)(nil)
)
