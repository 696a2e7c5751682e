package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewaysync",
			Subsystem: "orchestrator",
			Name:      "plans_total",
			Help:      "Plan executions by outcome.",
		},
		[]string{"plan", "outcome"},
	)
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewaysync",
			Subsystem: "gateway",
			Name:      "remote_calls_total",
			Help:      "Calls to the gateway control plane.",
		},
		[]string{"kind", "op", "outcome", "status"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatewaysync",
			Subsystem: "gateway",
			Name:      "remote_call_duration_seconds",
			Help:      "Gateway call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "op"},
	)
	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewaysync",
			Subsystem: "compensation",
			Name:      "total",
			Help:      "Compensation outcomes (inline_ok, scheduled, retry_failed, retried_ok, exhausted).",
		},
		[]string{"action", "outcome"},
	)
	orphansReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewaysync",
			Subsystem: "reaper",
			Name:      "orphans_reaped_total",
			Help:      "Catalog entries removed because nothing referenced them.",
		},
		[]string{"catalog"},
	)
	reaperFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewaysync",
			Subsystem: "reaper",
			Name:      "failures_total",
			Help:      "Failed orphan sweeps.",
		},
		[]string{"catalog"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(plansTotal, remoteCalls, remoteDuration, compensations, orphansReaped, reaperFailures)
	})
}

func RecordPlan(plan, outcome string) {
	RegisterMetrics()
	plansTotal.WithLabelValues(plan, outcome).Inc()
}

func RecordRemoteCall(kind, op, outcome string, status int, duration time.Duration) {
	RegisterMetrics()
	remoteCalls.WithLabelValues(kind, op, outcome, strconv.Itoa(status)).Inc()
	remoteDuration.WithLabelValues(kind, op).Observe(duration.Seconds())
}

func RecordCompensation(action, outcome string) {
	RegisterMetrics()
	compensations.WithLabelValues(action, outcome).Inc()
}

func RecordOrphansReaped(catalog string, n int64) {
	RegisterMetrics()
	orphansReaped.WithLabelValues(catalog).Add(float64(n))
}

func RecordReaperFailure(catalog string) {
	RegisterMetrics()
	reaperFailures.WithLabelValues(catalog).Inc()
}
