package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akuvox_sync_runs_total",
		Help: "Device reconciliation passes by result.",
	}, []string{"result"})

	syncOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akuvox_sync_operations_total",
		Help: "Device mutations issued by reconciliation.",
	}, []string{"op"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "akuvox_sync_duration_seconds",
		Help:    "Duration of one device reconciliation pass.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akuvox_integrity_checks_total",
		Help: "Per-device integrity checks by result.",
	}, []string{"result"})

	pendingScopeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "akuvox_sync_pending",
		Help: "1 while a debounced sync is armed.",
	})
)
