// Package metrics exposes Prometheus instrumentation for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WritesTotal counts record writes by kind and by the store that took them.
	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_writes_total",
		Help: "Total number of record writes, labeled by record kind and origin store.",
	}, []string{"kind", "origin"})

	// ProbesTotal counts reachability probes that actually hit the network
	// (cache hits are not counted).
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_probe_total",
		Help: "Total number of reachability probes performed, labeled by target and result.",
	}, []string{"target", "result"})

	// ReconcileRecordsTotal counts per-identity reconciliation outcomes.
	ReconcileRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_reconcile_records_total",
		Help: "Total number of identities processed during reconciliation, labeled by direction and outcome.",
	}, []string{"direction", "outcome"})

	// SyncPushesTotal counts unsynced-record pushes during a full sync pass.
	SyncPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_sync_pushes_total",
		Help: "Total number of backlog record pushes, labeled by direction and outcome.",
	}, []string{"direction", "outcome"})

	// UnsyncedBacklog tracks the current number of unsynced records per kind.
	UnsyncedBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roadsync_unsynced_backlog",
		Help: "Number of records currently awaiting sync, labeled by record kind.",
	}, []string{"kind"})
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
