// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPassesTotal tracks sync passes by provider and status
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendril",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Total number of sync passes by provider and status",
		},
		[]string{"provider", "status"},
	)

	// SyncPassDuration tracks sync pass duration in seconds
	SyncPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tendril",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of sync passes in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	// ReconcileUpsertsTotal tracks Content Store upserts by provider and node kind
	ReconcileUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendril",
			Subsystem: "reconcile",
			Name:      "upserts_total",
			Help:      "Total number of Content Store upserts by provider and node kind",
		},
		[]string{"provider", "kind"},
	)

	// ReconcileDeletesTotal tracks Content Store deletes by provider
	ReconcileDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendril",
			Subsystem: "reconcile",
			Name:      "deletes_total",
			Help:      "Total number of Content Store deletes by provider",
		},
		[]string{"provider"},
	)

	// ReconcileDuration tracks reconcile pass duration in seconds
	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tendril",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconcile passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// CatalogRequestsTotal tracks upstream catalog requests
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendril",
			Subsystem: "catalog",
			Name:      "requests_total",
			Help:      "Total number of upstream catalog requests",
		},
		[]string{"provider", "operation", "status"},
	)

	// PermissionChangesTotal tracks explicit permission changes
	PermissionChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendril",
			Subsystem: "permissions",
			Name:      "changes_total",
			Help:      "Total number of explicit permission changes by node type",
		},
		[]string{"node_type", "permission"},
	)

	// WorkflowCommandsTotal tracks workflow commands published
	WorkflowCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendril",
			Subsystem: "workflow",
			Name:      "commands_total",
			Help:      "Total number of workflow commands published",
		},
		[]string{"command_type"},
	)
)

// RecordSyncPass records a completed sync pass
func RecordSyncPass(provider, status string, durationSeconds float64) {
	SyncPassesTotal.WithLabelValues(provider, status).Inc()
	SyncPassDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordReconcile records a reconcile pass outcome
func RecordReconcile(provider string, upsertsByKind map[string]int, deletes int, durationSeconds float64) {
	for kind, count := range upsertsByKind {
		ReconcileUpsertsTotal.WithLabelValues(provider, kind).Add(float64(count))
	}
	ReconcileDeletesTotal.WithLabelValues(provider).Add(float64(deletes))
	ReconcileDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordCatalogRequest records an upstream catalog request
func RecordCatalogRequest(provider, operation, status string) {
	CatalogRequestsTotal.WithLabelValues(provider, operation, status).Inc()
}
