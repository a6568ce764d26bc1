// Package metrics exposes Prometheus instrumentation for the sandbox
// orchestration paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SandboxesCreated counts sandbox creations by image source.
	SandboxesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_sandboxes_created_total",
		Help: "Sandboxes created, labeled by boot image source.",
	}, []string{"source"})

	// SandboxesReconnected counts successful warm reconnects.
	SandboxesReconnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipyard_sandboxes_reconnected_total",
		Help: "Successful reconnects to an existing sandbox.",
	})

	// SandboxesTerminated counts explicit terminations.
	SandboxesTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipyard_sandboxes_terminated_total",
		Help: "Sandboxes explicitly terminated.",
	})

	// StaleIdentitiesCleared counts sandbox identities cleared after a
	// failed reconnect.
	StaleIdentitiesCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipyard_stale_identities_cleared_total",
		Help: "Project sandbox identities cleared after reconnect found no remote object.",
	})

	// Recoveries counts health-loop recovery attempts by outcome.
	Recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_recoveries_total",
		Help: "Health-loop recovery attempts, labeled by outcome.",
	}, []string{"outcome"})

	// SnapshotsCreated counts provider snapshots taken.
	SnapshotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipyard_snapshots_created_total",
		Help: "Provider filesystem snapshots created.",
	})

	// SnapshotsPruned counts snapshots removed by retention cleanup.
	SnapshotsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipyard_snapshots_pruned_total",
		Help: "Snapshots pruned by retention cleanup.",
	})

	// Deployments counts deployment attempts by strategy and outcome.
	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_deployments_total",
		Help: "Deployments, labeled by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// RestoreDuration observes file-restoration latency by mode.
	RestoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shipyard_restore_duration_seconds",
		Help:    "File restoration latency, labeled by mode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)
