// Package metrics holds the agent's prometheus collectors. Failures that are
// terminal at their own layer (local writes, autosave syncs) are recorded here
// instead of propagating.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exstem_agent"

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	ProgressWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_writes_total",
		Help:      "Progress store writes by result.",
	}, []string{"result"})

	ProgressCorrupt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_corrupt_records_total",
		Help:      "Stored progress records that could not be decoded.",
	})

	ProgressPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_pruned_total",
		Help:      "Progress records removed for inactivity.",
	})

	AutosaveSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "autosave_sync_total",
		Help:      "Remote autosave attempts by result.",
	}, []string{"result"})

	AutosaveDeltaSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "autosave_delta_size",
		Help:      "Number of answers carried by each remote autosave.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Exam submissions by trigger (manual, timeout) and result.",
	}, []string{"trigger", "result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Exam sessions currently held by the agent.",
	})
)
