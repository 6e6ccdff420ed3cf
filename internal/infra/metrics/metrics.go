// Package metrics provides Prometheus metrics for Quill.
// Counters and histograms for the nightly sweep, the recovery protocol, and
// the recomputation path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Nightly Sweep ──────────────────────────────────────────────────────────

// SweepUsersProcessed tracks users handled per sweep by outcome.
var SweepUsersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "sweep_users_processed_total",
	Help:      "Users processed by the nightly sweep, by outcome.",
}, []string{"outcome"})

// SweepUserFailures tracks per-user sweep failures (swallowed, logged).
var SweepUserFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "sweep_user_failures_total",
	Help:      "Per-user failures swallowed by the nightly sweep.",
})

// SweepDuration tracks full sweep duration in seconds.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "quill",
	Name:      "sweep_duration_seconds",
	Help:      "Wall-clock duration of one full sweep.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
})

// SweepUnauthorized tracks rejected sweep triggers. Security-relevant.
var SweepUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "sweep_unauthorized_total",
	Help:      "Sweep invocations rejected for a missing or invalid secret.",
})

// ─── Streak State ───────────────────────────────────────────────────────────

// StreakResets tracks streaks reset to zero by the sweep.
var StreakResets = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "streak_resets_total",
	Help:      "Streaks reset to zero by the nightly sweep.",
})

// RecomputeCorrections tracks upward corrections written by recomputation.
var RecomputeCorrections = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "recompute_corrections_total",
	Help:      "Upward streak corrections written by the recomputation pass.",
})

// ─── Freeze Economy ─────────────────────────────────────────────────────────

// FreezesConsumed tracks freezes spent protecting missed days.
var FreezesConsumed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "freezes_consumed_total",
	Help:      "Freezes consumed to protect missed days.",
})

// FreezesPurchased tracks freezes bought with XP.
var FreezesPurchased = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "freezes_purchased_total",
	Help:      "Freezes purchased through the recovery protocol.",
})

// Recoveries tracks resolved recovery flows by terminal state.
var Recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "quill",
	Name:      "recoveries_total",
	Help:      "Recovery protocol resolutions by terminal state.",
}, []string{"outcome"})
