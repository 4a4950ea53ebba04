// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_sessions_created_total",
		Help: "Total number of sessions created by kind",
	}, []string{"kind"})

	SessionsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_sessions_terminal_total",
		Help: "Total number of sessions that reached a terminal status",
	}, []string{"kind", "status"})

	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playd_sessions_active",
		Help: "Number of sessions currently held by the registry",
	}, []string{"kind"})

	SessionsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_sessions_reaped_total",
		Help: "Total number of sessions evicted by the reaper",
	}, []string{"kind"})

	ReaperPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playd_reaper_pass_duration_seconds",
		Help:    "Duration of a single reaper pass",
		Buckets: prometheus.ExponentialBuckets(0.001, 2.0, 14),
	})
)

// IncSessionCreated records a newly created session.
func IncSessionCreated(kind string) {
	SessionsCreated.WithLabelValues(labelOr(kind)).Inc()
	SessionsActive.WithLabelValues(labelOr(kind)).Inc()
}

// IncSessionTerminal records a session reaching a terminal status.
func IncSessionTerminal(kind, status string) {
	SessionsTerminal.WithLabelValues(labelOr(kind), labelOr(status)).Inc()
}

// IncSessionRemoved records a session leaving the registry. reaped
// distinguishes reaper evictions from explicit deletes.
func IncSessionRemoved(kind string, reaped bool) {
	SessionsActive.WithLabelValues(labelOr(kind)).Dec()
	if reaped {
		SessionsReaped.WithLabelValues(labelOr(kind)).Inc()
	}
}

func labelOr(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
