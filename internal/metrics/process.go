// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_proc_terminate_total",
		Help: "Termination requests sent to external processes by signal and result",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_proc_wait_total",
		Help: "Observed process exits after a termination request by result",
	}, []string{"result"})

	procSpawn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_proc_spawn_total",
		Help: "External process spawn attempts by role and result",
	}, []string{"role", "result"})
)

// IncProcTerminate records a termination attempt (signal is "QUIT", "SIGTERM" or "SIGKILL").
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process exited.
func IncProcWait(result string) {
	procWait.WithLabelValues(result).Inc()
}

// IncProcSpawn records a spawn attempt for a player or transcoder.
func IncProcSpawn(role, result string) {
	procSpawn.WithLabelValues(role, result).Inc()
}
