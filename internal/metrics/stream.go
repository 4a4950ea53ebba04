// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_stream_bytes_total",
		Help: "Bytes moved through streaming sessions (in = accepted from producers, out = written to the transcoder)",
	}, []string{"direction"})

	StreamQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playd_stream_queue_depth",
		Help: "Sum of buffered chunks across all streaming sessions",
	})
)

// AddStreamBytes records bytes moved in the given direction ("in" or "out").
func AddStreamBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	StreamBytes.WithLabelValues(direction).Add(float64(n))
}
