// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_catalog_requests_total",
		Help: "Catalog lookups by endpoint and result",
	}, []string{"endpoint", "result"})

	TTSCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_tts_cache_total",
		Help: "Speech synthesis cache lookups by result (hit, miss, shared)",
	}, []string{"result"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playd_events_dropped_total",
		Help: "Session events dropped by topic and reason",
	}, []string{"topic", "reason"})
)

// IncCatalogRequest records one catalog lookup.
func IncCatalogRequest(endpoint, result string) {
	CatalogRequests.WithLabelValues(endpoint, result).Inc()
}

// IncTTSCache records a synthesis cache lookup.
func IncTTSCache(result string) {
	TTSCache.WithLabelValues(result).Inc()
}

// IncEventDropped records an event that could not be delivered.
func IncEventDropped(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	EventsDropped.WithLabelValues(topic, reason).Inc()
}
