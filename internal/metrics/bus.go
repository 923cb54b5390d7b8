// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvbsched_bus_published_total",
		Help: "Timer events published by transport",
	}, []string{"transport"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvbsched_bus_dropped_total",
		Help: "Timer events dropped by transport and reason",
	}, []string{"transport", "reason"})
)

// IncBusPublished records one delivered event.
func IncBusPublished(transport string) {
	BusPublishedTotal.WithLabelValues(transport).Inc()
}

// IncBusDrop records a dropped event with a concrete reason.
func IncBusDrop(transport, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(transport, reason).Inc()
}
