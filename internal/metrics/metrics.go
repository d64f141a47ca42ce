// Package metrics exposes Prometheus instrumentation for the tracking
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested counts accepted position samples by origin.
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_samples_ingested_total",
		Help: "Position samples accepted and persisted, by source.",
	}, []string{"source"})

	// SamplesRejected counts rejected samples by reason.
	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_samples_rejected_total",
		Help: "Position samples rejected before persistence, by reason.",
	}, []string{"reason"})

	// BroadcastsSent counts frames fanned out to live subscribers.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldtrack_broadcasts_sent_total",
		Help: "Position frames delivered to live channel subscribers.",
	})

	// ActiveConnections tracks live channel connections per tenant.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fieldtrack_active_connections",
		Help: "Currently subscribed live channel connections, by tenant.",
	}, []string{"tenant"})

	// RateLimited counts governor rejections on the live channel.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldtrack_rate_limited_total",
		Help: "Live channel samples rejected by the connection governor.",
	})
)
