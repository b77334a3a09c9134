// Package metrics exposes Prometheus instrumentation for the sync loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed sync cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zabbar_cycles_total",
		Help: "Completed sync cycles by result (ok, error, session_expired).",
	}, []string{"result"})

	// TicksSkippedTotal counts scheduler ticks dropped because a cycle was
	// still in flight or the scheduler was paused.
	TicksSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zabbar_ticks_skipped_total",
		Help: "Scheduler ticks skipped by reason (overlap, paused).",
	}, []string{"reason"})

	// SummarizationsTotal counts summarization calls by outcome.
	SummarizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zabbar_summarizations_total",
		Help: "Summarization calls by result (ok, error, discarded).",
	}, []string{"result"})

	// PublishedAlerts tracks the alert count in the last published snapshot.
	PublishedAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zabbar_published_alerts",
		Help: "Number of alerts in the last published snapshot.",
	})

	// Authenticated reports the session state (1 = authenticated).
	Authenticated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zabbar_authenticated",
		Help: "Whether the agent holds an authenticated session.",
	})
)
