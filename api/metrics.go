/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Implements ledger.Observer with Prometheus counters and exposes them on
  GET /metrics. Counters cover the append rate by reason, idempotent
  replays, badge unlocks, and truncated badge cascades (the last one is the
  signal that a catalog change made cascades deeper than the engine will
  follow in one append).
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gameforge/chips-engine/ledger"
)

// Metrics implements ledger.Observer with Prometheus collectors.
type Metrics struct {
	appends   *prometheus.CounterVec
	replays   *prometheus.CounterVec
	unlocks   *prometheus.CounterVec
	truncated prometheus.Counter
	registry  *prometheus.Registry
}

var _ ledger.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chips_entries_appended_total",
			Help: "Ledger entries appended, by reason.",
		}, []string{"reason"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chips_entries_replayed_total",
			Help: "Idempotent replays of existing entries, by reason.",
		}, []string{"reason"}),
		unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chips_badges_unlocked_total",
			Help: "Badges unlocked, by badge id.",
		}, []string{"badge"}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chips_badge_cascades_truncated_total",
			Help: "Badge cascades that hit the per-append re-evaluation cap.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.appends, m.replays, m.unlocks, m.truncated)
	return m
}

// Registry exposes the collectors for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) EntryAppended(reason ledger.Reason) {
	m.appends.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) EntryReplayed(reason ledger.Reason) {
	m.replays.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) BadgeUnlocked(id ledger.BadgeID) {
	m.unlocks.WithLabelValues(string(id)).Inc()
}

func (m *Metrics) CascadeTruncated(ledger.UserID) {
	m.truncated.Inc()
}
