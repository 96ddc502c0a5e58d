// Package metrics declares the Prometheus collectors of the portal.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerGrants counts committed ledger entries.
var LedgerGrants = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "portal",
	Subsystem: "ledger",
	Name:      "grants_total",
	Help:      "Committed ledger grants by currency.",
}, []string{"currency"})

// LedgerPoints sums the points granted.
var LedgerPoints = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "portal",
	Subsystem: "ledger",
	Name:      "points_total",
	Help:      "Points granted by currency.",
}, []string{"currency"})

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Transitions counts committed state-machine transitions.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "portal",
	Name:      "transitions_total",
	Help:      "Committed transitions by entity and action.",
}, []string{"entity", "action"})

// TopAwards counts completed top-N batch awards.
var TopAwards = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "portal",
	Name:      "top_awards_total",
	Help:      "Top-N batch awards committed.",
})

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementsUnlocked counts unlocks by rarity.
var AchievementsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "portal",
	Subsystem: "achievements",
	Name:      "unlocked_total",
	Help:      "Achievement unlocks by rarity.",
}, []string{"rarity"})

// ─── Notifications ──────────────────────────────────────────────────────────

// WSClients tracks connected WebSocket clients.
var WSClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "portal",
	Subsystem: "ws",
	Name:      "clients",
	Help:      "Connected notification clients.",
})

// NotificationsDropped counts messages dropped for slow clients.
var NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "portal",
	Name:      "notifications_dropped_total",
	Help:      "Notifications dropped because a client could not keep up.",
})
