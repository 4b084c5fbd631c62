package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationRedemptions records redemption attempts by action and result code.
	InvitationRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasehub_invitation_redemptions_total",
			Help: "Total number of invitation redemption attempts",
		},
		[]string{"action", "result"},
	)

	// InvitationsIssued counts invitations created per role kind.
	InvitationsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasehub_invitations_issued_total",
			Help: "Total number of invitations issued",
		},
		[]string{"role"},
	)

	// InvitationNotifications counts invitation email deliveries (sent|failed|disabled).
	InvitationNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasehub_invitation_notifications_total",
			Help: "Total number of invitation notification attempts",
		},
		[]string{"result"},
	)

	// ReconcileRepairs counts rows repaired by the background reconciler.
	ReconcileRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasehub_reconcile_repairs_total",
			Help: "Total number of records repaired by reconciliation",
		},
		[]string{"kind"},
	)

	// AuthAttempts counts login attempts (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasehub_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leasehub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
