// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnsystem_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "earnsystem_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SettlementSubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnsystem_settlement_subscriptions_total",
			Help: "Subscriptions handled by settlement, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "earnsystem_settlement_duration_seconds",
			Help:    "Duration of daily settlement runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	CommissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnsystem_commissions_total",
			Help: "Commission records by level and outcome",
		},
		[]string{"level", "outcome"},
	)

	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnsystem_payment_transitions_total",
			Help: "Payment status transitions applied by the reconciler",
		},
		[]string{"from", "to", "source"},
	)

	DepositCreditedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "earnsystem_deposit_credited_amount_total",
			Help: "Sum of deposits credited to balances",
		},
	)

	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnsystem_withdrawals_total",
			Help: "Withdrawal requests by resulting status",
		},
		[]string{"status"},
	)

	OutboxMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnsystem_outbox_messages_total",
			Help: "Outbox sends by outcome",
		},
		[]string{"outcome"},
	)
)
