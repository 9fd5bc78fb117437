package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_clicks_total",
			Help: "Referral link clicks by outcome",
		},
		[]string{"outcome"},
	)

	AttributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_attributions_total",
			Help: "Order attributions by resolving strategy",
		},
		[]string{"strategy"},
	)

	AttributionStrategyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_attribution_strategy_errors_total",
			Help: "Attribution strategies skipped because of an error",
		},
		[]string{"strategy"},
	)

	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_conversions_total",
			Help: "Processed orders by conversion outcome",
		},
		[]string{"outcome"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_notification_failures_total",
			Help: "Failed notifier calls by kind",
		},
		[]string{"kind"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "referral_webhook_duration_seconds",
			Help:    "Order webhook processing time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)
