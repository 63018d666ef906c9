// Package metrics holds the prometheus collectors shared by the psp, bank and pcc processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "psp_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_transaction_transitions_total",
		Help: "Applied transaction status transitions",
	}, []string{"from", "to"})

	CallbacksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_callbacks_ingested_total",
		Help: "Status reports received per channel and source",
	}, []string{"channel", "source", "outcome"})

	WebhookRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_webhook_rejections_total",
		Help: "Webhooks rejected before parsing",
	}, []string{"source", "reason"})

	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_routing_decisions_total",
		Help: "Card payments per settlement path and outcome",
	}, []string{"path", "status"})

	NotificationDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_notification_deliveries_total",
		Help: "Outbound merchant notification attempts",
	}, []string{"task", "outcome"})
)
