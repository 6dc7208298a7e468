package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment order state transitions by target status",
	}, []string{"status"})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Gateway webhook deliveries by outcome",
	}, []string{"outcome"})

	payoutTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_transitions_total",
		Help: "Payout request state transitions by target status",
	}, []string{"status"})

	overdueInstallments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "installments_overdue_total",
		Help: "Installments moved to overdue by the delinquency check",
	})
)
