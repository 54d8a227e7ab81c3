package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "number of orders accepted for fulfillment",
		},
	)

	SagaSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_total",
			Help: "executed saga steps by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	SagaRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_retries_total",
			Help: "successor envelopes emitted to retry a step",
		},
		[]string{"step"},
	)

	SagaFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_failed_total",
			Help: "sagas finished in FAILED by error code",
		},
		[]string{"code"},
	)

	PaymentsCharged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_charged_total",
			Help: "successful gateway charges persisted",
		},
	)

	PaymentsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_cancelled_total",
			Help: "charges cancelled because they could not be persisted",
		},
	)

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_seconds",
			Help:    "payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	StalePayments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payments_stale_attempts",
			Help: "payment attempts found in PROCESSING by the last reconciliation sweep",
		},
	)

	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_alerts_total",
			Help: "operator alerts by kind",
		},
		[]string{"kind"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			OrdersPlaced,
			SagaSteps,
			SagaRetries,
			SagaFailed,
			PaymentsCharged,
			PaymentsCancelled,
			GatewayLatency,
			StalePayments,
			AlertsRaised,
		)
	})
}
