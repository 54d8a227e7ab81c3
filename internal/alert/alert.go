// Package alert raises operator-visible alerts: failed sagas and payment
// attempts that need manual reconciliation.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/tools/logger"

	"github.com/redis/go-redis/v9"
)

const Channel = "saga:alerts"

type Kind string

const (
	KindSagaFailed           Kind = "SAGA_FAILED"
	KindPaymentReconcile     Kind = "PAYMENT_RECONCILIATION"
	KindCompensationFailed   Kind = "COMPENSATION_FAILED"
	KindUndeliverableMessage Kind = "UNDELIVERABLE_MESSAGE"
)

type Alert struct {
	Kind      Kind      `json:"kind"`
	OrderID   int64     `json:"order_id"`
	EventID   string    `json:"event_id,omitempty"`
	PaymentID string    `json:"payment_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason"`
	RaisedAt  time.Time `json:"raised_at"`
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter only logs and counts.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, a Alert) error {
	record(ctx, a)
	return nil
}

// RedisAlerter additionally publishes the alert as JSON on Channel.
type RedisAlerter struct {
	client redis.UniversalClient
}

func NewRedisAlerter(client redis.UniversalClient) *RedisAlerter {
	return &RedisAlerter{client: client}
}

func (r *RedisAlerter) Alert(ctx context.Context, a Alert) error {
	record(ctx, a)

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := r.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func record(ctx context.Context, a Alert) {
	metrics.AlertsRaised.WithLabelValues(string(a.Kind)).Inc()
	logger.Logger.ErrorContext(ctx, "operator alert",
		"kind", a.Kind,
		"order_id", a.OrderID,
		"event_id", a.EventID,
		"payment_id", a.PaymentID,
		"code", a.Code,
		"reason", a.Reason,
	)
}
