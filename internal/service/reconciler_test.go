package service

import (
	"context"
	"testing"
	"time"

	"marketplace/internal/alert"
	"marketplace/internal/models"
	"marketplace/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_Sweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	alerts := &fakeAlerter{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateOrder(ctx, models.Order{
		ID: 1, BuyerID: 1, SellerID: 2, BuyerEmail: "a@b.c",
		Amount: decimal.NewFromInt(10), Status: models.StatusProcessing, CreatedAt: now, UpdatedAt: now,
	}))

	attempt := func(id string, age time.Duration) models.Payment {
		created := now.Add(-age)
		return models.Payment{ID: id, OrderID: 1, Amount: decimal.NewFromInt(10), Status: models.PaymentProcessing, CreatedAt: created, UpdatedAt: created}
	}
	require.NoError(t, store.CreatePaymentAttempt(ctx, attempt("stale", time.Hour)))
	require.NoError(t, store.CreatePaymentAttempt(ctx, attempt("fresh", time.Minute)))

	r := NewReconciler(store, alerts, 10*time.Minute)
	r.now = func() time.Time { return now }

	closed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, alert.KindPaymentReconcile, alerts.alerts[0].Kind)
	assert.Equal(t, "stale", alerts.alerts[0].PaymentID)

	payments, err := store.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, models.PaymentFailed, payments[0].Status)
	assert.Equal(t, ReconciliationReason, payments[0].FailureReason)
	assert.False(t, payments[0].Success)
	assert.Equal(t, models.PaymentProcessing, payments[1].Status)

	closed, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}
