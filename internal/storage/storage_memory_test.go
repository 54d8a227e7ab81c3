package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, ms *MemoryStorage, id int64) models.Order {
	t.Helper()
	now := time.Now().UTC()
	order := models.Order{
		ID:         id,
		BuyerID:    10,
		SellerID:   20,
		BuyerEmail: "buyer@example.com",
		Amount:     decimal.RequireFromString("100.50"),
		Status:     models.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, ms.CreateOrder(context.Background(), order))
	return order
}

func attempt(id string, orderID int64, created time.Time) models.Payment {
	return models.Payment{
		ID:        id,
		OrderID:   orderID,
		Amount:    decimal.NewFromInt(100),
		Status:    models.PaymentProcessing,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryStorage_Orders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	order := seedOrder(t, ms, 1)

	err := ms.CreateOrder(ctx, order)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateOrder)

	got, err := ms.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.True(t, order.Amount.Equal(got.Amount))

	_, err = ms.GetOrder(ctx, 2)
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)

	require.NoError(t, ms.UpdateOrderStatus(ctx, 1, models.StatusCreated, models.StatusProcessing))
	err = ms.UpdateOrderStatus(ctx, 1, models.StatusCreated, models.StatusProcessing)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidTransition)
	err = ms.UpdateOrderStatus(ctx, 2, models.StatusCreated, models.StatusProcessing)
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
}

func TestMemoryStorage_SingleSuccessfulPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	seedOrder(t, ms, 1)
	now := time.Now().UTC()

	first := attempt("p1", 1, now)
	second := attempt("p2", 1, now)
	require.NoError(t, ms.CreatePaymentAttempt(ctx, first))
	require.NoError(t, ms.CreatePaymentAttempt(ctx, second))

	ok, err := ms.HasSuccessfulPayment(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	done, err := first.Succeed("ref-1", now)
	require.NoError(t, err)
	require.NoError(t, ms.UpdatePayment(ctx, done))

	dup, err := second.Succeed("ref-2", now)
	require.NoError(t, err)
	assert.ErrorIs(t, ms.UpdatePayment(ctx, dup), domainErrors.ErrPaymentAlreadyExists)

	ok, err = ms.HasSuccessfulPayment(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	payments, err := ms.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "p1", payments[0].ID)
	assert.Equal(t, models.PaymentSuccess, payments[0].Status)
	assert.Equal(t, models.PaymentProcessing, payments[1].Status)

	assert.ErrorIs(t, ms.UpdatePayment(ctx, attempt("missing", 1, now)), domainErrors.ErrPaymentNotFound)
	assert.ErrorIs(t, ms.CreatePaymentAttempt(ctx, attempt("p3", 42, now)), domainErrors.ErrOrderNotFound)
}

func TestMemoryStorage_RollbackKeepsPaymentAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	seedOrder(t, ms, 1)
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := ms.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, ms.UpdateOrderStatus(ctx, 1, models.StatusCreated, models.StatusProcessing))
		p := attempt("p1", 1, now)
		require.NoError(t, ms.CreatePaymentAttempt(ctx, p))
		done, err := p.Succeed("ref", now)
		require.NoError(t, err)
		require.NoError(t, ms.UpdatePayment(ctx, done))
		require.NoError(t, ms.AppendSagaStep(ctx, models.SagaStepRecord{OrderID: 1, Step: models.StepPayment}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	order, err := ms.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, order.Status)

	payments, err := ms.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentProcessing, payments[0].Status)
	assert.False(t, payments[0].Success)

	steps, err := ms.ListSagaSteps(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestMemoryStorage_RollbackKeepsWritesOutsideTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	seedOrder(t, ms, 1)
	now := time.Now().UTC()
	require.NoError(t, ms.CreatePaymentAttempt(ctx, attempt("stale", 1, now.Add(-time.Hour))))
	boom := errors.New("boom")

	inTx := make(chan struct{})
	written := make(chan struct{})
	go func() {
		<-inTx
		// заказ из HTTP и закрытие попытки сверкой идут мимо транзакции
		assert.NoError(t, ms.CreateOrder(ctx, models.Order{ID: 42, Status: models.StatusCreated}))
		failed, err := attempt("stale", 1, now.Add(-time.Hour)).Fail("reconciliation_required", now)
		assert.NoError(t, err)
		assert.NoError(t, ms.UpdatePayment(ctx, failed))
		assert.NoError(t, ms.AppendSagaStep(ctx, models.SagaStepRecord{OrderID: 42, Step: models.StepStarted}))
		close(written)
	}()

	err := ms.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, ms.UpdateOrderStatus(ctx, 1, models.StatusCreated, models.StatusProcessing))
		require.NoError(t, ms.AppendSagaStep(ctx, models.SagaStepRecord{OrderID: 1, Step: models.StepStarted}))
		close(inTx)
		<-written
		return boom
	})
	require.ErrorIs(t, err, boom)

	order, err := ms.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, order.Status)

	rolledBack, err := ms.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, rolledBack.Status)

	payments, err := ms.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentFailed, payments[0].Status)

	steps, err := ms.ListSagaSteps(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, steps)
	steps, err = ms.ListSagaSteps(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestMemoryStorage_NestedTxJoinsOuter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	seedOrder(t, ms, 1)

	err := ms.WithTx(ctx, func(ctx context.Context) error {
		return ms.WithTx(ctx, func(ctx context.Context) error {
			return ms.UpdateOrderStatus(ctx, 1, models.StatusCreated, models.StatusProcessing)
		})
	})
	require.NoError(t, err)

	order, err := ms.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, order.Status)
}

func TestMemoryStorage_StalePayments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	seedOrder(t, ms, 1)
	now := time.Now().UTC()

	require.NoError(t, ms.CreatePaymentAttempt(ctx, attempt("fresh", 1, now)))
	require.NoError(t, ms.CreatePaymentAttempt(ctx, attempt("old", 1, now.Add(-time.Hour))))
	failed, err := attempt("older", 1, now.Add(-2*time.Hour)).Fail("declined", now)
	require.NoError(t, err)
	require.NoError(t, ms.CreatePaymentAttempt(ctx, failed))

	stale, err := ms.ListStalePayments(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestMemoryStorage_FulfillmentRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := NewMemoryStorage()
	seedOrder(t, ms, 1)

	s, err := ms.GetShipmentByOrderID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, s)

	shipment := models.Shipment{ID: "s1", OrderID: 1, ReceiverName: "Ann", ReceiverPhone: "+100", PostalCode: "101000", Address: "Main st"}
	require.NoError(t, ms.CreateShipment(ctx, shipment))
	assert.ErrorIs(t, ms.CreateShipment(ctx, shipment), domainErrors.ErrShipmentExists)

	s, err = ms.GetShipmentByOrderID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "Ann", s.ReceiverName)

	item := models.WarehouseItem{ID: "w1", OrderID: 1, Status: models.WarehouseInStorage}
	require.NoError(t, ms.CreateWarehouseItem(ctx, item))
	assert.ErrorIs(t, ms.CreateWarehouseItem(ctx, item), domainErrors.ErrWarehouseItemExists)

	w, err := ms.GetWarehouseItemByOrderID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, models.WarehouseInStorage, w.Status)
}
