package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"marketplace/internal/codec"
	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/sagalog"
	"marketplace/internal/service"
	"marketplace/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RunsSagasToCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemoryStorage()
	log := sagalog.NewMemoryLog(4, time.Millisecond)
	sandbox := gateway.NewSandbox()
	c, err := codec.New("worker-passphrase", "worker-salt", "fedcba9876543210")
	require.NoError(t, err)

	exec := service.NewExecutor(service.ExecutorDeps{
		Storage:   store,
		Publisher: log,
		Gateway:   sandbox,
		Codec:     c,
	}, service.ExecutorConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	orders := service.NewOrderService(store, log, c, nil)

	m := NewManager(log, exec.Handle)
	m.Start(ctx)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	assert.Eventually(t, func() bool { return m.Running() == 4 }, time.Second, 5*time.Millisecond)

	cards := map[int64]string{
		1: "4111111111111111",
		2: "4111111111110002",
		3: "5555444433331111",
	}
	for id, card := range cards {
		_, err := orders.PlaceOrder(ctx, models.Caller{UserID: 7}, service.PlaceOrderInput{
			OrderID:       id,
			BuyerID:       7,
			SellerID:      8,
			BuyerEmail:    "b@example.com",
			Amount:        decimal.NewFromInt(990),
			Payment:       models.PaymentRequest{CardNumber: card, CardPassword: "11", ExpirationDate: "01/30", BirthDate: "850203"},
			ReceiverName:  "Bob",
			ReceiverPhone: "+1555000",
			PostalCode:    "10001",
			Address:       "5th ave 1",
		})
		require.NoError(t, err)
	}

	want := map[int64]models.OrderStatus{
		1: models.StatusCompleted,
		2: models.StatusFailed,
		3: models.StatusCompleted,
	}
	assert.Eventually(t, func() bool {
		for id, status := range want {
			order, err := store.GetOrder(ctx, id)
			if err != nil || order.Status != status {
				return false
			}
		}
		return log.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, sandbox.Charged())

	require.NoError(t, m.Stop(context.Background()))
	assert.Zero(t, m.Running())
}

type brokenLog struct {
	*sagalog.MemoryLog
	failures atomic.Int32
}

func (l *brokenLog) Subscribe(ctx context.Context, partition int, h sagalog.Handler) error {
	if l.failures.Add(1) <= 2 {
		return errors.New("connection reset")
	}
	return l.MemoryLog.Subscribe(ctx, partition, h)
}

func TestManager_ResubscribesAfterFailure(t *testing.T) {
	t.Parallel()
	log := &brokenLog{MemoryLog: sagalog.NewMemoryLog(1, time.Millisecond)}

	handled := make(chan models.SagaEvent, 1)
	m := NewManager(log, func(_ context.Context, ev models.SagaEvent) error {
		handled <- ev
		return nil
	})
	m.backoff = time.Millisecond
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	require.NoError(t, log.Publish(context.Background(), models.SagaEvent{EventID: "e1", OrderID: 1}))
	select {
	case ev := <-handled:
		assert.Equal(t, "e1", ev.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope was not consumed after resubscribe")
	}
	assert.GreaterOrEqual(t, log.failures.Load(), int32(3))
}

func TestManager_StopHonoursDeadline(t *testing.T) {
	t.Parallel()
	log := sagalog.NewMemoryLog(1, time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	m := NewManager(log, func(_ context.Context, _ models.SagaEvent) error {
		close(started)
		<-release
		return nil
	})
	m.Start(context.Background())
	require.NoError(t, log.Publish(context.Background(), models.SagaEvent{EventID: "slow", OrderID: 1}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Stop(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Stop(context.Background()))
}

func TestPeriodic_Run(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	var runs, drains atomic.Int32
	done := make(chan struct{})
	go func() {
		Periodic{
			Name:     "count",
			Interval: 5 * time.Millisecond,
			Fn: func(context.Context) error {
				if runs.Add(1) == 1 {
					return errors.New("first run fails")
				}
				return nil
			},
			Drain: func(ctx context.Context) error {
				drains.Add(1)
				return ctx.Err()
			},
		}.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic task did not stop")
	}
	assert.Equal(t, int32(1), drains.Load(), "drain runs once with a live context")
}
