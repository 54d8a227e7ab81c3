package sagalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(orderID int64, step models.ProcessingStep) models.SagaEvent {
	ev := models.NewSagaEvent(orderID, "buyer@example.com", models.SagaRequest{}, time.Unix(1700000000, 0))
	ev.ProcessingStep = step
	return ev
}

func TestPartitionFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		orderID    int64
		partitions int
		want       int
	}{
		{"single partition", 42, 1, 0},
		{"zero partitions", 42, 0, 0},
		{"modulo", 42, 8, 2},
		{"negative id", -42, 8, 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PartitionFor(tt.orderID, tt.partitions))
		})
	}
}

func TestMemoryLog_PreservesOrderPerPartition(t *testing.T) {
	t.Parallel()
	log := NewMemoryLog(4, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	steps := []models.ProcessingStep{models.StepStarted, models.StepPayment, models.StepShipment, models.StepWarehouse}
	for _, s := range steps {
		require.NoError(t, log.Publish(ctx, envelope(5, s)))
	}

	var (
		mu   sync.Mutex
		got  []models.ProcessingStep
		done = make(chan struct{})
	)
	go func() {
		_ = log.Subscribe(ctx, PartitionFor(5, 4), func(_ context.Context, ev models.SagaEvent) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev.ProcessingStep)
			if len(got) == len(steps) {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for deliveries")
	}
	mu.Lock()
	assert.Equal(t, steps, got)
	mu.Unlock()
	assert.Eventually(t, func() bool { return log.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryLog_RedeliversUntilHandled(t *testing.T) {
	t.Parallel()
	log := NewMemoryLog(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, log.Publish(ctx, envelope(1, models.StepPayment)))
	require.NoError(t, log.Publish(ctx, envelope(1, models.StepShipment)))

	var (
		mu       sync.Mutex
		attempts int
		order    []models.ProcessingStep
	)
	go func() {
		_ = log.Subscribe(ctx, 0, func(_ context.Context, ev models.SagaEvent) error {
			mu.Lock()
			defer mu.Unlock()
			if ev.ProcessingStep == models.StepPayment {
				attempts++
				if attempts < 3 {
					return errors.New("not yet")
				}
			}
			order = append(order, ev.ProcessingStep)
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return log.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []models.ProcessingStep{models.StepPayment, models.StepShipment}, order)
}

func TestMemoryLog_SingleConsumerPerPartition(t *testing.T) {
	t.Parallel()
	log := NewMemoryLog(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	stopped := make(chan error, 1)
	go func() {
		close(started)
		stopped <- log.Subscribe(ctx, 0, func(context.Context, models.SagaEvent) error { return nil })
	}()
	<-started

	require.Eventually(t, func() bool { return log.parts[0].consuming.Load() }, time.Second, time.Millisecond)
	err := log.Subscribe(ctx, 0, func(context.Context, models.SagaEvent) error { return nil })
	assert.Error(t, err)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}

	err = log.Subscribe(context.Background(), 7, nil)
	assert.Error(t, err)
}

func TestMemoryLog_CloseIntake(t *testing.T) {
	t.Parallel()
	log := NewMemoryLog(2, 0)
	log.CloseIntake()

	err := log.Publish(context.Background(), envelope(1, models.StepStarted))
	assert.ErrorIs(t, err, domainErrors.ErrLogUnavailable)

	published, acked := log.Metrics()
	assert.Zero(t, published)
	assert.Zero(t, acked)
}
