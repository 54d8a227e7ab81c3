// Package worker runs the background side of the service: one consumer per
// saga log partition and periodic maintenance tasks.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketplace/internal/sagalog"
	"marketplace/internal/tools/logger"
)

// Manager owns the partition consumers.
type Manager struct {
	log     sagalog.Log
	handler sagalog.Handler
	backoff time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running int
}

func NewManager(log sagalog.Log, handler sagalog.Handler) *Manager {
	return &Manager{log: log, handler: handler, backoff: time.Second}
}

// Start spawns one consumer per partition. Calling Start twice is a no-op.
func (m *Manager) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	for p := 0; p < m.log.Partitions(); p++ {
		m.wg.Add(1)
		m.running++
		go m.consume(ctx, p)
	}
	logger.Logger.Info("saga consumers started", "partitions", m.running)
}

// consume keeps a partition subscribed until ctx is cancelled; a broken
// subscription is re-established after a pause.
func (m *Manager) consume(ctx context.Context, partition int) {
	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
		m.wg.Done()
	}()

	for {
		err := m.log.Subscribe(ctx, partition, m.handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Logger.Error("partition consumer stopped", "partition", partition, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.backoff):
		}
	}
}

// Stop cancels the consumers and waits for in-flight handlers, at most until
// ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Logger.Info("saga consumers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of live partition consumers.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
