package sagalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/tools/logger"
)

type memPartition struct {
	mu        sync.Mutex
	backlog   []models.SagaEvent
	notify    chan struct{}
	consuming atomic.Bool
}

func (p *memPartition) peek() (models.SagaEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) == 0 {
		return models.SagaEvent{}, false
	}
	return p.backlog[0], true
}

func (p *memPartition) pop() {
	p.mu.Lock()
	p.backlog = p.backlog[1:]
	p.mu.Unlock()
}

// MemoryLog is an in-process Log. A message that fails its handler stays at
// the head of its partition and is redelivered after RedeliveryDelay.
type MemoryLog struct {
	parts           []*memPartition
	redeliveryDelay time.Duration
	closed          atomic.Bool

	published atomic.Uint64
	acked     atomic.Uint64
}

func NewMemoryLog(partitions int, redeliveryDelay time.Duration) *MemoryLog {
	if partitions < 1 {
		partitions = 1
	}
	if redeliveryDelay <= 0 {
		redeliveryDelay = 100 * time.Millisecond
	}
	parts := make([]*memPartition, partitions)
	for i := range parts {
		parts[i] = &memPartition{notify: make(chan struct{}, 1)}
	}
	return &MemoryLog{parts: parts, redeliveryDelay: redeliveryDelay}
}

func (l *MemoryLog) Partitions() int { return len(l.parts) }

func (l *MemoryLog) Publish(_ context.Context, ev models.SagaEvent) error {
	if l.closed.Load() {
		return fmt.Errorf("%w: log closed", domainErrors.ErrLogUnavailable)
	}
	p := l.parts[PartitionFor(ev.OrderID, len(l.parts))]

	p.mu.Lock()
	p.backlog = append(p.backlog, ev)
	p.mu.Unlock()
	l.published.Add(1)

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (l *MemoryLog) Subscribe(ctx context.Context, partition int, h Handler) error {
	if partition < 0 || partition >= len(l.parts) {
		return fmt.Errorf("partition %d out of range [0, %d)", partition, len(l.parts))
	}
	p := l.parts[partition]
	if !p.consuming.CompareAndSwap(false, true) {
		return fmt.Errorf("partition %d already has a consumer", partition)
	}
	defer p.consuming.Store(false)

	for {
		ev, ok := p.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.notify:
			}
			continue
		}

		if err := h(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Logger.WarnContext(ctx, "saga handler failed, redelivering",
				"partition", partition, "order_id", ev.OrderID, "event_id", ev.EventID, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.redeliveryDelay):
			}
			continue
		}
		p.pop()
		l.acked.Add(1)
	}
}

// Pending returns the number of unacknowledged messages across partitions.
func (l *MemoryLog) Pending() int {
	n := 0
	for _, p := range l.parts {
		p.mu.Lock()
		n += len(p.backlog)
		p.mu.Unlock()
	}
	return n
}

// Metrics returns publish and ack counters.
func (l *MemoryLog) Metrics() (published, acked uint64) {
	return l.published.Load(), l.acked.Load()
}

// CloseIntake rejects further publishes.
func (l *MemoryLog) CloseIntake() { l.closed.Store(true) }
