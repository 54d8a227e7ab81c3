// Package sagalog carries saga envelopes between steps. Envelopes of one
// order always land in the same partition and every partition has a single
// consumer, so steps of an order run one at a time in emission order.
// Delivery is at-least-once: a message is acknowledged only after its
// handler returns nil.
package sagalog

import (
	"context"

	"marketplace/internal/models"
)

type Handler func(ctx context.Context, ev models.SagaEvent) error

type Log interface {
	Publish(ctx context.Context, ev models.SagaEvent) error
	// Subscribe consumes one partition until ctx is cancelled.
	Subscribe(ctx context.Context, partition int, h Handler) error
	Partitions() int
}

// PartitionFor maps an order to its partition.
func PartitionFor(orderID int64, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	p := orderID % int64(partitions)
	if p < 0 {
		p = -p
	}
	return int(p)
}
