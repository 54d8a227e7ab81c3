package service

import (
	"context"

	"marketplace/internal/storage"
)

// IdempotencyGuard answers whether an order has already been charged. Inside
// a step transaction that holds the order lock the answer stays valid until
// commit.
type IdempotencyGuard struct {
	storage storage.Storage
}

func NewIdempotencyGuard(storage storage.Storage) *IdempotencyGuard {
	return &IdempotencyGuard{storage: storage}
}

func (g *IdempotencyGuard) HasSuccessfulPayment(ctx context.Context, orderID int64) (bool, error) {
	return g.storage.HasSuccessfulPayment(ctx, orderID)
}
