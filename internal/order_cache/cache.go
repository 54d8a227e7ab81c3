package order_cache

import (
	"context"
	"errors"
	"strconv"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

func OrderKey(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Set(context.Context, string, string) error { return nil }

func (Noop) Get(context.Context, string) (string, error) { return "", ErrMiss }

func (Noop) Delete(context.Context, string) error { return nil }
