package service

import (
	"context"
	"errors"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds in-process retries of a single step execution.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:        3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// withStorageRetry runs op up to p.Attempts times while it fails with
// ErrStorageUnavailable. Any other error, or one op marked with
// backoff.Permanent, stops immediately.
func withStorageRetry(ctx context.Context, p RetryPolicy, op func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		var permanent *backoff.PermanentError
		if err == nil || errors.As(err, &permanent) || errors.Is(err, domainErrors.ErrStorageUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
