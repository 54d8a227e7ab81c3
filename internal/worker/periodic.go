package worker

import (
	"context"
	"time"

	"marketplace/internal/tools/logger"
)

const defaultDrainTimeout = 5 * time.Second

// Periodic runs Fn every Interval until ctx is cancelled, then runs Drain
// once with a fresh deadline. The first Fn run happens after one interval.
type Periodic struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
	// Drain is optional.
	Drain        func(ctx context.Context) error
	DrainTimeout time.Duration
}

func (p Periodic) Run(ctx context.Context) {
	t := time.NewTicker(p.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain(ctx)
			return
		case <-t.C:
			if err := p.Fn(ctx); err != nil && ctx.Err() == nil {
				logger.Logger.ErrorContext(ctx, "periodic task failed", "task", p.Name, "error", err)
			}
		}
	}
}

func (p Periodic) drain(ctx context.Context) {
	if p.Drain == nil {
		return
	}
	timeout := p.DrainTimeout
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := p.Drain(dctx); err != nil {
		logger.Logger.WarnContext(dctx, "periodic task drain failed", "task", p.Name, "error", err)
	}
}
