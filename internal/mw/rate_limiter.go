package mw

import (
	"context"
	"fmt"
	"net/http"

	"marketplace/internal/tools/logger"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// NewLimiter builds a limiter from a formatted rate such as "100-S". With a
// redis client the counters are shared between instances.
func NewLimiter(formatted string, client redis.UniversalClient) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", formatted, err)
	}

	store := memory.NewStore()
	if client != nil {
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "market:limiter"})
		if err != nil {
			return nil, fmt.Errorf("limiter store: %w", err)
		}
	}
	return limiter.New(store, rate), nil
}

func RateLimiterInterceptor(limiter *limiter.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		sender := "unknown"
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if s, ok := md["sender"]; ok {
				sender = s[0]
			}
		}

		limiterCtx, err := limiter.Get(ctx, sender)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		if limiterCtx.Reached {
			logger.Logger.WarnContext(ctx, "rate limited", "sender", sender, "method", info.FullMethod)
			return nil, status.Error(codes.ResourceExhausted, "rate limited")
		}

		return handler(ctx, req)
	}
}

// RateLimit limits HTTP requests per client IP.
func RateLimit(l *limiter.Limiter) func(http.Handler) http.Handler {
	return stdlib.NewMiddleware(l, stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
	})).Handler
}
