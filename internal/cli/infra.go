package cli

import (
	"context"
	"fmt"
	"time"

	"marketplace/internal/alert"
	"marketplace/internal/codec"
	"marketplace/internal/config"
	"marketplace/internal/gateway"
	"marketplace/internal/order_cache"
	"marketplace/internal/redis"
	"marketplace/internal/sagalog"
	"marketplace/internal/storage"
	"marketplace/internal/storage/migrations"
	"marketplace/internal/tools/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	rds "github.com/redis/go-redis/v9"
)

// infra is everything the commands share. Postgres and Redis are optional:
// without them the service runs on in-memory storage and log.
type infra struct {
	storage storage.Storage
	log     sagalog.Log
	memLog  *sagalog.MemoryLog
	alerter alert.Alerter
	cache   order_cache.Cache
	codec   *codec.Codec
	gateway gateway.Gateway

	pool  *pgxpool.Pool
	redis *rds.Client
}

func openInfra(ctx context.Context, cfg config.Config) (*infra, error) {
	in := &infra{
		alerter: alert.LogAlerter{},
		cache:   order_cache.Noop{},
	}

	c, err := codec.New(cfg.Cipher.Passphrase, cfg.Cipher.Salt, cfg.Cipher.IV)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	in.codec = c

	if dsn := postgresDSN(cfg.Postgres); dsn != "" {
		pool, err := openPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		in.pool = pool
		if err := migrations.Apply(ctx, pool); err != nil {
			in.Close()
			return nil, err
		}
		in.storage = storage.NewPgStorage(pool)
		logger.Logger.Info("storage: postgres")
	} else {
		in.storage = storage.NewMemoryStorage()
		logger.Logger.Warn("storage: in-memory, data is lost on restart")
	}

	if cfg.Redis.Addr != "" {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.redis = client

		redisLog := sagalog.NewRedisLog(client, sagalog.RedisConfig{
			StreamPrefix:    cfg.Saga.StreamPrefix,
			Group:           cfg.Saga.ConsumerGroup,
			Consumer:        cfg.Saga.Consumer,
			Partitions:      cfg.Saga.Partitions,
			RedeliveryDelay: cfg.Saga.RetryDelay,
		})
		if err := redisLog.EnsureGroups(ctx); err != nil {
			in.Close()
			return nil, err
		}
		in.log = redisLog
		in.alerter = alert.NewRedisAlerter(client)
		in.cache = order_cache.New(client, cfg.Cache.TTL)
		logger.Logger.Info("saga log: redis streams", "partitions", cfg.Saga.Partitions)
	} else {
		in.memLog = sagalog.NewMemoryLog(cfg.Saga.Partitions, cfg.Saga.RetryDelay)
		in.log = in.memLog
		logger.Logger.Warn("saga log: in-memory, pending envelopes are lost on restart")
	}

	if cfg.Gateway.Endpoint != "" {
		in.gateway = gateway.NewHTTP(gateway.Config{
			Endpoint:      cfg.Gateway.Endpoint,
			APIKey:        cfg.Gateway.APIKey,
			Timeout:       cfg.Gateway.Timeout,
			RatePerSecond: cfg.Gateway.RatePerSecond,
		})
	} else {
		in.gateway = gateway.NewSandbox()
		logger.Logger.Warn("payment gateway: sandbox")
	}

	return in, nil
}

// redisClient returns nil (not a typed nil) without Redis.
func (in *infra) redisClient() rds.UniversalClient {
	if in.redis == nil {
		return nil
	}
	return in.redis
}

// Ready pings the external dependencies.
func (in *infra) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if in.pool != nil {
		if err := in.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (in *infra) Close() {
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			logger.Logger.Warn("redis close", "error", err)
		}
	}
	if in.pool != nil {
		in.pool.Close()
	}
}
