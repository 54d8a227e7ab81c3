package redis

import (
	"context"
	"fmt"

	"marketplace/internal/config"

	rds "github.com/redis/go-redis/v9"
)

func NewClient(cfg config.Redis) *rds.Client {
	client := rds.NewClient(&rds.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return client
}

// Connect builds the client and checks the server answers.
func Connect(ctx context.Context, cfg config.Redis) (*rds.Client, error) {
	client := NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
