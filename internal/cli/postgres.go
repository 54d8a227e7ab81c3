package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"marketplace/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresDSN prefers postgres.dsn and falls back to the POSTGRES_* variables
// of the docker-compose setup. Empty means no database.
func postgresDSN(cfg config.Postgres) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	host := os.Getenv("POSTGRES_HOST")
	port := os.Getenv("POSTGRES_PORT")
	dbname := os.Getenv("POSTGRES_DB")
	if user == "" || host == "" || port == "" || dbname == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   host + ":" + port,
		Path:   dbname,
	}
	return u.String()
}

func openPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}
