package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liftlog/liftlog-api/internal/config"
)

// NewClient connects to Redis. Short per-command timeouts keep a stalled
// server from holding quota transactions open.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	slog.Info("connected to Redis", "addr", cfg.Addr(), "db", cfg.DB)
	return client, nil
}

// HealthCheck pings the server.
func HealthCheck(ctx context.Context, client redis.Cmdable) error {
	return client.Ping(ctx).Err()
}
