package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/liftlog/liftlog-api/internal/api"
	"github.com/liftlog/liftlog-api/internal/database"
	inats "github.com/liftlog/liftlog-api/internal/nats"
	iredis "github.com/liftlog/liftlog-api/internal/redis"
)

func healthChecks(rdb *redis.Client, pool *pgxpool.Pool, nc *inats.Client) []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "redis", Check: func(ctx context.Context) error { return iredis.HealthCheck(ctx, rdb) }},
		{Name: "database"},
		{Name: "nats"},
	}
	if pool != nil {
		checks[1].Check = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
	}
	if nc != nil {
		checks[2].Check = func(context.Context) error {
			if !nc.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}
	return checks
}
