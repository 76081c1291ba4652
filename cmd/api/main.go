package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liftlog/liftlog-api/internal/api"
	"github.com/liftlog/liftlog-api/internal/assistant"
	"github.com/liftlog/liftlog-api/internal/auth"
	"github.com/liftlog/liftlog-api/internal/config"
	"github.com/liftlog/liftlog-api/internal/database"
	mw "github.com/liftlog/liftlog-api/internal/middleware"
	inats "github.com/liftlog/liftlog-api/internal/nats"
	"github.com/liftlog/liftlog-api/internal/openai"
	"github.com/liftlog/liftlog-api/internal/quota"
	iredis "github.com/liftlog/liftlog-api/internal/redis"
	"github.com/liftlog/liftlog-api/internal/server"
	"github.com/liftlog/liftlog-api/internal/usagelog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// PostgreSQL backs the postgres quota store and the usage log.
	var pool *pgxpool.Pool
	if cfg.Quota.Store == "postgres" || cfg.NATS.URL != "" {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			slog.Error("connecting to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	// NATS (optional): quota events and the usage log.
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
	}

	// Quota ledger
	var store quota.Store
	switch cfg.Quota.Store {
	case "postgres":
		store = quota.NewPostgresStore(pool, cfg.Quota.MaxRetries)
	default:
		store = quota.NewRedisStore(redisClient, cfg.Quota.MaxRetries)
	}

	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		slog.Error("loading quota timezone", "error", err)
		os.Exit(1)
	}

	ledgerOpts := []quota.Option{
		quota.WithLocation(loc),
		quota.WithLogger(slog.Default().With("component", "quota")),
	}
	if natsClient != nil {
		ledgerOpts = append(ledgerOpts, quota.WithEventSink(inats.NewPublisher(natsClient.JetStream())))
	}

	ledger, err := quota.NewLedger(store, quota.FamiliesFromConfig(cfg.Quota), ledgerOpts...)
	if err != nil {
		slog.Error("creating quota ledger", "error", err)
		os.Exit(1)
	}
	slog.Info("quota ledger ready", "store", cfg.Quota.Store, "timezone", loc.String())

	// Usage log
	var eventsHandler http.HandlerFunc
	if natsClient != nil {
		eventRepo := usagelog.NewRepository(pool)
		consumer := usagelog.NewConsumer(eventRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("usage log consumer stopped", "error", err)
			}
		}()
		eventsHandler = usagelog.NewHandler(eventRepo).ListEvents
	}

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer)

	// Assistant features
	llm := openai.NewClient(cfg.OpenAI)
	assistantHandler := assistant.NewHandler(ledger, llm)

	rateLimiter := mw.NewRateLimiter(redisClient, "api", cfg.RateLimit.Requests, cfg.RateLimit.WindowSec, rateLimitKey)

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		APIRateLimiter:     rateLimiter.Middleware,
		HealthChecks:       healthChecks(redisClient, pool, natsClient),
	}, api.HandlerSet{
		ParseProgramme:  assistantHandler.ParseProgramme,
		AnalyzeTraining: assistantHandler.AnalyzeTraining,
		Transcribe:      assistantHandler.Transcribe,
		ListUsage:       assistantHandler.ListUsage,
		GetUsage:        assistantHandler.GetUsage,
		ListQuotaEvents: eventsHandler,
		AuthMiddleware:  auth.Middleware(jwtManager),
	})

	srv := server.New(cfg.Server, router, cfg.OpenAI.Timeout+15*time.Second)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// rateLimitKey buckets authenticated callers by user and falls back to the
// client address.
func rateLimitKey(r *http.Request) string {
	if claims := auth.GetUserClaims(r.Context()); claims != nil {
		return "user:" + claims.UserID
	}
	return "ip:" + mw.ClientIP(r)
}
