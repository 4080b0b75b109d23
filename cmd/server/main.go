// Package main provides the check-in reconciliation HTTP server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/doorlist/doorlist/internal/api"
	"github.com/doorlist/doorlist/internal/config"
	"github.com/doorlist/doorlist/internal/logger"
	"github.com/doorlist/doorlist/internal/ratelimit"
	"github.com/doorlist/doorlist/internal/repository"
	"github.com/doorlist/doorlist/internal/resolver"
	"github.com/doorlist/doorlist/internal/stream"
)

const (
	exitCode         = 1
	shutdownTimeout  = 10 * time.Second
	signalBufferSize = 1
)

func main() {
	memMode := flag.Bool("mem", false, "run with in-memory storage and no Redis (local development)")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		guests  repository.GuestRepository
		audit   repository.AuditRepository
		tx      repository.TransactionManager
		limiter ratelimit.Limiter
		opts    []resolver.Option
	)

	limitCfg := &ratelimit.Config{
		RequestsPerWindow: cfg.RateLimitRequests,
		Window:            cfg.RateLimitWindow,
		KeyPrefix:         "ratelimit:",
	}

	if *memMode {
		store := repository.NewMemoryStore()
		guests = repository.NewMemoryGuestRepository(store)
		audit = repository.NewMemoryAuditRepository(store)
		tx = repository.NewMemoryTransactionManager(store)
		limiter = ratelimit.NewMemoryLimiter(limitCfg)
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(exitCode)
		}
		defer pool.Close()

		if err := repository.EnsureSchema(ctx, pool); err != nil {
			slog.Error("failed to ensure schema", slog.String("error", err.Error()))
			os.Exit(exitCode)
		}

		guests = repository.NewPgGuestRepository(pool)
		audit = repository.NewPgAuditRepository(pool)
		tx = repository.NewPgTransactionManager(pool)

		redisClient, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress: []string{cfg.RedisAddr},
		})
		if err != nil {
			slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(exitCode)
		}
		defer redisClient.Close()

		limiter = ratelimit.NewRedisLimiter(redisClient, limitCfg)
		opts = append(opts, resolver.WithPublisher(stream.NewPublisher(redisClient)))
	}

	opts = append(opts, resolver.WithParallelism(cfg.ResolverParallelism))
	rs := resolver.New(guests, audit, tx, log, opts...)

	handler := api.New(rs, guests, audit,
		api.NewTokenAuthorizer(cfg.OperatorTokens), limiter, cfg.MaxBatchSize, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down cleanly", slog.String("error", err.Error()))
		}
		cancel()
	}()

	slog.Info("starting reconciliation server",
		slog.String("service", "server"),
		slog.String("port", cfg.Port),
		slog.Bool("mem", *memMode),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("failed to start server", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}
