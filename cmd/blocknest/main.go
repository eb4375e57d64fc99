package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/blocknest/blocknest/internal/app"
	"github.com/blocknest/blocknest/internal/assignment"
	"github.com/blocknest/blocknest/internal/audit"
	"github.com/blocknest/blocknest/internal/observability"
	"github.com/blocknest/blocknest/internal/platform/cache"
	"github.com/blocknest/blocknest/internal/platform/db"
	"github.com/blocknest/blocknest/internal/rbac"
	"github.com/blocknest/blocknest/internal/users"
	"github.com/blocknest/blocknest/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	rbacService := rbac.NewService(rbac.NewRepository(pool), rbac.NewCache(redisClient, cfg.PermissionCacheTTL))
	rbacMiddleware := rbac.Middleware{Resolver: rbacService, Logger: logger, Header: cfg.AdminIDHeader}

	recorder := audit.NewRecorder(pool)
	metrics := observability.NewMetrics()

	assignService := assignment.NewService(assignment.ServiceParams{
		Repo:        assignment.NewRepository(pool),
		Users:       users.NewRepository(pool),
		Audit:       recorder,
		RateLimiter: assignment.NewRateLimiter(recorder, cfg.GrantRateLimit, cfg.GrantRateWindow),
		Invalidator: rbacService,
		Metrics:     metrics,
		Logger:      logger,
	})
	assignHandler := assignment.NewHandler(logger, assignService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AssignmentHandler: assignHandler,
		JobHandler:        jobHandler,
		RBACMiddleware:    rbacMiddleware,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
