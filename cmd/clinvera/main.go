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

	"github.com/clinvera/clinvera/internal/app"
	"github.com/clinvera/clinvera/internal/audit"
	"github.com/clinvera/clinvera/internal/auth"
	"github.com/clinvera/clinvera/internal/observability"
	"github.com/clinvera/clinvera/internal/platform/cache"
	"github.com/clinvera/clinvera/internal/platform/db"
	"github.com/clinvera/clinvera/internal/rbac"
	"github.com/clinvera/clinvera/jobs"
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

	metrics := observability.NewMetrics()

	auditLogger := audit.NewLogger(pool)
	rbacRepo := rbac.NewRepository(pool, auditLogger)
	permCache := rbac.NewPermissionCache(redisClient, cfg.PermissionCacheTTL, rbacRepo)
	resolver := rbac.NewResolver(permCache, rbac.LegacyBundles())

	guard := rbac.ScopeGuard{}
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger, Metrics: metrics}

	catalog := rbac.NewCatalog(rbacRepo)
	lifecycle := rbac.NewLifecycle(rbacRepo, permCache, logger)
	assignment := rbac.NewAssignment(rbacRepo, guard, logger)
	rbacHandler := rbac.NewHandler(logger, catalog, lifecycle, assignment, resolver, rbacRepo, guard, rbacMiddleware)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, rbacMiddleware.RequirePermission(rbac.PermAuditView))

	sessions := auth.NewSessionStore(redisClient, cfg.SessionTTL)
	actorLoader := &auth.Loader{
		Sessions:   sessions,
		Store:      auth.NewRepository(pool),
		Logger:     logger,
		CookieName: cfg.SessionCookie,
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	// Prime the permission cache right away instead of waiting for the cron.
	if _, err := jobsClient.EnqueuePermissionCacheWarmup(ctx, jobs.PermissionCacheWarmupPayload{}); err != nil {
		logger.Warn("enqueue cache warmup", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Metrics:     metrics,
		ActorLoader: actorLoader,
		RBAC:        rbacHandler,
		Audit:       auditHandler,
		Jobs:        jobHandler,
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
