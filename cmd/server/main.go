package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/polysignal/internal/config"
	"github.com/GoPolymarket/polysignal/internal/governance"
	"github.com/GoPolymarket/polysignal/internal/handler"
	"github.com/GoPolymarket/polysignal/internal/market"
	"github.com/GoPolymarket/polysignal/internal/middleware"
	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
	"github.com/GoPolymarket/polysignal/internal/repository"
	"github.com/GoPolymarket/polysignal/internal/service"
	sig "github.com/GoPolymarket/polysignal/internal/signal"
	"github.com/GoPolymarket/polysignal/internal/stabilizer"
	"github.com/gin-gonic/gin"
)

func main() {
	// 0. Initialize Logger
	logger.Init("info", "json")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	govCfg, err := cfg.ToGovernanceConfig()
	if err != nil {
		log.Fatalf("Invalid governance config: %v", err)
	}
	stabCfg, err := cfg.ToStabilizerConfig()
	if err != nil {
		log.Fatalf("Invalid stabilizer config: %v", err)
	}

	// 2. Initialize Persistence
	// Redis carries financial state and, optionally, the audit list
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg.Redis)
		if err == nil {
			logger.Info("✅ Connected to Redis", "addr", cfg.Redis.Addr)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, state will not survive restarts", "error", err)
			redisClient = nil
		}
	}

	// Audit Persistence (Postgres | Redis | memory + local file)
	var auditRepo service.AuditRepo
	var pgAudit *repository.PostgresAuditRepo
	switch cfg.Audit.Backend {
	case "postgres":
		db, err := repository.NewDB(cfg.Database)
		if err != nil {
			logger.Error("⚠️ Failed to connect to DB, audit logs will be file-only", "error", err)
			break
		}
		defer repository.CloseDB(db)
		pgAudit, err = repository.NewPostgresAuditRepo(db)
		if err != nil {
			logger.Error("⚠️ Failed to migrate audit table, audit logs will be file-only", "error", err)
			break
		}
		logger.Info("✅ Connected to PostgreSQL")
		auditRepo = pgAudit
	case "redis":
		if redisClient == nil {
			logger.Warn("audit backend is redis but no Redis connection, audit logs will be file-only")
			break
		}
		auditRepo = repository.NewRedisAuditRepo(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
	}

	auditSvc, err := service.NewAuditService(cfg.Audit.Dir, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	// 3. Initialize Core Services
	history := market.NewHistoryStore(cfg.Market.HistoryCapacity)
	var feed *market.PriceFeed
	if cfg.Market.FeedURL != "" {
		feed = market.NewPriceFeed(cfg.Market.FeedURL, history)
		feed.Start()
	}

	engine := governance.New(govCfg, governance.WithAuditSink(auditSvc))
	opts := []service.PipelineOption{
		service.WithPriceSource(history),
		service.WithSignalCache(service.NewSignalCache(cfg.SignalTTL())),
	}
	if cfg.Pipeline.DryRun {
		opts = append(opts, service.WithExecutor(service.NewDryRunExecutor()))
	}
	if feed != nil {
		opts = append(opts, service.WithMarketSubscriber(feed))
	}
	if redisClient != nil {
		opts = append(opts, service.WithStateStore(repository.NewRedisStateStore(redisClient, cfg.Redis.StateKey)))
	}
	pipeline := service.NewPipeline(cfg.ToPipelineConfig(),
		sig.NewAggregator(cfg.ToAggregatorConfig()),
		stabilizer.New(stabCfg),
		engine, opts...)

	if cfg.Governance.RestoreState {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := pipeline.RestoreState(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to restore financial state: %v", err)
		}
	}

	// 4. Background jobs
	jobCtx, stopJobs := context.WithCancel(context.Background())
	if pgAudit != nil && cfg.Database.AuditRetentionDays > 0 {
		go runAuditRetention(jobCtx, pgAudit, time.Duration(cfg.Database.AuditRetentionDays)*24*time.Hour)
	}

	// 5. Setup Router
	gin.SetMode(gin.ReleaseMode)
	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.QPS > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.QPS, cfg.RateLimit.Burst)
	}
	if cfg.Auth.AdminKey == "" {
		logger.Warn("auth.admin_key is empty, admin endpoints are disabled")
	}
	r := handler.NewRouter(handler.RouterDeps{
		Pipeline:       pipeline,
		Audit:          auditSvc,
		History:        history,
		Limiter:        limiter,
		AdminKey:       cfg.Auth.AdminKey,
		ReadOnly:       cfg.Server.ReadOnly,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 PolySignal started", "port", cfg.Server.Port, "dry_run", cfg.Pipeline.DryRun, "read_only", cfg.Server.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// in-flight requests may still write audit entries, so the server stops first
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	stopJobs()
	if feed != nil {
		feed.Stop()
	}
	auditSvc.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting")
}

func runAuditRetention(ctx context.Context, repo *repository.PostgresAuditRepo, keep time.Duration) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := repo.Cleanup(ctx, keep)
		if err != nil {
			logger.LogError(ctx, err, "audit retention cleanup failed")
		} else if n > 0 {
			logger.Info("pruned audit entries", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
