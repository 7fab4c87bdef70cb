package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/alerts"
	alertsrepo "leadflow_backend/internal/alerts/repository"
	"leadflow_backend/internal/dedupe"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/internal/ingest"
	leadshandler "leadflow_backend/internal/leads/handler"
	leadsrepo "leadflow_backend/internal/leads/repository"
	leadsservice "leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/pipeline"
	routinghandler "leadflow_backend/internal/routing/handler"
	routingrepo "leadflow_backend/internal/routing/repository"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/internal/scoring"
	scoringhandler "leadflow_backend/internal/scoring/handler"
	scoringrepo "leadflow_backend/internal/scoring/repository"
	"leadflow_backend/internal/sla"
	slahandler "leadflow_backend/internal/sla/handler"
	slarepo "leadflow_backend/internal/sla/repository"
	"leadflow_backend/migrations"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS, ".")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Identity lock: Redis when available so replicas serialize on the same
	// identity, in-process otherwise.
	locker := initLocker(cfg, log)

	val := validator.New()

	// ========================================================================
	// Decision Pipeline
	// ========================================================================

	scoringRepo := scoringrepo.New(pool)
	loader := scoring.NewLoader(scoringRepo, log)
	eval := rules.NewEvaluator(log)
	txRunner := pipeline.NewPgxTxRunner(pool)
	pipe := pipeline.New(txRunner, locker, loader, eval, eventBus, log, cfg.DefaultPhoneRegion)

	// ========================================================================
	// Ingest Boundary
	// ========================================================================

	ingestRepo := ingest.NewRepository(pool)
	ingestSvc := ingest.NewService(pipe, eventBus, log)

	archiver, err := ingest.NewArchiver(cfg, ingestRepo, log)
	if err != nil {
		log.Error("failed to initialize raw payload archiver", "error", err)
		panic("failed to initialize raw payload archiver: " + err.Error())
	}
	if err := archiver.EnsureBucket(ctx); err != nil {
		// Postgres fallback still archives every payload.
		log.Warn("archive bucket unavailable", "error", err)
	}
	archiver.Subscribe(eventBus)

	batchRunner := ingest.NewBatchRunner(ingestSvc, ingestRepo, cfg.IngestBatchConcurrency, log)
	limiter := ingest.NewKeyLimiter(cfg.IngestRatePerMinute)

	var importScheduler scheduler.ImportScheduler
	if cfg.RedisURL != "" {
		schedClient, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = schedClient.Close() }()
		importScheduler = schedClient
	} else {
		log.Warn("REDIS_URL not configured; batch imports run inline")
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	leadsRepo := leadsrepo.New(pool)
	directory := routingrepo.NewDirectory(pool)
	slaRepo := slarepo.New(pool)
	slaManager := sla.NewManager(slaRepo, log)
	leadsSvc := leadsservice.New(leadsRepo, slaManager, directory, eventBus, log)

	alertsRepo := alertsrepo.New(pool)
	alertsModule := alerts.NewModule(alertsRepo, cfg, log)
	alertsModule.Subscribe(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			ingest.NewHandler(ingestSvc, ingestRepo, batchRunner, importScheduler, limiter, val, cfg.IngestBatchMaxRows, log),
			leadshandler.New(leadsSvc, val),
			scoringhandler.New(scoringRepo),
			routinghandler.New(routingrepo.New(pool), directory, val),
			slahandler.New(slaRepo),
			alerts.NewHandler(alertsRepo),
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initLocker(cfg *config.Config, log *logger.Logger) dedupe.Locker {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; identity lock is per-process only")
		return dedupe.NewInProcessLock()
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid REDIS_URL, falling back to in-process lock", "error", err)
		return dedupe.NewInProcessLock()
	}
	return dedupe.NewRedisLock(redis.NewClient(opt), cfg.IdentityLockTTL, log)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
