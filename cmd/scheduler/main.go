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
	"leadflow_backend/internal/ingest"
	"leadflow_backend/internal/pipeline"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/internal/scoring"
	scoringrepo "leadflow_backend/internal/scoring/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"
)

// The scheduler binary runs the asynq worker: periodic SLA escalation scans
// and queued batch imports. It publishes on its own in-process bus, so the
// alerts module subscribes here as well.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	alertsModule := alerts.NewModule(alertsrepo.New(pool), cfg, log)
	alertsModule.Subscribe(eventBus)

	// Imports replay the same pipeline the webhook boundary uses.
	scoringRepo := scoringrepo.New(pool)
	loader := scoring.NewLoader(scoringRepo, log)
	eval := rules.NewEvaluator(log)
	txRunner := pipeline.NewPgxTxRunner(pool)
	pipe := pipeline.New(txRunner, initLocker(cfg, log), loader, eval, eventBus, log, cfg.DefaultPhoneRegion)

	ingestRepo := ingest.NewRepository(pool)
	ingestSvc := ingest.NewService(pipe, eventBus, log)

	archiver, err := ingest.NewArchiver(cfg, ingestRepo, log)
	if err != nil {
		log.Error("failed to initialize raw payload archiver", "error", err)
		panic("failed to initialize raw payload archiver: " + err.Error())
	}
	archiver.Subscribe(eventBus)

	batchRunner := ingest.NewBatchRunner(ingestSvc, ingestRepo, cfg.IngestBatchConcurrency, log)

	worker, err := scheduler.NewWorker(cfg, pool, batchRunner, eventBus, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	dispatcher, err := scheduler.NewSLAScanDispatcher(cfg, 0, log)
	if err != nil {
		log.Error("failed to initialize sla scan dispatcher", "error", err)
		panic("failed to initialize sla scan dispatcher: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()
	go dispatcher.Run(ctx)

	log.Info("scheduler worker running", "queue", cfg.AsynqQueueName, "concurrency", cfg.AsynqConcurrency)
	worker.Run(ctx)
	log.Info("scheduler stopped")
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
