package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
	leadsrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/sla"
	slarepo "leadflow_backend/internal/sla/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ImportRunner executes a claimed import batch. Implemented by the ingest
// module; the worker only dispatches.
type ImportRunner interface {
	RunImport(ctx context.Context, teamID, importID uuid.UUID) error
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	manager *sla.Manager
	leads   *leadsrepo.Repository
	imports ImportRunner
	bus     events.Bus
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, imports ImportRunner, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		manager: sla.NewManager(slarepo.New(pool), log),
		leads:   leadsrepo.New(pool),
		imports: imports,
		bus:     bus,
		log:     log,
	}

	mux.HandleFunc(TaskSLAScan, w.handleSLAScan)
	mux.HandleFunc(TaskLeadImportBatch, w.handleLeadImportBatch)

	return w, nil
}

// handleSLAScan applies due escalations and fans each one out as an event
// for the alerts module. Escalation is CAS-guarded in the store, so a scan
// that overlaps a previous one produces no duplicate firings.
func (w *Worker) handleSLAScan(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSLAScanPayload(task)
	if err != nil {
		return err
	}

	fired, err := w.manager.Scan(ctx, payload.AsOf)
	if err != nil {
		return err
	}

	for _, firing := range fired {
		var ownerID *uuid.UUID
		lead, err := w.leads.Get(ctx, firing.Clock.TeamID, firing.Clock.LeadID)
		if err != nil {
			w.log.Warn("escalated clock references unreadable lead",
				"leadId", firing.Clock.LeadID.String(), "error", err)
		} else {
			ownerID = lead.OwnerID
		}

		if err := w.leads.CreateTimelineEvent(ctx, firing.Clock.LeadID, "sla.clock.escalated", map[string]any{
			"clockId":        firing.Clock.ID.String(),
			"level":          firing.Level,
			"action":         firing.Action,
			"elapsedMinutes": firing.ElapsedMinutes,
		}); err != nil {
			w.log.Error("failed to record escalation timeline event",
				"leadId", firing.Clock.LeadID.String(), "error", err)
		}

		if w.bus == nil {
			continue
		}
		if err := w.bus.PublishSync(ctx, events.SLAEscalated{
			BaseEvent:      events.NewBaseEvent(),
			ClockID:        firing.Clock.ID,
			LeadID:         firing.Clock.LeadID,
			TeamID:         firing.Clock.TeamID,
			OwnerID:        ownerID,
			Level:          firing.Level,
			Action:         firing.Action,
			ElapsedMinutes: firing.ElapsedMinutes,
		}); err != nil {
			w.log.Error("escalation event delivery failed",
				"clockId", firing.Clock.ID.String(), "error", err)
		}
	}
	return nil
}

func (w *Worker) handleLeadImportBatch(ctx context.Context, task *asynq.Task) error {
	if w.imports == nil {
		return nil
	}

	payload, err := ParseLeadImportBatchPayload(task)
	if err != nil {
		return err
	}

	teamID, err := uuid.Parse(payload.TeamID)
	if err != nil {
		return err
	}
	importID, err := uuid.Parse(payload.ImportID)
	if err != nil {
		return err
	}

	return w.imports.RunImport(ctx, teamID, importID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
