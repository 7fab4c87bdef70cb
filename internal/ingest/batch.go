package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"leadflow_backend/internal/dedupe"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// RowOutcome is the per-row answer of a batch run. Failed rows carry the
// error text so importers can fix and retry just those rows.
type RowOutcome struct {
	Row            int       `json:"row"`
	Action         string    `json:"action,omitempty"`
	LeadID         uuid.UUID `json:"leadId,omitempty"`
	ShortCircuited bool      `json:"shortCircuited,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// BatchRunner fans import rows out over the pipeline with bounded
// concurrency. Rows are independent; one bad row never stops the batch.
type BatchRunner struct {
	service     *Service
	repo        *Repository
	log         *logger.Logger
	concurrency int
}

func NewBatchRunner(service *Service, repo *Repository, concurrency int, log *logger.Logger) *BatchRunner {
	if concurrency < 1 {
		concurrency = 8
	}
	return &BatchRunner{service: service, repo: repo, log: log, concurrency: concurrency}
}

// ProcessRows pushes every row through the pipeline and reports outcomes in
// row order.
func (b *BatchRunner) ProcessRows(ctx context.Context, teamID uuid.UUID, rows []domain.NormalizedLead, policy dedupe.Policy) []RowOutcome {
	outcomes := make([]RowOutcome, len(rows))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, row := range rows {
		g.Go(func() error {
			outcome := RowOutcome{Row: i}
			res, err := b.service.SubmitNormalized(gctx, teamID, row, policy)
			switch {
			case err != nil:
				outcome.Error = err.Error()
			case res.ShortCircuited:
				outcome.ShortCircuited = true
			default:
				outcome.Action = string(res.Outcome.Dedupe.Action)
				outcome.LeadID = res.Outcome.Dedupe.LeadID
			}

			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in outcomes

	return outcomes
}

// RunImport claims a stored import and processes its rows. Satisfies the
// scheduler's ImportRunner so batches run on the worker process.
func (b *BatchRunner) RunImport(ctx context.Context, teamID, importID uuid.UUID) error {
	imp, err := b.repo.ClaimImport(ctx, teamID, importID)
	if apperr.GetKind(err) == apperr.KindConflict {
		// Another worker already claimed it.
		return nil
	}
	if err != nil {
		return err
	}

	outcomes := b.ProcessRows(ctx, teamID, imp.Rows, dedupe.PolicyMerge)

	summary := make(map[string]int)
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			summary["failed"]++
		case o.ShortCircuited:
			summary["suppressed"]++
		default:
			summary[o.Action]++
		}
	}

	b.log.Info("import batch finished",
		"importId", importID.String(), "teamId", teamID.String(),
		"rows", len(outcomes), "failed", summary["failed"])
	return b.repo.CompleteImport(ctx, importID, summary, outcomes)
}
