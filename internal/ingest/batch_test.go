package ingest

import (
	"context"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"leadflow_backend/internal/dedupe"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/pipeline"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

type rowAwareProcessor struct {
	failEmail string
}

func (p *rowAwareProcessor) Process(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, policy dedupe.Policy) (pipeline.Outcome, error) {
	if lead.Email == p.failEmail {
		return pipeline.Outcome{}, apperr.Internal("storage down")
	}
	return pipeline.Outcome{
		Dedupe: dedupe.Result{Action: dedupe.ActionCreated, LeadID: uuid.New()},
	}, nil
}

func batchRows(n int) []domain.NormalizedLead {
	rows := make([]domain.NormalizedLead, n)
	for i := range rows {
		rows[i] = domain.NormalizedLead{
			Email:  "lead" + strconv.Itoa(i) + "@example.com",
			Source: "import",
		}
	}
	return rows
}

func TestProcessRowsReportsOutcomesInRowOrder(t *testing.T) {
	proc := &rowAwareProcessor{failEmail: "lead2@example.com"}
	svc := NewService(proc, nil, logger.New("test"))
	runner := NewBatchRunner(svc, nil, 4, logger.New("test"))

	outcomes := runner.ProcessRows(context.Background(), uuid.New(), batchRows(5), dedupe.PolicyMerge)

	if len(outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Row != i {
			t.Errorf("outcome %d has row %d", i, o.Row)
		}
	}
	if outcomes[2].Error == "" {
		t.Error("row 2 must carry the failure")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if outcomes[i].Error != "" || outcomes[i].Action != string(dedupe.ActionCreated) {
			t.Errorf("row %d: one bad row must not stop the batch, got %+v", i, outcomes[i])
		}
	}
}

func TestProcessRowsMarksRepeatRowsSuppressed(t *testing.T) {
	proc := &rowAwareProcessor{}
	svc := NewService(proc, nil, logger.New("test"))
	// Serial so the first occurrence always lands before its repeat.
	runner := NewBatchRunner(svc, nil, 1, logger.New("test"))

	rows := []domain.NormalizedLead{
		{Email: "same@example.com", Source: "import"},
		{Email: "same@example.com", Source: "import"},
	}
	outcomes := runner.ProcessRows(context.Background(), uuid.New(), rows, dedupe.PolicyMerge)

	if outcomes[0].ShortCircuited {
		t.Error("first occurrence must be processed")
	}
	if !outcomes[1].ShortCircuited {
		t.Error("repeat row must be suppressed")
	}
}
