package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dedupe"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/pipeline"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

const nearDuplicateWindow = 60 * time.Second

// Processor is the pipeline entry point the boundary calls.
type Processor interface {
	Process(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, policy dedupe.Policy) (pipeline.Outcome, error)
}

// Result is the boundary's answer to one submission. ShortCircuited marks a
// near-window repeat that never reached the pipeline.
type Result struct {
	Outcome        pipeline.Outcome `json:"outcome"`
	ShortCircuited bool             `json:"shortCircuited,omitempty"`
}

// Service accepts raw submissions: archive first, then double-submit
// suppression, then the decision pipeline.
type Service struct {
	processor Processor
	bus       events.Bus
	log       *logger.Logger
	recent    *recentIndex
}

func NewService(processor Processor, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		processor: processor,
		bus:       bus,
		log:       log,
		recent:    newRecentIndex(nearDuplicateWindow),
	}
}

// Submit runs one raw payload through normalization and the pipeline. The
// payload is announced on the bus before processing so the archiver persists
// it even when the pipeline rejects or fails the submission.
func (s *Service) Submit(ctx context.Context, teamID uuid.UUID, source, sourceRef string, raw []byte, policy dedupe.Policy) (Result, error) {
	lead, err := Normalize(raw, source, sourceRef)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindValidation, "submission payload is not valid JSON", err)
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.IngestPayloadReceived{
			BaseEvent:  events.NewBaseEvent(),
			TeamID:     teamID,
			Source:     source,
			SourceRef:  sourceRef,
			RawPayload: raw,
		})
	}

	return s.process(ctx, teamID, lead, policy)
}

// SubmitNormalized is Submit for rows that are already normalized (batch
// imports). No raw archive event is published; the import row is the record.
func (s *Service) SubmitNormalized(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, policy dedupe.Policy) (Result, error) {
	return s.process(ctx, teamID, lead, policy)
}

func (s *Service) process(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, policy dedupe.Policy) (Result, error) {
	if s.recent.seen(teamID, lead) {
		s.log.Info("near-window duplicate suppressed",
			"teamId", teamID.String(), "source", lead.Source, "sourceRef", lead.SourceRef)
		return Result{ShortCircuited: true}, nil
	}

	outcome, err := s.processor.Process(ctx, teamID, lead, policy)
	if err != nil {
		return Result{}, err
	}

	s.recent.record(teamID, lead)
	return Result{Outcome: outcome}, nil
}

// recentIndex remembers identities seen in the last window so double-clicked
// forms do not hit the pipeline twice. Per-process only: a repeat that lands
// on another replica is still caught by the dedupe engine, just as a merge.
type recentIndex struct {
	mu     sync.Mutex
	window time.Duration
	seenAt map[string]time.Time
	now    func() time.Time
}

func newRecentIndex(window time.Duration) *recentIndex {
	return &recentIndex{
		window: window,
		seenAt: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (r *recentIndex) identities(teamID uuid.UUID, lead domain.NormalizedLead) []string {
	var out []string
	if lead.Email != "" {
		out = append(out, teamID.String()+"|email|"+strings.ToLower(lead.Email))
	}
	if lead.Phone != "" {
		out = append(out, teamID.String()+"|phone|"+lead.Phone)
	}
	return out
}

func (r *recentIndex) seen(teamID uuid.UUID, lead domain.NormalizedLead) bool {
	ids := r.identities(teamID, lead)
	if len(ids) == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, id := range ids {
		if at, ok := r.seenAt[id]; ok && now.Sub(at) < r.window {
			return true
		}
	}
	return false
}

func (r *recentIndex) record(teamID uuid.UUID, lead domain.NormalizedLead) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, id := range r.identities(teamID, lead) {
		r.seenAt[id] = now
	}
	// Opportunistic cleanup keeps the map bounded by recent traffic.
	if len(r.seenAt) > 10000 {
		for id, at := range r.seenAt {
			if now.Sub(at) >= r.window {
				delete(r.seenAt, id)
			}
		}
	}
}
