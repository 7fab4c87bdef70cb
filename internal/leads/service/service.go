// Package service coordinates lead reads, messages and status changes with
// the SLA clock manager and owner capacity accounting.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/sla"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/sanitize"
)

// Store is the lead persistence surface the service needs.
type Store interface {
	Get(ctx context.Context, teamID, leadID uuid.UUID) (*domain.Lead, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Lead, int, error)
	TransitionStatus(ctx context.Context, teamID, leadID uuid.UUID, from []domain.Status, to domain.Status) (bool, error)
	CreateMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, leadID uuid.UUID) ([]domain.Message, error)
	CreateTimelineEvent(ctx context.Context, leadID uuid.UUID, eventType string, payload map[string]any) error
	ListTimeline(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.TimelineEvent, error)
}

// ClockSatisfier is the slice of the SLA manager used on outbound messages.
type ClockSatisfier interface {
	Satisfy(ctx context.Context, leadID uuid.UUID, at time.Time) (*sla.Clock, error)
}

// CapacityReleaser frees an owner slot when an assigned lead closes.
type CapacityReleaser interface {
	Release(ctx context.Context, teamID, ownerID uuid.UUID) error
}

type Service struct {
	store    Store
	clocks   ClockSatisfier
	capacity CapacityReleaser
	bus      events.Bus
	log      *logger.Logger
}

func New(store Store, clocks ClockSatisfier, capacity CapacityReleaser, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, clocks: clocks, capacity: capacity, bus: bus, log: log}
}

func (s *Service) Get(ctx context.Context, teamID, leadID uuid.UUID) (*domain.Lead, error) {
	return s.store.Get(ctx, teamID, leadID)
}

func (s *Service) List(ctx context.Context, params repository.ListParams) ([]domain.Lead, int, error) {
	return s.store.List(ctx, params)
}

func (s *Service) Messages(ctx context.Context, teamID, leadID uuid.UUID) ([]domain.Message, error) {
	if _, err := s.store.Get(ctx, teamID, leadID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, leadID)
}

func (s *Service) Timeline(ctx context.Context, teamID, leadID uuid.UUID, limit int) ([]domain.TimelineEvent, error) {
	if _, err := s.store.Get(ctx, teamID, leadID); err != nil {
		return nil, err
	}
	return s.store.ListTimeline(ctx, leadID, limit)
}

// RecordMessage appends a message to a lead. An outbound message satisfies
// the lead's earliest unresolved SLA clock and moves a NEW or ASSIGNED lead
// to IN_PROGRESS; both effects are idempotent.
func (s *Service) RecordMessage(ctx context.Context, teamID, leadID uuid.UUID, direction domain.MessageDirection, body, source string) (*domain.Message, error) {
	if direction != domain.DirectionIn && direction != domain.DirectionOut {
		return nil, apperr.Validation("message direction must be IN or OUT")
	}
	body = sanitize.Text(body)
	if body == "" {
		return nil, apperr.Validation("message body is required")
	}

	lead, err := s.store.Get(ctx, teamID, leadID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Direction: direction,
		Body:      body,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if direction == domain.DirectionOut {
		s.handleOutbound(ctx, lead, msg)
	}
	return msg, nil
}

func (s *Service) handleOutbound(ctx context.Context, lead *domain.Lead, msg *domain.Message) {
	clock, err := s.clocks.Satisfy(ctx, lead.ID, msg.CreatedAt)
	if err != nil {
		// The message is recorded; clock satisfaction is retried by the
		// next outbound message rather than failing the caller.
		if s.log != nil {
			s.log.Error("failed to satisfy sla clock", "leadId", lead.ID.String(), "error", err)
		}
		return
	}

	moved, err := s.store.TransitionStatus(ctx, lead.TeamID, lead.ID,
		[]domain.Status{domain.StatusNew, domain.StatusAssigned}, domain.StatusInProgress)
	if err != nil && s.log != nil {
		s.log.Error("failed to transition lead status", "leadId", lead.ID.String(), "error", err)
	}

	if clock == nil {
		return
	}

	payload := map[string]any{"clockId": clock.ID.String(), "messageId": msg.ID.String()}
	if moved {
		payload["status"] = string(domain.StatusInProgress)
	}
	if err := s.store.CreateTimelineEvent(ctx, lead.ID, "sla.clock.satisfied", payload); err != nil && s.log != nil {
		s.log.Error("failed to record timeline event", "leadId", lead.ID.String(), "error", err)
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.SLAClockSatisfied{
			BaseEvent: events.NewBaseEvent(),
			ClockID:   clock.ID,
			LeadID:    lead.ID,
			TeamID:    lead.TeamID,
		})
	}
}

// UpdateStatus moves a lead to the target status. Closing an assigned lead
// releases its owner's capacity slot.
func (s *Service) UpdateStatus(ctx context.Context, teamID, leadID uuid.UUID, to domain.Status) error {
	switch to {
	case domain.StatusNew, domain.StatusAssigned, domain.StatusInProgress, domain.StatusClosed:
	default:
		return apperr.Validation("unknown lead status " + string(to))
	}

	lead, err := s.store.Get(ctx, teamID, leadID)
	if err != nil {
		return err
	}
	if lead.Status == to {
		return nil
	}

	moved, err := s.store.TransitionStatus(ctx, teamID, leadID, []domain.Status{lead.Status}, to)
	if err != nil {
		return err
	}
	if !moved {
		return apperr.Conflict("lead status changed concurrently")
	}

	if to == domain.StatusClosed && lead.Status.IsOpen() && lead.OwnerID != nil {
		if err := s.capacity.Release(ctx, teamID, *lead.OwnerID); err != nil && s.log != nil {
			s.log.Error("failed to release owner capacity", "ownerId", lead.OwnerID.String(), "error", err)
		}
	}

	if err := s.store.CreateTimelineEvent(ctx, leadID, "lead.status_changed", map[string]any{
		"from": string(lead.Status),
		"to":   string(to),
	}); err != nil && s.log != nil {
		s.log.Error("failed to record timeline event", "leadId", leadID.String(), "error", err)
	}
	return nil
}
