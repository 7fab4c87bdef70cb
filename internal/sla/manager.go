package sla

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Store is the persistence surface for clocks and settings. Satisfy and
// Escalate are compare-and-swap updates so two concurrent messages or two
// overlapping escalation scans never double-apply.
type Store interface {
	CreateClock(ctx context.Context, clock *Clock) error
	// EarliestUnsatisfied returns the oldest active clock for a lead, or
	// apperr.NotFound when every clock is satisfied or none exist.
	EarliestUnsatisfied(ctx context.Context, leadID uuid.UUID) (*Clock, error)
	// MarkSatisfied sets satisfiedAt only while the clock is unsatisfied.
	// Reports false when another writer satisfied it first.
	MarkSatisfied(ctx context.Context, clockID uuid.UUID, at time.Time) (bool, error)
	// MarkEscalated raises the escalation level only while the clock is
	// unsatisfied and below the given level.
	MarkEscalated(ctx context.Context, clockID uuid.UUID, level int, at time.Time) (bool, error)
	// UnsatisfiedDue returns active clocks whose next escalation may be due.
	UnsatisfiedDue(ctx context.Context, asOf time.Time) ([]Clock, error)
	GetSettings(ctx context.Context, teamID uuid.UUID) (Settings, error)
}

// Manager owns clock lifecycle. The escalation scan runs from the worker
// process; creation and satisfaction run inside the pipeline's transaction.
type Manager struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func NewManager(store Store, log *logger.Logger) *Manager {
	return &Manager{store: store, log: log, now: time.Now}
}

// SettingsFor returns a team's SLA settings, falling back to defaults when
// none are persisted.
func (m *Manager) SettingsFor(ctx context.Context, teamID uuid.UUID) (Settings, error) {
	settings, err := m.store.GetSettings(ctx, teamID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return DefaultSettings(teamID), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// CreateClock starts a deadline for an assigned lead. targetAt is exactly
// assignedAt plus the SLA minutes; no business hours adjustment is applied.
func (m *Manager) CreateClock(ctx context.Context, teamID, leadID uuid.UUID, priority *int, slaMinutes int, assignedAt time.Time) (*Clock, error) {
	if slaMinutes <= 0 {
		return nil, apperr.Validation("sla minutes must be positive")
	}

	clock := &Clock{
		ID:                    uuid.New(),
		TeamID:                teamID,
		LeadID:                leadID,
		Priority:              priority,
		AssignedAt:            assignedAt,
		TargetAt:              assignedAt.Add(time.Duration(slaMinutes) * time.Minute),
		BusinessHoursAdjusted: false,
		CreatedAt:             m.now().UTC(),
	}
	if err := m.store.CreateClock(ctx, clock); err != nil {
		return nil, err
	}
	return clock, nil
}

// Satisfy marks the earliest unresolved clock for a lead as satisfied.
// Returns the satisfied clock, or nil when the lead has no active clock;
// both the absence and a concurrent satisfaction are no-ops, not errors.
func (m *Manager) Satisfy(ctx context.Context, leadID uuid.UUID, at time.Time) (*Clock, error) {
	for {
		clock, err := m.store.EarliestUnsatisfied(ctx, leadID)
		if apperr.GetKind(err) == apperr.KindNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		won, err := m.store.MarkSatisfied(ctx, clock.ID, at)
		if err != nil {
			return nil, err
		}
		if won {
			satisfied := at
			clock.SatisfiedAt = &satisfied
			return clock, nil
		}
		// Another message satisfied this clock between read and write;
		// retry in case an older unresolved clock remains.
	}
}

// Firing is one escalation produced by a scan, handed to the alerting
// collaborator as an instruction.
type Firing struct {
	Clock          Clock
	Level          int
	Action         string
	ElapsedMinutes int
}

// PendingEscalations computes which ladder levels are due for a clock. Pure;
// the scan applies the results with MarkEscalated.
func PendingEscalations(clock Clock, settings Settings, now time.Time) []Firing {
	if clock.SatisfiedAt != nil || !settings.Escalation.Enabled {
		return nil
	}
	elapsed := int(clock.Elapsed(now) / time.Minute)

	var due []Firing
	for i, lvl := range settings.Escalation.Levels {
		level := i + 1
		if level <= clock.EscalationLevel {
			continue
		}
		if elapsed >= lvl.Minutes {
			due = append(due, Firing{Clock: clock, Level: level, Action: lvl.Action, ElapsedMinutes: elapsed})
		}
	}
	return due
}

// Scan walks active clocks and applies due escalations. Escalating never
// stops a clock; a satisfied clock simply stops producing firings. The
// returned firings are the ones this scan won; overlapping scans are safe.
func (m *Manager) Scan(ctx context.Context, asOf time.Time) ([]Firing, error) {
	clocks, err := m.store.UnsatisfiedDue(ctx, asOf)
	if err != nil {
		return nil, err
	}

	settingsCache := make(map[uuid.UUID]Settings)
	var fired []Firing
	for _, clock := range clocks {
		settings, ok := settingsCache[clock.TeamID]
		if !ok {
			settings, err = m.SettingsFor(ctx, clock.TeamID)
			if err != nil {
				if m.log != nil {
					m.log.Error("failed to load sla settings during scan", "teamId", clock.TeamID.String(), "error", err)
				}
				continue
			}
			settingsCache[clock.TeamID] = settings
		}

		for _, firing := range PendingEscalations(clock, settings, asOf) {
			won, err := m.store.MarkEscalated(ctx, clock.ID, firing.Level, asOf)
			if err != nil {
				return fired, err
			}
			if won {
				fired = append(fired, firing)
			}
		}
	}
	return fired, nil
}
