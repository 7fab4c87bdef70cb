// Package repository persists SLA clocks and per-team SLA settings.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/sla"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

type Repository struct {
	db db.DBTX
}

func New(dbtx db.DBTX) *Repository {
	return &Repository{db: dbtx}
}

func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const clockColumns = `
	id, team_id, lead_id, priority, assigned_at, target_at,
	business_hours_adjusted, satisfied_at, escalated_at, escalation_level, created_at`

func (r *Repository) CreateClock(ctx context.Context, clock *sla.Clock) error {
	query := `
		INSERT INTO sla_clocks (
			id, team_id, lead_id, priority, assigned_at, target_at,
			business_hours_adjusted, satisfied_at, escalated_at, escalation_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if _, err := r.db.Exec(ctx, query,
		clock.ID, clock.TeamID, clock.LeadID, clock.Priority, clock.AssignedAt, clock.TargetAt,
		clock.BusinessHoursAdjusted, clock.SatisfiedAt, clock.EscalatedAt, clock.EscalationLevel, clock.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert sla clock: %w", err)
	}
	return nil
}

func (r *Repository) EarliestUnsatisfied(ctx context.Context, leadID uuid.UUID) (*sla.Clock, error) {
	query := `
		SELECT ` + clockColumns + `
		FROM sla_clocks
		WHERE lead_id = $1 AND satisfied_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1`

	clock, err := scanClock(r.db.QueryRow(ctx, query, leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no active sla clock for lead")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sla clock: %w", err)
	}
	return clock, nil
}

// MarkSatisfied is a compare-and-swap: it only writes while the clock is
// still unsatisfied, so double satisfaction is impossible.
func (r *Repository) MarkSatisfied(ctx context.Context, clockID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sla_clocks SET satisfied_at = $2 WHERE id = $1 AND satisfied_at IS NULL`,
		clockID, at)
	if err != nil {
		return false, fmt.Errorf("failed to satisfy sla clock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkEscalated raises the level monotonically and only while unsatisfied.
func (r *Repository) MarkEscalated(ctx context.Context, clockID uuid.UUID, level int, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sla_clocks
		SET escalation_level = $2, escalated_at = $3
		WHERE id = $1 AND satisfied_at IS NULL AND escalation_level < $2`,
		clockID, level, at)
	if err != nil {
		return false, fmt.Errorf("failed to escalate sla clock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UnsatisfiedDue returns active clocks old enough that an escalation ladder
// could apply. The first ladder step is at least a few minutes out, so
// filtering on target_at keeps the scan cheap without missing candidates.
func (r *Repository) UnsatisfiedDue(ctx context.Context, asOf time.Time) ([]sla.Clock, error) {
	query := `
		SELECT ` + clockColumns + `
		FROM sla_clocks
		WHERE satisfied_at IS NULL AND assigned_at <= $1
		ORDER BY assigned_at ASC`

	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sla clocks: %w", err)
	}
	defer rows.Close()

	var out []sla.Clock
	for rows.Next() {
		clock, err := scanClock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sla clock: %w", err)
		}
		out = append(out, *clock)
	}
	return out, rows.Err()
}

func (r *Repository) GetSettings(ctx context.Context, teamID uuid.UUID) (sla.Settings, error) {
	query := `
		SELECT team_id, thresholds, escalation, business_hours, created_at, updated_at
		FROM sla_settings
		WHERE team_id = $1`

	var (
		settings        sla.Settings
		thrB, escB, bhB []byte
	)
	err := r.db.QueryRow(ctx, query, teamID).Scan(
		&settings.TeamID, &thrB, &escB, &bhB, &settings.CreatedAt, &settings.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return sla.Settings{}, apperr.NotFound("no sla settings for team")
	}
	if err != nil {
		return sla.Settings{}, fmt.Errorf("failed to load sla settings: %w", err)
	}

	for _, field := range []struct {
		raw []byte
		dst any
	}{
		{thrB, &settings.Thresholds},
		{escB, &settings.Escalation},
		{bhB, &settings.BusinessHours},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return sla.Settings{}, fmt.Errorf("failed to decode sla settings: %w", err)
		}
	}
	return settings, nil
}

// SaveSettings validates and upserts a team's SLA settings.
func (r *Repository) SaveSettings(ctx context.Context, settings *sla.Settings) error {
	if err := settings.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	thrB, _ := json.Marshal(settings.Thresholds)
	escB, _ := json.Marshal(settings.Escalation)
	bhB, _ := json.Marshal(settings.BusinessHours)
	now := time.Now().UTC()
	settings.UpdatedAt = now

	query := `
		INSERT INTO sla_settings (team_id, thresholds, escalation, business_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (team_id) DO UPDATE
		SET thresholds = EXCLUDED.thresholds,
		    escalation = EXCLUDED.escalation,
		    business_hours = EXCLUDED.business_hours,
		    updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query,
		settings.TeamID, thrB, escB, bhB, now,
	); err != nil {
		return fmt.Errorf("failed to save sla settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClock(row rowScanner) (*sla.Clock, error) {
	var clock sla.Clock
	if err := row.Scan(
		&clock.ID, &clock.TeamID, &clock.LeadID, &clock.Priority, &clock.AssignedAt, &clock.TargetAt,
		&clock.BusinessHoursAdjusted, &clock.SatisfiedAt, &clock.EscalatedAt, &clock.EscalationLevel, &clock.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &clock, nil
}
