// Package repository provides database operations for per-team alert targets.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Target is one configured delivery destination: a slack webhook URL, an
// email address or an outbound webhook endpoint.
type Target struct {
	ID        uuid.UUID            `json:"id"`
	TeamID    uuid.UUID            `json:"teamId"`
	Channel   routing.AlertChannel `json:"channel"`
	Target    string               `json:"target"`
	Enabled   bool                 `json:"enabled"`
	CreatedAt time.Time            `json:"createdAt"`
}

type Repository struct {
	db db.DBTX
}

func New(dbtx db.DBTX) *Repository {
	return &Repository{db: dbtx}
}

func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

// ListTargets returns a team's enabled alert targets.
func (r *Repository) ListTargets(ctx context.Context, teamID uuid.UUID) ([]Target, error) {
	query := `
		SELECT id, team_id, channel, target, enabled, created_at
		FROM alert_targets
		WHERE team_id = $1 AND enabled = true
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert targets: %w", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.TeamID, &t.Channel, &t.Target, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTarget registers a new delivery destination for a team.
func (r *Repository) CreateTarget(ctx context.Context, target *Target) error {
	switch target.Channel {
	case routing.AlertSlack, routing.AlertEmail, routing.AlertWebhook:
	default:
		return apperr.Validation("unknown alert channel " + string(target.Channel))
	}
	if target.Target == "" {
		return apperr.Validation("alert target destination is required")
	}
	if target.ID == uuid.Nil {
		target.ID = uuid.New()
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alert_targets (id, team_id, channel, target, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.Exec(ctx, query,
		target.ID, target.TeamID, target.Channel, target.Target, target.Enabled, target.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert alert target: %w", err)
	}
	return nil
}

// DeleteTarget removes a team's alert target.
func (r *Repository) DeleteTarget(ctx context.Context, teamID, targetID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM alert_targets WHERE id = $1 AND team_id = $2`, targetID, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete alert target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("alert target not found")
	}
	return nil
}
