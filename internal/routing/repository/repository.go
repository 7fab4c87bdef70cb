// Package repository persists routing rules and the owner/pool directory.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/routing"
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

// ListRules returns a team's routing rules in ascending evaluation order.
func (r *Repository) ListRules(ctx context.Context, teamID uuid.UUID) ([]routing.Rule, error) {
	query := `
		SELECT id, team_id, name, sort_order, enabled, conditions, action, created_at, updated_at
		FROM routing_rules
		WHERE team_id = $1
		ORDER BY sort_order ASC`

	rows, err := r.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing rules: %w", err)
	}
	defer rows.Close()

	var out []routing.Rule
	for rows.Next() {
		var (
			rule        routing.Rule
			condB, actB []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.TeamID, &rule.Name, &rule.Order, &rule.Enabled,
			&condB, &actB, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan routing rule: %w", err)
		}
		if len(condB) > 0 {
			if err := json.Unmarshal(condB, &rule.Conditions); err != nil {
				return nil, fmt.Errorf("failed to decode routing rule %s conditions: %w", rule.ID, err)
			}
		}
		if len(actB) > 0 {
			if err := json.Unmarshal(actB, &rule.Then); err != nil {
				return nil, fmt.Errorf("failed to decode routing rule %s action: %w", rule.ID, err)
			}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// CreateRule validates and inserts a routing rule.
func (r *Repository) CreateRule(ctx context.Context, rule *routing.Rule) error {
	if err := rule.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	condB, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode routing conditions: %w", err)
	}
	actB, err := json.Marshal(rule.Then)
	if err != nil {
		return fmt.Errorf("failed to encode routing action: %w", err)
	}

	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO routing_rules (id, team_id, name, sort_order, enabled, conditions, action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.Exec(ctx, query,
		rule.ID, rule.TeamID, rule.Name, rule.Order, rule.Enabled, condB, actB, rule.CreatedAt, rule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert routing rule: %w", err)
	}
	return nil
}

// UpdateRule validates and updates a routing rule scoped to its team.
func (r *Repository) UpdateRule(ctx context.Context, rule *routing.Rule) error {
	if err := rule.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	condB, _ := json.Marshal(rule.Conditions)
	actB, _ := json.Marshal(rule.Then)
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE routing_rules
		SET name = $3, sort_order = $4, enabled = $5, conditions = $6, action = $7, updated_at = $8
		WHERE id = $1 AND team_id = $2`
	tag, err := r.db.Exec(ctx, query,
		rule.ID, rule.TeamID, rule.Name, rule.Order, rule.Enabled, condB, actB, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update routing rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("routing rule not found")
	}
	return nil
}

// DeleteRule removes a routing rule scoped to its team.
func (r *Repository) DeleteRule(ctx context.Context, teamID, ruleID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM routing_rules WHERE id = $1 AND team_id = $2`, ruleID, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete routing rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("routing rule not found")
	}
	return nil
}
