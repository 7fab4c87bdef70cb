// Package repository persists scoring configurations and rules.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/scoring"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Repository provides database operations for scoring configs and rules. It
// runs against a pool or an enclosing transaction via db.DBTX.
type Repository struct {
	db db.DBTX
}

func New(dbtx db.DBTX) *Repository {
	return &Repository{db: dbtx}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

// GetActiveConfig returns the single active scoring config for a team.
func (r *Repository) GetActiveConfig(ctx context.Context, teamID uuid.UUID) (scoring.Config, error) {
	query := `
		SELECT id, team_id, version, active, weights, bands, negative, enrichment, created_at
		FROM scoring_configs
		WHERE team_id = $1 AND active = true`

	var (
		cfg                                    scoring.Config
		weightsB, bandsB, negativeB, enrichedB []byte
	)
	err := r.db.QueryRow(ctx, query, teamID).Scan(
		&cfg.ID, &cfg.TeamID, &cfg.Version, &cfg.Active,
		&weightsB, &bandsB, &negativeB, &enrichedB, &cfg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scoring.Config{}, apperr.NotFound("no active scoring config for team")
	}
	if err != nil {
		return scoring.Config{}, fmt.Errorf("failed to load scoring config: %w", err)
	}

	for _, field := range []struct {
		raw []byte
		dst any
	}{
		{weightsB, &cfg.Weights},
		{bandsB, &cfg.Bands},
		{negativeB, &cfg.Negative},
		{enrichedB, &cfg.Enrichment},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return scoring.Config{}, fmt.Errorf("failed to decode scoring config: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig inserts a new config version and deactivates the previous one.
// Must run inside a transaction when called with a pool-backed repository.
func (r *Repository) SaveConfig(ctx context.Context, cfg *scoring.Config) error {
	if err := cfg.Bands.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	weightsB, _ := json.Marshal(cfg.Weights)
	bandsB, _ := json.Marshal(cfg.Bands)
	negativeB, _ := json.Marshal(cfg.Negative)
	enrichedB, _ := json.Marshal(cfg.Enrichment)

	if _, err := r.db.Exec(ctx,
		`UPDATE scoring_configs SET active = false WHERE team_id = $1 AND active = true`,
		cfg.TeamID,
	); err != nil {
		return fmt.Errorf("failed to deactivate previous scoring config: %w", err)
	}

	query := `
		INSERT INTO scoring_configs (id, team_id, version, active, weights, bands, negative, enrichment, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(version), 0) + 1 FROM scoring_configs WHERE team_id = $2), true, $3, $4, $5, $6, $7)
		RETURNING version`

	cfg.ID = uuid.New()
	cfg.Active = true
	cfg.CreatedAt = time.Now().UTC()
	if err := r.db.QueryRow(ctx, query,
		cfg.ID, cfg.TeamID, weightsB, bandsB, negativeB, enrichedB, cfg.CreatedAt,
	).Scan(&cfg.Version); err != nil {
		return fmt.Errorf("failed to insert scoring config: %w", err)
	}
	return nil
}

// ListRules returns a team's scoring rules in ascending evaluation order.
func (r *Repository) ListRules(ctx context.Context, teamID uuid.UUID) ([]scoring.Rule, error) {
	query := `
		SELECT id, team_id, name, sort_order, enabled, rule_type, definition, created_at, updated_at
		FROM scoring_rules
		WHERE team_id = $1
		ORDER BY sort_order ASC`

	rows, err := r.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scoring rules: %w", err)
	}
	defer rows.Close()

	var out []scoring.Rule
	for rows.Next() {
		var (
			rule scoring.Rule
			defB []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.TeamID, &rule.Name, &rule.Order, &rule.Enabled,
			&rule.Type, &defB, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scoring rule: %w", err)
		}
		if len(defB) > 0 {
			if err := json.Unmarshal(defB, &rule.Definition); err != nil {
				return nil, fmt.Errorf("failed to decode scoring rule %s: %w", rule.ID, err)
			}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// CreateRule validates and inserts a scoring rule.
func (r *Repository) CreateRule(ctx context.Context, rule *scoring.Rule) error {
	if err := rule.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	defB, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode rule definition: %w", err)
	}

	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO scoring_rules (id, team_id, name, sort_order, enabled, rule_type, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.Exec(ctx, query,
		rule.ID, rule.TeamID, rule.Name, rule.Order, rule.Enabled, rule.Type, defB, rule.CreatedAt, rule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert scoring rule: %w", err)
	}
	return nil
}

// UpdateRule validates and updates a scoring rule scoped to its team.
func (r *Repository) UpdateRule(ctx context.Context, rule *scoring.Rule) error {
	if err := rule.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	defB, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode rule definition: %w", err)
	}
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE scoring_rules
		SET name = $3, sort_order = $4, enabled = $5, rule_type = $6, definition = $7, updated_at = $8
		WHERE id = $1 AND team_id = $2`
	tag, err := r.db.Exec(ctx, query,
		rule.ID, rule.TeamID, rule.Name, rule.Order, rule.Enabled, rule.Type, defB, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update scoring rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scoring rule not found")
	}
	return nil
}

// DeleteRule removes a scoring rule scoped to its team.
func (r *Repository) DeleteRule(ctx context.Context, teamID, ruleID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scoring_rules WHERE id = $1 AND team_id = $2`, ruleID, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete scoring rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scoring rule not found")
	}
	return nil
}
