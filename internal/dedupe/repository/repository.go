// Package repository backs the dedupe engine with Postgres. The unique
// constraint on dedupe_keys(team_id, key_type, key_value) is the authority
// for the one-lead-per-identity invariant.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/dedupe"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Repository implements dedupe.Store. It is designed to run inside the
// pipeline's enclosing transaction: conflicts are detected with
// ON CONFLICT DO NOTHING instead of constraint errors, so a lost identity
// race never aborts the transaction.
type Repository struct {
	db db.DBTX
}

func New(dbtx db.DBTX) *Repository {
	return &Repository{db: dbtx}
}

func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const leadColumns = `
	l.id, l.team_id, l.email, l.name, l.phone, l.company, l.domain,
	l.source, l.source_ref, l.score, l.score_band, l.status, l.owner_id,
	l.fields, l.utm, l.created_at, l.updated_at`

// FindByKey returns the lead owning an identity key within a team.
func (r *Repository) FindByKey(ctx context.Context, teamID uuid.UUID, key dedupe.Key) (*domain.Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM dedupe_keys k
		JOIN leads l ON l.id = k.lead_id
		WHERE k.team_id = $1 AND k.key_type = $2 AND k.key_value = $3`

	lead, err := scanLead(r.db.QueryRow(ctx, query, teamID, key.Type, key.Value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no lead for identity key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity key: %w", err)
	}
	return lead, nil
}

// CreateLead inserts the lead and claims its identity keys. If any key is
// already claimed the insert is undone and apperr.Conflict is returned; the
// caller re-matches and merges.
func (r *Repository) CreateLead(ctx context.Context, lead *domain.Lead, keys []dedupe.Key) error {
	fieldsB, _ := json.Marshal(lead.Fields)
	utmB, _ := json.Marshal(lead.UTM)

	insertLead := `
		INSERT INTO leads (
			id, team_id, email, name, phone, company, domain,
			source, source_ref, score, score_band, status, owner_id,
			fields, utm, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	if _, err := r.db.Exec(ctx, insertLead,
		lead.ID, lead.TeamID, lead.Email, lead.Name, lead.Phone, lead.Company, lead.Domain,
		lead.Source, lead.SourceRef, lead.Score, lead.ScoreBand, lead.Status, lead.OwnerID,
		fieldsB, utmB, lead.CreatedAt, lead.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}

	for _, key := range keys {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO dedupe_keys (id, team_id, lead_id, key_type, key_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (team_id, key_type, key_value) DO NOTHING`,
			uuid.New(), lead.TeamID, lead.ID, key.Type, key.Value, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to register identity key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Lost the identity race; undo our insert so the caller can
			// merge into the winner.
			if err := r.deleteLead(ctx, lead.ID); err != nil {
				return err
			}
			return apperr.Conflict("identity key already claimed")
		}
	}
	return nil
}

func (r *Repository) deleteLead(ctx context.Context, leadID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM dedupe_keys WHERE lead_id = $1`, leadID); err != nil {
		return fmt.Errorf("failed to undo identity keys: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM leads WHERE id = $1`, leadID); err != nil {
		return fmt.Errorf("failed to undo lead insert: %w", err)
	}
	return nil
}

// UpdateLead persists merged field changes.
func (r *Repository) UpdateLead(ctx context.Context, lead *domain.Lead) error {
	fieldsB, _ := json.Marshal(lead.Fields)
	utmB, _ := json.Marshal(lead.UTM)

	query := `
		UPDATE leads SET
			email = $2, name = $3, phone = $4, company = $5, domain = $6,
			source_ref = $7, fields = $8, utm = $9, updated_at = $10
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query,
		lead.ID, lead.Email, lead.Name, lead.Phone, lead.Company, lead.Domain,
		lead.SourceRef, fieldsB, utmB, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// RegisterKeys claims identities a merge newly derived; already-claimed keys
// are left with their current owner.
func (r *Repository) RegisterKeys(ctx context.Context, teamID, leadID uuid.UUID, keys []dedupe.Key) error {
	for _, key := range keys {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO dedupe_keys (id, team_id, lead_id, key_type, key_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (team_id, key_type, key_value) DO NOTHING`,
			uuid.New(), teamID, leadID, key.Type, key.Value, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to register identity key: %w", err)
		}
	}
	return nil
}

// ConsolidateSubmission folds the duplicate submission into the surviving
// lead: a free-text message becomes an inbound message, and the submission
// itself becomes a timeline event.
func (r *Repository) ConsolidateSubmission(ctx context.Context, leadID uuid.UUID, incoming domain.NormalizedLead) (dedupe.MergeStats, error) {
	var stats dedupe.MergeStats
	now := time.Now().UTC()

	if msg, ok := incoming.Fields["message"].(string); ok && msg != "" {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO lead_messages (id, lead_id, direction, body, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), leadID, domain.DirectionIn, msg, incoming.Source, now,
		); err != nil {
			return stats, fmt.Errorf("failed to consolidate message: %w", err)
		}
		stats.ConsolidatedMessages++
	}

	payload, _ := json.Marshal(map[string]any{
		"source":    incoming.Source,
		"sourceRef": incoming.SourceRef,
	})
	if _, err := r.db.Exec(ctx, `
		INSERT INTO lead_timeline_events (id, lead_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), leadID, "lead.duplicate_submission", payload, now,
	); err != nil {
		return stats, fmt.Errorf("failed to consolidate timeline event: %w", err)
	}
	stats.ConsolidatedEvents++

	return stats, nil
}

func scanLead(row pgx.Row) (*domain.Lead, error) {
	var (
		lead          domain.Lead
		fieldsB, utmB []byte
	)
	if err := row.Scan(
		&lead.ID, &lead.TeamID, &lead.Email, &lead.Name, &lead.Phone, &lead.Company, &lead.Domain,
		&lead.Source, &lead.SourceRef, &lead.Score, &lead.ScoreBand, &lead.Status, &lead.OwnerID,
		&fieldsB, &utmB, &lead.CreatedAt, &lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(fieldsB) > 0 {
		if err := json.Unmarshal(fieldsB, &lead.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode lead fields: %w", err)
		}
	}
	if len(utmB) > 0 {
		if err := json.Unmarshal(utmB, &lead.UTM); err != nil {
			return nil, fmt.Errorf("failed to decode lead utm: %w", err)
		}
	}
	return &lead, nil
}
