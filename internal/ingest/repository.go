package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

type Repository struct {
	db db.DBTX
}

func NewRepository(dbtx db.DBTX) *Repository {
	return &Repository{db: dbtx}
}

// GetByPrefix returns an active API key by its clear-text prefix.
func (r *Repository) GetByPrefix(ctx context.Context, prefix string) (APIKey, error) {
	var key APIKey
	err := r.db.QueryRow(ctx, `
		SELECT id, team_id, name, key_hash, key_prefix, allowed_domains, active, created_at
		FROM ingest_api_keys
		WHERE key_prefix = $1 AND active = true`, prefix,
	).Scan(&key.ID, &key.TeamID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.AllowedDomains, &key.Active, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, apperr.Unauthorized("API key not found")
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("failed to load API key: %w", err)
	}
	return key, nil
}

// CreateKey stores a new credential. The caller holds the plaintext.
func (r *Repository) CreateKey(ctx context.Context, key *APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO ingest_api_keys (id, team_id, name, key_hash, key_prefix, allowed_domains, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TeamID, key.Name, key.KeyHash, key.KeyPrefix, key.AllowedDomains, key.Active, key.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}
	return nil
}

// ListKeys returns all of a team's keys, newest first.
func (r *Repository) ListKeys(ctx context.Context, teamID uuid.UUID) ([]APIKey, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, team_id, name, key_hash, key_prefix, allowed_domains, active, created_at
		FROM ingest_api_keys
		WHERE team_id = $1
		ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.TeamID, &key.Name, &key.KeyHash, &key.KeyPrefix,
			&key.AllowedDomains, &key.Active, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// RevokeKey deactivates a credential.
func (r *Repository) RevokeKey(ctx context.Context, teamID, keyID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ingest_api_keys SET active = false
		WHERE id = $1 AND team_id = $2`, keyID, teamID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("API key not found")
	}
	return nil
}

// SaveRawPayload archives a submission in Postgres. Used as the fallback
// when MinIO archiving is disabled or fails.
func (r *Repository) SaveRawPayload(ctx context.Context, teamID uuid.UUID, source, sourceRef string, payload []byte) error {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO ingest_raw_payloads (id, team_id, source, source_ref, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), teamID, source, sourceRef, payload, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to archive raw payload: %w", err)
	}
	return nil
}

// Import statuses.
const (
	ImportPending   = "PENDING"
	ImportRunning   = "RUNNING"
	ImportCompleted = "COMPLETED"
)

// Import is a stored batch of normalized rows awaiting processing. Outcomes
// carry the per-row results after completion so importers can retry exactly
// the rows that failed.
type Import struct {
	ID          uuid.UUID               `json:"id"`
	TeamID      uuid.UUID               `json:"teamId"`
	Source      string                  `json:"source"`
	Status      string                  `json:"status"`
	Rows        []domain.NormalizedLead `json:"-"`
	TotalRows   int                     `json:"totalRows"`
	Summary     map[string]int          `json:"summary,omitempty"`
	Outcomes    []RowOutcome            `json:"outcomes,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
}

// CreateImport stores a batch for asynchronous processing.
func (r *Repository) CreateImport(ctx context.Context, imp *Import) error {
	if imp.ID == uuid.Nil {
		imp.ID = uuid.New()
	}
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = time.Now().UTC()
	}
	imp.Status = ImportPending
	imp.TotalRows = len(imp.Rows)

	rowsB, err := json.Marshal(imp.Rows)
	if err != nil {
		return fmt.Errorf("failed to encode import rows: %w", err)
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO lead_imports (id, team_id, source, status, rows, total_rows, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		imp.ID, imp.TeamID, imp.Source, imp.Status, rowsB, imp.TotalRows, imp.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert import: %w", err)
	}
	return nil
}

// ClaimImport moves a pending import to RUNNING and returns it with its rows.
// A second worker claiming the same import gets apperr.Conflict.
func (r *Repository) ClaimImport(ctx context.Context, teamID, importID uuid.UUID) (*Import, error) {
	var (
		imp   Import
		rowsB []byte
	)
	err := r.db.QueryRow(ctx, `
		UPDATE lead_imports
		SET status = $3
		WHERE id = $1 AND team_id = $2 AND status = $4
		RETURNING id, team_id, source, status, rows, total_rows, created_at`,
		importID, teamID, ImportRunning, ImportPending,
	).Scan(&imp.ID, &imp.TeamID, &imp.Source, &imp.Status, &rowsB, &imp.TotalRows, &imp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Conflict("import is not pending")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim import: %w", err)
	}
	if err := json.Unmarshal(rowsB, &imp.Rows); err != nil {
		return nil, fmt.Errorf("failed to decode import rows: %w", err)
	}
	return &imp, nil
}

// CompleteImport records the per-action counts and per-row outcomes for a
// finished batch.
func (r *Repository) CompleteImport(ctx context.Context, importID uuid.UUID, summary map[string]int, outcomes []RowOutcome) error {
	summaryB, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode import summary: %w", err)
	}
	outcomesB, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode import outcomes: %w", err)
	}
	if _, err := r.db.Exec(ctx, `
		UPDATE lead_imports
		SET status = $2, summary = $3, outcomes = $4, completed_at = $5
		WHERE id = $1`,
		importID, ImportCompleted, summaryB, outcomesB, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to complete import: %w", err)
	}
	return nil
}

// GetImport returns import status for polling clients.
func (r *Repository) GetImport(ctx context.Context, teamID, importID uuid.UUID) (*Import, error) {
	var (
		imp       Import
		summaryB  []byte
		outcomesB []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, team_id, source, status, total_rows, summary, outcomes, created_at, completed_at
		FROM lead_imports
		WHERE id = $1 AND team_id = $2`, importID, teamID,
	).Scan(&imp.ID, &imp.TeamID, &imp.Source, &imp.Status, &imp.TotalRows, &summaryB, &outcomesB, &imp.CreatedAt, &imp.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("import not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import: %w", err)
	}
	if len(summaryB) > 0 {
		if err := json.Unmarshal(summaryB, &imp.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode import summary: %w", err)
		}
	}
	if len(outcomesB) > 0 {
		if err := json.Unmarshal(outcomesB, &imp.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode import outcomes: %w", err)
		}
	}
	return &imp, nil
}
