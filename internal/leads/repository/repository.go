// Package repository provides database operations for leads, their messages
// and their timeline.
package repository

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

const leadNotFoundMsg = "lead not found"

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
	id, team_id, email, name, phone, company, domain,
	source, source_ref, score, score_band, status, owner_id,
	fields, utm, created_at, updated_at`

// Get returns a lead scoped to its team.
func (r *Repository) Get(ctx context.Context, teamID, leadID uuid.UUID) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 AND team_id = $2`

	lead, err := scanLead(r.db.QueryRow(ctx, query, leadID, teamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(leadNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	return lead, nil
}

// ListParams filters and paginates team leads.
type ListParams struct {
	TeamID   uuid.UUID
	Status   *domain.Status
	Band     *domain.Band
	OwnerID  *uuid.UUID
	Page     int
	PageSize int
}

// List returns a page of team leads, newest first.
func (r *Repository) List(ctx context.Context, params ListParams) ([]domain.Lead, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 200 {
		params.PageSize = 50
	}

	where := "WHERE team_id = $1"
	args := []any{params.TeamID}
	if params.Status != nil {
		args = append(args, *params.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if params.Band != nil {
		args = append(args, *params.Band)
		where += fmt.Sprintf(" AND score_band = $%d", len(args))
	}
	if params.OwnerID != nil {
		args = append(args, *params.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM leads "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)
	query := fmt.Sprintf("SELECT %s FROM leads %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		leadColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan lead: %w", err)
		}
		out = append(out, *lead)
	}
	return out, total, rows.Err()
}

// AssignOwner records a routing assignment on the lead.
func (r *Repository) AssignOwner(ctx context.Context, teamID, leadID, ownerID uuid.UUID, at time.Time) error {
	query := `
		UPDATE leads
		SET owner_id = $3, status = $4, updated_at = $5
		WHERE id = $1 AND team_id = $2`
	tag, err := r.db.Exec(ctx, query, leadID, teamID, ownerID, domain.StatusAssigned, at)
	if err != nil {
		return fmt.Errorf("failed to assign lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}
	return nil
}

// TransitionStatus moves the lead from one of the given statuses to the
// target. Reports false when the lead was not in an eligible status, which
// makes transitions like NEW|ASSIGNED to IN_PROGRESS race-safe.
func (r *Repository) TransitionStatus(ctx context.Context, teamID, leadID uuid.UUID, from []domain.Status, to domain.Status) (bool, error) {
	query := `
		UPDATE leads
		SET status = $3, updated_at = $4
		WHERE id = $1 AND team_id = $2 AND status = ANY($5)`

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, query, leadID, teamID, to, time.Now().UTC(), statuses)
	if err != nil {
		return false, fmt.Errorf("failed to transition lead status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateMessage appends a message to a lead.
func (r *Repository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO lead_messages (id, lead_id, direction, body, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.Exec(ctx, query,
		msg.ID, msg.LeadID, msg.Direction, msg.Body, msg.Source, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert lead message: %w", err)
	}
	return nil
}

// ListMessages returns a lead's messages oldest first.
func (r *Repository) ListMessages(ctx context.Context, leadID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, lead_id, direction, body, source, created_at
		FROM lead_messages
		WHERE lead_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lead messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.LeadID, &m.Direction, &m.Body, &m.Source, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lead message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateTimelineEvent appends an immutable audit record to the lead.
func (r *Repository) CreateTimelineEvent(ctx context.Context, leadID uuid.UUID, eventType string, payload map[string]any) error {
	payloadB, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode timeline payload: %w", err)
	}

	query := `
		INSERT INTO lead_timeline_events (id, lead_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.Exec(ctx, query,
		uuid.New(), leadID, eventType, payloadB, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert timeline event: %w", err)
	}
	return nil
}

// ListTimeline returns a lead's audit trail, newest first.
func (r *Repository) ListTimeline(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.TimelineEvent, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, lead_id, event_type, payload, created_at
		FROM lead_timeline_events
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline events: %w", err)
	}
	defer rows.Close()

	var out []domain.TimelineEvent
	for rows.Next() {
		var (
			ev       domain.TimelineEvent
			payloadB []byte
		)
		if err := rows.Scan(&ev.ID, &ev.LeadID, &ev.EventType, &payloadB, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		if len(payloadB) > 0 {
			if err := json.Unmarshal(payloadB, &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode timeline payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*domain.Lead, error) {
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
