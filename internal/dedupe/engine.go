package dedupe

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// Action is the dedupe outcome reported to callers.
type Action string

const (
	ActionCreated Action = "created"
	ActionMerged  Action = "merged"
	ActionSkipped Action = "skipped"
)

// MergeStats reports what a merge consolidated into the surviving lead.
type MergeStats struct {
	ConsolidatedMessages int `json:"consolidatedMessages"`
	ConsolidatedEvents   int `json:"consolidatedEvents"`
}

// Result is the dedupe decision for one submission.
type Result struct {
	Action      Action      `json:"action"`
	LeadID      uuid.UUID   `json:"leadId"`
	DuplicateID *uuid.UUID  `json:"duplicateId,omitempty"`
	MatchedBy   KeyType     `json:"matchedBy,omitempty"`
	MergeResult *MergeStats `json:"mergeResult,omitempty"`
}

// Store is the persistence surface the engine needs. The production
// implementation backs it with Postgres and a unique constraint on
// (team_id, key_type, key_value); tests use an in-memory fake.
type Store interface {
	// FindByKey returns the lead owning an identity key, or apperr.NotFound.
	FindByKey(ctx context.Context, teamID uuid.UUID, key Key) (*domain.Lead, error)
	// CreateLead inserts a lead and registers its identity keys atomically.
	// Returns apperr.Conflict when another submission claimed a key first.
	CreateLead(ctx context.Context, lead *domain.Lead, keys []Key) error
	// UpdateLead persists merged field changes.
	UpdateLead(ctx context.Context, lead *domain.Lead) error
	// RegisterKeys backfills identity keys a merge newly derived. Keys that
	// already exist are left untouched.
	RegisterKeys(ctx context.Context, teamID, leadID uuid.UUID, keys []Key) error
	// ConsolidateSubmission folds the duplicate submission's message and
	// audit payload into the surviving lead and reports the counts.
	ConsolidateSubmission(ctx context.Context, leadID uuid.UUID, incoming domain.NormalizedLead) (MergeStats, error)
}

// Engine implements match-then-create/merge per identity key. The caller
// must hold the per-identity serialization point (see Lock) for the duration
// of Deduplicate; the unique constraint in the store is the safety net.
type Engine struct {
	store       Store
	log         *logger.Logger
	phoneRegion string
}

func NewEngine(store Store, log *logger.Logger, phoneRegion string) *Engine {
	return &Engine{store: store, log: log, phoneRegion: phoneRegion}
}

// Deduplicate resolves one submission to a created, merged or skipped lead.
func (e *Engine) Deduplicate(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, policy Policy, score int, band domain.Band) (Result, error) {
	if policy == "" {
		policy = PolicyMerge
	}
	if !ValidPolicy(policy) {
		return Result{}, apperr.Validation("unknown dedupe policy " + string(policy))
	}

	keys := DeriveKeys(lead, e.phoneRegion)
	if len(keys) == 0 {
		return Result{}, apperr.Validation("lead carries no identity (email, phone or domain+company required)")
	}

	if policy == PolicyCreateNew {
		// Explicit re-entry: the original lead keeps the identity keys.
		newLead := e.buildLead(teamID, lead, score, band)
		if err := e.store.CreateLead(ctx, newLead, nil); err != nil {
			return Result{}, err
		}
		return Result{Action: ActionCreated, LeadID: newLead.ID}, nil
	}

	match, matchedBy, err := e.findMatch(ctx, teamID, keys)
	if err != nil {
		return Result{}, err
	}

	if match == nil {
		newLead := e.buildLead(teamID, lead, score, band)
		err := e.store.CreateLead(ctx, newLead, keys)
		if err == nil {
			return Result{Action: ActionCreated, LeadID: newLead.ID}, nil
		}
		if apperr.GetKind(err) != apperr.KindConflict {
			return Result{}, err
		}
		// Identity race: a concurrent submission claimed a key between our
		// match and create. Re-match and merge into the winner.
		match, matchedBy, err = e.findMatch(ctx, teamID, keys)
		if err != nil {
			return Result{}, err
		}
		if match == nil {
			return Result{}, apperr.Internal("identity conflict reported but no owning lead found")
		}
		if e.log != nil {
			e.log.Warn("identity race resolved as merge",
				"teamId", teamID.String(), "leadId", match.ID.String(), "matchedBy", string(matchedBy))
		}
	}

	if policy == PolicySkip {
		dup := match.ID
		return Result{Action: ActionSkipped, LeadID: match.ID, DuplicateID: &dup, MatchedBy: matchedBy}, nil
	}

	return e.merge(ctx, teamID, match, matchedBy, lead, keys, policy)
}

func (e *Engine) findMatch(ctx context.Context, teamID uuid.UUID, keys []Key) (*domain.Lead, KeyType, error) {
	for _, key := range keys {
		match, err := e.store.FindByKey(ctx, teamID, key)
		if err == nil {
			return match, key.Type, nil
		}
		if apperr.GetKind(err) != apperr.KindNotFound {
			return nil, "", err
		}
	}
	return nil, "", nil
}

func (e *Engine) merge(ctx context.Context, teamID uuid.UUID, existing *domain.Lead, matchedBy KeyType, incoming domain.NormalizedLead, keys []Key, policy Policy) (Result, error) {
	changed := mergeFields(existing, incoming, policy)
	existing.UpdatedAt = time.Now().UTC()

	if err := e.store.UpdateLead(ctx, existing); err != nil {
		return Result{}, err
	}
	if changed {
		// The submission may introduce identities the lead did not have yet
		// (e.g. a phone number filled into a gap).
		if err := e.store.RegisterKeys(ctx, teamID, existing.ID, keys); err != nil {
			return Result{}, err
		}
	}

	stats, err := e.store.ConsolidateSubmission(ctx, existing.ID, incoming)
	if err != nil {
		return Result{}, err
	}

	dup := existing.ID
	return Result{
		Action:      ActionMerged,
		LeadID:      existing.ID,
		DuplicateID: &dup,
		MatchedBy:   matchedBy,
		MergeResult: &stats,
	}, nil
}

func (e *Engine) buildLead(teamID uuid.UUID, lead domain.NormalizedLead, score int, band domain.Band) *domain.Lead {
	now := time.Now().UTC()
	normalizedPhone := lead.Phone
	if normalizedPhone != "" {
		normalizedPhone = phone.NormalizeE164(normalizedPhone, e.phoneRegion)
	}
	return &domain.Lead{
		ID:        uuid.New(),
		TeamID:    teamID,
		Email:     optional(lead.Email),
		Name:      optional(lead.Name),
		Phone:     optional(normalizedPhone),
		Company:   optional(lead.Company),
		Domain:    optional(lead.Domain),
		Source:    lead.Source,
		SourceRef: optional(lead.SourceRef),
		Score:     score,
		ScoreBand: band,
		Status:    domain.StatusNew,
		Fields:    lead.Fields,
		UTM:       lead.UTM,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
