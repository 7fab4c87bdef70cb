// Package domain provides core business types for the leads bounded context.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// NormalizedLead is the channel-agnostic input contract produced by ingestion
// adapters and consumed by the decision pipeline. It is immutable once built.
type NormalizedLead struct {
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Company   string         `json:"company,omitempty"`
	Domain    string         `json:"domain,omitempty"`
	Source    string         `json:"source"`
	SourceRef string         `json:"sourceRef,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	UTM       map[string]any `json:"utm,omitempty"`
}

// HasIdentity reports whether the lead carries at least one field usable as a
// dedupe identity key. Leads without any identity are rejected at the boundary.
func (l NormalizedLead) HasIdentity() bool {
	return l.Email != "" || l.Phone != "" || (l.Domain != "" && l.Company != "")
}

// Band classifies a numeric score.
type Band string

const (
	BandHigh   Band = "HIGH"
	BandMedium Band = "MEDIUM"
	BandLow    Band = "LOW"
)

// Status is the lead lifecycle status.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
)

// openStatuses are the statuses that count against an owner's capacity.
var openStatuses = map[Status]bool{
	StatusNew:        true,
	StatusAssigned:   true,
	StatusInProgress: true,
}

// IsOpen reports whether a lead in this status consumes owner capacity.
func (s Status) IsOpen() bool {
	return openStatuses[s]
}

// Lead is the persisted lead record, unique per team per identity.
type Lead struct {
	ID        uuid.UUID
	TeamID    uuid.UUID
	Email     *string
	Name      *string
	Phone     *string
	Company   *string
	Domain    *string
	Source    string
	SourceRef *string
	Score     int
	ScoreBand Band
	Status    Status
	OwnerID   *uuid.UUID
	Fields    map[string]any
	UTM       map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageDirection distinguishes inbound from outbound lead messages.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "IN"
	DirectionOut MessageDirection = "OUT"
)
