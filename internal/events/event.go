// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Pipeline Events
// =============================================================================

// LeadCreated is published when the pipeline persists a brand-new lead.
type LeadCreated struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	TeamID    uuid.UUID `json:"teamId"`
	Source    string    `json:"source"`
	Score     int       `json:"score"`
	ScoreBand string    `json:"scoreBand"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadMerged is published when an incoming submission is consolidated into
// an existing lead instead of creating a new one.
type LeadMerged struct {
	BaseEvent
	LeadID               uuid.UUID `json:"leadId"`
	TeamID               uuid.UUID `json:"teamId"`
	MatchedBy            string    `json:"matchedBy"` // "email", "phone", "domain_company"
	ConsolidatedMessages int       `json:"consolidatedMessages"`
	ConsolidatedEvents   int       `json:"consolidatedEvents"`
}

func (e LeadMerged) EventName() string { return "leads.lead.merged" }

// LeadRouted is published when routing resolves an owner or pool for a lead.
// Alert instructions carried here are delivered by the alerts module.
type LeadRouted struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	TeamID     uuid.UUID  `json:"teamId"`
	OwnerID    *uuid.UUID `json:"ownerId,omitempty"`
	Pool       string     `json:"pool,omitempty"`
	Priority   *int       `json:"priority,omitempty"`
	SLAMinutes *int       `json:"slaMinutes,omitempty"`
	Alerts     []string   `json:"alerts,omitempty"`
	Reason     string     `json:"reason"`
}

func (e LeadRouted) EventName() string { return "leads.lead.routed" }

// LeadUnassigned is published when no routing rule matched or capacity ran out.
type LeadUnassigned struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	TeamID uuid.UUID `json:"teamId"`
	Reason string    `json:"reason"` // "no_rule_matched", "no_capacity"
}

func (e LeadUnassigned) EventName() string { return "leads.lead.unassigned" }

// =============================================================================
// SLA Events
// =============================================================================

// SLAClockCreated is published when routing yields an SLA deadline for a lead.
type SLAClockCreated struct {
	BaseEvent
	ClockID    uuid.UUID `json:"clockId"`
	LeadID     uuid.UUID `json:"leadId"`
	TeamID     uuid.UUID `json:"teamId"`
	SLAMinutes int       `json:"slaMinutes"`
}

func (e SLAClockCreated) EventName() string { return "sla.clock.created" }

// SLAClockSatisfied is published when the first outbound message resolves a clock.
type SLAClockSatisfied struct {
	BaseEvent
	ClockID uuid.UUID `json:"clockId"`
	LeadID  uuid.UUID `json:"leadId"`
	TeamID  uuid.UUID `json:"teamId"`
}

func (e SLAClockSatisfied) EventName() string { return "sla.clock.satisfied" }

// SLAEscalated is published when an escalation level fires for an unresolved
// clock. The clock keeps running; this is a notification instruction only.
type SLAEscalated struct {
	BaseEvent
	ClockID        uuid.UUID  `json:"clockId"`
	LeadID         uuid.UUID  `json:"leadId"`
	TeamID         uuid.UUID  `json:"teamId"`
	OwnerID        *uuid.UUID `json:"ownerId,omitempty"`
	Level          int        `json:"level"`
	Action         string     `json:"action"` // "notify_manager", "escalate_to_director", "emergency_alert"
	ElapsedMinutes int        `json:"elapsedMinutes"`
}

func (e SLAEscalated) EventName() string { return "sla.clock.escalated" }

// =============================================================================
// Ingestion Events
// =============================================================================

// IngestPayloadReceived is published for every accepted inbound submission so
// the archiver can persist the raw payload. No lead data is discarded without
// at least this record existing.
type IngestPayloadReceived struct {
	BaseEvent
	TeamID     uuid.UUID `json:"teamId"`
	Source     string    `json:"source"`
	SourceRef  string    `json:"sourceRef,omitempty"`
	RawPayload []byte    `json:"-"`
}

func (e IngestPayloadReceived) EventName() string { return "ingest.payload.received" }
