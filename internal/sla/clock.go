// Package sla tracks time-to-first-response deadlines for assigned leads.
// A clock is created at assignment, satisfied by the first outbound message,
// and escalated while overdue; escalation and satisfaction are independent
// axes, so an escalated clock still satisfies normally.
package sla

import (
	"time"

	"github.com/google/uuid"
)

// State is the satisfaction axis of a clock.
type State string

const (
	StateActive    State = "ACTIVE"
	StateSatisfied State = "SATISFIED"
)

// Clock is one SLA deadline for one lead.
type Clock struct {
	ID       uuid.UUID `json:"id"`
	TeamID   uuid.UUID `json:"teamId"`
	LeadID   uuid.UUID `json:"leadId"`
	Priority *int      `json:"priority,omitempty"`

	// TargetAt is exactly AssignedAt plus the SLA minutes. Business hours
	// are configurable on the team settings but never applied here; the
	// flag below records that explicitly.
	AssignedAt            time.Time `json:"assignedAt"`
	TargetAt              time.Time `json:"targetAt"`
	BusinessHoursAdjusted bool      `json:"businessHoursAdjusted"`

	SatisfiedAt     *time.Time `json:"satisfiedAt,omitempty"`
	EscalatedAt     *time.Time `json:"escalatedAt,omitempty"`
	EscalationLevel int        `json:"escalationLevel"`

	CreatedAt time.Time `json:"createdAt"`
}

// State reports the satisfaction axis.
func (c Clock) State() State {
	if c.SatisfiedAt != nil {
		return StateSatisfied
	}
	return StateActive
}

// Overdue reports whether the clock is unsatisfied past its target.
func (c Clock) Overdue(now time.Time) bool {
	return c.SatisfiedAt == nil && now.After(c.TargetAt)
}

// Elapsed is the time since assignment, the axis escalation levels measure.
func (c Clock) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.AssignedAt)
}
