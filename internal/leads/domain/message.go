package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one inbound or outbound communication on a lead. The first
// outbound message after assignment satisfies the lead's earliest SLA clock.
type Message struct {
	ID        uuid.UUID        `json:"id"`
	LeadID    uuid.UUID        `json:"leadId"`
	Direction MessageDirection `json:"direction"`
	Body      string           `json:"body"`
	Source    string           `json:"source,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// TimelineEvent is an immutable audit record of a decision made about a
// lead, consumed by analytics and dashboards.
type TimelineEvent struct {
	ID        uuid.UUID      `json:"id"`
	LeadID    uuid.UUID      `json:"leadId"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
