// Package routing assigns created leads to owners or pools by first-match
// evaluation of team routing rules, bounded by owner capacity.
package routing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/rules"
)

// AlertChannel is a notification instruction produced by routing. Delivery
// is the alerting collaborator's job; routing never sends anything itself.
type AlertChannel string

const (
	AlertSlack   AlertChannel = "SLACK"
	AlertEmail   AlertChannel = "EMAIL"
	AlertWebhook AlertChannel = "WEBHOOK"
)

func validAlert(a AlertChannel) bool {
	return a == AlertSlack || a == AlertEmail || a == AlertWebhook
}

// Action is the consequence of a matched routing rule. Exactly one of
// AssignOwnerID or AssignPool must be set; FallbackPool applies when a
// directly assigned owner is over capacity.
type Action struct {
	AssignOwnerID *uuid.UUID     `json:"assignOwnerId,omitempty"`
	AssignPool    *string        `json:"assignPool,omitempty"`
	FallbackPool  *string        `json:"fallbackPool,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
	SLAMinutes    *int           `json:"slaMinutes,omitempty"`
	Alerts        []AlertChannel `json:"alerts,omitempty"`
}

// Rule is a team-scoped routing rule. Conditions are AND-combined; an empty
// condition set matches every lead, which makes the last rule a catch-all.
type Rule struct {
	ID         uuid.UUID         `json:"id"`
	TeamID     uuid.UUID         `json:"teamId"`
	Name       string            `json:"name"`
	Order      int               `json:"order"`
	Enabled    bool              `json:"enabled"`
	Conditions []rules.Condition `json:"conditions"`
	Then       Action            `json:"then"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Validate rejects a malformed routing rule at write time.
func (r Rule) Validate() error {
	if err := rules.ValidateAll(r.Conditions); err != nil {
		return err
	}
	if r.Then.AssignOwnerID == nil && r.Then.AssignPool == nil {
		return fmt.Errorf("routing rule must assign an owner or a pool")
	}
	if r.Then.AssignOwnerID != nil && r.Then.AssignPool != nil {
		return fmt.Errorf("routing rule cannot assign both an owner and a pool")
	}
	if r.Then.Priority != nil && (*r.Then.Priority < 1 || *r.Then.Priority > 4) {
		return fmt.Errorf("priority must be between 1 and 4, got %d", *r.Then.Priority)
	}
	if r.Then.SLAMinutes != nil && *r.Then.SLAMinutes <= 0 {
		return fmt.Errorf("sla minutes must be positive, got %d", *r.Then.SLAMinutes)
	}
	for _, a := range r.Then.Alerts {
		if !validAlert(a) {
			return fmt.Errorf("unknown alert channel %q", a)
		}
	}
	return nil
}

// Owner is a sales representative bounded by capacity. CurrentLoad counts
// open leads; LastAssignedAt breaks ties between equally loaded pool members.
type Owner struct {
	ID             uuid.UUID  `json:"id"`
	TeamID         uuid.UUID  `json:"teamId"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Active         bool       `json:"active"`
	Capacity       int        `json:"capacity"`
	CurrentLoad    int        `json:"currentLoad"`
	LastAssignedAt *time.Time `json:"lastAssignedAt,omitempty"`
}

// HasCapacity reports whether the owner can take another lead.
func (o Owner) HasCapacity() bool {
	return o.Active && o.CurrentLoad < o.Capacity
}

// LoadRatio is the fill fraction used by least-loaded selection.
func (o Owner) LoadRatio() float64 {
	if o.Capacity <= 0 {
		return 1
	}
	return float64(o.CurrentLoad) / float64(o.Capacity)
}
