package sla

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Escalation actions fired in order as a clock stays unsatisfied.
const (
	ActionNotifyManager      = "notify_manager"
	ActionEscalateToDirector = "escalate_to_director"
	ActionEmergencyAlert     = "emergency_alert"
)

// Thresholds maps routing priority (1..4) to SLA minutes, used when a
// routing rule sets a priority without explicit minutes.
type Thresholds struct {
	Priority1 int `json:"priority1"`
	Priority2 int `json:"priority2"`
	Priority3 int `json:"priority3"`
	Priority4 int `json:"priority4"`
}

// Minutes resolves a priority to its configured SLA minutes.
func (t Thresholds) Minutes(priority int) (int, error) {
	switch priority {
	case 1:
		return t.Priority1, nil
	case 2:
		return t.Priority2, nil
	case 3:
		return t.Priority3, nil
	case 4:
		return t.Priority4, nil
	}
	return 0, fmt.Errorf("unknown priority %d", priority)
}

// EscalationLevel is one step of the escalation ladder: after Minutes of the
// clock being unsatisfied, Action fires as a notification instruction.
type EscalationLevel struct {
	Minutes int    `json:"minutes"`
	Action  string `json:"action"`
}

// Escalation configures the ladder. Levels must be ordered by Minutes.
type Escalation struct {
	Enabled bool              `json:"enabled"`
	Levels  []EscalationLevel `json:"levels"`
}

// BusinessHours is persisted team configuration. It is currently not applied
// to targetAt computation: clocks always run on wall time and report
// businessHoursAdjusted=false.
type BusinessHours struct {
	Enabled  bool                `json:"enabled"`
	Timezone string              `json:"timezone"`
	Schedule map[string][]string `json:"schedule,omitempty"`
}

// Settings is the per-team SLA configuration.
type Settings struct {
	TeamID        uuid.UUID     `json:"teamId"`
	Thresholds    Thresholds    `json:"thresholds"`
	Escalation    Escalation    `json:"escalation"`
	BusinessHours BusinessHours `json:"businessHours"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Validate rejects malformed settings at write time.
func (s Settings) Validate() error {
	for i, lvl := range s.Escalation.Levels {
		if lvl.Minutes <= 0 {
			return fmt.Errorf("escalation level %d: minutes must be positive", i)
		}
		if lvl.Action == "" {
			return fmt.Errorf("escalation level %d: action is required", i)
		}
		if i > 0 && lvl.Minutes <= s.Escalation.Levels[i-1].Minutes {
			return fmt.Errorf("escalation level %d: minutes must be strictly increasing", i)
		}
	}
	for p := 1; p <= 4; p++ {
		if m, _ := s.Thresholds.Minutes(p); m < 0 {
			return fmt.Errorf("priority %d threshold must not be negative", p)
		}
	}
	if s.BusinessHours.Enabled && s.BusinessHours.Timezone != "" {
		if _, err := time.LoadLocation(s.BusinessHours.Timezone); err != nil {
			return fmt.Errorf("invalid business hours timezone: %w", err)
		}
	}
	return nil
}

// DefaultSettings is the ladder applied when a team has none persisted:
// manager at 10 minutes, director at 30, emergency at 60.
func DefaultSettings(teamID uuid.UUID) Settings {
	return Settings{
		TeamID: teamID,
		Thresholds: Thresholds{
			Priority1: 5,
			Priority2: 15,
			Priority3: 60,
			Priority4: 240,
		},
		Escalation: Escalation{
			Enabled: true,
			Levels: []EscalationLevel{
				{Minutes: 10, Action: ActionNotifyManager},
				{Minutes: 30, Action: ActionEscalateToDirector},
				{Minutes: 60, Action: ActionEmergencyAlert},
			},
		},
	}
}
