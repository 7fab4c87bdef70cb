// Package scoring converts a normalized lead into a numeric score, a band and
// an audit trace. The engine is a pure function of (lead, config, rules); all
// persistence lives in the repository subpackage.
package scoring

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/rules"
)

// Weights are the category weights applied in step one of the algorithm.
// Each weight is a percentage of the total score contributed when the
// category signal is at full strength.
type Weights struct {
	Urgency    int `json:"urgency" yaml:"urgency"`
	Engagement int `json:"engagement" yaml:"engagement"`
	JobRole    int `json:"jobRole" yaml:"jobRole"`
}

// Bands are the score thresholds. A clamped score maps to the highest
// threshold it meets or exceeds, high checked first.
type Bands struct {
	High   int `json:"high" yaml:"high"`
	Medium int `json:"medium" yaml:"medium"`
	Low    int `json:"low" yaml:"low"`
}

// Validate checks that the thresholds partition [0,100] without gaps, so
// every score maps to exactly one band.
func (b Bands) Validate() error {
	if b.Low != 0 {
		return fmt.Errorf("low threshold must be 0, got %d", b.Low)
	}
	if b.Medium <= b.Low {
		return fmt.Errorf("medium threshold %d must exceed low %d", b.Medium, b.Low)
	}
	if b.High <= b.Medium {
		return fmt.Errorf("high threshold %d must exceed medium %d", b.High, b.Medium)
	}
	if b.High > 100 {
		return fmt.Errorf("high threshold %d exceeds maximum score 100", b.High)
	}
	return nil
}

// NegativeSignals holds point penalties and the team-configured lists that
// trigger them. FreeEmail and InvalidDomain use built-in detection; only the
// penalty amount is configurable.
type NegativeSignals struct {
	Competitor    int `json:"competitor" yaml:"competitor"`
	FreeEmail     int `json:"freeEmail" yaml:"freeEmail"`
	InvalidDomain int `json:"invalidDomain" yaml:"invalidDomain"`
	Spam          int `json:"spam" yaml:"spam"`

	CompetitorDomains []string `json:"competitorDomains,omitempty" yaml:"competitorDomains,omitempty"`
	SpamKeywords      []string `json:"spamKeywords,omitempty" yaml:"spamKeywords,omitempty"`
}

// Enrichment maps enrichment tags supplied by the enrichment collaborator to
// bonus points. Tags arrive on the lead's fields (companySize, industry,
// revenue).
type Enrichment struct {
	CompanySize map[string]int `json:"companySize,omitempty" yaml:"companySize,omitempty"`
	Industry    map[string]int `json:"industry,omitempty" yaml:"industry,omitempty"`
	Revenue     map[string]int `json:"revenue,omitempty" yaml:"revenue,omitempty"`
}

// Config is a versioned scoring configuration. Exactly one version is active
// per team at any time.
type Config struct {
	ID         uuid.UUID       `json:"id"`
	TeamID     uuid.UUID       `json:"teamId"`
	Version    int             `json:"version"`
	Active     bool            `json:"active"`
	Weights    Weights         `json:"weights" yaml:"weights"`
	Bands      Bands           `json:"bands" yaml:"bands"`
	Negative   NegativeSignals `json:"negative" yaml:"negative"`
	Enrichment Enrichment      `json:"enrichment" yaml:"enrichment"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// RuleType distinguishes the two scoring rule shapes.
type RuleType string

const (
	RuleIfThen RuleType = "IF_THEN"
	RuleWeight RuleType = "WEIGHT"
)

// Then is the consequence of a matched IF_THEN rule.
type Then struct {
	Adjust int    `json:"adjust" yaml:"adjust"`
	Reason string `json:"reason" yaml:"reason"`
}

// Definition carries the type-specific rule body. Conditions/Then apply to
// IF_THEN rules, Field/Weights to WEIGHT rules.
type Definition struct {
	Conditions []rules.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Then       Then              `json:"then,omitempty" yaml:"then,omitempty"`
	Field      string            `json:"field,omitempty" yaml:"field,omitempty"`
	Weights    map[string]int    `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Rule is a team-scoped scoring rule evaluated in ascending Order.
type Rule struct {
	ID         uuid.UUID  `json:"id"`
	TeamID     uuid.UUID  `json:"teamId"`
	Name       string     `json:"name" yaml:"name"`
	Order      int        `json:"order" yaml:"order"`
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Type       RuleType   `json:"type" yaml:"type"`
	Definition Definition `json:"definition" yaml:"definition"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Validate rejects a malformed rule at write time, before it is persisted.
func (r Rule) Validate() error {
	switch r.Type {
	case RuleIfThen:
		if len(r.Definition.Conditions) == 0 {
			return fmt.Errorf("IF_THEN rule requires at least one condition")
		}
		if err := rules.ValidateAll(r.Definition.Conditions); err != nil {
			return err
		}
		if r.Definition.Then.Adjust == 0 {
			return fmt.Errorf("IF_THEN rule requires a non-zero adjust")
		}
	case RuleWeight:
		if r.Definition.Field == "" {
			return fmt.Errorf("WEIGHT rule requires a field")
		}
		if len(r.Definition.Weights) == 0 {
			return fmt.Errorf("WEIGHT rule requires a weights map")
		}
	default:
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	return nil
}
