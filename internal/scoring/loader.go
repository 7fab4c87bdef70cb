package scoring

import (
	"context"

	"github.com/google/uuid"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// ConfigSource loads persisted scoring configuration. Implemented by the
// repository subpackage; faked in tests.
type ConfigSource interface {
	GetActiveConfig(ctx context.Context, teamID uuid.UUID) (Config, error)
	ListRules(ctx context.Context, teamID uuid.UUID) ([]Rule, error)
}

// Loader resolves the effective (config, rules) pair for a team, falling back
// to the embedded defaults when the team has no active config or zero rules.
type Loader struct {
	src ConfigSource
	log *logger.Logger
}

func NewLoader(src ConfigSource, log *logger.Logger) *Loader {
	return &Loader{src: src, log: log}
}

// ForTeam returns the scoring inputs the engine should use for this team.
func (l *Loader) ForTeam(ctx context.Context, teamID uuid.UUID) (Config, []Rule, error) {
	cfg, err := l.src.GetActiveConfig(ctx, teamID)
	switch {
	case err == nil:
	case apperr.GetKind(err) == apperr.KindNotFound:
		defCfg, _, derr := Defaults()
		if derr != nil {
			return Config{}, nil, derr
		}
		if l.log != nil {
			l.log.ConfigWarning(teamID.String(), "scoring", "no active config, using defaults")
		}
		defCfg.TeamID = teamID
		cfg = defCfg
	default:
		return Config{}, nil, err
	}

	ruleSet, err := l.src.ListRules(ctx, teamID)
	if err != nil {
		return Config{}, nil, err
	}
	if len(ruleSet) == 0 {
		_, defRules, derr := Defaults()
		if derr != nil {
			return Config{}, nil, derr
		}
		if l.log != nil {
			l.log.ConfigWarning(teamID.String(), "scoring", "no rules configured, using default rule set")
		}
		for i := range defRules {
			defRules[i].TeamID = teamID
		}
		ruleSet = defRules
	}
	return cfg, ruleSet, nil
}
