package scoring

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type defaultsFile struct {
	Config Config `yaml:"config"`
	Rules  []Rule `yaml:"rules"`
}

var (
	defaultsOnce   sync.Once
	defaultsParsed defaultsFile
	defaultsErr    error
)

// Defaults returns the built-in scoring configuration and rule set used when
// a team has no active config or no rules of its own. Callers stamp the
// returned values with the team id; the embedded file carries none.
func Defaults() (Config, []Rule, error) {
	defaultsOnce.Do(func() {
		if err := yaml.Unmarshal(defaultsYAML, &defaultsParsed); err != nil {
			defaultsErr = fmt.Errorf("parse embedded scoring defaults: %w", err)
			return
		}
		if err := defaultsParsed.Config.Bands.Validate(); err != nil {
			defaultsErr = fmt.Errorf("embedded scoring defaults: %w", err)
			return
		}
		for i := range defaultsParsed.Rules {
			if err := defaultsParsed.Rules[i].Validate(); err != nil {
				defaultsErr = fmt.Errorf("embedded scoring defaults rule %q: %w", defaultsParsed.Rules[i].Name, err)
				return
			}
		}
	})
	if defaultsErr != nil {
		return Config{}, nil, defaultsErr
	}

	cfg := defaultsParsed.Config
	out := make([]Rule, len(defaultsParsed.Rules))
	copy(out, defaultsParsed.Rules)
	return cfg, out, nil
}
