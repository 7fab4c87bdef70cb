package scoring

import (
	"reflect"
	"testing"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/rules"
)

func newTestEngine() *Engine {
	return NewEngine(rules.NewEvaluator(nil), nil)
}

func defaultInputs(t *testing.T) (Config, []Rule) {
	t.Helper()
	cfg, ruleSet, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults() error: %v", err)
	}
	return cfg, ruleSet
}

func TestScoreExecutivePaidSearchBandsHigh(t *testing.T) {
	cfg, ruleSet := defaultInputs(t)
	lead := domain.NormalizedLead{
		Email:   "ceo@bigcorp.com",
		Name:    "Alex Chen",
		Company: "BigCorp",
		Domain:  "bigcorp.com",
		Source:  "webform",
		Fields:  map[string]any{"title": "CEO"},
		UTM:     map[string]any{"source": "google-ads"},
	}

	result := newTestEngine().Score(lead, cfg, ruleSet)

	if result.Score < 80 {
		t.Errorf("expected score >= 80, got %d (trace: %+v)", result.Score, result.Trace)
	}
	if result.Band != domain.BandHigh {
		t.Errorf("expected HIGH band, got %s", result.Band)
	}
	if !hasTag(result.Tags, "paid_search") {
		t.Errorf("expected paid_search tag, got %v", result.Tags)
	}
}

func TestScoreCompetitorBandsLow(t *testing.T) {
	cfg, ruleSet := defaultInputs(t)
	lead := domain.NormalizedLead{
		Email:   "someone@typeform.com",
		Company: "Typeform",
		Domain:  "typeform.com",
		Source:  "webform",
	}

	result := newTestEngine().Score(lead, cfg, ruleSet)

	if result.Score > 20 {
		t.Errorf("expected score <= 20, got %d (trace: %+v)", result.Score, result.Trace)
	}
	if result.Band != domain.BandLow {
		t.Errorf("expected LOW band, got %s", result.Band)
	}
	if !hasTag(result.Tags, "competitor") {
		t.Errorf("expected competitor tag, got %v", result.Tags)
	}
}

func TestScoreIsPure(t *testing.T) {
	cfg, ruleSet := defaultInputs(t)
	lead := domain.NormalizedLead{
		Email:  "jane@acme.io",
		Source: "demo_request",
		Fields: map[string]any{"title": "VP of Sales", "companySize": "201-1000"},
		UTM:    map[string]any{"source": "google-ads", "medium": "cpc"},
	}

	engine := newTestEngine()
	first := engine.Score(lead, cfg, ruleSet)
	for i := 0; i < 5; i++ {
		again := engine.Score(lead, cfg, ruleSet)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("scoring is not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestScoreClampsToRange(t *testing.T) {
	cfg, _ := defaultInputs(t)

	boost := []Rule{{
		Name: "mega-boost", Order: 1, Enabled: true, Type: RuleIfThen,
		Definition: Definition{
			Conditions: []rules.Condition{{Field: "email", Operator: rules.OpExists}},
			Then:       Then{Adjust: 500, Reason: "boost"},
		},
	}}
	result := newTestEngine().Score(domain.NormalizedLead{Email: "a@b.co", Source: "webform"}, cfg, boost)
	if result.Score != 100 {
		t.Errorf("expected clamp to 100, got %d", result.Score)
	}

	sink := []Rule{{
		Name: "mega-penalty", Order: 1, Enabled: true, Type: RuleIfThen,
		Definition: Definition{
			Conditions: []rules.Condition{{Field: "email", Operator: rules.OpExists}},
			Then:       Then{Adjust: -500, Reason: "penalty"},
		},
	}}
	result = newTestEngine().Score(domain.NormalizedLead{Email: "a@b.co", Source: "webform"}, cfg, sink)
	if result.Score != 0 {
		t.Errorf("expected clamp to 0, got %d", result.Score)
	}
}

func TestScoreSkipsDisabledRulesAndRespectsOrder(t *testing.T) {
	cfg, _ := defaultInputs(t)
	lead := domain.NormalizedLead{Email: "a@b.co", Source: "webform"}

	ruleSet := []Rule{
		{
			Name: "disabled", Order: 1, Enabled: false, Type: RuleIfThen,
			Definition: Definition{
				Conditions: []rules.Condition{{Field: "email", Operator: rules.OpExists}},
				Then:       Then{Adjust: 50, Reason: "should_not_fire"},
			},
		},
		{
			Name: "second", Order: 20, Enabled: true, Type: RuleIfThen,
			Definition: Definition{
				Conditions: []rules.Condition{{Field: "email", Operator: rules.OpExists}},
				Then:       Then{Adjust: 5, Reason: "second"},
			},
		},
		{
			Name: "first", Order: 10, Enabled: true, Type: RuleIfThen,
			Definition: Definition{
				Conditions: []rules.Condition{{Field: "email", Operator: rules.OpExists}},
				Then:       Then{Adjust: 5, Reason: "first"},
			},
		},
	}

	result := newTestEngine().Score(lead, cfg, ruleSet)

	if hasTag(result.Tags, "should_not_fire") {
		t.Error("disabled rule fired")
	}
	firstIdx, secondIdx := -1, -1
	for i, entry := range result.Trace {
		switch entry.Source {
		case "rule:first":
			firstIdx = i
		case "rule:second":
			secondIdx = i
		}
	}
	if firstIdx == -1 || secondIdx == -1 || firstIdx > secondIdx {
		t.Errorf("rules not evaluated in ascending order: trace %+v", result.Trace)
	}
}

func TestScoreWeightRule(t *testing.T) {
	cfg, _ := defaultInputs(t)
	ruleSet := []Rule{{
		Name: "size", Order: 1, Enabled: true, Type: RuleWeight,
		Definition: Definition{
			Field:   "fields.companySize",
			Weights: map[string]int{"1000+": 20, "51-200": 5},
		},
	}}

	matched := newTestEngine().Score(domain.NormalizedLead{
		Email: "a@b.co", Source: "webform",
		Fields: map[string]any{"companySize": "1000+"},
	}, cfg, ruleSet)
	unmatched := newTestEngine().Score(domain.NormalizedLead{
		Email: "a@b.co", Source: "webform",
		Fields: map[string]any{"companySize": "unknown"},
	}, cfg, ruleSet)

	if matched.Score-unmatched.Score != 20 {
		t.Errorf("expected weight rule to add 20, got matched=%d unmatched=%d", matched.Score, unmatched.Score)
	}
}

func TestBandMisconfigurationDefaultsToLow(t *testing.T) {
	cfg, ruleSet := defaultInputs(t)
	cfg.Bands = Bands{High: 40, Medium: 70, Low: 0} // inverted thresholds

	lead := domain.NormalizedLead{
		Email:  "ceo@bigcorp.com",
		Source: "webform",
		Fields: map[string]any{"title": "CEO"},
		UTM:    map[string]any{"source": "google-ads"},
	}
	result := newTestEngine().Score(lead, cfg, ruleSet)

	if result.Band != domain.BandLow {
		t.Errorf("misconfigured bands must default to LOW, got %s", result.Band)
	}
}

func TestBandsValidate(t *testing.T) {
	tests := []struct {
		name    string
		bands   Bands
		wantErr bool
	}{
		{"valid", Bands{High: 70, Medium: 40, Low: 0}, false},
		{"low not zero", Bands{High: 70, Medium: 40, Low: 10}, true},
		{"medium below low", Bands{High: 70, Medium: 0, Low: 0}, true},
		{"high below medium", Bands{High: 40, Medium: 70, Low: 0}, true},
		{"high above 100", Bands{High: 150, Medium: 40, Low: 0}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.bands.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate(%+v) error = %v, wantErr %v", tc.bands, err, tc.wantErr)
			}
		})
	}
}

func TestFreeEmailPenalty(t *testing.T) {
	cfg, _ := defaultInputs(t)

	corp := newTestEngine().Score(domain.NormalizedLead{
		Email: "jane@acme.io", Source: "webform",
	}, cfg, nil)
	free := newTestEngine().Score(domain.NormalizedLead{
		Email: "jane@gmail.com", Source: "webform",
	}, cfg, nil)

	if corp.Score-free.Score != cfg.Negative.FreeEmail {
		t.Errorf("expected free email penalty %d, got corp=%d free=%d",
			cfg.Negative.FreeEmail, corp.Score, free.Score)
	}
	if !hasTag(free.Tags, "free_email") {
		t.Errorf("expected free_email tag, got %v", free.Tags)
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
