package scoring

import (
	"math"
	"strings"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/logger"
)

// Result is the scoring output consumed by dedupe, routing and the timeline.
type Result struct {
	Score int         `json:"score"`
	Band  domain.Band `json:"band"`
	Tags  []string    `json:"tags"`
	Trace rules.Trace `json:"trace"`
}

// Engine computes lead scores. It holds no per-lead state; identical
// (lead, config, rules) inputs always produce identical results.
type Engine struct {
	eval *rules.Evaluator
	log  *logger.Logger
}

func NewEngine(eval *rules.Evaluator, log *logger.Logger) *Engine {
	return &Engine{eval: eval, log: log}
}

// Score runs the scoring algorithm: category weights, enrichment bonuses,
// negative signals, then custom rules in ascending order, clamped to [0,100].
func (e *Engine) Score(lead domain.NormalizedLead, cfg Config, ruleSet []Rule) Result {
	rec := rules.Flatten(lead)

	var (
		total int
		tags  []string
		trace rules.Trace
	)

	add := func(source string, delta int, reason string) {
		if delta == 0 {
			return
		}
		total += delta
		trace = trace.Add(source, delta, reason)
	}

	// Step 1: category weights scaled by derived signal strength.
	if sig, reason := urgencySignal(rec); sig > 0 {
		add("category:urgency", scale(cfg.Weights.Urgency, sig), reason)
	}
	if sig, reason := engagementSignal(rec, lead.Source); sig > 0 {
		add("category:engagement", scale(cfg.Weights.Engagement, sig), reason)
	}
	if sig, reason := jobRoleSignal(rec); sig > 0 {
		add("category:jobRole", scale(cfg.Weights.JobRole, sig), reason)
	}

	// Step 2: enrichment bonuses from externally supplied tags.
	add("enrichment:companySize", enrichmentBonus(rec, "fields.companySize", cfg.Enrichment.CompanySize), "company size bonus")
	add("enrichment:industry", enrichmentBonus(rec, "fields.industry", cfg.Enrichment.Industry), "industry bonus")
	add("enrichment:revenue", enrichmentBonus(rec, "fields.revenue", cfg.Enrichment.Revenue), "revenue bonus")

	// Step 3: negative signals.
	for _, neg := range e.negatives(lead, cfg.Negative) {
		add("negative:"+neg.tag, -neg.penalty, neg.reason)
		tags = append(tags, neg.tag)
	}

	// Step 4: custom rules, ascending order, disabled rules skipped.
	for _, r := range sortedEnabled(ruleSet) {
		switch r.Type {
		case RuleIfThen:
			if e.eval.EvaluateAny(r.Definition.Conditions, rec) {
				add("rule:"+r.Name, r.Definition.Then.Adjust, r.Definition.Then.Reason)
				tags = append(tags, r.Definition.Then.Reason)
			}
		case RuleWeight:
			if value, ok := rec.StringValue(r.Definition.Field); ok {
				if w, matched := lookupWeight(r.Definition.Weights, value); matched {
					add("rule:"+r.Name, w, "weight match on "+r.Definition.Field)
				}
			}
		default:
			if e.log != nil {
				e.log.ConfigWarning(cfg.TeamID.String(), "scoring",
					"rule "+r.Name+" has unknown type "+string(r.Type)+", skipped")
			}
		}
	}

	// Step 5: clamp and band.
	score := clamp(total)
	band := e.band(score, cfg)

	trace = trace.Add("final", 0, "clamped score "+string(band))
	return Result{Score: score, Band: band, Tags: tags, Trace: trace}
}

// band maps a clamped score to a band, high threshold checked first. A
// misconfigured partition defaults to LOW and logs a configuration warning.
func (e *Engine) band(score int, cfg Config) domain.Band {
	if err := cfg.Bands.Validate(); err != nil {
		if e.log != nil {
			e.log.ConfigWarning(cfg.TeamID.String(), "scoring", "invalid band thresholds: "+err.Error())
		}
		return domain.BandLow
	}
	switch {
	case score >= cfg.Bands.High:
		return domain.BandHigh
	case score >= cfg.Bands.Medium:
		return domain.BandMedium
	default:
		return domain.BandLow
	}
}

func scale(weight int, signal float64) int {
	return int(math.Round(float64(weight) * signal))
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func enrichmentBonus(rec rules.Record, field string, table map[string]int) int {
	if len(table) == 0 {
		return 0
	}
	value, ok := rec.StringValue(field)
	if !ok {
		return 0
	}
	w, _ := lookupWeight(table, value)
	return w
}

// lookupWeight matches a value against a weight table, case-insensitively.
func lookupWeight(table map[string]int, value string) (int, bool) {
	if w, ok := table[value]; ok {
		return w, true
	}
	lower := strings.ToLower(value)
	for k, w := range table {
		if strings.ToLower(k) == lower {
			return w, true
		}
	}
	return 0, false
}

func sortedEnabled(ruleSet []Rule) []Rule {
	out := make([]Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			out = append(out, r)
		}
	}
	// Insertion sort keeps the original slice untouched; rule sets are small.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Order < out[j-1].Order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// urgencySignal derives urgency from timeline/urgency fields, falling back to
// paid-traffic UTM markers.
func urgencySignal(rec rules.Record) (float64, string) {
	for _, field := range []string{"fields.timeline", "fields.urgency"} {
		v, ok := rec.StringValue(field)
		if !ok {
			continue
		}
		lower := strings.ToLower(v)
		if containsAny(lower, "asap", "immediate", "urgent", "today", "this week", "now") {
			return 1.0, "urgent timeline: " + v
		}
		if containsAny(lower, "month", "quarter", "soon") {
			return 0.5, "near-term timeline: " + v
		}
	}
	if medium, ok := rec.StringValue("utm.medium"); ok {
		lower := strings.ToLower(medium)
		if lower == "cpc" || lower == "ppc" || lower == "paid" {
			return 0.6, "paid traffic medium: " + medium
		}
	}
	if source, ok := rec.StringValue("utm.source"); ok {
		if strings.Contains(strings.ToLower(source), "ads") {
			return 0.6, "paid traffic source: " + source
		}
	}
	return 0, ""
}

var sourceEngagement = map[string]float64{
	"demo_request":  1.0,
	"pricing":       1.0,
	"contact_sales": 1.0,
	"chat":          0.7,
	"webform":       0.5,
	"webhook":       0.5,
	"social":        0.4,
	"email":         0.4,
	"csv_import":    0.2,
}

// engagementSignal derives engagement from the acquisition channel and page
// activity supplied by tracking.
func engagementSignal(rec rules.Record, source string) (float64, string) {
	sig := 0.3
	reason := "default channel engagement"
	if s, ok := sourceEngagement[strings.ToLower(source)]; ok {
		sig = s
		reason = "channel: " + source
	}
	if pages, ok := rec.Lookup("fields.pagesViewed"); ok {
		if n, numeric := asFloat(pages); numeric && n >= 5 && sig < 1.0 {
			return 1.0, "high page activity"
		}
	}
	return sig, reason
}

var roleTiers = []struct {
	signal   float64
	keywords []string
}{
	{1.0, []string{"ceo", "cto", "cfo", "coo", "chief", "founder", "owner", "president", "vp", "vice president"}},
	{0.7, []string{"director", "head of"}},
	{0.4, []string{"manager", "lead"}},
}

// jobRoleSignal derives seniority from the job title field.
func jobRoleSignal(rec rules.Record) (float64, string) {
	title, ok := rec.StringValue("fields.title")
	if !ok {
		return 0, ""
	}
	lower := strings.ToLower(title)
	for _, tier := range roleTiers {
		if containsAny(lower, tier.keywords...) {
			return tier.signal, "job title: " + title
		}
	}
	return 0, ""
}

type negativeHit struct {
	tag     string
	penalty int
	reason  string
}

var freeEmailProviders = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true,
	"outlook.com": true, "aol.com": true, "icloud.com": true,
	"proton.me": true, "protonmail.com": true, "gmx.com": true,
	"mail.com": true, "live.com": true,
}

func (e *Engine) negatives(lead domain.NormalizedLead, cfg NegativeSignals) []negativeHit {
	var hits []negativeHit

	leadDomain := strings.ToLower(lead.Domain)
	if leadDomain == "" {
		leadDomain = emailDomain(lead.Email)
	}

	if cfg.Competitor > 0 && leadDomain != "" {
		for _, d := range cfg.CompetitorDomains {
			if strings.EqualFold(d, leadDomain) {
				hits = append(hits, negativeHit{"competitor", cfg.Competitor, "competitor domain " + leadDomain})
				break
			}
		}
	}
	if cfg.FreeEmail > 0 && freeEmailProviders[emailDomain(lead.Email)] {
		hits = append(hits, negativeHit{"free_email", cfg.FreeEmail, "free email provider"})
	}
	if cfg.InvalidDomain > 0 && lead.Domain != "" && !validDomain(lead.Domain) {
		hits = append(hits, negativeHit{"invalid_domain", cfg.InvalidDomain, "malformed domain " + lead.Domain})
	}
	if cfg.Spam > 0 && len(cfg.SpamKeywords) > 0 {
		haystack := strings.ToLower(lead.Name + " " + lead.Company + " " + stringField(lead.Fields, "message"))
		for _, kw := range cfg.SpamKeywords {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				hits = append(hits, negativeHit{"spam", cfg.Spam, "spam keyword " + kw})
				break
			}
		}
	}
	return hits
}

// IsFreeMailDomain reports whether the domain belongs to a consumer mail
// provider. Ingestion uses it to avoid deriving a company domain from a
// personal address.
func IsFreeMailDomain(domain string) bool {
	return freeEmailProviders[strings.ToLower(domain)]
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func validDomain(d string) bool {
	if !strings.Contains(d, ".") {
		return false
	}
	return !strings.ContainsAny(d, " \t@/")
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
