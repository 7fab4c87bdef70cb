package dedupe

import (
	"leadflow_backend/internal/leads/domain"
)

// Policy governs what happens when an incoming lead matches an existing one.
type Policy string

const (
	// PolicyMerge fills gaps on the existing lead without overwriting
	// populated fields. Default.
	PolicyMerge Policy = "merge"
	// PolicyCRMWins lets CRM-sourced updates overwrite populated fields.
	PolicyCRMWins Policy = "crm_wins"
	// PolicyNewestWins lets any newer submission overwrite populated fields.
	PolicyNewestWins Policy = "newest_wins"
	// PolicySkip makes no changes and reports the existing lead.
	PolicySkip Policy = "skip"
	// PolicyCreateNew bypasses matching entirely for explicit re-entry flows.
	PolicyCreateNew Policy = "create_new"
)

// ValidPolicy reports whether p is a known dedupe policy.
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyMerge, PolicyCRMWins, PolicyNewestWins, PolicySkip, PolicyCreateNew:
		return true
	}
	return false
}

// mergeFields applies the incoming submission to the existing lead in place.
// The existing lead's identity and id are always kept. Under PolicyMerge a
// populated field is never overwritten; under PolicyCRMWins/PolicyNewestWins
// non-empty incoming values win. Reports whether anything changed.
func mergeFields(existing *domain.Lead, incoming domain.NormalizedLead, policy Policy) bool {
	overwrite := policy == PolicyCRMWins || policy == PolicyNewestWins
	changed := false

	set := func(dst **string, src string) {
		if src == "" {
			return
		}
		if *dst == nil || (overwrite && **dst != src) {
			v := src
			*dst = &v
			changed = true
		}
	}

	set(&existing.Email, incoming.Email)
	set(&existing.Name, incoming.Name)
	set(&existing.Phone, incoming.Phone)
	set(&existing.Company, incoming.Company)
	set(&existing.Domain, incoming.Domain)
	set(&existing.SourceRef, incoming.SourceRef)

	if mergeMap(&existing.Fields, incoming.Fields, overwrite) {
		changed = true
	}
	if mergeMap(&existing.UTM, incoming.UTM, overwrite) {
		changed = true
	}
	return changed
}

func mergeMap(dst *map[string]any, src map[string]any, overwrite bool) bool {
	if len(src) == 0 {
		return false
	}
	if *dst == nil {
		*dst = make(map[string]any, len(src))
	}
	changed := false
	for k, v := range src {
		if _, present := (*dst)[k]; present && !overwrite {
			continue
		}
		(*dst)[k] = v
		changed = true
	}
	return changed
}
