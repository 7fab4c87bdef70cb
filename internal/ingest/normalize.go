// Package ingest is the inbound boundary: it authenticates submitters,
// normalizes arbitrary channel payloads into the pipeline's input contract
// and archives every raw payload before any processing can fail.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/scoring"
)

// Aliases accepted for the well-known top-level fields. Form builders and
// CRMs disagree on naming; everything unrecognized lands in Fields untouched.
var fieldAliases = map[string]string{
	"email":         "email",
	"email_address": "email",
	"emailaddress":  "email",
	"name":          "name",
	"full_name":     "name",
	"fullname":      "name",
	"contact_name":  "name",
	"phone":         "phone",
	"phone_number":  "phone",
	"phonenumber":   "phone",
	"tel":           "phone",
	"company":       "company",
	"company_name":  "company",
	"organization":  "company",
	"domain":        "domain",
	"website":       "domain",
	"web_site":      "domain",
}

// Normalize maps a raw JSON submission onto the pipeline input contract.
// Unknown keys are preserved in Fields; utm_* keys are collected into UTM.
func Normalize(raw []byte, source, sourceRef string) (domain.NormalizedLead, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.NormalizedLead{}, fmt.Errorf("failed to decode submission payload: %w", err)
	}
	return NormalizeMap(payload, source, sourceRef), nil
}

// NormalizeMap is Normalize for already-decoded payloads (batch rows).
func NormalizeMap(payload map[string]any, source, sourceRef string) domain.NormalizedLead {
	lead := domain.NormalizedLead{
		Source:    source,
		SourceRef: sourceRef,
	}

	for key, value := range payload {
		lower := strings.ToLower(strings.TrimSpace(key))

		if strings.HasPrefix(lower, "utm_") {
			if lead.UTM == nil {
				lead.UTM = make(map[string]any)
			}
			lead.UTM[strings.TrimPrefix(lower, "utm_")] = value
			continue
		}
		if lower == "utm" {
			if nested, ok := value.(map[string]any); ok {
				if lead.UTM == nil {
					lead.UTM = make(map[string]any)
				}
				for k, v := range nested {
					lead.UTM[strings.ToLower(k)] = v
				}
				continue
			}
		}

		canonical, known := fieldAliases[lower]
		if !known {
			if lead.Fields == nil {
				lead.Fields = make(map[string]any)
			}
			lead.Fields[key] = value
			continue
		}

		text := asString(value)
		switch canonical {
		case "email":
			lead.Email = strings.ToLower(strings.TrimSpace(text))
		case "name":
			lead.Name = strings.TrimSpace(text)
		case "phone":
			lead.Phone = strings.TrimSpace(text)
		case "company":
			lead.Company = strings.TrimSpace(text)
		case "domain":
			lead.Domain = cleanDomain(text)
		}
	}

	// A corporate email implies the company domain when none was submitted.
	if lead.Domain == "" && lead.Email != "" {
		if at := strings.LastIndex(lead.Email, "@"); at >= 0 && at < len(lead.Email)-1 {
			emailDomain := lead.Email[at+1:]
			if !scoring.IsFreeMailDomain(emailDomain) {
				lead.Domain = emailDomain
			}
		}
	}

	return lead
}

// cleanDomain strips scheme, path and www from a website value.
func cleanDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if slash := strings.Index(d, "/"); slash >= 0 {
		d = d[:slash]
	}
	d = strings.TrimPrefix(d, "www.")
	return d
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
