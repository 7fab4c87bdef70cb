package rules

import (
	"fmt"
	"strconv"
	"strings"

	"leadflow_backend/internal/leads/domain"
)

// Record is a lead flattened to dotted paths: top-level scalars plus
// "fields.*" and "utm.*" entries. Nested maps inside fields/utm flatten
// recursively ("fields.address.city").
type Record map[string]any

// Flatten builds the evaluation record for a normalized lead.
func Flatten(lead domain.NormalizedLead) Record {
	rec := Record{}

	setIfNotEmpty(rec, "email", lead.Email)
	setIfNotEmpty(rec, "name", lead.Name)
	setIfNotEmpty(rec, "phone", lead.Phone)
	setIfNotEmpty(rec, "company", lead.Company)
	setIfNotEmpty(rec, "domain", lead.Domain)
	setIfNotEmpty(rec, "source", lead.Source)
	setIfNotEmpty(rec, "sourceRef", lead.SourceRef)

	flattenInto(rec, "fields", lead.Fields)
	flattenInto(rec, "utm", lead.UTM)

	return rec
}

// Set adds a computed value (e.g. score, band) so downstream rule sets can
// reference pipeline results the lead itself does not carry.
func (r Record) Set(field string, value any) {
	r[field] = value
}

// Lookup returns the value at a dotted path and whether it is present.
func (r Record) Lookup(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// StringValue returns the value at a dotted path rendered as a string.
func (r Record) StringValue(field string) (string, bool) {
	v, ok := r[field]
	if !ok {
		return "", false
	}
	return toString(v), true
}

func setIfNotEmpty(rec Record, key, value string) {
	if value != "" {
		rec[key] = value
	}
}

func flattenInto(rec Record, prefix string, values map[string]any) {
	for k, v := range values {
		key := prefix + "." + k
		if nested, ok := v.(map[string]any); ok {
			flattenInto(rec, key, nested)
			continue
		}
		rec[key] = v
	}
}

// toString renders a record value for string comparison.
func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toFloat attempts a numeric interpretation of a record value.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
