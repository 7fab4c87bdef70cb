// Package dedupe decides whether an incoming lead is a new entity or a
// submission for an existing one, and merges or skips accordingly. At most
// one lead per (team, identity key) exists at any time.
package dedupe

import (
	"strings"
	"unicode"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/phone"
)

// KeyType orders the identity match precedence: email first, then phone,
// then domain+company.
type KeyType string

const (
	KeyEmail         KeyType = "EMAIL"
	KeyPhone         KeyType = "PHONE"
	KeyDomainCompany KeyType = "DOMAIN_COMPANY"
)

// Key is a derived identity fingerprint for a lead.
type Key struct {
	Type  KeyType
	Value string
}

// DeriveKeys computes the identity keys for a lead in match-precedence order.
// Returns nil when the lead carries no usable identity.
func DeriveKeys(lead domain.NormalizedLead, defaultPhoneRegion string) []Key {
	var keys []Key

	if email := strings.ToLower(strings.TrimSpace(lead.Email)); email != "" {
		keys = append(keys, Key{Type: KeyEmail, Value: email})
	}
	if lead.Phone != "" {
		if normalized := phone.NormalizeE164(lead.Phone, defaultPhoneRegion); normalized != "" {
			keys = append(keys, Key{Type: KeyPhone, Value: normalized})
		}
	}
	if lead.Domain != "" && lead.Company != "" {
		value := strings.ToLower(strings.TrimSpace(lead.Domain)) + "|" + NormalizeCompany(lead.Company)
		keys = append(keys, Key{Type: KeyDomainCompany, Value: value})
	}
	return keys
}

// NormalizeCompany case-folds a company name and strips punctuation so that
// "Acme, Inc." and "acme inc" produce the same fingerprint.
func NormalizeCompany(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == ',' || r == '&' || r == '/':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// Other punctuation is dropped entirely.
		}
	}
	return strings.TrimSpace(b.String())
}
