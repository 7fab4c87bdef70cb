package dedupe

import (
	"testing"

	"leadflow_backend/internal/leads/domain"
)

func TestDeriveKeysPrecedence(t *testing.T) {
	lead := domain.NormalizedLead{
		Email:   "Jane@Acme.IO",
		Phone:   "(415) 555-2671",
		Company: "Acme, Inc.",
		Domain:  "acme.io",
		Source:  "webform",
	}

	keys := DeriveKeys(lead, "US")
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d: %+v", len(keys), keys)
	}
	if keys[0].Type != KeyEmail || keys[0].Value != "jane@acme.io" {
		t.Errorf("email key not first or not lowercased: %+v", keys[0])
	}
	if keys[1].Type != KeyPhone || keys[1].Value != "+14155552671" {
		t.Errorf("phone key not normalized to E.164: %+v", keys[1])
	}
	if keys[2].Type != KeyDomainCompany || keys[2].Value != "acme.io|acme inc" {
		t.Errorf("domain+company key mismatch: %+v", keys[2])
	}
}

func TestDeriveKeysPartialIdentity(t *testing.T) {
	emailOnly := DeriveKeys(domain.NormalizedLead{Email: "a@b.co"}, "US")
	if len(emailOnly) != 1 || emailOnly[0].Type != KeyEmail {
		t.Errorf("expected single email key, got %+v", emailOnly)
	}

	// Domain without company (or vice versa) is not an identity.
	if keys := DeriveKeys(domain.NormalizedLead{Domain: "acme.io"}, "US"); len(keys) != 0 {
		t.Errorf("domain alone must not produce a key, got %+v", keys)
	}
	if keys := DeriveKeys(domain.NormalizedLead{Company: "Acme"}, "US"); len(keys) != 0 {
		t.Errorf("company alone must not produce a key, got %+v", keys)
	}
	if keys := DeriveKeys(domain.NormalizedLead{Source: "webform"}, "US"); len(keys) != 0 {
		t.Errorf("no identity fields must produce no keys, got %+v", keys)
	}
}

func TestNormalizeCompany(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme, Inc.", "acme inc"},
		{"ACME INC", "acme inc"},
		{"acme-inc", "acme inc"},
		{"  Acme   Inc  ", "acme inc"},
		{"Müller & Söhne GmbH", "müller söhne gmbh"},
		{"A/B Testing Co.", "a b testing co"},
	}
	for _, tc := range tests {
		if got := NormalizeCompany(tc.in); got != tc.want {
			t.Errorf("NormalizeCompany(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
