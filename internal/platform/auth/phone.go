package auth

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// Identifier channels recognized by the login flow.
const (
	IdentifierEmail = "email"
	IdentifierPhone = "phone"
)

// NormalizeIdentifier classifies a login identifier as an email address or a
// phone number and canonicalizes it: emails are lowercased, phone numbers are
// parsed against the default region and formatted E.164 so that 0801 234 7890
// and +2348012347890 resolve to the same Redis key and user row.
func NormalizeIdentifier(identifier, defaultRegion string) (kind, normalized string, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", "", fmt.Errorf("identifier is required")
	}

	if strings.Contains(identifier, "@") {
		return IdentifierEmail, strings.ToLower(identifier), nil
	}

	e164, err := NormalizePhone(identifier, defaultRegion)
	if err != nil {
		return "", "", err
	}
	return IdentifierPhone, e164, nil
}

// NormalizePhone parses and validates a phone number, returning E.164 form.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	p, err := libphonenumber.Parse(raw, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

// MaskEmail hides most of the local part: john@example.com -> jo***@example.com.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	keep := 2
	if len(local) < 2 {
		keep = 1
	}
	return local[:keep] + "***" + email[at:]
}

// MaskPhone hides the middle of an E.164 number, keeping the country code
// prefix and the last four digits: +2348012347890 -> +234******7890.
func MaskPhone(e164 string) string {
	if len(e164) <= 8 {
		return "****"
	}
	return e164[:4] + strings.Repeat("*", len(e164)-8) + e164[len(e164)-4:]
}
