// Package phone canonicalizes phone numbers and derives the ordered lookup
// variants used for tenant directory queries. All functions are pure.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrUnparsable is returned when the input cannot be read as a plausible
// phone number.
var ErrUnparsable = errors.New("phone number unparsable")

// Normalize parses raw against the default region and returns the canonical
// E.164 form.
func Normalize(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty input: %w", ErrUnparsable)
	}

	parsed, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, ErrUnparsable)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid number %q: %w", raw, ErrUnparsable)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// BestEffort returns the canonical form when the input parses, otherwise the
// trimmed raw string. Inbound processing keys conversations by this value so
// unparsable senders still get a durable thread.
func BestEffort(raw, region string) string {
	canon, err := Normalize(raw, region)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return canon
}

// DigitsOnly strips everything but decimal digits.
func DigitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NationalNumber returns the national significant number (country code
// stripped) when the input is at least a possible number, else "".
func NationalNumber(raw, region string) string {
	parsed, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil || !phonenumbers.IsPossibleNumber(parsed) {
		return ""
	}
	return phonenumbers.GetNationalSignificantNumber(parsed)
}

// Variants returns the ordered, deduplicated candidate representations for a
// directory lookup: as received, E.164, national significant number,
// digits only. A successful negative lookup must have tried all of them.
func Variants(raw, region string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	candidates := []string{trimmed}
	if canon, err := Normalize(trimmed, region); err == nil {
		candidates = append(candidates, canon)
	}
	if nsn := NationalNumber(trimmed, region); nsn != "" {
		candidates = append(candidates, nsn)
	}
	if digits := DigitsOnly(trimmed); digits != "" {
		candidates = append(candidates, digits)
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
