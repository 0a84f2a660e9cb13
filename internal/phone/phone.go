// Package phone canonicalizes the phone number strings that arrive from the
// CRM, the messaging backend, and manual chat input, which disagree about
// country codes, separators, and the mobile-prefix 9.
package phone

import "strings"

// DefaultCountryCode is the home-market country calling code assumed for
// unprefixed numbers. Deployments targeting another market override it via
// configuration; the default is load-bearing because stored routing history
// was normalized with it.
const DefaultCountryCode = "55"

const minDigits = 10

// Normalize strips a raw phone string down to digits and infers a country
// code. An 11-digit result that does not already start with the country code
// gets it prepended. This is a heuristic: it assumes unprefixed 11-digit
// numbers are domestic. Fewer than 10 digits is unusable and returns ok=false.
//
// Normalize is pure and idempotent: normalizing an already-normalized number
// returns it unchanged.
func Normalize(raw, countryCode string) (string, bool) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) < minDigits {
		return "", false
	}
	if len(digits) == 11 && !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits, true
}

// Last10 returns the trailing 10 digits of a normalized number. It is the
// tolerant matching key: country-code presence and the leading mobile 9 vary
// by ingestion path, but the subscriber tail does not.
func Last10(normalized string) string {
	if len(normalized) <= 10 {
		return normalized
	}
	return normalized[len(normalized)-10:]
}

// Match reports whether two raw phone strings refer to the same number under
// normalization and last-10 tolerance.
func Match(a, b, countryCode string) bool {
	na, ok := Normalize(a, countryCode)
	if !ok {
		return false
	}
	nb, ok := Normalize(b, countryCode)
	if !ok {
		return false
	}
	return Last10(na) == Last10(nb)
}
