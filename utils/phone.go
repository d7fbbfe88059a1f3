package utils

import (
	"regexp"
	"strings"
)

var nonPhoneChars = regexp.MustCompile(`[^\d+]`)

// NormalizePhone normalizes a raw phone string to E.164 for storage and
// lookup: strip formatting characters, then prefix "+" if absent. The same
// number in any formatting always normalizes to the same string, which is
// what makes the contact and lead upserts idempotent.
func NormalizePhone(raw string) string {
	cleaned := nonPhoneChars.ReplaceAllString(strings.TrimSpace(raw), "")
	if cleaned == "" {
		return ""
	}
	// Keep only a single leading plus
	cleaned = "+" + strings.ReplaceAll(cleaned, "+", "")
	return cleaned
}

// IsValidPhone reports whether the normalized number looks like E.164:
// a plus followed by 7 to 15 digits.
func IsValidPhone(phone string) bool {
	matched, _ := regexp.MatchString(`^\+\d{7,15}$`, phone)
	return matched
}
