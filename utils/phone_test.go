package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already e164", "+15551234567", "+15551234567"},
		{"missing plus", "15551234567", "+15551234567"},
		{"formatted us number", "(555) 123-4567", "+5551234567"},
		{"dashes and spaces", "1 555-123-4567", "+15551234567"},
		{"leading whitespace", "  +15551234567 ", "+15551234567"},
		{"duplicate plus", "++15551234567", "+15551234567"},
		{"empty", "", ""},
		{"only junk", "---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw))
		})
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	inputs := []string{"+15551234567", "15551234567", "(555) 123-4567", "1 555 123 4567"}
	for _, raw := range inputs {
		once := NormalizePhone(raw)
		assert.Equal(t, once, NormalizePhone(once), "normalizing %q twice must be stable", raw)
	}
}

func TestIsValidPhone(t *testing.T) {
	assert.True(t, IsValidPhone("+15551234567"))
	assert.True(t, IsValidPhone("+2224567890"))
	assert.False(t, IsValidPhone("15551234567"), "missing plus")
	assert.False(t, IsValidPhone("+123"), "too short")
	assert.False(t, IsValidPhone("+1234567890123456"), "too long")
	assert.False(t, IsValidPhone(""))
	assert.False(t, IsValidPhone("+1555123456a"))
}
