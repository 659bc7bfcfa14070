package trustedhost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorVet(t *testing.T) {
	v := NewValidator(1024)

	tests := []struct {
		name    string
		query   string
		allowed bool
	}{
		{"simple select", "SELECT * FROM users", true},
		{"trailing semicolon", "SELECT 1;", true},
		{"write statement", "INSERT INTO users VALUES (1)", true},
		{"empty", "", false},
		{"whitespace only", "   \t\n", false},
		{"stacked statements", "SELECT 1; DROP TABLE users", false},
		{"stacked with trailing", "SELECT 1; DELETE FROM t;", false},
		{"double trailing semicolon", "SELECT 1;;", false},
		{"null byte", "SELECT 1\x00", false},
		{"semicolon mid statement", "SELECT ';' FROM t", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Vet(tt.query)
			assert.Equal(t, tt.allowed, verdict.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, verdict.Reason)
			}
		})
	}
}

func TestValidatorVetLengthCeiling(t *testing.T) {
	v := NewValidator(32)

	assert.True(t, v.Vet("SELECT 1").Allowed)

	long := "SELECT '" + strings.Repeat("x", 64) + "'"
	verdict := v.Vet(long)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "32 bytes")
}
