// Package trustedhost implements the security validation tier. It accepts
// traffic only from the Gatekeeper, vets each statement, and forwards the
// approved ones to the Proxy administrative port unchanged.
package trustedhost

import (
	"fmt"
	"strings"

	"github.com/queryrelay/queryrelay/internal/models"
)

// Validator vets raw statements before they reach the Proxy
type Validator struct {
	maxQueryLength int
}

// NewValidator creates a validator with the configured length ceiling
func NewValidator(maxQueryLength int) *Validator {
	return &Validator{maxQueryLength: maxQueryLength}
}

// Vet checks one statement and returns the verdict. The statement is
// never rewritten; a failed check rejects the request outright.
func (v *Validator) Vet(query string) models.SecurityVerdict {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return reject("statement is empty")
	}

	if len(query) > v.maxQueryLength {
		return reject(fmt.Sprintf("statement exceeds %d bytes", v.maxQueryLength))
	}

	if strings.ContainsRune(query, 0) {
		return reject("statement contains a null byte")
	}

	// One statement per request. A single trailing semicolon is
	// tolerated; any other semicolon means statement stacking.
	body := strings.TrimSuffix(trimmed, ";")
	if strings.ContainsRune(body, ';') {
		return reject("multiple statements are not allowed")
	}

	return models.SecurityVerdict{Allowed: true}
}

func reject(reason string) models.SecurityVerdict {
	return models.SecurityVerdict{Allowed: false, Reason: reason}
}
