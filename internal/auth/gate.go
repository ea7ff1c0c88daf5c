// Package auth implements the shared access code gate operators pass before
// booking on.
package auth

import (
	"crypto/subtle"
	"strings"

	"controlroom/pkg/domain"
)

// Gate checks the shared access code.
type Gate struct {
	code []byte
}

// NewGate builds a gate for code.
func NewGate(code string) *Gate {
	return &Gate{code: []byte(code)}
}

// Check reports whether input matches the configured code.
func (g *Gate) Check(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return &domain.ValidationError{Field: "accessCode", Reason: domain.ReasonMissing}
	}
	if len(g.code) == 0 || subtle.ConstantTimeCompare([]byte(input), g.code) != 1 {
		return domain.ErrAccessDenied
	}
	return nil
}
