package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox tokens with fixed outcomes
const (
	TokenDecline     = "tok_decline"
	TokenUnavailable = "tok_unavailable"
)

// SandboxAuthorizer in-process gateway for development and tests. Any
// token other than the magic ones is approved.
type SandboxAuthorizer struct {
	mu     sync.Mutex
	byKey  map[string]string
	holds  map[string]decimal.Decimal
	voided map[string]bool
}

// NewSandboxAuthorizer creates a sandbox gateway
func NewSandboxAuthorizer() *SandboxAuthorizer {
	return &SandboxAuthorizer{
		byKey:  make(map[string]string),
		holds:  make(map[string]decimal.Decimal),
		voided: make(map[string]bool),
	}
}

// Authorize approves, declines or fails based on the token
func (s *SandboxAuthorizer) Authorize(ctx context.Context, amount decimal.Decimal, token, idempotencyKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch token {
	case TokenDecline:
		return "", ErrDeclined
	case TokenUnavailable:
		return "", fmt.Errorf("sandbox: %w", ErrTransient)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("sandbox: amount %s: %w", amount, ErrDeclined)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := s.byKey[idempotencyKey]; ok {
			return id, nil
		}
	}

	id := "auth_" + uuid.NewString()
	s.holds[id] = amount
	if idempotencyKey != "" {
		s.byKey[idempotencyKey] = id
	}
	return id, nil
}

// Void releases a hold; unknown ids are ignored
func (s *SandboxAuthorizer) Void(ctx context.Context, authorizationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[authorizationID]; ok {
		s.voided[authorizationID] = true
	}
	return nil
}

// Voided reports whether an authorization was voided
func (s *SandboxAuthorizer) Voided(authorizationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voided[authorizationID]
}
