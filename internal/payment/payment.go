// Package payment talks to the payment gateway. The gateway protocol is
// opaque to the pipeline: it only needs authorize and void.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"storefront/internal/config"
	"storefront/pkg/breaker"
)

var (
	// ErrDeclined the gateway refused the charge. Never retried.
	ErrDeclined = errors.New("payment declined")
	// ErrTransient the gateway could not answer. Safe to retry.
	ErrTransient = errors.New("payment service unavailable")
)

// Authorizer places and releases holds on a customer's payment method
type Authorizer interface {
	// Authorize holds amount on the method behind token. The idempotency
	// key makes retries of the same checkout return the same authorization.
	Authorize(ctx context.Context, amount decimal.Decimal, token, idempotencyKey string) (string, error)

	// Void releases an authorization that will never be captured
	Void(ctx context.Context, authorizationID string) error
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// New builds the authorizer selected by payment.driver
func New(cfg *config.Config) (Authorizer, error) {
	switch cfg.Payment.Driver {
	case "", "sandbox":
		return NewSandboxAuthorizer(), nil
	case "http":
		var breakers *breaker.Manager
		if cfg.CircuitBreak.Enabled {
			breakers = breaker.NewManager(breaker.Config{
				MaxRequests:  cfg.CircuitBreak.MaxRequests,
				Interval:     cfg.CircuitBreak.Interval,
				Timeout:      cfg.CircuitBreak.Timeout,
				ReadyToTrip:  breaker.TripOnFailureRatio(cfg.CircuitBreak.MinRequestCount, cfg.CircuitBreak.FailureRatio),
				IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, ErrDeclined) },
			})
		}
		return NewHTTPAuthorizer(HTTPConfig{
			Endpoint: cfg.Payment.Endpoint,
			APIKey:   cfg.Payment.APIKey,
			Timeout:  cfg.Payment.Timeout,
		}, breakers), nil
	default:
		return nil, fmt.Errorf("unsupported payment driver: %s", cfg.Payment.Driver)
	}
}
