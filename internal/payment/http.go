package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storefront/pkg/breaker"
)

// HTTPConfig gateway endpoint settings
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Breaker names, one per gateway operation
const (
	BreakerAuthorize = "payment.authorize"
	BreakerVoid      = "payment.void"
)

// HTTPAuthorizer JSON-over-HTTP gateway client. 402 and 422 are declines,
// 5xx and network errors are transient.
type HTTPAuthorizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breakers *breaker.Manager
}

// NewHTTPAuthorizer creates a gateway client; breakers may be nil
func NewHTTPAuthorizer(cfg HTTPConfig, breakers *breaker.Manager) *HTTPAuthorizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPAuthorizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakers: breakers,
	}
}

type authorizeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
}

type authorizeResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Reason          string `json:"reason,omitempty"`
}

// Authorize POST /authorizations
func (a *HTTPAuthorizer) Authorize(ctx context.Context, amount decimal.Decimal, token, idempotencyKey string) (string, error) {
	var out authorizeResponse
	err := a.call(ctx, BreakerAuthorize, http.MethodPost, "/authorizations", idempotencyKey, authorizeRequest{Amount: amount, Token: token}, &out)
	if err != nil {
		return "", err
	}
	if out.AuthorizationID == "" {
		return "", fmt.Errorf("gateway returned no authorization id: %w", ErrTransient)
	}
	return out.AuthorizationID, nil
}

// BreakerStates state of each operation's breaker
func (a *HTTPAuthorizer) BreakerStates() map[string]string {
	if a.breakers == nil {
		return nil
	}
	return a.breakers.States()
}

// ResetBreaker closes the named breaker after the gateway recovered
func (a *HTTPAuthorizer) ResetBreaker(name string) bool {
	if a.breakers == nil {
		return false
	}
	return a.breakers.Reset(name)
}

// Void POST /authorizations/{id}/void
func (a *HTTPAuthorizer) Void(ctx context.Context, authorizationID string) error {
	return a.call(ctx, BreakerVoid, http.MethodPost, "/authorizations/"+authorizationID+"/void", "", nil, nil)
}

func (a *HTTPAuthorizer) call(ctx context.Context, breakerName, method, path, idempotencyKey string, in, out interface{}) error {
	do := func() error {
		return a.do(ctx, method, path, idempotencyKey, in, out)
	}
	if a.breakers == nil {
		return do()
	}

	err := a.breakers.Execute(ctx, breakerName, do)
	if breaker.IsCircuitBreakerError(err) {
		return fmt.Errorf("%v: %w", err, ErrTransient)
	}
	return err
}

func (a *HTTPAuthorizer) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode payment request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrTransient)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read payment response: %v: %w", err, ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("gateway status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), ErrDeclined)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("gateway status %d: %w", resp.StatusCode, ErrTransient)
	case resp.StatusCode >= 300:
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payment response: %v: %w", err, ErrTransient)
	}
	return nil
}
