package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/payment"
	"storefront/internal/repository"
	"storefront/internal/service/catalog"
	"storefront/pkg/degrade"
	"storefront/pkg/log"
	"storefront/pkg/queue"
	"storefront/pkg/retry"
	"storefront/pkg/snowflake"
	"storefront/pkg/utils"
)

// CheckoutService checkout orchestrator interface
type CheckoutService interface {
	// Checkout validates the cart, authorizes payment and hands the order
	// to the fulfillment worker
	Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error)
}

// CartReader reads the cart snapshot
type CartReader interface {
	GetSnapshot(ctx context.Context, userID uint64) (*model.CartSnapshot, error)
}

// CheckoutRequest checkout request
type CheckoutRequest struct {
	UserID          uint64 `json:"-"`
	PaymentToken    string `json:"payment_token" binding:"required"`
	ShippingAddress string `json:"shipping_address" binding:"required,max=500"`
	IdempotencyKey  string `json:"-"`
}

// MaxIdempotencyKeyLength longest accepted Idempotency-Key
const MaxIdempotencyKeyLength = 128

// CheckoutResult checkout result
type CheckoutResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Options checkout tuning
type Options struct {
	TaxRate        decimal.Decimal
	PriceTolerance decimal.Decimal
	RequestTimeout time.Duration
	PaymentRetry   retry.Policy
	EnqueueRetry   retry.Policy
	IdempotencyTTL time.Duration
}

// DefaultOptions 8% tax, 1% price tolerance, 20s budget, payment retried
// 3 times from 2s, enqueue retried 3 times from 200ms
func DefaultOptions() Options {
	return Options{
		TaxRate:        decimal.RequireFromString("0.08"),
		PriceTolerance: decimal.RequireFromString("0.01"),
		RequestTimeout: 20 * time.Second,
		PaymentRetry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			Multiplier:   2,
		},
		EnqueueRetry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			Multiplier:   2,
		},
		IdempotencyTTL: 24 * time.Hour,
	}
}

// OptionsFromConfig builds options from the checkout section
func OptionsFromConfig(cfg config.CheckoutConfig) Options {
	return Options{
		TaxRate:        cfg.TaxRateDecimal(),
		PriceTolerance: cfg.PriceToleranceDecimal(),
		RequestTimeout: cfg.RequestTimeout,
		PaymentRetry:   policyFromConfig(cfg.PaymentRetry),
		EnqueueRetry:   policyFromConfig(cfg.EnqueueRetry),
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
}

func policyFromConfig(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
	}
}

// Dependencies collaborators of the orchestrator. Idempotency is optional;
// without it a replayed Idempotency-Key is not deduplicated.
type Dependencies struct {
	Carts    CartReader
	Catalog  catalog.ProductCatalog
	Payments payment.Authorizer
	Queue    queue.TaskQueue
	IDs      *snowflake.IDGenerator
	Switches *degrade.Manager

	Idempotency repository.IdempotencyRepository

	Metrics  *monitor.MetricsCollector
	Tracer   *monitor.Tracer
}

// checkoutService checkout service implementation
type checkoutService struct {
	deps Dependencies
	opts Options
	now  func() time.Time
}

// NewCheckoutService creates a checkout service
func NewCheckoutService(deps Dependencies, opts Options) CheckoutService {
	return &checkoutService{
		deps: deps,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// validatedCart cart snapshot plus the totals charged for it
type validatedCart struct {
	snapshot *model.CartSnapshot
	totals   model.Totals
}

// Checkout runs ValidateCart, Authorize and Enqueue in order
func (s *checkoutService) Checkout(ctx context.Context, req *CheckoutRequest) (result *CheckoutResult, err error) {
	startTime := time.Now()
	defer func() {
		code := string(utils.CodeOK)
		if err != nil {
			code = string(utils.GetErrorCode(err))
		}
		s.deps.Metrics.RecordCheckout(code, time.Since(startTime))
	}()

	if s.deps.Switches.IsSuspended(degrade.ScopeCheckout) {
		return nil, utils.ErrCheckoutSuspended
	}

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	ctx, span := s.deps.Tracer.StartCheckoutSpan(ctx, req.UserID)
	defer span.End()

	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return nil, utils.NewError(utils.CodeInvalidParam,
			fmt.Sprintf("idempotency key longer than %d characters", MaxIdempotencyKeyLength))
	}

	// one order id per checkout; a replayed key maps back to it
	orderID := s.deps.IDs.NextString()
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	} else if s.deps.Idempotency != nil {
		replay, claimErr := s.claimKey(ctx, req, orderID)
		if claimErr != nil || replay != nil {
			return replay, claimErr
		}
		defer func() {
			if err != nil {
				s.releaseKey(ctx, req, orderID)
			}
		}()
	}

	fields := map[string]interface{}{
		"user_id":         req.UserID,
		"order_id":        orderID,
		"idempotency_key": req.IdempotencyKey,
	}
	log.WithFields(fields).Info("Start processing checkout")

	// ========== Step 1: Validate cart ==========
	cart, err := s.validateCart(ctx, req.UserID)
	if err != nil {
		monitor.RecordError(span, err)
		log.WithFields(fields).WithError(err).Warn("Cart validation failed")
		return nil, err
	}

	// ========== Step 2: Authorize payment ==========
	authorizationID, err := s.authorize(ctx, cart.totals.Total, req)
	if err != nil {
		monitor.RecordError(span, err)
		log.WithFields(fields).WithError(err).Warn("Payment authorization failed")
		return nil, err
	}

	// ========== Step 3: Enqueue order task ==========
	task := &model.OrderTask{
		OrderID:                orderID,
		UserID:                 req.UserID,
		Items:                  cart.snapshot.Lines,
		Subtotal:               cart.totals.Subtotal,
		Tax:                    cart.totals.Tax,
		Total:                  cart.totals.Total,
		PaymentAuthorizationID: authorizationID,
		ShippingAddress:        req.ShippingAddress,
		EnqueuedAt:             s.now(),
	}
	if err := s.enqueue(ctx, task); err != nil {
		monitor.RecordError(span, err)
		log.WithFields(fields).WithError(err).Error("Failed to enqueue order task")
		s.voidAuthorization(ctx, authorizationID, task.OrderID)
		return nil, utils.WrapError(err, utils.CodeOrderEnqueueFailed, utils.ErrOrderEnqueueFailed.Message)
	}

	// ========== Step 4: Accepted ==========
	if s.deps.Idempotency != nil {
		s.completeKey(ctx, req, orderID)
	}
	log.WithFields(map[string]interface{}{
		"user_id":  req.UserID,
		"order_id": task.OrderID,
		"total":    task.Total.StringFixed(model.MoneyPlaces),
		"items":    len(task.Items),
	}).Info("Checkout accepted")

	return &CheckoutResult{
		OrderID: task.OrderID,
		Status:  model.OrderStatusProcessing,
	}, nil
}

// claimKey binds the client key to orderID. A non-nil result is the answer
// of the checkout that took the key first.
func (s *checkoutService) claimKey(ctx context.Context, req *CheckoutRequest, orderID string) (*CheckoutResult, error) {
	claim, claimed, err := s.deps.Idempotency.Claim(ctx, req.UserID, req.IdempotencyKey, orderID, s.opts.IdempotencyTTL)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeRedisError, "failed to record idempotency key")
	}
	if claimed {
		return nil, nil
	}
	if claim.Pending {
		return nil, utils.ErrCheckoutInProgress
	}

	log.WithFields(map[string]interface{}{
		"user_id":         req.UserID,
		"order_id":        claim.OrderID,
		"idempotency_key": req.IdempotencyKey,
	}).Info("Checkout replayed")
	return &CheckoutResult{
		OrderID: claim.OrderID,
		Status:  model.OrderStatusProcessing,
	}, nil
}

// completeKey records the accepted order under the client key
func (s *checkoutService) completeKey(ctx context.Context, req *CheckoutRequest, orderID string) {
	if err := s.deps.Idempotency.Complete(ctx, req.UserID, req.IdempotencyKey, orderID, s.opts.IdempotencyTTL); err != nil {
		log.WithFields(map[string]interface{}{
			"user_id":         req.UserID,
			"order_id":        orderID,
			"idempotency_key": req.IdempotencyKey,
		}).WithError(err).Error("Failed to record accepted checkout under idempotency key")
	}
}

// releaseKey frees the client key after a failed checkout so it can be retried
func (s *checkoutService) releaseKey(ctx context.Context, req *CheckoutRequest, orderID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.deps.Idempotency.Release(releaseCtx, req.UserID, req.IdempotencyKey, orderID); err != nil {
		log.WithFields(map[string]interface{}{
			"user_id":         req.UserID,
			"idempotency_key": req.IdempotencyKey,
		}).WithError(err).Warn("Failed to release idempotency key")
	}
}

// validateCart reads the snapshot once and checks it against the catalog
func (s *checkoutService) validateCart(ctx context.Context, userID uint64) (*validatedCart, error) {
	snapshot, err := s.deps.Carts.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeRedisError, "failed to read cart")
	}
	if snapshot == nil || snapshot.IsEmpty() {
		return nil, utils.ErrCartEmpty
	}

	products, err := s.deps.Catalog.GetProducts(ctx, snapshot.ProductIDs())
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to load products")
	}

	for i := range snapshot.Lines {
		line := &snapshot.Lines[i]

		product, ok := products[line.ProductID]
		if !ok || !product.IsOnSale() {
			return nil, utils.WrapError(fmt.Errorf("product %d", line.ProductID),
				utils.CodeProductNotFound, utils.ErrProductNotFound.Message)
		}
		if err := line.Validate(); err != nil {
			return nil, utils.WrapError(err, utils.CodeCartInvalid, utils.ErrCartInvalid.Message)
		}
		if s.priceDrifted(line.UnitPrice, product.Price) {
			return nil, utils.WrapError(
				fmt.Errorf("product %d: cart price %s, catalog price %s", line.ProductID, line.UnitPrice, product.Price),
				utils.CodeCartPriceStale, utils.ErrCartPriceStale.Message)
		}
	}

	return &validatedCart{
		snapshot: snapshot,
		totals:   model.ComputeTotals(snapshot.Lines, s.opts.TaxRate),
	}, nil
}

// priceDrifted |cart - catalog| > tolerance * catalog
func (s *checkoutService) priceDrifted(cartPrice, catalogPrice decimal.Decimal) bool {
	allowed := catalogPrice.Mul(s.opts.PriceTolerance).Abs()
	return cartPrice.Sub(catalogPrice).Abs().GreaterThan(allowed)
}

// authorize calls the gateway with bounded retry on transient failures
func (s *checkoutService) authorize(ctx context.Context, amount decimal.Decimal, req *CheckoutRequest) (string, error) {
	policy := s.opts.PaymentRetry
	policy.Retryable = payment.IsTransient
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.WithFields(map[string]interface{}{
			"user_id": req.UserID,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("Payment authorization failed, retrying")
	}

	var authorizationID string
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		id, err := s.deps.Payments.Authorize(ctx, amount, req.PaymentToken, req.IdempotencyKey)
		switch {
		case err == nil:
			s.deps.Metrics.RecordPaymentAttempt("authorized")
			authorizationID = id
		case errors.Is(err, payment.ErrDeclined):
			s.deps.Metrics.RecordPaymentAttempt("declined")
		default:
			s.deps.Metrics.RecordPaymentAttempt("transient")
		}
		return err
	})

	switch {
	case err == nil:
		return authorizationID, nil
	case errors.Is(err, payment.ErrDeclined):
		return "", utils.WrapError(err, utils.CodePaymentDeclined, utils.ErrPaymentDeclined.Message)
	default:
		return "", utils.WrapError(err, utils.CodePaymentServiceUnavailable, utils.ErrPaymentServiceUnavailable.Message)
	}
}

// enqueue sends the task with its own bounded retry
func (s *checkoutService) enqueue(ctx context.Context, task *model.OrderTask) error {
	body, err := model.EncodeOrderTask(task)
	if err != nil {
		return fmt.Errorf("failed to encode order task: %w", err)
	}

	ctx, span := s.deps.Tracer.StartQueueSpan(ctx, "send", "orders")
	defer span.End()

	policy := s.opts.EnqueueRetry
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, queue.ErrQueueClosed)
	}

	return policy.Do(ctx, func(ctx context.Context, attempt int) error {
		_, err := s.deps.Queue.Send(ctx, body)
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.deps.Metrics.RecordQueueMessage("orders", "send", status)
		return err
	})
}

// voidAuthorization releases the hold after an order could not be handed
// off. Best effort: failures are logged for manual follow-up.
func (s *checkoutService) voidAuthorization(ctx context.Context, authorizationID, orderID string) {
	// the request context may already be past its deadline
	voidCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.deps.Payments.Void(voidCtx, authorizationID); err != nil {
		s.deps.Metrics.RecordPaymentVoid("error")
		log.WithFields(map[string]interface{}{
			"order_id":         orderID,
			"authorization_id": authorizationID,
		}).WithError(err).Error("Failed to void payment authorization")
		return
	}
	s.deps.Metrics.RecordPaymentVoid("ok")
	log.WithFields(map[string]interface{}{
		"order_id":         orderID,
		"authorization_id": authorizationID,
	}).Warn("Payment authorization voided after enqueue failure")
}
