package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "checkout:idem:"
	pendingValuePrefix   = "pending:"
)

// ErrClaimLost the key no longer holds this checkout's claim
var ErrClaimLost = errors.New("idempotency claim lost")

var completeClaimScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("set", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return false
`)

var releaseClaimScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// CheckoutClaim order a client idempotency key is bound to
type CheckoutClaim struct {
	OrderID string
	// Pending the checkout that took the key has not been accepted yet
	Pending bool
}

// IdempotencyRepository binds a client Idempotency-Key to one order id
type IdempotencyRepository interface {
	// Claim binds key to orderID as pending. When the key is already bound
	// the existing claim is returned with claimed false.
	Claim(ctx context.Context, userID uint64, key, orderID string, ttl time.Duration) (claim *CheckoutClaim, claimed bool, err error)

	// Complete marks the pending claim of orderID accepted
	Complete(ctx context.Context, userID uint64, key, orderID string, ttl time.Duration) error

	// Release drops the pending claim of orderID so the key can be used again
	Release(ctx context.Context, userID uint64, key, orderID string) error
}

// idempotencyRepository one Redis string per user and key
type idempotencyRepository struct {
	client redis.UniversalClient
}

// NewIdempotencyRepository creates an idempotency repository
func NewIdempotencyRepository(client redis.UniversalClient) IdempotencyRepository {
	return &idempotencyRepository{client: client}
}

func idempotencyKey(userID uint64, key string) string {
	return idempotencyKeyPrefix + strconv.FormatUint(userID, 10) + ":" + key
}

func parseClaim(value string) *CheckoutClaim {
	if orderID, ok := strings.CutPrefix(value, pendingValuePrefix); ok {
		return &CheckoutClaim{OrderID: orderID, Pending: true}
	}
	return &CheckoutClaim{OrderID: value}
}

// Claim SET NX; a key that expires between SET and GET is claimed again
func (r *idempotencyRepository) Claim(ctx context.Context, userID uint64, key, orderID string, ttl time.Duration) (*CheckoutClaim, bool, error) {
	redisKey := idempotencyKey(userID, key)

	for i := 0; i < 2; i++ {
		ok, err := r.client.SetNX(ctx, redisKey, pendingValuePrefix+orderID, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return &CheckoutClaim{OrderID: orderID, Pending: true}, true, nil
		}

		value, err := r.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("read idempotency key: %w", err)
		}
		return parseClaim(value), false, nil
	}
	return nil, false, fmt.Errorf("claim idempotency key: %w", ErrClaimLost)
}

// Complete swaps pending:<orderID> for <orderID>
func (r *idempotencyRepository) Complete(ctx context.Context, userID uint64, key, orderID string, ttl time.Duration) error {
	err := completeClaimScript.Run(ctx, r.client,
		[]string{idempotencyKey(userID, key)},
		pendingValuePrefix+orderID, orderID, ttl.Milliseconds(),
	).Err()
	if errors.Is(err, redis.Nil) {
		return ErrClaimLost
	}
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release deletes the key only while it still holds pending:<orderID>
func (r *idempotencyRepository) Release(ctx context.Context, userID uint64, key, orderID string) error {
	err := releaseClaimScript.Run(ctx, r.client,
		[]string{idempotencyKey(userID, key)},
		pendingValuePrefix+orderID,
	).Err()
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
