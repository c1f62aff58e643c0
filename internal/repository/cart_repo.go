package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/internal/model"
)

const (
	cartKeyPrefix = "cart:"
	cartTTL       = 30 * 24 * time.Hour
)

// CartRepository cart lines kept in one Redis hash per user
type CartRepository interface {
	// GetSnapshot reads every line of the cart, sorted by product id
	GetSnapshot(ctx context.Context, userID uint64) (*model.CartSnapshot, error)

	// PutItem adds or replaces the line of line.ProductID
	PutItem(ctx context.Context, userID uint64, line model.CartLine) error

	// DeleteItems removes lines; ids not in the cart are ignored
	DeleteItems(ctx context.Context, userID uint64, productIDs []uint64) error

	// Clear empties the cart
	Clear(ctx context.Context, userID uint64) error
}

// cartRepository cart repository implementation
type cartRepository struct {
	client redis.UniversalClient
}

// NewCartRepository creates a cart repository
func NewCartRepository(client redis.UniversalClient) CartRepository {
	return &cartRepository{client: client}
}

func cartKey(userID uint64) string {
	return cartKeyPrefix + strconv.FormatUint(userID, 10)
}

// GetSnapshot reads the whole hash in one round trip
func (r *cartRepository) GetSnapshot(ctx context.Context, userID uint64) (*model.CartSnapshot, error) {
	fields, err := r.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart of user %d: %w", userID, err)
	}

	snapshot := &model.CartSnapshot{
		UserID: userID,
		Lines:  make([]model.CartLine, 0, len(fields)),
	}
	for field, raw := range fields {
		var line model.CartLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("decode cart line %s of user %d: %w", field, userID, err)
		}
		snapshot.Lines = append(snapshot.Lines, line)
	}

	sort.Slice(snapshot.Lines, func(i, j int) bool {
		return snapshot.Lines[i].ProductID < snapshot.Lines[j].ProductID
	})
	return snapshot, nil
}

// PutItem stores a line and refreshes the cart TTL
func (r *cartRepository) PutItem(ctx context.Context, userID uint64, line model.CartLine) error {
	raw, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode cart line: %w", err)
	}

	key := cartKey(userID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.FormatUint(line.ProductID, 10), raw)
		pipe.Expire(ctx, key, cartTTL)
		return nil
	})
	return err
}

// DeleteItems HDEL the given product ids
func (r *cartRepository) DeleteItems(ctx context.Context, userID uint64, productIDs []uint64) error {
	if len(productIDs) == 0 {
		return nil
	}

	fields := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		fields = append(fields, strconv.FormatUint(id, 10))
	}
	return r.client.HDel(ctx, cartKey(userID), fields...).Err()
}

// Clear deletes the cart key
func (r *cartRepository) Clear(ctx context.Context, userID uint64) error {
	return r.client.Del(ctx, cartKey(userID)).Err()
}
