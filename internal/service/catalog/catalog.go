package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bits-and-blooms/bloom/v3"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
)

const warmUpPage = 1000

// ProductCatalog answers existence and price questions for checkout
type ProductCatalog interface {
	// GetProducts returns the products that exist among ids, keyed by id
	GetProducts(ctx context.Context, ids []uint64) (map[uint64]*model.Product, error)
}

// Options product view tuning
type Options struct {
	CacheEnabled      bool
	CacheSizeMB       int
	CacheTTL          time.Duration
	BloomEnabled      bool
	ExpectedItems     uint
	FalsePositiveRate float64
}

// Stats cache counters
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	BloomRejects int64 `json:"bloom_rejects"`
}

// Catalog two-level product view.
// L1: local bigcache of encoded products, short TTL.
// L2: products table.
// A bloom filter of known ids sits in front of both once warmed up, so
// ids that were never created do not reach the database.
type Catalog struct {
	repo       repository.ProductRepository
	localCache *bigcache.BigCache

	mu          sync.RWMutex
	bloomFilter *bloom.BloomFilter
	bloomReady  bool

	hits         atomic.Int64
	misses       atomic.Int64
	bloomRejects atomic.Int64
}

var _ ProductCatalog = (*Catalog)(nil)

// NewCatalog creates the product view
func NewCatalog(repo repository.ProductRepository, opts Options) (*Catalog, error) {
	c := &Catalog{repo: repo}

	if opts.CacheEnabled {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		cfg := bigcache.DefaultConfig(ttl)
		cfg.Shards = 256
		cfg.CleanWindow = ttl
		cfg.MaxEntriesInWindow = 10000
		cfg.MaxEntrySize = 256
		cfg.HardMaxCacheSize = opts.CacheSizeMB
		cfg.Verbose = false

		localCache, err := bigcache.New(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create local cache: %w", err)
		}
		c.localCache = localCache
	}

	if opts.BloomEnabled {
		n, fp := opts.ExpectedItems, opts.FalsePositiveRate
		if n == 0 {
			n = 100000
		}
		if fp <= 0 || fp >= 1 {
			fp = 0.01
		}
		c.bloomFilter = bloom.NewWithEstimates(n, fp)
	}

	return c, nil
}

func productKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// WarmUp loads every product id into the bloom filter. Until it succeeds
// the filter is not consulted.
func (c *Catalog) WarmUp(ctx context.Context) error {
	if c.bloomFilter == nil {
		return nil
	}

	var afterID uint64
	total := 0
	for {
		ids, err := c.repo.ListIDs(ctx, afterID, warmUpPage)
		if err != nil {
			return fmt.Errorf("warm up product bloom filter: %w", err)
		}

		c.mu.Lock()
		for _, id := range ids {
			c.bloomFilter.AddString(productKey(id))
		}
		c.mu.Unlock()

		total += len(ids)
		if len(ids) < warmUpPage {
			break
		}
		afterID = ids[len(ids)-1]
	}

	c.mu.Lock()
	c.bloomReady = true
	c.mu.Unlock()

	log.WithField("products", total).Info("Product bloom filter warmed up")
	return nil
}

// Remember registers a newly created product id
func (c *Catalog) Remember(id uint64) {
	if c.bloomFilter == nil {
		return
	}
	c.mu.Lock()
	c.bloomFilter.AddString(productKey(id))
	c.mu.Unlock()
}

// Invalidate drops a product from L1 after a price or status change
func (c *Catalog) Invalidate(id uint64) {
	if c.localCache == nil {
		return
	}
	if err := c.localCache.Delete(productKey(id)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		log.WithError(err).WithField("product_id", id).Warn("Failed to invalidate product cache")
	}
}

// mightExist bloom filter check; true when the filter is off or cold
func (c *Catalog) mightExist(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.bloomFilter == nil || !c.bloomReady {
		return true
	}
	return c.bloomFilter.TestString(productKey(id))
}

// GetProducts resolves ids through bloom filter, L1 and the database
func (c *Catalog) GetProducts(ctx context.Context, ids []uint64) (map[uint64]*model.Product, error) {
	found := make(map[uint64]*model.Product, len(ids))
	var missing []uint64

	for _, id := range ids {
		if !c.mightExist(id) {
			c.bloomRejects.Add(1)
			continue
		}
		if p, ok := c.fromCache(id); ok {
			c.hits.Add(1)
			found[id] = p
			continue
		}
		c.misses.Add(1)
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return found, nil
	}

	products, err := c.repo.GetByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for _, p := range products {
		found[p.ID] = p
		c.toCache(p)
	}
	return found, nil
}

// Stats returns cache counters
func (c *Catalog) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		BloomRejects: c.bloomRejects.Load(),
	}
}

// Close releases the local cache
func (c *Catalog) Close() error {
	if c.localCache == nil {
		return nil
	}
	return c.localCache.Close()
}

func (c *Catalog) fromCache(id uint64) (*model.Product, bool) {
	if c.localCache == nil {
		return nil, false
	}

	raw, err := c.localCache.Get(productKey(id))
	if err != nil {
		return nil, false
	}

	var p model.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *Catalog) toCache(p *model.Product) {
	if c.localCache == nil {
		return
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.localCache.Set(productKey(p.ID), raw); err != nil {
		log.WithError(err).WithField("product_id", p.ID).Debug("Product cache set failed")
	}
}
