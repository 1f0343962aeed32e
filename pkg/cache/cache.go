package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/menta2k/blur-background/pkg/types"
)

// DefaultTTL is how long a segmentation result stays cached
const DefaultTTL = 24 * time.Hour

const resultPrefix = "blurbg:segment:"

// Store abstracts short-lived key-value state.
// Get returns nil, nil on a miss.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// ResultCache memoizes segmentation results by the md5 of the uploaded bytes
type ResultCache struct {
	store Store
	ttl   time.Duration
}

// NewResultCache wraps a store. A non-positive ttl uses DefaultTTL.
func NewResultCache(store Store, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{store: store, ttl: ttl}
}

// Get returns the cached result for md5, or nil on a miss
func (c *ResultCache) Get(ctx context.Context, md5 string) (*types.SegmentationResult, error) {
	data, err := c.store.Get(ctx, resultPrefix+md5)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", md5, err)
	}
	if data == nil {
		return nil, nil
	}

	var result types.SegmentationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", md5, err)
	}
	return &result, nil
}

// Set stores result under md5
func (c *ResultCache) Set(ctx context.Context, md5 string, result *types.SegmentationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, resultPrefix+md5, data, c.ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", md5, err)
	}
	return nil
}

// Invalidate drops the entry for md5
func (c *ResultCache) Invalidate(ctx context.Context, md5 string) error {
	return c.store.Delete(ctx, resultPrefix+md5)
}

// Ping checks the backing store
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the backing store
func (c *ResultCache) Close() error {
	return c.store.Close()
}
