package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidemark/authd/internal/domain"
)

var _ ItemRepository = (*CachedItemRepo)(nil)

const (
	itemCachePrefix = "inventory:"
	itemCacheTTL    = time.Hour
)

// CachedItemRepo decorates an ItemRepository with a Redis read-through cache
// for the hot read paths (SKU lookup, low-stock listing). Writes invalidate.
// A cache outage degrades to direct reads rather than failing the request.
type CachedItemRepo struct {
	inner ItemRepository
	cache redis.UniversalClient
}

func NewCachedItemRepo(inner ItemRepository, cache redis.UniversalClient) *CachedItemRepo {
	return &CachedItemRepo{inner: inner, cache: cache}
}

func (r *CachedItemRepo) Create(ctx context.Context, item domain.Item) (domain.Item, error) {
	out, err := r.inner.Create(ctx, item)
	if err == nil {
		r.invalidate(ctx, out.SKU)
	}
	return out, err
}

func (r *CachedItemRepo) Get(ctx context.Context, itemID int64) (domain.Item, error) {
	return r.inner.Get(ctx, itemID)
}

func (r *CachedItemRepo) GetBySKU(ctx context.Context, sku string) (domain.Item, error) {
	key := itemCachePrefix + "sku:" + sku
	var cached domain.Item
	if ok := r.load(ctx, key, &cached); ok {
		return cached, nil
	}
	out, err := r.inner.GetBySKU(ctx, sku)
	if err != nil {
		return domain.Item{}, err
	}
	r.store(ctx, key, out, 2*itemCacheTTL)
	return out, nil
}

func (r *CachedItemRepo) Update(ctx context.Context, item domain.Item) (domain.Item, error) {
	out, err := r.inner.Update(ctx, item)
	if err == nil {
		r.invalidate(ctx, out.SKU)
	}
	return out, err
}

func (r *CachedItemRepo) Delete(ctx context.Context, itemID int64) (bool, error) {
	item, err := r.inner.Get(ctx, itemID)
	deleted, derr := r.inner.Delete(ctx, itemID)
	if derr == nil && err == nil {
		r.invalidate(ctx, item.SKU)
	}
	return deleted, derr
}

func (r *CachedItemRepo) List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, int64, error) {
	return r.inner.List(ctx, filter)
}

func (r *CachedItemRepo) AdjustQuantity(ctx context.Context, itemID, delta int64) (domain.Item, error) {
	out, err := r.inner.AdjustQuantity(ctx, itemID, delta)
	if err == nil {
		r.invalidate(ctx, out.SKU)
	}
	return out, err
}

func (r *CachedItemRepo) ListLowStock(ctx context.Context, threshold int64) ([]domain.Item, error) {
	key := fmt.Sprintf("%slow_stock:%d", itemCachePrefix, threshold)
	var cached []domain.Item
	if ok := r.load(ctx, key, &cached); ok {
		return cached, nil
	}
	out, err := r.inner.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, out, itemCacheTTL)
	return out, nil
}

func (r *CachedItemRepo) load(ctx context.Context, key string, dest any) bool {
	if r.cache == nil {
		return false
	}
	payload, err := r.cache.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(payload, dest) == nil
}

func (r *CachedItemRepo) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if r.cache == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, key, payload, ttl).Err()
}

func (r *CachedItemRepo) invalidate(ctx context.Context, sku string) {
	if r.cache == nil {
		return
	}
	keys := []string{itemCachePrefix + "sku:" + sku}
	iter := r.cache.Scan(ctx, 0, itemCachePrefix+"low_stock:*", 64).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := r.cache.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return
	}
}
