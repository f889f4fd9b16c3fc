// Package catalog содержит декораторы поверх каталога товаров.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

const DefaultTTL = 15 * time.Minute

// Cached — read-through кэш каталога в Redis.
// Ошибки Redis только логируются: запрос уходит напрямую в каталог.
type Cached struct {
	origin  domain.Catalog
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group // Prevents cache stampede
	logger  *log.Entry
}

// NewCached оборачивает origin; ttl <= 0 означает DefaultTTL.
func NewCached(origin domain.Catalog, client *redis.Client, ttl time.Duration, logger *log.Entry) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "catalog-cache")
	}
	return &Cached{
		origin:  origin,
		client:  client,
		baseTTL: ttl,
		logger:  logger,
	}
}

// BatchLookup отдаёт товары в порядке запроса: сначала из Redis, недостающие — из каталога.
func (c *Cached) BatchLookup(ctx context.Context, ids []string) ([]domain.Product, error) {
	ids = unique(ids)
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	found := c.fromCache(ctx, ids)

	var misses []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		// Use singleflight to prevent multiple concurrent cache misses for same ids.
		// Результат общий для всех ожидающих, поэтому отмена первого вызова его не прерывает.
		v, err, _ := c.sfg.Do(flightKey(misses), func() (interface{}, error) {
			flightCtx := context.WithoutCancel(ctx)
			products, err := c.origin.BatchLookup(flightCtx, misses)
			if err != nil {
				return nil, err
			}
			c.store(flightCtx, products)
			return products, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
		}
		for _, p := range v.([]domain.Product) {
			found[p.ID] = p
		}
	}

	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// List не кэшируется.
func (c *Cached) List(ctx context.Context) ([]domain.Product, error) {
	return c.origin.List(ctx)
}

// Invalidate удаляет товары из кэша.
func (c *Cached) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *Cached) fromCache(ctx context.Context, ids []string) map[string]domain.Product {
	found := make(map[string]domain.Product, len(ids))

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(id))
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).Warn("catalog cache read failed")
		}
		return found
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Product
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			c.logger.WithError(err).Warn("skipping malformed cached product")
			continue
		}
		found[p.ID] = p
	}
	return found
}

func (c *Cached) store(ctx context.Context, products []domain.Product) {
	if len(products) == 0 {
		return
	}

	pipe := c.client.Pipeline()
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			c.logger.WithError(err).WithField("product_id", p.ID).Warn("failed to encode product for cache")
			continue
		}
		jitter := time.Duration(rand.Intn(60)) * time.Second
		pipe.Set(ctx, cacheKey(p.ID), data, c.baseTTL+jitter)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("catalog cache write failed")
	}
}

func cacheKey(id string) string {
	return fmt.Sprintf("catalog:product:%s", id)
}

func flightKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

var _ domain.Catalog = (*Cached)(nil)
