package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

// SampleProducts возвращает демонстрационный каталог.
func SampleProducts() []domain.Product {
	return []domain.Product{
		{ID: "1", Name: "Wireless Headphones", Price: decimal.RequireFromString("79.99")},
		{ID: "2", Name: "Smart Watch", Price: decimal.RequireFromString("299.99")},
		{ID: "3", Name: "Laptop Stand", Price: decimal.RequireFromString("49.99")},
		{ID: "4", Name: "Mechanical Keyboard", Price: decimal.RequireFromString("129.99")},
		{ID: "5", Name: "USB-C Hub", Price: decimal.RequireFromString("39.99")},
	}
}

// CatalogOption настраивает in-memory каталог.
type CatalogOption func(*Catalog)

// WithLatency добавляет искусственную задержку к каждому пакетному запросу.
func WithLatency(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.latency = d
	}
}

// Catalog — read-only каталог товаров в памяти.
type Catalog struct {
	mu       sync.RWMutex
	order    []string
	products map[string]domain.Product
	latency  time.Duration
	failWith error
}

// NewCatalog создаёт каталог из переданных товаров; порядок сохраняется для List.
func NewCatalog(products []domain.Product, opts ...CatalogOption) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		if _, ok := c.products[p.ID]; !ok {
			c.order = append(c.order, p.ID)
		}
		c.products[p.ID] = p
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchLookup возвращает товары по ID в порядке запроса, пропуская ненайденные.
func (c *Catalog) BatchLookup(ctx context.Context, ids []string) ([]domain.Product, error) {
	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.failWith != nil {
		return nil, c.failWith
	}

	result := make([]domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := c.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// List возвращает все товары в порядке добавления.
func (c *Catalog) List(_ context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.products[id])
	}
	return result, nil
}

// FailWith заставляет BatchLookup возвращать err (nil снимает сбой). Используется в тестах и демо.
func (c *Catalog) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

var _ domain.Catalog = (*Catalog)(nil)
