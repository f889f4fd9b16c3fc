// Package persistence сохраняет корзину в key-value хранилище и восстанавливает её
// с актуальными данными каталога.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/metrics"
)

// Option настраивает Adapter.
type Option func(*Adapter)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock подменяет источник времени для отметки timestamp.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithMaxBytes задаёт потолок размера сериализованной корзины.
func WithMaxBytes(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// WithKey задаёт ключ записи в хранилище.
func WithKey(key string) Option {
	return func(a *Adapter) {
		if key != "" {
			a.key = key
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// Adapter хранит только проекцию корзины (id + quantity) и восстанавливает
// название и цену из каталога при загрузке.
type Adapter struct {
	kv       domain.KVStore
	catalog  domain.CatalogLookup
	key      string
	maxBytes int
	clock    func() time.Time
	logger   *log.Entry
	metrics  *metrics.CartMetrics
}

// NewAdapter создаёт адаптер поверх хранилища и каталога.
func NewAdapter(kv domain.KVStore, catalog domain.CatalogLookup, opts ...Option) *Adapter {
	a := &Adapter{
		kv:       kv,
		catalog:  catalog,
		key:      domain.CartStorageKey,
		maxBytes: domain.MaxStoredCartBytes,
		clock:    time.Now,
		logger:   log.WithField("component", "cart-persistence"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Save сериализует проекцию корзины и пишет её в хранилище.
// Слишком большая корзина не записывается, прежнее значение остаётся.
func (a *Adapter) Save(ctx context.Context, cart domain.Cart) error {
	payload, err := json.Marshal(domain.ProjectCart(cart, a.clock()))
	if err != nil {
		a.metrics.RecordSave(metrics.ResultFailed, 0)
		return fmt.Errorf("marshal cart: %w", err)
	}

	if len(payload) > a.maxBytes {
		a.metrics.RecordSave(metrics.ResultTooLarge, 0)
		a.logger.WithFields(log.Fields{
			"size":  len(payload),
			"limit": a.maxBytes,
		}).Warn("cart too large to save")
		return fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrCartTooLarge, len(payload), a.maxBytes)
	}

	if err := a.kv.Set(ctx, a.key, payload); err != nil {
		a.metrics.RecordSave(metrics.ResultFailed, 0)
		a.logger.WithError(err).Warn("failed to save cart")
		return fmt.Errorf("save cart: %w", err)
	}

	a.metrics.RecordSave(metrics.ResultOK, len(payload))
	return nil
}

// Load читает сохранённую проекцию и собирает корзину одним запросом к каталогу.
//
// Отсутствующая запись даёт пустую корзину без ошибки. Повреждённая запись удаляется,
// возвращается пустая корзина и ошибка, оборачивающая domain.ErrCorruptCart.
// Ошибка каталога не фатальна: все позиции становятся недоступными заглушками.
func (a *Adapter) Load(ctx context.Context) (domain.Cart, error) {
	raw, err := a.kv.Get(ctx, a.key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		a.metrics.RecordLoad(metrics.ResultEmpty)
		return domain.EmptyCart(), nil
	}
	if err != nil {
		a.metrics.RecordLoad(metrics.ResultFailed)
		a.discard(ctx)
		return domain.EmptyCart(), fmt.Errorf("load cart: %w", err)
	}

	lines, err := decodeStored(raw)
	if err != nil {
		a.metrics.RecordLoad(metrics.ResultCorrupt)
		a.logger.WithError(err).Warn("discarding corrupt cart record")
		a.discard(ctx)
		return domain.EmptyCart(), err
	}
	if len(lines) == 0 {
		a.metrics.RecordLoad(metrics.ResultOK)
		return domain.EmptyCart(), nil
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ID)
	}

	found := make(map[string]domain.Product, len(ids))
	products, err := a.catalog.BatchLookup(ctx, ids)
	if err != nil {
		a.logger.WithError(err).WithField("ids", len(ids)).Warn("catalog lookup failed, restoring cart with placeholders")
	}
	for _, p := range products {
		found[p.ID] = p
	}

	items := make([]domain.CartLine, 0, len(lines))
	unavailable := 0
	for _, line := range lines {
		if p, ok := found[line.ID]; ok {
			items = append(items, domain.NewLine(p, line.Quantity))
			continue
		}
		items = append(items, domain.PlaceholderLine(line.ID, line.Quantity))
		unavailable++
	}

	a.metrics.RecordLoad(metrics.ResultOK)
	a.metrics.RecordUnavailableLines(unavailable)
	if unavailable > 0 {
		a.logger.WithField("unavailable", unavailable).Info("cart restored with unavailable items")
	}
	return domain.NewCart(items), nil
}

func (a *Adapter) discard(ctx context.Context) {
	if err := a.kv.Delete(ctx, a.key); err != nil {
		a.logger.WithError(err).Warn("failed to delete cart record")
	}
}

// storedRecord повторяет domain.StoredCart, но оставляет items сырыми,
// чтобы отличить отсутствующий или не-массивный items от пустого.
type storedRecord struct {
	Items     json.RawMessage `json:"items"`
	Timestamp int64           `json:"timestamp"`
}

// decodeStored разбирает запись и склеивает повторяющиеся ID, сохраняя порядок первого появления.
func decodeStored(raw []byte) ([]domain.StoredLine, error) {
	var record storedRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptCart, err)
	}
	items := bytes.TrimSpace(record.Items)
	if len(items) == 0 || items[0] != '[' {
		return nil, fmt.Errorf("%w: items is not an array", domain.ErrCorruptCart)
	}

	var lines []domain.StoredLine
	if err := json.Unmarshal(items, &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptCart, err)
	}

	merged := make([]domain.StoredLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ID == "" || line.Quantity < 1 {
			return nil, fmt.Errorf("%w: invalid line %q with quantity %d", domain.ErrCorruptCart, line.ID, line.Quantity)
		}
		if i, ok := index[line.ID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
