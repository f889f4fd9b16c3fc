package app

import (
	"context"
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/cart"
	"github.com/vladislavdragonenkov/cartsync/internal/cartsync"
	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/health"
	"github.com/vladislavdragonenkov/cartsync/internal/persistence"
	"github.com/vladislavdragonenkov/cartsync/internal/version"
)

// CartContext — один независимый контекст с корзиной (аналог вкладки браузера).
type CartContext struct {
	ID      string
	Store   *cart.Store
	Sync    *cartsync.Synchronizer
	Catalog domain.Catalog
	Health  *health.Handler

	logger *log.Entry
	unbind func()
}

// NewCartContext связывает Store, адаптер хранения и синхронизатор поверх deps.
func NewCartContext(cfg Config, deps *Dependencies) *CartContext {
	id := uuid.NewString()
	logger := deps.Logger.WithField("context_id", id)

	adapter := persistence.NewAdapter(deps.KV, deps.Catalog,
		persistence.WithKey(cfg.StorageKey()),
		persistence.WithLogger(logger.WithField("component", "cart-persistence")),
		persistence.WithMetrics(deps.Metrics),
	)
	store := cart.NewStore(adapter,
		cart.WithLogger(logger.WithField("component", "cart-store")),
		cart.WithMetrics(deps.Metrics),
	)
	syncer := cartsync.New(store, deps.Opener,
		cartsync.WithChannelName(cfg.ChannelName()),
		cartsync.WithLogger(logger.WithField("component", "cart-sync")),
		cartsync.WithMetrics(deps.Metrics),
	)

	h := health.NewHandler(version.Version(), id)
	for name, checker := range deps.Checkers {
		h.RegisterChecker(name, checker)
	}
	h.RegisterChecker("cart", health.NewOptionalChecker("cart", func(context.Context) error {
		if store.Loading() {
			return errors.New("cart is loading")
		}
		if msg := store.Err(); msg != "" {
			return errors.New(msg)
		}
		return nil
	}))
	if deps.Opener != nil {
		h.RegisterChecker("sync", health.NewOptionalChecker("sync", func(context.Context) error {
			if !syncer.Enabled() {
				return domain.ErrChannelUnavailable
			}
			return nil
		}))
	}

	return &CartContext{
		ID:      id,
		Store:   store,
		Sync:    syncer,
		Catalog: deps.Catalog,
		Health:  h,
		logger:  logger,
		unbind:  syncer.Bind(store),
	}
}

// Start подключает синхронизацию и загружает корзину.
// Сначала открывается канал, чтобы обновления других контекстов, пришедшие во время
// загрузки, не потерялись. Ошибка загрузки отражается в Store.Err и не останавливает контекст.
func (c *CartContext) Start(ctx context.Context) error {
	if err := c.Sync.Start(ctx); err != nil {
		return err
	}
	if err := c.Store.Load(ctx); err != nil {
		c.logger.WithError(err).Warn("cart loaded with errors")
	}
	c.logger.WithField("items", c.Store.ItemCount()).Info("cart context ready")
	return nil
}

// Close отписывает синхронизатор от Store и закрывает канал.
func (c *CartContext) Close() error {
	c.unbind()
	return c.Sync.Close()
}
