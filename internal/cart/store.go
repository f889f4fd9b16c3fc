// Package cart содержит хранилище состояния корзины одного контекста.
package cart

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/metrics"
)

// Persister описывает часть persistence.Adapter, нужную Store.
type Persister interface {
	Save(ctx context.Context, cart domain.Cart) error
	Load(ctx context.Context) (domain.Cart, error)
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store — единственный источник истины о корзине внутри контекста.
//
// Все операции сериализованы одним мьютексом. Слушатели вызываются под этим же
// мьютексом и не должны синхронно обращаться обратно к Store.
type Store struct {
	mu        sync.Mutex
	persister Persister
	cart      domain.Cart
	loading   bool
	// synced — во время загрузки было применено удалённое состояние.
	synced    bool
	lastError string
	listeners map[int]func(domain.Cart)
	nextID    int
	logger    *log.Entry
	metrics   *metrics.CartMetrics
}

// NewStore создаёт Store с пустой корзиной в состоянии загрузки.
// Запись в хранилище запрещена, пока не завершится Load.
func NewStore(persister Persister, opts ...Option) *Store {
	s := &Store{
		persister: persister,
		cart:      domain.EmptyCart(),
		loading:   true,
		listeners: make(map[int]func(domain.Cart)),
		logger:    log.WithField("component", "cart-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load восстанавливает корзину из хранилища и снимает флаг загрузки.
//
// Запрос к хранилищу и каталогу выполняется без блокировки, поэтому мутации и
// SyncCart во время загрузки не ждут. Если за это время пришло удалённое состояние,
// оно новее записи на диске: остаётся в памяти и сохраняется. Иначе результат
// загрузки заменяет текущую корзину и передаётся слушателям, как любое другое
// изменение: правки, разосланные во время загрузки, у других контекстов тоже
// заменяются загруженным состоянием.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.persister.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loading {
		return nil
	}
	s.loading = false

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCorruptCart):
		s.logger.WithError(err).Warn("stored cart was corrupt, starting with an empty cart")
	default:
		s.logger.WithError(err).Error("failed to load cart")
		s.lastError = domain.LoadFailureMessage
	}

	if s.synced {
		s.logger.Debug("remote state arrived while loading, keeping it")
		s.persistLocked(ctx)
		return err
	}

	s.cart = loaded
	s.metrics.SetItems(s.cart.ItemCount())
	s.notifyLocked()
	return err
}

// AddItem добавляет единицу товара: увеличивает количество существующей позиции
// или дописывает новую в конец.
func (s *Store) AddItem(ctx context.Context, product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cart.Clone()
	if idx := next.Find(product.ID); idx >= 0 {
		next.Items[idx].Quantity++
	} else {
		next.Items = append(next.Items, domain.NewLine(product, 1))
	}
	s.commitLocked(ctx, next)
}

// RemoveItem удаляет позицию. Отсутствующий ID — не ошибка, но изменение всё равно фиксируется.
func (s *Store) RemoveItem(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(ctx, id)
}

// UpdateQuantity выставляет количество. quantity < 1 равносильно RemoveItem.
// Для недоступной позиции возвращает domain.ErrLineUnavailable и ничего не меняет.
// Отсутствующий ID игнорируется.
func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 1 {
		s.removeLocked(ctx, id)
		return nil
	}

	idx := s.cart.Find(id)
	if idx < 0 {
		return nil
	}
	if s.cart.Items[idx].Unavailable {
		return domain.ErrLineUnavailable
	}

	next := s.cart.Clone()
	next.Items[idx].Quantity = quantity
	s.commitLocked(ctx, next)
	return nil
}

// ClearCart очищает корзину.
func (s *Store) ClearCart(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commitLocked(ctx, domain.EmptyCart())
}

// SyncCart принимает состояние от другого контекста. Сумма пересчитывается локально,
// слушатели не вызываются (иначе состояние ушло бы обратно в канал).
func (s *Store) SyncCart(ctx context.Context, remote domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx, remote)
}

// ApplyRemote применяет удалённое состояние, только если accept вернул true.
// accept вызывается под той же блокировкой, что и локальные мутации со слушателями,
// поэтому проверка метки времени и применение не разделяются локальным изменением.
func (s *Store) ApplyRemote(ctx context.Context, remote domain.Cart, accept func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !accept() {
		return false
	}
	s.syncLocked(ctx, remote)
	return true
}

func (s *Store) syncLocked(ctx context.Context, remote domain.Cart) {
	next := remote.Clone()
	if next.Items == nil {
		next.Items = []domain.CartLine{}
	}
	next.Recalculate()
	s.cart = next
	s.metrics.SetItems(next.ItemCount())

	if s.loading {
		s.synced = true
		return
	}
	s.persistLocked(ctx)
}

// Cart возвращает копию текущей корзины.
func (s *Store) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// ItemCount возвращает количество единиц товара в корзине.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.ItemCount()
}

// Loading сообщает, идёт ли ещё начальная загрузка.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err возвращает текст последнего предупреждения или пустую строку.
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// OnChange регистрирует слушателя локальных изменений и возвращает функцию отписки.
// Слушатель получает копию корзины после каждой локальной мутации.
func (s *Store) OnChange(fn func(domain.Cart)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) removeLocked(ctx context.Context, id string) {
	next := s.cart.Clone()
	if idx := next.Find(id); idx >= 0 {
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	}
	s.commitLocked(ctx, next)
}

// commitLocked фиксирует новое состояние: пересчёт суммы, уведомление слушателей,
// затем сохранение, если загрузка завершена. Состояние в памяти не откатывается.
func (s *Store) commitLocked(ctx context.Context, next domain.Cart) {
	next.Recalculate()
	s.cart = next
	s.metrics.SetItems(next.ItemCount())

	s.notifyLocked()

	if !s.loading {
		s.persistLocked(ctx)
	}
}

func (s *Store) notifyLocked() {
	for _, fn := range s.listeners {
		fn(s.cart.Clone())
	}
}

func (s *Store) persistLocked(ctx context.Context) {
	err := s.persister.Save(ctx, s.cart)
	s.lastError = domain.UserMessage(err)
	if err != nil {
		s.logger.WithError(err).Warn("cart not persisted")
	}
}
