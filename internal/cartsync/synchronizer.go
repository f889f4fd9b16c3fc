// Package cartsync рассылает изменения корзины другим контекстам и применяет
// входящие состояния по правилу last-writer-wins.
package cartsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/metrics"
)

// Applier принимает состояние, пришедшее от другого контекста.
// accept нужно вызвать в той же критической секции, где выполняются локальные
// изменения (и, значит, Notify), и применять cart только при true.
type Applier interface {
	ApplyRemote(ctx context.Context, cart domain.Cart, accept func() bool) bool
}

// ChangeSource — источник локальных изменений (cart.Store).
type ChangeSource interface {
	OnChange(fn func(domain.Cart)) func()
}

// Option настраивает Synchronizer.
type Option func(*Synchronizer)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(s *Synchronizer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithChannelName задаёт имя канала вместо domain.SyncChannelName.
func WithChannelName(name string) Option {
	return func(s *Synchronizer) {
		if name != "" {
			s.channelName = name
		}
	}
}

// ErrAlreadyStarted возвращается при повторном Start.
var ErrAlreadyStarted = errors.New("synchronizer already started")

// Synchronizer связывает один Store с общим каналом.
type Synchronizer struct {
	applier     Applier
	opener      domain.ChannelOpener
	channelName string
	clock       func() time.Time
	logger      *log.Entry
	metrics     *metrics.CartMetrics

	mu          sync.Mutex
	channel     domain.BroadcastChannel
	lastApplied int64
	started     bool
	closed      bool
	// ctx живёт от Start до Close и передаётся в Publish и ApplyRemote.
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New создаёт синхронизатор. Канал открывается в Start.
func New(applier Applier, opener domain.ChannelOpener, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		applier:     applier,
		opener:      opener,
		channelName: domain.SyncChannelName,
		clock:       time.Now,
		logger:      log.WithField("component", "cart-sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start открывает канал и запускает приём сообщений.
// Если канал открыть не удалось, синхронизация отключается, а Start возвращает nil:
// контекст продолжает работать изолированно.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.lastApplied = 0

	if s.opener == nil {
		s.logger.Warn("no broadcast transport configured, cart sync disabled")
		return nil
	}

	channel, err := s.opener.Open(ctx, s.channelName)
	if err != nil {
		s.logger.WithError(fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)).
			Warn("cart sync disabled")
		return nil
	}

	s.channel = channel
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go s.receive(channel)

	s.logger.WithField("channel", s.channelName).Info("cart sync started")
	return nil
}

// Enabled сообщает, открыт ли канал.
func (s *Synchronizer) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel != nil && !s.closed
}

// Notify рассылает локальное изменение корзины.
// Метка времени строго больше последней применённой, поэтому собственные сообщения
// и их эхо не откатывают более поздние состояния.
func (s *Synchronizer) Notify(cart domain.Cart) {
	s.mu.Lock()
	if s.channel == nil || s.closed {
		s.mu.Unlock()
		return
	}
	ts := s.clock().UnixMilli()
	if ts <= s.lastApplied {
		ts = s.lastApplied + 1
	}
	s.lastApplied = ts
	channel, ctx := s.channel, s.ctx
	s.mu.Unlock()

	payload, err := json.Marshal(domain.BroadcastMessage{
		Type:      domain.MessageTypeCartUpdated,
		Cart:      &cart,
		Timestamp: ts,
	})
	if err != nil {
		s.metrics.RecordBroadcastError()
		s.logger.WithError(err).Error("failed to encode cart update")
		return
	}

	if err := channel.Publish(ctx, payload); err != nil {
		s.metrics.RecordBroadcastError()
		s.logger.WithError(err).Warn("failed to broadcast cart update")
		return
	}
	s.metrics.RecordBroadcastSent()
	s.logger.WithField("timestamp", ts).Debug("cart update broadcast")
}

// Bind подписывает Notify на изменения источника и возвращает функцию отписки.
func (s *Synchronizer) Bind(source ChangeSource) func() {
	return source.OnChange(s.Notify)
}

// Close закрывает канал и дожидается, пока приём обработает уже полученные сообщения.
// Повторный вызов безопасен.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channel, cancel := s.channel, s.cancel
	s.mu.Unlock()

	if channel == nil {
		return nil
	}
	err := channel.Close()
	s.wg.Wait()
	cancel()
	s.logger.Info("cart sync stopped")
	return err
}

func (s *Synchronizer) receive(channel domain.BroadcastChannel) {
	defer s.wg.Done()
	for payload := range channel.Messages() {
		s.handle(payload)
	}
}

// handle применяет сообщение, если оно новее последнего применённого.
// Нераспознанные сообщения отбрасываются молча.
func (s *Synchronizer) handle(payload []byte) {
	var msg domain.BroadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil || !msg.Valid() {
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	applied := s.applier.ApplyRemote(ctx, *msg.Cart, func() bool {
		return s.advance(msg.Timestamp)
	})
	if !applied {
		s.metrics.RecordSyncMessage(metrics.ResultStale)
		return
	}
	s.metrics.RecordSyncMessage(metrics.ResultApplied)
	s.logger.WithField("timestamp", msg.Timestamp).Debug("remote cart applied")
}

// advance сдвигает lastApplied, если ts новее.
func (s *Synchronizer) advance(ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts <= s.lastApplied {
		return false
	}
	s.lastApplied = ts
	return true
}
