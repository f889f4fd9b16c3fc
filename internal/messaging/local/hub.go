// Package local реализует канал синхронизации внутри одного процесса с семантикой BroadcastChannel:
// сообщение получают все остальные открытые каналы с тем же именем, но не отправитель.
package local

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

// DefaultBufferSize ограничивает очередь входящих сообщений одного подписчика.
const DefaultBufferSize = 64

// Hub связывает каналы одного процесса.
type Hub struct {
	mu         sync.RWMutex
	channels   map[string]map[*Channel]struct{}
	bufferSize int
}

// NewHub создаёт hub; bufferSize <= 0 означает DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		channels:   make(map[string]map[*Channel]struct{}),
		bufferSize: bufferSize,
	}
}

// Open подписывает новый канал на имя name.
func (h *Hub) Open(_ context.Context, name string) (domain.BroadcastChannel, error) {
	ch := &Channel{
		hub:      h,
		name:     name,
		messages: make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[name]
	if !ok {
		subs = make(map[*Channel]struct{})
		h.channels[name] = subs
	}
	subs[ch] = struct{}{}
	return ch, nil
}

// Subscribers возвращает число открытых каналов с именем name.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[name])
}

func (h *Hub) deliver(from *Channel, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.channels[from.name] {
		if sub == from {
			continue
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		sub.enqueue(msg)
	}
}

func (h *Hub) remove(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.channels[ch.name]
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.channels, ch.name)
	}
}

// Channel — подписка одного контекста на именованный канал hub-а.
type Channel struct {
	hub      *Hub
	name     string
	mu       sync.Mutex
	closed   bool
	messages chan []byte
}

// Publish рассылает payload остальным подписчикам. Доставка асинхронная:
// если очередь получателя переполнена, сообщение для него теряется.
func (c *Channel) Publish(_ context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return domain.ErrChannelClosed
	}

	c.hub.deliver(c, payload)
	return nil
}

// Messages возвращает поток входящих сообщений.
func (c *Channel) Messages() <-chan []byte {
	return c.messages
}

// Close отписывает канал от hub-а и закрывает поток сообщений.
func (c *Channel) Close() error {
	c.hub.remove(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.messages)
	return nil
}

func (c *Channel) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.messages <- msg:
	default:
	}
}

var (
	_ domain.ChannelOpener    = (*Hub)(nil)
	_ domain.BroadcastChannel = (*Channel)(nil)
)
