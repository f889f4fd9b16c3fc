// Package redis реализует канал синхронизации корзины поверх Redis Pub/Sub.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

const messageBufferSize = 64

// Opener открывает каналы Pub/Sub на общем клиенте.
type Opener struct {
	client *redis.Client
	logger *log.Entry
}

// NewOpener создаёт Opener; logger может быть nil.
func NewOpener(client *redis.Client, logger *log.Entry) *Opener {
	if logger == nil {
		logger = log.WithField("component", "redis-broadcast")
	}
	return &Opener{client: client, logger: logger}
}

// Open подписывается на канал name и дожидается подтверждения подписки.
func (o *Opener) Open(ctx context.Context, name string) (domain.BroadcastChannel, error) {
	pubsub := o.client.Subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", name, err)
	}

	ch := &Channel{
		client:   o.client,
		pubsub:   pubsub,
		name:     name,
		messages: make(chan []byte, messageBufferSize),
		done:     make(chan struct{}),
		logger:   o.logger.WithField("channel", name),
	}
	ch.wg.Add(1)
	go ch.pump()
	return ch, nil
}

// Channel представляет подписку на один канал Redis.
type Channel struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	name     string
	messages chan []byte
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	logger   *log.Entry
}

// Publish отправляет payload командой PUBLISH.
// Redis доставит сообщение и самому отправителю; повтор отсекает правило timestamp.
func (c *Channel) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	default:
	}

	receivers, err := c.client.Publish(ctx, c.name, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish %q: %w", c.name, err)
	}
	c.logger.WithField("receivers", receivers).Debug("cart update published")
	return nil
}

func (c *Channel) Messages() <-chan []byte {
	return c.messages
}

// Close отписывается и ждёт завершения pump-горутины.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.pubsub.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Channel) pump() {
	defer c.wg.Done()
	defer close(c.messages)

	in := c.pubsub.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case c.messages <- []byte(msg.Payload):
			case <-c.done:
				return
			}
		}
	}
}

var (
	_ domain.ChannelOpener    = (*Opener)(nil)
	_ domain.BroadcastChannel = (*Channel)(nil)
)
