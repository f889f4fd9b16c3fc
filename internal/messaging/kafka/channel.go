// Package kafka реализует канал синхронизации корзины поверх Kafka.
// Имя канала используется как имя topic'а.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

const messageBufferSize = 64

// ConsumerFactory создаёт отдельный sarama.Consumer для каждого открытого канала.
type ConsumerFactory func() (sarama.Consumer, error)

// Opener открывает каналы поверх общего producer'а.
type Opener struct {
	producer    *Producer
	newConsumer ConsumerFactory
	client      sarama.Client
	logger      *log.Entry
}

// NewOpener подключается к брокерам и готовит общий producer.
func NewOpener(brokers []string, logger *log.Entry) (*Opener, error) {
	if logger == nil {
		logger = log.WithField("component", "kafka-broadcast")
	}

	client, err := sarama.NewClient(brokers, newConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	syncProducer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	opener := NewOpenerFromClients(syncProducer, func() (sarama.Consumer, error) {
		return sarama.NewConsumerFromClient(client)
	}, logger)
	opener.client = client
	return opener, nil
}

// NewOpenerFromClients собирает Opener из готовых клиентов (используется в тестах с sarama/mocks).
func NewOpenerFromClients(producer sarama.SyncProducer, newConsumer ConsumerFactory, logger *log.Entry) *Opener {
	if logger == nil {
		logger = log.WithField("component", "kafka-broadcast")
	}
	return &Opener{
		producer:    NewProducer(producer, logger),
		newConsumer: newConsumer,
		logger:      logger,
	}
}

// Open начинает чтение topic'а name с самого нового offset'а.
func (o *Opener) Open(_ context.Context, name string) (domain.BroadcastChannel, error) {
	consumer, err := o.newConsumer()
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	logger := o.logger.WithField("topic", name)
	reader, err := newPartitionReader(consumer, name, messageBufferSize, logger)
	if err != nil {
		_ = consumer.Close()
		return nil, err
	}

	return &Channel{
		topic:    name,
		producer: o.producer,
		reader:   reader,
		closed:   make(chan struct{}),
	}, nil
}

// Close закрывает общий producer и клиент.
func (o *Opener) Close() error {
	err := o.producer.Close()
	if o.client != nil {
		if cerr := o.client.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close kafka client: %w", cerr)
		}
	}
	return err
}

// Channel — один подписчик topic'а синхронизации.
type Channel struct {
	topic    string
	producer *Producer
	reader   *partitionReader
	closed   chan struct{}
	once     sync.Once
}

// Publish пишет сообщение в topic. Сообщение вернётся и самому отправителю.
func (c *Channel) Publish(_ context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return domain.ErrChannelClosed
	default:
	}
	return c.producer.Publish(c.topic, payload)
}

func (c *Channel) Messages() <-chan []byte {
	return c.reader.out
}

// Close останавливает чтение; общий producer остаётся открытым.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.reader.Close()
	})
	return err
}

var (
	_ domain.ChannelOpener    = (*Opener)(nil)
	_ domain.BroadcastChannel = (*Channel)(nil)
)
