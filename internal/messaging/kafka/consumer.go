package kafka

import (
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// SyncPartition — единственная партиция topic'а синхронизации.
const SyncPartition int32 = 0

// partitionReader читает одну партицию с OffsetNewest и перекладывает значения в out.
// Consumer group здесь не подходит: каждый контекст должен видеть каждое сообщение.
type partitionReader struct {
	consumer  sarama.Consumer
	partition sarama.PartitionConsumer
	out       chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	logger    *log.Entry
}

func newPartitionReader(consumer sarama.Consumer, topic string, bufferSize int, logger *log.Entry) (*partitionReader, error) {
	pc, err := consumer.ConsumePartition(topic, SyncPartition, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("failed to consume partition %s/%d: %w", topic, SyncPartition, err)
	}

	r := &partitionReader{
		consumer:  consumer,
		partition: pc,
		out:       make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		logger:    logger,
	}

	r.wg.Add(2)
	go r.readMessages()
	go r.readErrors()
	return r, nil
}

func (r *partitionReader) readMessages() {
	defer r.wg.Done()
	defer close(r.out)

	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-r.partition.Messages():
			if !ok {
				return
			}
			r.logger.WithFields(log.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Debug("received message")

			select {
			case r.out <- msg.Value:
			case <-r.done:
				return
			}
		}
	}
}

func (r *partitionReader) readErrors() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case err, ok := <-r.partition.Errors():
			if !ok {
				return
			}
			r.logger.WithError(err).Error("consumer error")
		}
	}
}

// Close останавливает чтение и закрывает partition consumer вместе с consumer.
func (r *partitionReader) Close() error {
	close(r.done)
	pcErr := r.partition.Close()
	r.wg.Wait()
	if err := r.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	if pcErr != nil {
		return fmt.Errorf("failed to close partition consumer: %w", pcErr)
	}
	return nil
}
