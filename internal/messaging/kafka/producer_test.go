package kafka

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_Publish(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducer(mockProducer, log.WithField("component", "kafka-producer-test"))

	payload := []byte(`{"type":"CART_UPDATED","timestamp":1}`)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !bytes.Equal(val, payload) {
			return fmt.Errorf("unexpected payload %s", val)
		}
		return nil
	})

	if err := producer.Publish("cart-sync-channel", payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_Publish_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducer(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.Publish("cart-sync-channel", []byte("{}")); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewConfig(t *testing.T) {
	config := newConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("config must be valid: %v", err)
	}
	if !config.Producer.Return.Successes {
		t.Fatal("sync producer requires Return.Successes")
	}
}
