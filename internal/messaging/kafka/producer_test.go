package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(raw []byte) error {
		var event CartEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.EventType != EventTypeLineAdded || event.CartID != 42 {
			return errors.New("event body lost type or cart id")
		}
		if event.Metadata["session_id"] != "sess-1" {
			return errors.New("event metadata was dropped")
		}
		return nil
	})

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	event := NewCartEvent(EventTypeLineAdded, 42, map[string]interface{}{"session_id": "sess-1"})
	if err := producer.PublishEvent(TopicCartEvents, "42", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_BrokerError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	if err := producer.PublishEvent(TopicCartEvents, "7", NewCartEvent(EventTypeCartCreated, 7, nil)); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewCartEvent(t *testing.T) {
	before := time.Now()
	event := NewCartEvent(EventTypeLineUpdated, 15, map[string]interface{}{"qty": 3})
	after := time.Now()

	if event.EventType != EventTypeLineUpdated {
		t.Errorf("expected event type %s, got %s", EventTypeLineUpdated, event.EventType)
	}
	if event.CartID != 15 {
		t.Errorf("expected cart id 15, got %d", event.CartID)
	}
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Error("expected timestamp within call window")
	}
	if event.Metadata["qty"] != 3 {
		t.Errorf("expected metadata qty 3, got %v", event.Metadata["qty"])
	}
}
