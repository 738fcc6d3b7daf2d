package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/reconcile"
)

// Event is the message body written for each published outcome.
type Event struct {
	ID         string           `json:"id"`
	Topic      string           `json:"topic"`
	OccurredAt time.Time        `json:"occurredAt"`
	Result     reconcile.Result `json:"result"`
}

// NewProducerConfig returns the sarama settings used for outcome events.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	return config
}

// NewSyncProducer connects to brokers with NewProducerConfig.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: no kafka brokers configured")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("events: create producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher writes reconciliation outcomes to Kafka, keyed by order id
// so every event for one order lands on the same partition.
type KafkaPublisher struct {
	Producer    sarama.SyncProducer
	TopicPrefix string
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Publish implements reconcile.Publisher.
func (p KafkaPublisher) Publish(_ context.Context, res reconcile.Result) error {
	topic, ok := TopicFor(p.TopicPrefix, res.Status)
	if !ok {
		return nil
	}
	if p.Producer == nil {
		return errors.New("events: producer not configured")
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	body, err := json.Marshal(Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: now().UTC(),
		Result:     res,
	})
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(res.OrderID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("status"), Value: []byte(res.Status)},
			{Key: []byte("order-kind"), Value: []byte(res.OrderKind)},
		},
	}
	partition, offset, err := p.Producer.SendMessage(msg)
	if err != nil {
		obs.IncCounter(obs.EventsPublishedTotal, topic, "error")
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	obs.IncCounter(obs.EventsPublishedTotal, topic, "ok")
	p.Logger.Debug().
		Str("topic", topic).
		Str("order_id", res.OrderID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("reconciliation event published")
	return nil
}

// Close releases the underlying producer.
func (p KafkaPublisher) Close() error {
	if p.Producer == nil {
		return nil
	}
	return p.Producer.Close()
}

// Nop drops every event.
type Nop struct{}

// Publish implements reconcile.Publisher.
func (Nop) Publish(context.Context, reconcile.Result) error { return nil }
