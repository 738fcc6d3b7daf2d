package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/events"
	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

func TestPublishAppliedResult(t *testing.T) {
	producer := mocks.NewSyncProducer(t, events.NewProducerConfig("test"))
	fixed := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)
	total := "42.08"

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "recargo.applied" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "gid://shopify/DraftOrder/1" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev events.Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		if ev.ID == "" || !ev.OccurredAt.Equal(fixed) || ev.Result.RecargoAmount != "2.08" {
			return errors.New("unexpected event body")
		}
		return nil
	})

	pub := events.KafkaPublisher{Producer: producer, Now: func() time.Time { return fixed }, Logger: zerolog.Nop()}
	err := pub.Publish(context.Background(), reconcile.Result{
		Success:       true,
		Status:        reconcile.StatusApplied,
		OrderID:       "gid://shopify/DraftOrder/1",
		OrderKind:     surcharge.OrderDraft,
		Subtotal:      "40.00",
		RecargoAmount: "2.08",
		NewTotal:      &total,
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestPublishSkipsQuietResults(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := events.KafkaPublisher{Producer: producer, Logger: zerolog.Nop()}

	require.NoError(t, pub.Publish(context.Background(), reconcile.Result{Success: true, Status: reconcile.StatusSkipped}))
	require.NoError(t, pub.Publish(context.Background(), reconcile.Result{Status: reconcile.StatusRejected}))
	require.NoError(t, producer.Close())
}

func TestPublishSurfacesBrokerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	pub := events.KafkaPublisher{Producer: producer, TopicPrefix: "shop", Logger: zerolog.Nop()}
	err := pub.Publish(context.Background(), reconcile.Result{Status: reconcile.StatusPartial, OrderID: "gid://shopify/Order/3"})
	require.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), "shop.partial")
	require.NoError(t, producer.Close())
}

func TestTopicFor(t *testing.T) {
	topic, ok := events.TopicFor("", reconcile.StatusFailed)
	assert.True(t, ok)
	assert.Equal(t, "recargo.failed", topic)

	_, ok = events.TopicFor("", reconcile.StatusPlanned)
	assert.False(t, ok)

	assert.Equal(t, []string{"recargo.applied", "recargo.partial", "recargo.failed"}, events.DefaultTopics(""))
}

func TestNewSyncProducerRequiresBrokers(t *testing.T) {
	_, err := events.NewSyncProducer(nil, "api")
	require.Error(t, err)
}
