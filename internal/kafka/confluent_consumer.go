package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// HistoryConsumer persists the history records of call.ended events.
type HistoryConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  HistoryHandler
	doneCh   chan struct{}
	started  bool
}

// NewHistoryConsumer creates a consumer of the call topic.
func NewHistoryConsumer(brokers, topic, groupID string, handler HistoryHandler) (*HistoryConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &HistoryConsumer{
		consumer: c,
		topic:    topic,
		handler:  handler,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins consuming messages from Kafka.
func (hc *HistoryConsumer) Start(ctx context.Context) error {
	if err := hc.consumer.Subscribe(hc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", hc.topic, err)
	}

	l := pkglog.L()
	l.Info().Str("topic", hc.topic).Msg("call history consumer started")

	hc.started = true
	go hc.consumeLoop(ctx)

	return nil
}

func (hc *HistoryConsumer) consumeLoop(ctx context.Context) {
	l := pkglog.L()
	defer close(hc.doneCh)

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("call history consumer shutting down")
			return
		default:
			msg, err := hc.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				l.Error().Err(err).Msg("call history consumer error")
				continue
			}

			hc.processMessage(ctx, msg.Value)
		}
	}
}

func (hc *HistoryConsumer) processMessage(ctx context.Context, value []byte) {
	l := pkglog.L()

	var event CallEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.Error().Err(err).Msg("failed to unmarshal call event")
		return
	}
	if event.Type != EventCallEnded || event.History == nil {
		return
	}

	if err := hc.handler.Create(ctx, event.History); err != nil {
		l.Error().Err(err).Str(pkglog.FieldChannelID, event.ChannelID).Msg("failed to persist call history")
		return
	}
	l.Debug().Str(pkglog.FieldChannelID, event.ChannelID).Str("outcome", string(event.History.Outcome)).Msg("call history persisted")
}

// Close stops the consumer and releases resources. The context passed to
// Start must be cancelled first.
func (hc *HistoryConsumer) Close() error {
	if hc.started {
		<-hc.doneCh
	}
	if err := hc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}
