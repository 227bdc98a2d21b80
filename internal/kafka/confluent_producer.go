package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// ConfluentProducer implements EventProducer using confluent-kafka-go.
type ConfluentProducer struct {
	producer     *kafka.Producer
	callTopic    string
	messageTopic string
	doneCh       chan struct{}
}

// NewConfluentProducer creates a producer for the call and message topics.
// Topics are created with partitions partitions when partitions is
// positive.
func NewConfluentProducer(brokers, callTopic, messageTopic string, partitions int) (*ConfluentProducer, error) {
	if partitions > 0 {
		for _, topic := range []string{callTopic, messageTopic} {
			if err := ensureTopic(brokers, topic, partitions); err != nil {
				l := pkglog.L()
				l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure topic, may already exist")
			}
		}
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cp := &ConfluentProducer{
		producer:     p,
		callTopic:    callTopic,
		messageTopic: messageTopic,
		doneCh:       make(chan struct{}),
	}

	go cp.deliveryReportHandler()

	return cp, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}

	return nil
}

func (cp *ConfluentProducer) deliveryReportHandler() {
	l := pkglog.L()
	for e := range cp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Error().Err(ev.TopicPartition.Error).Str("topic", *ev.TopicPartition.Topic).Msg("kafka delivery failed")
			}
		}
	}
	close(cp.doneCh)
}

func (cp *ConfluentProducer) produce(topic, key string, event interface{}) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = cp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// PublishCallEvent sends a call event keyed by channel id, so the events of
// one call stay ordered.
func (cp *ConfluentProducer) PublishCallEvent(ctx context.Context, event *CallEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	return cp.produce(cp.callTopic, event.ChannelID, event)
}

// PublishMessageEvent sends a message event keyed by chat id.
func (cp *ConfluentProducer) PublishMessageEvent(ctx context.Context, event *MessageEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	return cp.produce(cp.messageTopic, event.ChatID, event)
}

// RecordCall publishes record as a call.ended event.
func (cp *ConfluentProducer) RecordCall(ctx context.Context, record *domain.CallHistory) error {
	return cp.PublishCallEvent(ctx, CallEndedEvent(record))
}

// Close flushes pending messages and closes the producer.
func (cp *ConfluentProducer) Close() error {
	cp.producer.Flush(5000)
	cp.producer.Close()
	<-cp.doneCh
	return nil
}

// CallEndedEvent builds the call.ended event carrying record.
func CallEndedEvent(record *domain.CallHistory) *CallEvent {
	return &CallEvent{
		Type:      EventCallEnded,
		ChannelID: record.ChannelID,
		CallerID:  record.CallerID,
		CalleeID:  record.CalleeID,
		CallType:  record.CallType,
		History:   record,
		Timestamp: record.EndedAt.Unix(),
	}
}

var _ EventProducer = (*ConfluentProducer)(nil)
