package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to one topic, keyed by asset id so every
// event of an asset lands on the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a synchronous producer that waits for all replicas
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Async:                  false,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Send writes one event
func (s *KafkaSink) Send(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.AssetID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
