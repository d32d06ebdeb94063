package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	Writer *kafka.Writer
}

// NewProducer builds one writer shared by every grouping topic. The writer is
// not bound to a topic; each message carries its own.
func NewProducer(brokers []string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
	})
	return &Producer{Writer: writer}
}

// Publish streams a single keyed message to the given topic.
func (p *Producer) Publish(topic string, key string, value []byte) error {
	fmt.Printf("Publishing to Kafka [%s]: %s\n", topic, string(value))

	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// Close flushes buffered messages and shuts the writer down.
func (p *Producer) Close() error {
	return p.Writer.Close()
}
