package notify

import (
	"encoding/json"
	"fmt"

	"ms-grouping/internal/kafka"
	"ms-grouping/internal/models"
)

// KafkaPublisher is the slice of the Kafka producer the broadcaster needs.
type KafkaPublisher interface {
	Publish(topic string, key string, value []byte) error
}

// Broadcaster delivers membership events over both transports: the Kafka
// group-events topic for downstream services and the in-process emitter for
// connected SSE clients.
type Broadcaster struct {
	Kafka   KafkaPublisher
	Emitter *GroupEventEmitter
}

func NewBroadcaster(kafkaPublisher KafkaPublisher, emitter *GroupEventEmitter) *Broadcaster {
	return &Broadcaster{Kafka: kafkaPublisher, Emitter: emitter}
}

// MembershipChanged fans one event out. SSE delivery happens first and never
// fails; the Kafka error is returned so the caller can log it. Events are
// keyed by group ID to keep per-group ordering on the topic.
func (b *Broadcaster) MembershipChanged(event models.GroupEvent) error {
	if b.Emitter != nil {
		b.Emitter.Emit(event)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal group event: %w", err)
	}
	return b.Kafka.Publish(kafka.TopicGroupEvents, event.GroupID, data)
}
