package rewards

import (
	"encoding/json"
	"fmt"

	"ms-grouping/internal/kafka"
	"ms-grouping/internal/models"
)

// KafkaPublisher is the slice of the Kafka producer the publisher needs.
type KafkaPublisher interface {
	Publish(topic string, key string, value []byte) error
}

// Publisher streams reward credits to the loyalty pipeline. Credits are
// fire-and-forget: callers log a failed publish and move on, they never roll
// back the membership change that earned the credit.
type Publisher struct {
	Kafka KafkaPublisher
}

func NewPublisher(kafkaPublisher KafkaPublisher) *Publisher {
	return &Publisher{Kafka: kafkaPublisher}
}

// Credit publishes one credit command keyed by the credited user, so credits
// for the same user stay ordered.
func (p *Publisher) Credit(credit models.RewardCredit) error {
	data, err := json.Marshal(credit)
	if err != nil {
		return fmt.Errorf("failed to marshal reward credit: %w", err)
	}
	return p.Kafka.Publish(kafka.TopicRewards, credit.UserID, data)
}
