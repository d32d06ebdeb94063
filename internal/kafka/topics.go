package kafka

import (
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topics produced by the grouping service. Messages are keyed by group or
// user ID so per-entity ordering is preserved.
const (
	// TopicGroupEvents carries membership lifecycle events (created, joined,
	// left, full, closed, cancelled, dissolved).
	TopicGroupEvents = "grouping.events"
	// TopicRewards carries loyalty credit commands for the rewards pipeline.
	TopicRewards = "grouping.rewards"
)

// GroupingTopics lists every topic this service publishes to.
func GroupingTopics() []string {
	return []string{TopicGroupEvents, TopicRewards}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(brokers []string, topics []string) error {
	// Connect to the first broker to create topics
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	// Create each topic
	for _, topic := range topics {
		topicConfigs := []kafka.TopicConfig{
			{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			},
		}

		err = controllerConn.CreateTopics(topicConfigs...)
		if err != nil {
			// If error contains "already exists", it's not a problem
			if err.Error() == "kafka server: topic already exists" {
				log.Printf("Topic %s already exists", topic)
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
			// Continue trying to create other topics even if one fails
		} else {
			log.Printf("Created topic: %s", topic)
		}
	}

	// Wait a moment for topics to be fully created
	time.Sleep(1 * time.Second)
	return nil
}
