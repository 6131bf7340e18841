package broker

import (
	"fmt"

	"loyalty-ledger/internal/config"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"
)

func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},    // Use hash balancer to guarantee order
		RequiredAcks: kafka.RequireOne, // Wait for acknowledgement from leader
		Async:        false,            // Synchronous writing for reliability
		MaxAttempts:  10,
	}

	return writer, nil
}

// NewConsumerGroup joins the event worker's consumer group.
func NewConsumerGroup(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, cfg.GetSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}
	return group, nil
}
