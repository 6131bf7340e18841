package kafkarepo

import (
	"context"
	"encoding/json"
	"fmt"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type EventRepository struct {
	writer messageWriter
}

var _ services.EventPublisher = (*EventRepository)(nil)

func NewEventRepository(writer *kafka.Writer) *EventRepository {
	return &EventRepository{
		writer: writer,
	}
}

// SendEvents writes msgs to Kafka in one batch
func (r *EventRepository) SendEvents(ctx context.Context, msgs ...models.KafkaMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		msgBytes, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal kafka message: %w", err)
		}

		// walletID as key keeps events of one wallet in one partition, in order
		key := msg.WalletID
		if key == "" {
			key = msg.UserID
		}
		batch = append(batch, kafka.Message{
			Key:   []byte(key),
			Value: msgBytes,
		})
	}

	if err := r.writer.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("failed to write messages to kafka: %w", err)
	}

	return nil
}
