package worker

import (
	"context"
	"sync"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// EventHandler applies a batch of events that share one partition key.
type EventHandler interface {
	ProcessWalletEvents(ctx context.Context, key string, events []models.KafkaMessage) error
}

type BatchProcessor struct {
	partitionID   int32
	handler       EventHandler
	log           logrus.FieldLogger
	messages      []*sarama.ConsumerMessage
	kafkaMessages []models.KafkaMessage
	mutex         sync.Mutex
	lastProcessed time.Time
}

func NewBatchProcessor(partitionID int32, handler EventHandler, log logrus.FieldLogger) *BatchProcessor {
	return &BatchProcessor{
		partitionID:   partitionID,
		handler:       handler,
		log:           log.WithField("partition", partitionID),
		messages:      make([]*sarama.ConsumerMessage, 0),
		kafkaMessages: make([]models.KafkaMessage, 0),
		lastProcessed: time.Now(),
	}
}

func (bp *BatchProcessor) AddMessage(msg *sarama.ConsumerMessage, kafkaMsg models.KafkaMessage) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.messages = append(bp.messages, msg)
	bp.kafkaMessages = append(bp.kafkaMessages, kafkaMsg)
}

// Skip records msg as consumed without a payload, so its offset is committed with
// the next batch.
func (bp *BatchProcessor) Skip(msg *sarama.ConsumerMessage) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.messages = append(bp.messages, msg)
}

// ProcessBatch hands the buffered events to the handler grouped by wallet and
// returns the last consumed message, or nil when nothing may be committed. If any
// wallet fails, its events and every consumed offset go back to the front of the
// buffer and are retried on the next call.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context) *sarama.ConsumerMessage {
	bp.mutex.Lock()
	if len(bp.messages) == 0 {
		bp.mutex.Unlock()
		return nil
	}
	messages := bp.messages
	events := bp.kafkaMessages
	bp.messages = make([]*sarama.ConsumerMessage, 0, cap(bp.messages))
	bp.kafkaMessages = make([]models.KafkaMessage, 0, cap(bp.kafkaMessages))
	bp.lastProcessed = time.Now()
	bp.mutex.Unlock()

	last := messages[len(messages)-1]
	if len(events) == 0 {
		return last
	}

	bp.log.WithField("events", len(events)).Debug("processing batch")

	keys, grouped := groupByWallet(events)

	var failed []models.KafkaMessage
	for _, key := range keys {
		if err := bp.handler.ProcessWalletEvents(ctx, key, grouped[key]); err != nil {
			bp.log.WithError(err).WithField("key", key).Error("failed to process wallet events")
			failed = append(failed, grouped[key]...)
		}
	}
	if len(failed) == 0 {
		return last
	}

	bp.requeue(messages, failed)
	return nil
}

// requeue puts messages and events back ahead of anything buffered since.
func (bp *BatchProcessor) requeue(messages []*sarama.ConsumerMessage, events []models.KafkaMessage) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.messages = append(messages[:len(messages):len(messages)], bp.messages...)
	bp.kafkaMessages = append(events[:len(events):len(events)], bp.kafkaMessages...)
}

// Pending reports how many consumed messages are waiting to be committed.
func (bp *BatchProcessor) Pending() int {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()
	return len(bp.messages)
}

// ProcessRemaining flushes whatever is buffered before shutdown.
func (bp *BatchProcessor) ProcessRemaining(ctx context.Context) *sarama.ConsumerMessage {
	if pending := bp.Pending(); pending > 0 {
		bp.log.WithField("events", pending).Info("processing remaining events before shutdown")
	}
	return bp.ProcessBatch(ctx)
}

// groupByWallet keeps the first-seen key order and the event order within a key.
func groupByWallet(events []models.KafkaMessage) ([]string, map[string][]models.KafkaMessage) {
	keys := make([]string, 0)
	grouped := make(map[string][]models.KafkaMessage)

	for _, msg := range events {
		key := msg.WalletID
		if key == "" {
			key = msg.UserID
		}
		if _, ok := grouped[key]; !ok {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], msg)
	}

	return keys, grouped
}
