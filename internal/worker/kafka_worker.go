package worker

import (
	"context"
	"encoding/json"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/IBM/sarama"
)

// runWorker buffers messages of one claimed partition and flushes them on every
// tick. commit is called with the last message of each flushed batch.
func (m *PartitionManager) runWorker(ctx context.Context, partition int32, messages <-chan *sarama.ConsumerMessage, batchProcessor *BatchProcessor, commit func(*sarama.ConsumerMessage)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log := m.log.WithField("partition", partition)

	flush := func(ctx context.Context, remaining bool) {
		var last *sarama.ConsumerMessage
		if remaining {
			last = batchProcessor.ProcessRemaining(ctx)
		} else {
			last = batchProcessor.ProcessBatch(ctx)
		}
		if last != nil && commit != nil {
			commit(last)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Context canceled - terminating work
			log.Info("shutdown signal received")
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			flush(drainCtx, true)
			cancel()
			return

		case msg, ok := <-messages:
			if !ok {
				// Claim revoked by a rebalance
				flush(ctx, true)
				return
			}
			var kafkaMsg models.KafkaMessage
			if err := json.Unmarshal(msg.Value, &kafkaMsg); err != nil {
				log.WithError(err).WithField("offset", msg.Offset).Warn("failed to unmarshal message")
				batchProcessor.Skip(msg)
				continue
			}
			batchProcessor.AddMessage(msg, kafkaMsg)

		case <-ticker.C:
			// The timer has triggered - we process the batch
			flush(ctx, false)
		}
	}
}
