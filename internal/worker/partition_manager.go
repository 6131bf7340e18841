package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// PartitionManager consumes the events topic as a member of a consumer group and
// runs one batching worker per claimed partition.
type PartitionManager struct {
	group    sarama.ConsumerGroup
	topic    string
	handler  EventHandler
	interval time.Duration
	log      logrus.FieldLogger
}

var _ sarama.ConsumerGroupHandler = (*PartitionManager)(nil)

func NewPartitionManager(group sarama.ConsumerGroup, topic string, interval time.Duration, handler EventHandler, log logrus.FieldLogger) *PartitionManager {
	if interval <= 0 {
		interval = time.Second
	}
	return &PartitionManager{
		group:    group,
		topic:    topic,
		handler:  handler,
		interval: interval,
		log:      log,
	}
}

// Start blocks until ctx is canceled, rejoining the group after every rebalance.
func (m *PartitionManager) Start(ctx context.Context) error {
	m.log.WithField("topic", m.topic).Info("starting partition workers")

	go func() {
		for err := range m.group.Errors() {
			m.log.WithError(err).Error("kafka consumer error")
		}
	}()

	for {
		if err := m.group.Consume(ctx, []string{m.topic}, m); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consumer group error: %w", err)
		}
		if ctx.Err() != nil {
			m.log.Info("all partition workers stopped")
			return nil
		}
	}
}

func (m *PartitionManager) Setup(session sarama.ConsumerGroupSession) error {
	m.log.WithField("claims", session.Claims()).Info("partitions assigned")
	return nil
}

func (m *PartitionManager) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (m *PartitionManager) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	partition := claim.Partition()
	m.log.WithField("partition", partition).Info("starting worker for partition")

	batchProcessor := NewBatchProcessor(partition, m.handler, m.log)
	m.runWorker(session.Context(), partition, claim.Messages(), batchProcessor, func(msg *sarama.ConsumerMessage) {
		session.MarkMessage(msg, "")
	})
	return nil
}
