package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handledBatch struct {
	key    string
	events []models.KafkaMessage
}

type recordingHandler struct {
	mu      sync.Mutex
	batches []handledBatch
	failKey string
}

func (h *recordingHandler) ProcessWalletEvents(_ context.Context, key string, events []models.KafkaMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, handledBatch{key: key, events: events})
	if key == h.failKey {
		return errors.New("projection failed")
	}
	return nil
}

func (h *recordingHandler) snapshot() []handledBatch {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handledBatch(nil), h.batches...)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func consumerMessage(t *testing.T, offset int64, msg models.KafkaMessage) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(msg)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Offset: offset, Value: value}
}

func TestBatchProcessor_ProcessBatch(t *testing.T) {
	h := &recordingHandler{}
	bp := NewBatchProcessor(0, h, quietLogger())

	assert.Nil(t, bp.ProcessBatch(context.Background()), "empty batch")

	events := []models.KafkaMessage{
		{EventID: "1", WalletID: "w1"},
		{EventID: "2", WalletID: "w2"},
		{EventID: "3", WalletID: "w1"},
		{EventID: "4", UserID: "u9"},
	}
	for i, e := range events {
		bp.AddMessage(&sarama.ConsumerMessage{Offset: int64(i)}, e)
	}
	bp.Skip(&sarama.ConsumerMessage{Offset: 4})

	last := bp.ProcessBatch(context.Background())
	require.NotNil(t, last)
	assert.Equal(t, int64(4), last.Offset)

	batches := h.snapshot()
	require.Len(t, batches, 3)
	assert.Equal(t, "w1", batches[0].key)
	require.Len(t, batches[0].events, 2)
	assert.Equal(t, "1", batches[0].events[0].EventID)
	assert.Equal(t, "3", batches[0].events[1].EventID)
	assert.Equal(t, "w2", batches[1].key)
	assert.Equal(t, "u9", batches[2].key)

	assert.Nil(t, bp.ProcessRemaining(context.Background()), "batch is cleared after processing")
}

func TestBatchProcessor_FailedWalletIsRetried(t *testing.T) {
	h := &recordingHandler{failKey: "w2"}
	bp := NewBatchProcessor(0, h, quietLogger())

	bp.AddMessage(&sarama.ConsumerMessage{Offset: 0}, models.KafkaMessage{EventID: "1", WalletID: "w1"})
	bp.AddMessage(&sarama.ConsumerMessage{Offset: 1}, models.KafkaMessage{EventID: "2", WalletID: "w2"})

	assert.Nil(t, bp.ProcessBatch(context.Background()), "nothing is committed while a wallet fails")
	assert.Equal(t, 2, bp.Pending())

	bp.AddMessage(&sarama.ConsumerMessage{Offset: 2}, models.KafkaMessage{EventID: "3", WalletID: "w2"})
	assert.Nil(t, bp.ProcessBatch(context.Background()))

	batches := h.snapshot()
	require.Len(t, batches, 3, "only the failed wallet is handed over again")
	assert.Equal(t, "w1", batches[0].key)
	assert.Equal(t, "w2", batches[2].key)
	require.Len(t, batches[2].events, 2)
	assert.Equal(t, "2", batches[2].events[0].EventID)
	assert.Equal(t, "3", batches[2].events[1].EventID)

	h.mu.Lock()
	h.failKey = ""
	h.mu.Unlock()

	last := bp.ProcessBatch(context.Background())
	require.NotNil(t, last)
	assert.Equal(t, int64(2), last.Offset)
	assert.Zero(t, bp.Pending())
}

func TestBatchProcessor_SkippedOnly(t *testing.T) {
	h := &recordingHandler{}
	bp := NewBatchProcessor(0, h, quietLogger())
	bp.Skip(&sarama.ConsumerMessage{Offset: 7})

	last := bp.ProcessBatch(context.Background())
	require.NotNil(t, last)
	assert.Equal(t, int64(7), last.Offset)
	assert.Empty(t, h.snapshot())
}

func TestPartitionManager_RunWorker(t *testing.T) {
	h := &recordingHandler{}
	m := NewPartitionManager(nil, "wallet-events", 10*time.Millisecond, h, quietLogger())
	bp := NewBatchProcessor(3, h, quietLogger())

	messages := make(chan *sarama.ConsumerMessage, 4)
	messages <- consumerMessage(t, 10, models.KafkaMessage{EventID: "a", WalletID: "w1"})
	messages <- &sarama.ConsumerMessage{Offset: 11, Value: []byte("not json")}
	messages <- consumerMessage(t, 12, models.KafkaMessage{EventID: "b", WalletID: "w1"})

	var committed atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.runWorker(ctx, 3, messages, bp, func(msg *sarama.ConsumerMessage) {
			committed.Store(msg.Offset)
		})
	}()

	require.Eventually(t, func() bool { return committed.Load() == 12 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	handled := 0
	for _, b := range h.snapshot() {
		assert.Equal(t, "w1", b.key)
		handled += len(b.events)
	}
	assert.Equal(t, 2, handled, "the malformed message is skipped")
}

func TestPartitionManager_RunWorkerFlushesOnRevoke(t *testing.T) {
	h := &recordingHandler{}
	m := NewPartitionManager(nil, "wallet-events", time.Hour, h, quietLogger())
	bp := NewBatchProcessor(0, h, quietLogger())

	messages := make(chan *sarama.ConsumerMessage, 1)
	messages <- consumerMessage(t, 5, models.KafkaMessage{EventID: "a", UserID: "u1"})
	close(messages)

	var committed int64
	m.runWorker(context.Background(), 0, messages, bp, func(msg *sarama.ConsumerMessage) {
		committed = msg.Offset
	})

	assert.Equal(t, int64(5), committed)
	require.Len(t, h.snapshot(), 1)
}

func TestPartitionManager_RunWorkerHoldsOffsetOnFailure(t *testing.T) {
	h := &recordingHandler{failKey: "w1"}
	m := NewPartitionManager(nil, "wallet-events", 5*time.Millisecond, h, quietLogger())
	bp := NewBatchProcessor(1, h, quietLogger())

	messages := make(chan *sarama.ConsumerMessage, 1)
	messages <- consumerMessage(t, 20, models.KafkaMessage{EventID: "a", WalletID: "w1"})

	var commits atomic.Int32
	var committed atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.runWorker(ctx, 1, messages, bp, func(msg *sarama.ConsumerMessage) {
			commits.Add(1)
			committed.Store(msg.Offset)
		})
	}()

	require.Eventually(t, func() bool { return len(h.snapshot()) >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, commits.Load(), "a failing handler never commits")

	h.mu.Lock()
	h.failKey = ""
	h.mu.Unlock()

	require.Eventually(t, func() bool { return committed.Load() == 20 }, time.Second, time.Millisecond)
	cancel()
	<-done

	for _, b := range h.snapshot() {
		require.Len(t, b.events, 1)
		assert.Equal(t, "a", b.events[0].EventID)
	}
}

type countingExpirer struct {
	calls atomic.Int32
}

func (e *countingExpirer) ExpireStale(context.Context, time.Duration) (int, error) {
	e.calls.Add(1)
	return 1, nil
}

func TestOrderSweeper(t *testing.T) {
	t.Run("disabled without ttl", func(t *testing.T) {
		e := &countingExpirer{}
		s := NewOrderSweeper(e, 0, time.Millisecond, quietLogger())

		done := make(chan struct{})
		go func() {
			s.Run(context.Background())
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("sweeper should return immediately")
		}
		assert.Zero(t, e.calls.Load())
	})

	t.Run("sweeps until canceled", func(t *testing.T) {
		e := &countingExpirer{}
		s := NewOrderSweeper(e, time.Hour, 5*time.Millisecond, quietLogger())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			s.Run(ctx)
			close(done)
		}()
		require.Eventually(t, func() bool { return e.calls.Load() >= 2 }, time.Second, time.Millisecond)
		cancel()
		<-done
	})
}

type countingSettler struct {
	calls atomic.Int32
	age   atomic.Int64
}

func (s *countingSettler) SettleWithdrawals(_ context.Context, age time.Duration) (int, error) {
	s.calls.Add(1)
	s.age.Store(int64(age))
	return 0, errors.New("provider unavailable")
}

func TestPayoutReconciler(t *testing.T) {
	t.Run("disabled without age", func(t *testing.T) {
		s := &countingSettler{}
		r := NewPayoutReconciler(s, 0, time.Millisecond, quietLogger())
		r.Run(context.Background())
		assert.Zero(t, s.calls.Load())
	})

	t.Run("keeps settling after errors", func(t *testing.T) {
		s := &countingSettler{}
		r := NewPayoutReconciler(s, 10*time.Minute, 5*time.Millisecond, quietLogger())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			r.Run(ctx)
			close(done)
		}()
		require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, time.Millisecond)
		cancel()
		<-done
		assert.Equal(t, int64(10*time.Minute), s.age.Load())
	})
}
