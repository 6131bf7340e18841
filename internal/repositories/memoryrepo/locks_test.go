package memoryrepo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *Store) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func TestStore_IdleLocksAreDropped(t *testing.T) {
	s := New(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("order:%d", i)
		err := s.WithinTx(ctx, func(ctx context.Context, tx services.Tx) error {
			_, err := tx.LockOrder(ctx, key)
			return err
		})
		require.ErrorIs(t, err, models.ErrNotFound)
	}
	assert.Zero(t, s.lockCount(), "a rolled back tx leaves no lock entries")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinTx(ctx, func(ctx context.Context, tx services.Tx) error {
			if err := s.acquire(ctx, "wallet:w1"); err != nil {
				return err
			}
			close(held)
			<-release
			s.releaseLock("wallet:w1")
			return nil
		})
	}()
	<-held

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.ErrorIs(t, s.acquire(ctx, "wallet:w1"), models.ErrContention)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.lockCount(), "only the held key remains")

	close(release)
	require.NoError(t, <-done)
	assert.Zero(t, s.lockCount())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, s.acquire(ctx, "wallet:w2"))
	require.ErrorIs(t, s.acquire(canceled, "wallet:w2"), context.Canceled)
	s.releaseLock("wallet:w2")
	assert.Zero(t, s.lockCount())
}
