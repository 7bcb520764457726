package sidecar

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/tests"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	chains     []uint64
	indexCalls atomic.Int32
	eventCalls atomic.Int32
	block      chan struct{}
	started    chan struct{}
}

func (f *fakeIndexer) Index(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error) {
	f.indexCalls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return &indexer.IndexResult{BlocksScanned: indexer.BlocksScanned{From: 1, To: 2, Total: 2}}, nil
}

func (f *fakeIndexer) IndexPoolEvents(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error) {
	f.eventCalls.Add(1)
	return &indexer.IndexResult{}, nil
}

func (f *fakeIndexer) ChainIds() []uint64 {
	return f.chains
}

func Test_IndexLocks(t *testing.T) {
	key := syncCursor.CursorKey{ChainId: 1, ContractType: syncCursor.ContractType_PoolDeployer, ContractAddress: "0xAB"}

	t.Run("Should refuse a second holder until released", func(t *testing.T) {
		locks := NewIndexLocks()
		release, err := locks.TryLock(key)
		require.NoError(t, err)
		assert.True(t, locks.IsLocked(key))

		_, err = locks.TryLock(syncCursor.CursorKey{ChainId: 1, ContractType: syncCursor.ContractType_PoolDeployer, ContractAddress: "0xab"})
		assert.ErrorIs(t, err, ErrIndexInProgress)

		release()
		release()
		assert.False(t, locks.IsLocked(key))

		_, err = locks.TryLock(key)
		assert.NoError(t, err)
	})
	t.Run("Should keep contracts independent", func(t *testing.T) {
		locks := NewIndexLocks()
		_, err := locks.TryLock(key)
		require.NoError(t, err)

		other := key
		other.ContractType = syncCursor.ContractType_PoolEvents
		_, err = locks.TryLock(other)
		assert.NoError(t, err)
	})
}

func Test_Sidecar(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := tests.GetConfig()
	chainId := cfg.Chains[0].ChainId

	t.Run("Should reject a manual pass while one is running", func(t *testing.T) {
		idx := &fakeIndexer{chains: []uint64{chainId}, block: make(chan struct{}), started: make(chan struct{}, 1)}
		s := NewSidecar(&SidecarConfig{Interval: time.Hour}, cfg, idx, NewIndexLocks(), l)

		done := make(chan error, 1)
		go func() {
			_, err := s.RunIndex(context.Background(), chainId, nil, nil)
			done <- err
		}()
		<-idx.started

		_, err := s.RunIndex(context.Background(), chainId, nil, nil)
		assert.ErrorIs(t, err, ErrIndexInProgress)

		_, err = s.RunIndexPoolEvents(context.Background(), chainId, nil, nil)
		assert.NoError(t, err)

		close(idx.block)
		require.NoError(t, <-done)
	})
	t.Run("Should run both passes on every tick and stop on shutdown", func(t *testing.T) {
		idx := &fakeIndexer{chains: []uint64{chainId}}
		s := NewSidecar(&SidecarConfig{Interval: 10 * time.Millisecond, PoolEventsEnabled: true}, cfg, idx, NewIndexLocks(), l)

		s.Start(context.Background())
		require.Eventually(t, func() bool {
			return idx.indexCalls.Load() >= 2 && idx.eventCalls.Load() >= 2
		}, time.Second, 5*time.Millisecond)

		s.ShutdownChan <- true
		s.Wait()
		assert.True(t, s.ShuttingDown())
	})
	t.Run("Should skip the pool events pass when disabled", func(t *testing.T) {
		idx := &fakeIndexer{chains: []uint64{chainId}}
		s := NewSidecar(&SidecarConfig{Interval: 10 * time.Millisecond}, cfg, idx, NewIndexLocks(), l)

		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)
		require.Eventually(t, func() bool {
			return idx.indexCalls.Load() >= 1
		}, time.Second, 5*time.Millisecond)
		cancel()
		s.Wait()
		assert.Equal(t, int32(0), idx.eventCalls.Load())
	})
}
