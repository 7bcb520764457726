package syncCursor

import (
	"context"
	"errors"
	"testing"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/tests"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChain struct {
	hashes map[uint64]string
	err    error
}

func (f *fakeChain) GetBlockByNumber(_ context.Context, n uint64) (*ethereum.EthereumBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ethereum.EthereumBlock{Hash: ethereum.EthereumHexString(f.hashes[n]), Number: ethereum.EthereumQuantity(n)}, nil
}

var key = CursorKey{ChainId: 84532, ContractType: ContractType_PoolDeployer, ContractAddress: "0x00000000000000000000000000000000000000D1"}

func newResolver(store CursorStore, chain BlockFetcher, l *zap.Logger) *Resolver {
	return NewResolver(store, chain, &ResolverConfig{LookbackBlocks: 1000, SafetyBlocks: 2, ReorgDepth: 12}, l)
}

func Test_Resolver(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	t.Run("Should prefer an explicit block", func(t *testing.T) {
		r := newResolver(NewMemoryCursorStore(), &fakeChain{}, l)
		from := uint64(5)
		res, err := r.ResolveFromBlock(ctx, key, &from, 10_000, 100)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), res.FromBlock)
		assert.Equal(t, ResolutionSource_Explicit, res.Source)
	})
	t.Run("Should look back from head without a cursor", func(t *testing.T) {
		r := newResolver(NewMemoryCursorStore(), &fakeChain{}, l)
		res, err := r.ResolveFromBlock(ctx, key, nil, 10_000, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(9_000), res.FromBlock)

		res, err = r.ResolveFromBlock(ctx, key, nil, 500, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), res.FromBlock)

		res, err = r.ResolveFromBlock(ctx, key, nil, 10_000, 9_500)
		require.NoError(t, err)
		assert.Equal(t, uint64(9_500), res.FromBlock)
	})
	t.Run("Should resume after the cursor minus the safety window", func(t *testing.T) {
		store := NewMemoryCursorStore()
		require.NoError(t, store.Save(ctx, &storage.IndexerSyncState{ChainId: key.ChainId, ContractType: key.ContractType, ContractAddress: key.ContractAddress, LastIndexedBlock: 200, LastBlockHash: "0xaa", IsHealthy: true}))

		r := newResolver(store, &fakeChain{hashes: map[uint64]string{200: "0xAA"}}, l)
		res, err := r.ResolveFromBlock(ctx, key, nil, 300, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(199), res.FromBlock)
		assert.False(t, res.ReorgDetected)
		assert.Equal(t, ResolutionSource_Cursor, res.Source)
	})
	t.Run("Should rewind on a hash mismatch", func(t *testing.T) {
		store := NewMemoryCursorStore()
		require.NoError(t, store.Save(ctx, &storage.IndexerSyncState{ChainId: key.ChainId, ContractType: key.ContractType, ContractAddress: key.ContractAddress, LastIndexedBlock: 200, LastBlockHash: "0xaa"}))

		r := newResolver(store, &fakeChain{hashes: map[uint64]string{200: "0xbb"}}, l)
		res, err := r.ResolveFromBlock(ctx, key, nil, 300, 0)
		require.NoError(t, err)
		assert.True(t, res.ReorgDetected)
		assert.Equal(t, uint64(189), res.FromBlock)
	})
	t.Run("Should resume when the reorg check fails", func(t *testing.T) {
		store := NewMemoryCursorStore()
		require.NoError(t, store.Save(ctx, &storage.IndexerSyncState{ChainId: key.ChainId, ContractType: key.ContractType, ContractAddress: key.ContractAddress, LastIndexedBlock: 200, LastBlockHash: "0xaa"}))

		r := newResolver(store, &fakeChain{err: errors.New("rpc down")}, l)
		res, err := r.ResolveFromBlock(ctx, key, nil, 300, 0)
		require.NoError(t, err)
		assert.False(t, res.ReorgDetected)
		assert.Equal(t, uint64(199), res.FromBlock)
	})
	t.Run("Should treat a failure-only cursor as no cursor", func(t *testing.T) {
		store := NewMemoryCursorStore()
		require.NoError(t, store.MarkUnhealthy(ctx, key, "boom"))

		r := newResolver(store, &fakeChain{}, l)
		res, err := r.ResolveFromBlock(ctx, key, nil, 5_000, 0)
		require.NoError(t, err)
		assert.Equal(t, ResolutionSource_Lookback, res.Source)
		assert.Equal(t, uint64(4_000), res.FromBlock)
	})
}

func Test_GormCursorStore(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	grm, err := tests.GetSqliteDatabaseConnection(l)
	require.NoError(t, err)
	store := NewGormCursorStore(grm)
	ctx := context.Background()

	t.Run("Should return nil for a missing cursor", func(t *testing.T) {
		c, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, c)
	})
	t.Run("Should save and overwrite a cursor", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, &storage.IndexerSyncState{ChainId: key.ChainId, ContractType: key.ContractType, ContractAddress: key.ContractAddress, LastIndexedBlock: 10, LastBlockHash: "0x01", IsHealthy: true}))
		require.NoError(t, store.Save(ctx, &storage.IndexerSyncState{ChainId: key.ChainId, ContractType: key.ContractType, ContractAddress: key.ContractAddress, LastIndexedBlock: 20, LastBlockHash: "0x02", IsHealthy: true}))

		c, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, uint64(20), c.LastIndexedBlock)
		assert.Equal(t, "0x00000000000000000000000000000000000000d1", c.ContractAddress)
	})
	t.Run("Should mark unhealthy without moving the block", func(t *testing.T) {
		require.NoError(t, store.MarkUnhealthy(ctx, key, "log fetch failed"))

		c, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, c.IsHealthy)
		assert.Equal(t, "log fetch failed", c.ErrorMessage)
		assert.Equal(t, uint64(20), c.LastIndexedBlock)
		assert.Equal(t, "0x02", c.LastBlockHash)
	})
	t.Run("Should list cursors by chain", func(t *testing.T) {
		other := uint64(1)
		cursors, err := store.List(ctx, &other)
		require.NoError(t, err)
		assert.Empty(t, cursors)

		cursors, err = store.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, cursors, 1)
	})
}
