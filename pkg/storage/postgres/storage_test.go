package postgres

import (
	"context"
	"testing"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/tests"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chainId     = uint64(84532)
	poolAddress = "0x00000000000000000000000000000000000000a1"
	userAddress = "0x00000000000000000000000000000000000000b1"
)

func setup(t *testing.T) *PostgresStore {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	grm, err := tests.GetSqliteDatabaseConnection(l)
	require.NoError(t, err)
	return NewPostgresStore(grm, l)
}

func purchase(txHash string, logIndex uint64, quantity uint64, amount string) *storage.UserActivity {
	return &storage.UserActivity{
		ChainId:         chainId,
		UserAddress:     userAddress,
		ActivityType:    storage.ActivityType_SlotPurchased,
		PoolAddress:     poolAddress,
		TransactionHash: txHash,
		LogIndex:        logIndex,
		BlockNumber:     20,
		Quantity:        quantity,
		Amount:          amount,
	}
}

func Test_PostgresStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Pools", func(t *testing.T) {
		store := setup(t)

		t.Run("Should insert a new pool", func(t *testing.T) {
			pool, written, err := store.UpsertPool(ctx, &storage.Pool{
				Address:         "0x00000000000000000000000000000000000000A1",
				ChainId:         chainId,
				Creator:         "0x00000000000000000000000000000000000000C1",
				Name:            "Alpha",
				SlotFee:         "1000000000000000000",
				State:           storage.PoolState_Active,
				CreatedAtBlock:  10,
				LastSyncedBlock: 10,
			})
			require.NoError(t, err)
			assert.True(t, written)
			assert.Equal(t, poolAddress, pool.Address)

			stored, err := store.GetPool(ctx, poolAddress, chainId)
			require.NoError(t, err)
			assert.Equal(t, "Alpha", stored.Name)
			assert.Equal(t, "1000000000000000000", stored.SlotFee)
			assert.Equal(t, storage.PrizeType_None, stored.PrizeType)
		})
		t.Run("Should be idempotent for the same observation", func(t *testing.T) {
			_, written, err := store.UpsertPool(ctx, &storage.Pool{Address: poolAddress, ChainId: chainId, Name: "Alpha", State: storage.PoolState_Active, LastSyncedBlock: 10})
			require.NoError(t, err)
			assert.True(t, written)

			addresses, err := store.ListPoolAddresses(ctx, chainId)
			require.NoError(t, err)
			assert.Equal(t, []string{poolAddress}, addresses)
		})
		t.Run("Should refuse an older observation", func(t *testing.T) {
			_, err := store.RaisePoolState(ctx, poolAddress, chainId, storage.PoolState_Completed, 30)
			require.NoError(t, err)

			_, written, err := store.UpsertPool(ctx, &storage.Pool{Address: poolAddress, ChainId: chainId, Name: "Stale", State: storage.PoolState_Active, LastSyncedBlock: 15})
			require.NoError(t, err)
			assert.False(t, written)

			stored, err := store.GetPool(ctx, poolAddress, chainId)
			require.NoError(t, err)
			assert.Equal(t, "Alpha", stored.Name)
			assert.Equal(t, storage.PoolState_Completed, stored.State)
			assert.Equal(t, uint64(30), stored.LastSyncedBlock)
		})
		t.Run("Should not regress a terminal state on a newer observation", func(t *testing.T) {
			_, written, err := store.UpsertPool(ctx, &storage.Pool{Address: poolAddress, ChainId: chainId, Name: "Alpha", State: storage.PoolState_Active, LastSyncedBlock: 40})
			require.NoError(t, err)
			assert.True(t, written)

			stored, err := store.GetPool(ctx, poolAddress, chainId)
			require.NoError(t, err)
			assert.Equal(t, storage.PoolState_Completed, stored.State)
			assert.Equal(t, uint64(10), stored.CreatedAtBlock)
		})
		t.Run("Should return not found for a missing pool", func(t *testing.T) {
			_, err := store.GetPool(ctx, "0x00000000000000000000000000000000000000ff", chainId)
			assert.ErrorIs(t, err, storage.ErrNotFound)

			_, err = store.RaisePoolState(ctx, "0x00000000000000000000000000000000000000ff", chainId, storage.PoolState_Drawing, 1)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	})

	t.Run("Participants", func(t *testing.T) {
		store := setup(t)
		_, _, err := store.UpsertPool(ctx, &storage.Pool{Address: poolAddress, ChainId: chainId, State: storage.PoolState_Active, LastSyncedBlock: 10})
		require.NoError(t, err)

		t.Run("Should apply a purchase once", func(t *testing.T) {
			inserted, p, err := store.ApplySlotPurchase(ctx, purchase("0xt1", 0, 2, "2000000000000000000"))
			require.NoError(t, err)
			assert.True(t, inserted)
			assert.Equal(t, uint64(2), p.SlotsPurchased)

			inserted, _, err = store.ApplySlotPurchase(ctx, purchase("0xT1", 0, 2, "2000000000000000000"))
			require.NoError(t, err)
			assert.False(t, inserted)

			inserted, p, err = store.ApplySlotPurchase(ctx, purchase("0xt1", 1, 1, "1000000000000000000"))
			require.NoError(t, err)
			assert.True(t, inserted)
			assert.Equal(t, uint64(3), p.SlotsPurchased)
			assert.Equal(t, "3000000000000000000", p.TotalSpent)
			assert.Equal(t, "3000000000000000000", p.RefundableAmount)

			pool, err := store.GetPool(ctx, poolAddress, chainId)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), pool.SlotsSold)
		})
		t.Run("Should clamp refunds at zero and apply them once", func(t *testing.T) {
			refund := &storage.UserActivity{
				ChainId:         chainId,
				UserAddress:     userAddress,
				ActivityType:    storage.ActivityType_RefundClaimed,
				PoolAddress:     poolAddress,
				TransactionHash: "0xt2",
				BlockNumber:     30,
				Amount:          "5000000000000000000",
			}
			inserted, p, err := store.ApplyRefund(ctx, refund)
			require.NoError(t, err)
			assert.True(t, inserted)
			assert.Equal(t, "0", p.RefundableAmount)
			assert.True(t, p.RefundClaimed)

			inserted, _, err = store.ApplyRefund(ctx, refund)
			require.NoError(t, err)
			assert.False(t, inserted)
		})
	})

	t.Run("Winners", func(t *testing.T) {
		store := setup(t)

		winners := []*storage.PoolWinner{
			{PoolAddress: poolAddress, ChainId: chainId, WinnerIndex: 0, WinnerAddress: userAddress, TransactionHash: "0xt3", BlockNumber: 40},
			{PoolAddress: poolAddress, ChainId: chainId, WinnerIndex: 1, WinnerAddress: "0x00000000000000000000000000000000000000b2", TransactionHash: "0xt3", BlockNumber: 40},
		}
		count, err := store.InsertWinners(ctx, winners)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		count, err = store.InsertWinners(ctx, []*storage.PoolWinner{
			{PoolAddress: poolAddress, ChainId: chainId, WinnerIndex: 0, WinnerAddress: "0x00000000000000000000000000000000000000ff", TransactionHash: "0xt9", BlockNumber: 41},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		claim := &storage.UserActivity{
			ChainId:         chainId,
			UserAddress:     userAddress,
			ActivityType:    storage.ActivityType_PrizeClaimed,
			PoolAddress:     poolAddress,
			TransactionHash: "0xt4",
			BlockNumber:     50,
		}
		inserted, err := store.MarkPrizeClaimed(ctx, claim, 0)
		require.NoError(t, err)
		assert.True(t, inserted)

		stored := make([]*storage.PoolWinner, 0)
		require.NoError(t, store.Db.Order("winner_index asc").Find(&stored).Error)
		require.Len(t, stored, 2)
		assert.Equal(t, userAddress, stored[0].WinnerAddress)
		assert.True(t, stored[0].PrizeClaimed)
		assert.False(t, stored[1].PrizeClaimed)
	})

	t.Run("Collections", func(t *testing.T) {
		store := setup(t)

		c, written, err := store.UpsertCollection(ctx, &storage.Collection{Address: "0x00000000000000000000000000000000000000E1", ChainId: chainId, Name: "Art", LastSyncedBlock: 20})
		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, "0", c.MaxSupply)

		_, written, err = store.UpsertCollection(ctx, &storage.Collection{Address: "0x00000000000000000000000000000000000000e1", ChainId: chainId, Name: "Old", LastSyncedBlock: 10})
		require.NoError(t, err)
		assert.False(t, written)
	})
}
