package userDataService

import (
	"context"
	"fmt"
	"testing"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/tests"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainId = uint64(84532)

func address(prefix byte, i int) string {
	return fmt.Sprintf("0x%02x%038x", prefix, i)
}

func Test_UserDataService(t *testing.T) {
	ctx := context.Background()
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := tests.GetConfig()

	grm, err := tests.GetSqliteDatabaseConnection(l)
	require.NoError(t, err)
	uds := NewUserDataService(grm, l, cfg)

	user := address(0xbb, 1)

	for i := 0; i < 2; i++ {
		p := &storage.Pool{Address: address(0xaa, i), ChainId: chainId, Creator: user}
		p.Normalize()
		require.NoError(t, grm.Create(p).Error)
	}
	participants := []*storage.PoolParticipant{
		{PoolAddress: address(0xaa, 0), ChainId: chainId, ParticipantAddress: user, SlotsPurchased: 3, TotalSpent: "3000000000000000000", RefundableAmount: "1000000000000000000"},
		{PoolAddress: address(0xaa, 1), ChainId: chainId, ParticipantAddress: user, SlotsPurchased: 2, TotalSpent: "99999999999999999999", RefundableAmount: "99999999999999999999"},
		{PoolAddress: address(0xaa, 2), ChainId: chainId, ParticipantAddress: user, SlotsPurchased: 1, TotalSpent: "1", RefundableAmount: "1", RefundClaimed: true},
	}
	for _, p := range participants {
		require.NoError(t, grm.Create(p).Error)
	}
	require.NoError(t, grm.Create(&storage.PoolWinner{PoolAddress: address(0xaa, 0), ChainId: chainId, WinnerIndex: 0, WinnerAddress: user}).Error)

	for i := 0; i < 12; i++ {
		a := &storage.UserActivity{
			ChainId:         chainId,
			UserAddress:     user,
			ActivityType:    storage.ActivityType_SlotPurchased,
			PoolAddress:     address(0xaa, 0),
			TransactionHash: fmt.Sprintf("0x%064x", i),
			BlockNumber:     uint64(100 + i),
		}
		a.Normalize()
		require.NoError(t, grm.Create(a).Error)
	}

	t.Run("Should aggregate user stats exactly", func(t *testing.T) {
		stats, err := uds.GetUserStats(ctx, user, chainId)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.PoolsCreated)
		assert.Equal(t, int64(3), stats.PoolsParticipated)
		assert.Equal(t, uint64(6), stats.SlotsPurchased)
		assert.Equal(t, "103000000000000000000", stats.TotalSpent)
		assert.Equal(t, "100999999999999999999", stats.TotalClaimableRefunds)
		assert.Equal(t, int64(1), stats.PrizesWon)
	})
	t.Run("Should return zero stats for an unknown user", func(t *testing.T) {
		stats, err := uds.GetUserStats(ctx, address(0xbb, 9), chainId)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.PoolsCreated)
		assert.Equal(t, "0", stats.TotalClaimableRefunds)
	})
	t.Run("Should page through activity newest first", func(t *testing.T) {
		res, err := uds.ListUserActivity(ctx, user, chainId, &types.Pagination{Limit: 5, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(12), res.Total)
		assert.Len(t, res.Items, 2)
		assert.False(t, res.HasMore)
		assert.Equal(t, uint64(101), res.Items[0].BlockNumber)

		res, err = uds.ListUserActivity(ctx, user, chainId, &types.Pagination{Limit: 5})
		require.NoError(t, err)
		assert.True(t, res.HasMore)
		assert.Equal(t, uint64(111), res.Items[0].BlockNumber)
	})
	t.Run("Should reject a malformed address", func(t *testing.T) {
		_, err := uds.GetUserStats(ctx, "0x123", chainId)
		var invalid *types.InvalidArgumentError
		assert.ErrorAs(t, err, &invalid)
	})
}
