package userDataService

import (
	"context"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/baseDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/types/numbers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type UserStats struct {
	Address               string `json:"address"`
	ChainId               uint64 `json:"chainId"`
	PoolsCreated          int64  `json:"poolsCreated"`
	PoolsParticipated     int64  `json:"poolsParticipated"`
	SlotsPurchased        uint64 `json:"slotsPurchased"`
	TotalSpent            string `json:"totalSpent"`
	TotalClaimableRefunds string `json:"totalClaimableRefunds"`
	PrizesWon             int64  `json:"prizesWon"`
}

type ListUserActivityResult struct {
	Items   []*storage.UserActivity `json:"items"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
	HasMore bool                    `json:"hasMore"`
}

type UserDataService struct {
	baseDataService.BaseDataService
	logger *zap.Logger
}

func NewUserDataService(
	db *gorm.DB,
	logger *zap.Logger,
	globalConfig *config.Config,
) *UserDataService {
	return &UserDataService{
		BaseDataService: baseDataService.BaseDataService{
			DB:           db,
			GlobalConfig: globalConfig,
		},
		logger: logger,
	}
}

// GetUserStats aggregates a user's footprint on one chain. Wei sums are done in decimal, never float.
func (uds *UserDataService) GetUserStats(ctx context.Context, address string, chainId uint64) (*UserStats, error) {
	address, err := baseDataService.NormalizeAddressArg("address", address)
	if err != nil {
		return nil, err
	}
	db := uds.DB.WithContext(ctx)
	stats := &UserStats{Address: address, ChainId: chainId, TotalSpent: "0", TotalClaimableRefunds: "0"}

	res := db.Model(&storage.Pool{}).Where("creator = ? AND chain_id = ?", address, chainId).Count(&stats.PoolsCreated)
	if res.Error != nil {
		return nil, res.Error
	}
	res = db.Model(&storage.PoolWinner{}).Where("winner_address = ? AND chain_id = ?", address, chainId).Count(&stats.PrizesWon)
	if res.Error != nil {
		return nil, res.Error
	}

	participations := make([]*storage.PoolParticipant, 0)
	res = db.Where("participant_address = ? AND chain_id = ?", address, chainId).Find(&participations)
	if res.Error != nil {
		return nil, res.Error
	}
	stats.PoolsParticipated = int64(len(participations))
	for _, p := range participations {
		stats.SlotsPurchased += p.SlotsPurchased
		if stats.TotalSpent, err = numbers.AddWei(stats.TotalSpent, p.TotalSpent); err != nil {
			return nil, err
		}
		if !p.RefundClaimed {
			if stats.TotalClaimableRefunds, err = numbers.AddWei(stats.TotalClaimableRefunds, p.RefundableAmount); err != nil {
				return nil, err
			}
		}
	}
	return stats, nil
}

// ListUserActivity returns the user's activity, newest first.
func (uds *UserDataService) ListUserActivity(ctx context.Context, address string, chainId uint64, pagination *types.Pagination) (*ListUserActivityResult, error) {
	address, err := baseDataService.NormalizeAddressArg("address", address)
	if err != nil {
		return nil, err
	}
	page, err := uds.ResolvePagination(pagination)
	if err != nil {
		return nil, err
	}

	query := uds.DB.WithContext(ctx).Model(&storage.UserActivity{}).
		Where("user_address = ? AND chain_id = ?", address, chainId)

	var total int64
	if res := query.Session(&gorm.Session{}).Count(&total); res.Error != nil {
		return nil, res.Error
	}
	items := make([]*storage.UserActivity, 0)
	res := query.Session(&gorm.Session{}).
		Order("block_number desc, log_index desc, id asc").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&items)
	if res.Error != nil {
		return nil, res.Error
	}
	return &ListUserActivityResult{
		Items:   items,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore(len(items), total),
	}, nil
}
