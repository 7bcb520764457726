package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/helpers"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/types/numbers"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresStore struct {
	Db     *gorm.DB
	Logger *zap.Logger
}

func NewPostgresStore(db *gorm.DB, l *zap.Logger) *PostgresStore {
	return &PostgresStore{
		Db:     db,
		Logger: l,
	}
}

var _ storage.Store = (*PostgresStore)(nil)

func (s *PostgresStore) UpsertPool(ctx context.Context, pool *storage.Pool) (*storage.Pool, bool, error) {
	type upsertResult struct {
		pool    *storage.Pool
		written bool
	}

	res, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (*upsertResult, error) {
		existing, err := findPool(tx, pool.Address, pool.ChainId)
		if err != nil {
			return nil, err
		}

		merged, write := storage.MergePool(existing, pool)
		if !write {
			return &upsertResult{pool: existing}, nil
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}, {Name: "chain_id"}},
			UpdateAll: true,
		}).Create(merged)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to upsert pool '%s': %w", merged.Address, result.Error)
		}
		return &upsertResult{pool: merged, written: true}, nil
	}, s.Db.WithContext(ctx), nil)
	if err != nil {
		return nil, false, err
	}
	return res.pool, res.written, nil
}

func findPool(tx *gorm.DB, address string, chainId uint64) (*storage.Pool, error) {
	existing := &storage.Pool{}
	result := helpers.ForUpdate(tx).
		Where("address = ? AND chain_id = ?", strings.ToLower(address), chainId).
		Limit(1).
		Find(existing)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load pool '%s': %w", address, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return existing, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, address string, chainId uint64) (*storage.Pool, error) {
	pool, err := findPool(s.Db.WithContext(ctx), address, chainId)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, storage.ErrNotFound
	}
	return pool, nil
}

func (s *PostgresStore) ListPoolAddresses(ctx context.Context, chainId uint64) ([]string, error) {
	addresses := make([]string, 0)
	res := s.Db.WithContext(ctx).
		Model(&storage.Pool{}).
		Where("chain_id = ?", chainId).
		Order("address asc").
		Pluck("address", &addresses)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list pool addresses: %w", res.Error)
	}
	return addresses, nil
}

func (s *PostgresStore) RaisePoolState(ctx context.Context, address string, chainId uint64, state storage.PoolState, blockNumber uint64) (bool, error) {
	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (bool, error) {
		existing, err := findPool(tx, address, chainId)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, storage.ErrNotFound
		}
		next := storage.AdvanceState(existing.State, state)
		if next == existing.State {
			return false, nil
		}

		res := tx.Model(&storage.Pool{}).
			Where("address = ? AND chain_id = ?", existing.Address, chainId).
			Updates(map[string]interface{}{
				"state":             next,
				"last_synced_block": max(existing.LastSyncedBlock, blockNumber),
			})
		if res.Error != nil {
			return false, fmt.Errorf("failed to raise pool state: %w", res.Error)
		}
		return true, nil
	}, s.Db.WithContext(ctx), nil)
}

func (s *PostgresStore) UpsertCollection(ctx context.Context, collection *storage.Collection) (*storage.Collection, bool, error) {
	collection.Normalize()

	type upsertResult struct {
		collection *storage.Collection
		written    bool
	}
	res, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (*upsertResult, error) {
		existing := &storage.Collection{}
		found := helpers.ForUpdate(tx).
			Where("address = ? AND chain_id = ?", collection.Address, collection.ChainId).
			Limit(1).
			Find(existing)
		if found.Error != nil {
			return nil, found.Error
		}
		if found.RowsAffected > 0 {
			if collection.LastSyncedBlock < existing.LastSyncedBlock {
				return &upsertResult{collection: existing}, nil
			}
			collection.CreatedAt = existing.CreatedAt
			if collection.Creator == "" {
				collection.Creator = existing.Creator
			}
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}, {Name: "chain_id"}},
			UpdateAll: true,
		}).Create(collection)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to upsert collection '%s': %w", collection.Address, result.Error)
		}
		return &upsertResult{collection: collection, written: true}, nil
	}, s.Db.WithContext(ctx), nil)
	if err != nil {
		return nil, false, err
	}
	return res.collection, res.written, nil
}

func insertActivity(tx *gorm.DB, activity *storage.UserActivity) (bool, error) {
	activity.Normalize()
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(activity)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert activity: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, activity *storage.UserActivity) (bool, error) {
	return insertActivity(s.Db.WithContext(ctx), activity)
}

func findParticipant(tx *gorm.DB, pool string, chainId uint64, participant string) (*storage.PoolParticipant, error) {
	p := &storage.PoolParticipant{}
	res := helpers.ForUpdate(tx).
		Where("pool_address = ? AND chain_id = ? AND participant_address = ?", pool, chainId, participant).
		Limit(1).
		Find(p)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return &storage.PoolParticipant{
			PoolAddress:        pool,
			ChainId:            chainId,
			ParticipantAddress: participant,
			TotalSpent:         "0",
			RefundableAmount:   "0",
		}, nil
	}
	return p, nil
}

func saveParticipant(tx *gorm.DB, p *storage.PoolParticipant) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_address"}, {Name: "chain_id"}, {Name: "participant_address"}},
		UpdateAll: true,
	}).Create(p).Error
}

// ApplySlotPurchase records a purchase and, when it is new, adds it to the participant's totals and
// brings the pool's slots sold up to the participants' sum.
func (s *PostgresStore) ApplySlotPurchase(ctx context.Context, activity *storage.UserActivity) (bool, *storage.PoolParticipant, error) {
	type purchaseResult struct {
		inserted    bool
		participant *storage.PoolParticipant
	}
	res, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (*purchaseResult, error) {
		inserted, err := insertActivity(tx, activity)
		if err != nil || !inserted {
			return &purchaseResult{}, err
		}

		p, err := findParticipant(tx, activity.PoolAddress, activity.ChainId, activity.UserAddress)
		if err != nil {
			return nil, err
		}
		p.SlotsPurchased += activity.Quantity
		if p.TotalSpent, err = numbers.AddWei(p.TotalSpent, activity.Amount); err != nil {
			return nil, err
		}
		if p.RefundableAmount, err = numbers.AddWei(p.RefundableAmount, activity.Amount); err != nil {
			return nil, err
		}
		p.LastUpdatedBlock = max(p.LastUpdatedBlock, activity.BlockNumber)
		if err := saveParticipant(tx, p); err != nil {
			return nil, fmt.Errorf("failed to save participant: %w", err)
		}

		var sold uint64
		sum := tx.Model(&storage.PoolParticipant{}).
			Select("COALESCE(SUM(slots_purchased), 0)").
			Where("pool_address = ? AND chain_id = ?", activity.PoolAddress, activity.ChainId).
			Scan(&sold)
		if sum.Error != nil {
			return nil, sum.Error
		}
		update := tx.Model(&storage.Pool{}).
			Where("address = ? AND chain_id = ? AND slots_sold < ?", activity.PoolAddress, activity.ChainId, sold).
			Update("slots_sold", sold)
		if update.Error != nil {
			return nil, fmt.Errorf("failed to update slots sold: %w", update.Error)
		}
		return &purchaseResult{inserted: true, participant: p}, nil
	}, s.Db.WithContext(ctx), nil)
	if err != nil {
		return false, nil, err
	}
	return res.inserted, res.participant, nil
}

// ApplyRefund records a refund claim and, when it is new, subtracts it from the refundable amount, never
// going below zero.
func (s *PostgresStore) ApplyRefund(ctx context.Context, activity *storage.UserActivity) (bool, *storage.PoolParticipant, error) {
	type refundResult struct {
		inserted    bool
		participant *storage.PoolParticipant
	}
	res, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (*refundResult, error) {
		inserted, err := insertActivity(tx, activity)
		if err != nil || !inserted {
			return &refundResult{}, err
		}

		p, err := findParticipant(tx, activity.PoolAddress, activity.ChainId, activity.UserAddress)
		if err != nil {
			return nil, err
		}
		if p.RefundableAmount, err = numbers.SubWeiClamped(p.RefundableAmount, activity.Amount); err != nil {
			return nil, err
		}
		p.RefundClaimed = true
		p.LastUpdatedBlock = max(p.LastUpdatedBlock, activity.BlockNumber)
		if err := saveParticipant(tx, p); err != nil {
			return nil, fmt.Errorf("failed to save participant: %w", err)
		}
		return &refundResult{inserted: true, participant: p}, nil
	}, s.Db.WithContext(ctx), nil)
	if err != nil {
		return false, nil, err
	}
	return res.inserted, res.participant, nil
}

func (s *PostgresStore) InsertWinners(ctx context.Context, winners []*storage.PoolWinner) (int64, error) {
	if len(winners) == 0 {
		return 0, nil
	}
	for _, w := range winners {
		w.PoolAddress = strings.ToLower(w.PoolAddress)
		w.WinnerAddress = strings.ToLower(w.WinnerAddress)
		w.TransactionHash = strings.ToLower(w.TransactionHash)
	}
	res := s.Db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&winners)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert winners: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkPrizeClaimed records the claim and flips the winner's prize_claimed flag. The flag update is
// idempotent and runs even when the activity was already recorded.
func (s *PostgresStore) MarkPrizeClaimed(ctx context.Context, activity *storage.UserActivity, winnerIndex uint64) (bool, error) {
	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (bool, error) {
		inserted, err := insertActivity(tx, activity)
		if err != nil {
			return false, err
		}
		res := tx.Model(&storage.PoolWinner{}).
			Where("pool_address = ? AND chain_id = ? AND winner_index = ? AND winner_address = ?",
				activity.PoolAddress, activity.ChainId, winnerIndex, activity.UserAddress).
			Update("prize_claimed", true)
		if res.Error != nil {
			return false, fmt.Errorf("failed to mark prize claimed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			s.Logger.Sugar().Debugw("No winner row to mark as claimed",
				zap.String("pool", activity.PoolAddress),
				zap.Uint64("winnerIndex", winnerIndex),
			)
		}
		return inserted, nil
	}, s.Db.WithContext(ctx), nil)
}
