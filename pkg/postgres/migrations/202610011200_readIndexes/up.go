package _202610011200_readIndexes

import (
	"database/sql"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_pools_chain_state ON pools (chain_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_chain_creator ON pools (chain_id, creator)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_chain_created_ts ON pools (chain_id, created_at_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_prize_collection ON pools (prize_collection, chain_id)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON pool_participants (participant_address, chain_id)`,
		`CREATE INDEX IF NOT EXISTS idx_winners_user ON pool_winners (winner_address, chain_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_user ON user_activity (user_address, chain_id, block_number)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_pool ON user_activity (pool_address, chain_id, block_number)`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610011200_readIndexes"
}
