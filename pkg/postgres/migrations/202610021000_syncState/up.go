package _202610021000_syncState

import (
	"database/sql"
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/helpers"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS indexer_sync_state (
			chain_id           bigint not null,
			contract_type      varchar not null,
			contract_address   varchar not null,
			last_indexed_block bigint not null default 0,
			last_block_hash    varchar not null default '',
			is_healthy         boolean not null default true,
			error_message      varchar not null default '',
			updated_at         %s default current_timestamp,
			primary key (chain_id, contract_type, contract_address)
		)`, helpers.TimestampColumnType(grm))

	return grm.Exec(query).Error
}

func (m *Migration) GetName() string {
	return "202610021000_syncState"
}
