package _202610010900_raffleTables

import (
	"database/sql"
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/helpers"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	amount := helpers.AmountColumnType(grm)
	ts := helpers.TimestampColumnType(grm)
	json := helpers.JsonColumnType(grm)

	queries := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS pools (
			address               varchar not null,
			chain_id              bigint not null,
			creator               varchar not null default '',
			name                  varchar not null default '',
			start_time            bigint not null default 0,
			duration              bigint not null default 0,
			slot_fee              %[1]s not null default '0',
			slot_limit            bigint not null default 0,
			winners_count         bigint not null default 0,
			max_slots_per_address bigint not null default 0,
			state                 smallint not null default 0,
			is_prized             boolean not null default false,
			is_collab_pool        boolean not null default false,
			holder_token_address  varchar not null default '',
			has_holder_token      boolean not null default false,
			native_prize_amount   %[1]s not null default '0',
			erc20_prize_token     varchar not null default '',
			erc20_prize_amount    %[1]s not null default '0',
			prize_collection      varchar not null default '',
			prize_token_id        %[1]s not null default '0',
			prize_standard        smallint default null,
			prize_type            varchar not null default 'none',
			slots_sold            bigint not null default 0,
			created_at_block      bigint not null default 0,
			created_at_timestamp  bigint not null default 0,
			creation_tx_hash      varchar not null default '',
			last_synced_block     bigint not null default 0,
			created_at            %[2]s default current_timestamp,
			updated_at            %[2]s default current_timestamp,
			primary key (address, chain_id)
		)`, amount, ts),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS collections (
			address           varchar not null,
			chain_id          bigint not null,
			name              varchar not null default '',
			symbol            varchar not null default '',
			standard          varchar not null default '',
			creator           varchar not null default '',
			base_uri          varchar not null default '',
			unrevealed_uri    varchar not null default '',
			contract_uri      varchar not null default '',
			is_revealed       boolean not null default false,
			max_supply        %[1]s not null default '0',
			total_supply      %[1]s not null default '0',
			last_synced_block bigint not null default 0,
			created_at        %[2]s default current_timestamp,
			updated_at        %[2]s default current_timestamp,
			primary key (address, chain_id)
		)`, amount, ts),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS pool_participants (
			pool_address        varchar not null,
			chain_id            bigint not null,
			participant_address varchar not null,
			slots_purchased     bigint not null default 0,
			total_spent         %[1]s not null default '0',
			refundable_amount   %[1]s not null default '0',
			refund_claimed      boolean not null default false,
			last_updated_block  bigint not null default 0,
			created_at          %[2]s default current_timestamp,
			updated_at          %[2]s default current_timestamp,
			primary key (pool_address, chain_id, participant_address)
		)`, amount, ts),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS pool_winners (
			pool_address     varchar not null,
			chain_id         bigint not null,
			winner_index     bigint not null,
			winner_address   varchar not null,
			prize_claimed    boolean not null default false,
			transaction_hash varchar not null default '',
			block_number     bigint not null default 0,
			created_at       %[1]s default current_timestamp,
			updated_at       %[1]s default current_timestamp,
			primary key (pool_address, chain_id, winner_index)
		)`, ts),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS user_activity (
			id               varchar not null primary key,
			chain_id         bigint not null,
			user_address     varchar not null,
			activity_type    varchar not null,
			pool_address     varchar not null,
			transaction_hash varchar not null,
			log_index        bigint not null,
			block_number     bigint not null,
			block_timestamp  bigint not null default 0,
			quantity         bigint not null default 0,
			amount           %[1]s not null default '0',
			metadata         %[3]s,
			created_at       %[2]s default current_timestamp,
			unique (chain_id, transaction_hash, log_index, activity_type, user_address)
		)`, amount, ts, json),
	}

	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610010900_raffleTables"
}
