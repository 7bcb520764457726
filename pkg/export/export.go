// Package export writes cached raffle tables as CSV.
package export

import (
	"fmt"
	"io"

	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	Table_Pools        = "pools"
	Table_UserActivity = "user_activity"
)

var batchSize = 500

var Tables = []string{Table_Pools, Table_UserActivity}

type PoolRow struct {
	ChainId            uint64 `csv:"chain_id"`
	Address            string `csv:"address"`
	Creator            string `csv:"creator"`
	Name               string `csv:"name"`
	State              string `csv:"state"`
	SlotFee            string `csv:"slot_fee"`
	SlotLimit          uint64 `csv:"slot_limit"`
	SlotsSold          uint64 `csv:"slots_sold"`
	WinnersCount       uint64 `csv:"winners_count"`
	IsPrized           bool   `csv:"is_prized"`
	PrizeType          string `csv:"prize_type"`
	NativePrizeAmount  string `csv:"native_prize_amount"`
	Erc20PrizeToken    string `csv:"erc20_prize_token"`
	Erc20PrizeAmount   string `csv:"erc20_prize_amount"`
	PrizeCollection    string `csv:"prize_collection"`
	PrizeTokenId       string `csv:"prize_token_id"`
	CreatedAtBlock     uint64 `csv:"created_at_block"`
	CreatedAtTimestamp uint64 `csv:"created_at_timestamp"`
	LastSyncedBlock    uint64 `csv:"last_synced_block"`
}

func poolRow(p *storage.Pool) *PoolRow {
	return &PoolRow{
		ChainId:            p.ChainId,
		Address:            p.Address,
		Creator:            p.Creator,
		Name:               p.Name,
		State:              p.State.String(),
		SlotFee:            p.SlotFee,
		SlotLimit:          p.SlotLimit,
		SlotsSold:          p.SlotsSold,
		WinnersCount:       p.WinnersCount,
		IsPrized:           p.IsPrized,
		PrizeType:          string(p.PrizeType),
		NativePrizeAmount:  p.NativePrizeAmount,
		Erc20PrizeToken:    p.Erc20PrizeToken,
		Erc20PrizeAmount:   p.Erc20PrizeAmount,
		PrizeCollection:    p.PrizeCollection,
		PrizeTokenId:       p.PrizeTokenId,
		CreatedAtBlock:     p.CreatedAtBlock,
		CreatedAtTimestamp: p.CreatedAtTimestamp,
		LastSyncedBlock:    p.LastSyncedBlock,
	}
}

type ActivityRow struct {
	Id              string `csv:"id"`
	ChainId         uint64 `csv:"chain_id"`
	UserAddress     string `csv:"user_address"`
	ActivityType    string `csv:"activity_type"`
	PoolAddress     string `csv:"pool_address"`
	TransactionHash string `csv:"transaction_hash"`
	LogIndex        uint64 `csv:"log_index"`
	BlockNumber     uint64 `csv:"block_number"`
	BlockTimestamp  uint64 `csv:"block_timestamp"`
	Quantity        uint64 `csv:"quantity"`
	Amount          string `csv:"amount"`
}

func activityRow(a *storage.UserActivity) *ActivityRow {
	return &ActivityRow{
		Id:              a.Id,
		ChainId:         a.ChainId,
		UserAddress:     a.UserAddress,
		ActivityType:    string(a.ActivityType),
		PoolAddress:     a.PoolAddress,
		TransactionHash: a.TransactionHash,
		LogIndex:        a.LogIndex,
		BlockNumber:     a.BlockNumber,
		BlockTimestamp:  a.BlockTimestamp,
		Quantity:        a.Quantity,
		Amount:          a.Amount,
	}
}

type Exporter struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewExporter(db *gorm.DB, l *zap.Logger) *Exporter {
	return &Exporter{db: db, logger: l}
}

// Export writes every row of table to w, oldest first. A chainId of 0 exports all chains.
// It returns the number of rows written.
func (e *Exporter) Export(table string, chainId uint64, w io.Writer) (int, error) {
	switch table {
	case Table_Pools:
		return exportBatches(e, w, chainId, "created_at_block asc, address asc", poolRow)
	case Table_UserActivity:
		return exportBatches(e, w, chainId, "block_number asc, log_index asc, id asc", activityRow)
	}
	return 0, fmt.Errorf("unknown table '%s', expected one of %v", table, Tables)
}

func exportBatches[M any, R any](e *Exporter, w io.Writer, chainId uint64, order string, toRow func(*M) *R) (int, error) {
	written := 0
	for offset := 0; ; offset += batchSize {
		query := e.db.Model(new(M)).Order(order).Limit(batchSize).Offset(offset)
		if chainId != 0 {
			query = query.Where("chain_id = ?", chainId)
		}

		models := make([]*M, 0, batchSize)
		if res := query.Find(&models); res.Error != nil {
			return written, res.Error
		}
		if len(models) == 0 {
			break
		}

		rows := make([]*R, 0, len(models))
		for _, m := range models {
			rows = append(rows, toRow(m))
		}

		var err error
		if written == 0 {
			err = gocsv.Marshal(&rows, w)
		} else {
			err = gocsv.MarshalWithoutHeaders(&rows, w)
		}
		if err != nil {
			return written, fmt.Errorf("failed to write rows at offset %d: %w", offset, err)
		}
		written += len(rows)

		if len(models) < batchSize {
			break
		}
	}

	// header only, so an empty table still yields a readable file
	if written == 0 {
		if err := gocsv.Marshal(&[]*R{}, w); err != nil {
			return 0, err
		}
	}
	e.logger.Sugar().Debugw("Exported rows", zap.Int("rows", written), zap.Uint64("chainId", chainId))
	return written, nil
}
