package poolDataService

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/helpers"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/baseDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	detailParticipantsLimit = 50
	detailActivityLimit     = 25
)

const (
	SortBy_CreatedAtTimestamp = "created_at_timestamp"
	SortBy_StartTime          = "start_time"
	SortBy_SlotFee            = "slot_fee"
	SortBy_SlotsSold          = "slots_sold"
	SortBy_SlotLimit          = "slot_limit"
	SortBy_Name               = "name"
	SortBy_State              = "state"

	SortOrder_Asc  = "asc"
	SortOrder_Desc = "desc"
)

var sortableColumns = map[string]bool{
	SortBy_CreatedAtTimestamp: true,
	SortBy_StartTime:          true,
	SortBy_SlotFee:            true,
	SortBy_SlotsSold:          true,
	SortBy_SlotLimit:          true,
	SortBy_Name:               true,
	SortBy_State:              true,
}

const (
	RaffleType_Prized      = "prized"
	RaffleType_NonPrized   = "non_prized"
	RaffleType_Collab      = "collab"
	RaffleType_HolderGated = "holder_gated"
)

type ListPoolsParams struct {
	ChainId        uint64
	Creator        string
	States         []storage.PoolState
	IsPrized       *bool
	IsCollabPool   *bool
	HasHolderToken *bool
	PrizeType      string
	PrizeStandard  string
	Search         string
	SortBy         string
	SortOrder      string
	Pagination     *types.Pagination
}

type PoolListItem struct {
	*storage.Pool
	CollectionArtwork *types.CollectionArtwork `json:"collectionArtwork,omitempty"`
}

type ListPoolsResult struct {
	Items   []*PoolListItem `json:"items"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

type PoolDetail struct {
	*storage.Pool
	ParticipantsCount int64                      `json:"participants_count"`
	Participants      []*storage.PoolParticipant `json:"participants"`
	Winners           []*storage.PoolWinner      `json:"winners"`
	Activity          []*storage.UserActivity    `json:"activity"`
	CollectionArtwork *types.CollectionArtwork   `json:"collection_artwork"`
}

type FilterCounts struct {
	Total           int64                                 `json:"total"`
	ByState         *orderedmap.OrderedMap[string, int64] `json:"byState"`
	ByRaffleType    *orderedmap.OrderedMap[string, int64] `json:"byRaffleType"`
	ByPrizeType     *orderedmap.OrderedMap[string, int64] `json:"byPrizeType"`
	ByPrizeStandard *orderedmap.OrderedMap[string, int64] `json:"byPrizeStandard"`
}

type PoolDataService struct {
	baseDataService.BaseDataService
	logger *zap.Logger
}

func NewPoolDataService(
	db *gorm.DB,
	logger *zap.Logger,
	globalConfig *config.Config,
) *PoolDataService {
	return &PoolDataService{
		BaseDataService: baseDataService.BaseDataService{
			DB:           db,
			GlobalConfig: globalConfig,
		},
		logger: logger,
	}
}

func (pds *PoolDataService) applyFilters(query *gorm.DB, params *ListPoolsParams) (*gorm.DB, error) {
	if params.ChainId != 0 {
		query = query.Where("chain_id = ?", params.ChainId)
	}
	if params.Creator != "" {
		creator, err := baseDataService.NormalizeAddressArg("creator", params.Creator)
		if err != nil {
			return nil, err
		}
		query = query.Where("creator = ?", creator)
	}
	if len(params.States) > 0 {
		for _, s := range params.States {
			if !s.IsValid() {
				return nil, types.NewInvalidArgumentError("state", fmt.Sprintf("unknown state %d", s))
			}
		}
		query = query.Where("state IN ?", params.States)
	}
	if params.IsPrized != nil {
		query = query.Where("is_prized = ?", *params.IsPrized)
	}
	if params.IsCollabPool != nil {
		query = query.Where("is_collab_pool = ?", *params.IsCollabPool)
	}
	if params.HasHolderToken != nil {
		query = query.Where("has_holder_token = ?", *params.HasHolderToken)
	}
	if params.PrizeType != "" {
		prizeType := storage.PrizeType(strings.ToLower(params.PrizeType))
		valid := false
		for _, p := range storage.AllPrizeTypes {
			valid = valid || p == prizeType
		}
		if !valid {
			return nil, types.NewInvalidArgumentError("prizeType", fmt.Sprintf("unknown prize type '%s'", params.PrizeType))
		}
		query = query.Where("prize_type = ?", prizeType)
	}
	if params.PrizeStandard != "" {
		standard, err := storage.ParsePrizeStandard(params.PrizeStandard)
		if err != nil {
			return nil, types.NewInvalidArgumentError("prizeStandard", err.Error())
		}
		query = query.Where("prize_standard = ?", standard)
	}
	if strings.TrimSpace(params.Search) != "" {
		like := baseDataService.ContainsPattern(params.Search)
		query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(address) LIKE ? ESCAPE '\')`, like, like)
	}
	return query, nil
}

func (pds *PoolDataService) orderClause(params *ListPoolsParams) (string, error) {
	sortBy := params.SortBy
	if sortBy == "" {
		sortBy = SortBy_CreatedAtTimestamp
	}
	if !sortableColumns[sortBy] {
		return "", types.NewInvalidArgumentError("sortBy", fmt.Sprintf("cannot sort by '%s'", params.SortBy))
	}
	order := strings.ToLower(params.SortOrder)
	if order == "" {
		order = SortOrder_Desc
	}
	if order != SortOrder_Asc && order != SortOrder_Desc {
		return "", types.NewInvalidArgumentError("sortOrder", fmt.Sprintf("must be '%s' or '%s'", SortOrder_Asc, SortOrder_Desc))
	}

	column := sortBy
	if sortBy == SortBy_SlotFee {
		column = helpers.AmountSortExpression(pds.DB, sortBy)
	}
	return fmt.Sprintf("%s %s, address asc", column, order), nil
}

// ListPools returns one page of pools matching the filters, along with the total under the same filters.
func (pds *PoolDataService) ListPools(ctx context.Context, params *ListPoolsParams) (*ListPoolsResult, error) {
	if params == nil {
		params = &ListPoolsParams{}
	}
	page, err := pds.ResolvePagination(params.Pagination)
	if err != nil {
		return nil, err
	}
	order, err := pds.orderClause(params)
	if err != nil {
		return nil, err
	}
	query, err := pds.applyFilters(pds.DB.WithContext(ctx).Model(&storage.Pool{}), params)
	if err != nil {
		return nil, err
	}

	var total int64
	if res := query.Session(&gorm.Session{}).Count(&total); res.Error != nil {
		return nil, res.Error
	}

	pools := make([]*storage.Pool, 0)
	res := query.Session(&gorm.Session{}).
		Order(order).
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&pools)
	if res.Error != nil {
		return nil, res.Error
	}

	items, err := pds.withArtwork(ctx, pools)
	if err != nil {
		return nil, err
	}
	return &ListPoolsResult{
		Items:   items,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore(len(items), total),
	}, nil
}

// withArtwork loads every distinct prize collection on the page with a single query.
func (pds *PoolDataService) withArtwork(ctx context.Context, pools []*storage.Pool) ([]*PoolListItem, error) {
	type collectionKey struct {
		address string
		chainId uint64
	}
	addresses := make([]string, 0)
	seen := make(map[string]bool)
	for _, p := range pools {
		if p.PrizeCollection != "" && !seen[p.PrizeCollection] {
			seen[p.PrizeCollection] = true
			addresses = append(addresses, p.PrizeCollection)
		}
	}

	byKey := make(map[collectionKey]*storage.Collection)
	if len(addresses) > 0 {
		collections := make([]*storage.Collection, 0)
		res := pds.DB.WithContext(ctx).Where("address IN ?", addresses).Find(&collections)
		if res.Error != nil {
			return nil, res.Error
		}
		for _, c := range collections {
			byKey[collectionKey{c.Address, c.ChainId}] = c
		}
	}

	items := make([]*PoolListItem, 0, len(pools))
	for _, p := range pools {
		item := &PoolListItem{Pool: p}
		if c, ok := byKey[collectionKey{p.PrizeCollection, p.ChainId}]; ok {
			tokenId := p.PrizeTokenId
			item.CollectionArtwork = types.NewCollectionArtwork(c, &tokenId)
		}
		items = append(items, item)
	}
	return items, nil
}

// GetPool returns the pool joined with its participants, winners, recent activity and prize artwork.
func (pds *PoolDataService) GetPool(ctx context.Context, address string, chainId uint64) (*PoolDetail, error) {
	address, err := baseDataService.NormalizeAddressArg("address", address)
	if err != nil {
		return nil, err
	}
	db := pds.DB.WithContext(ctx)

	pool := &storage.Pool{}
	res := db.Where("address = ? AND chain_id = ?", address, chainId).First(pool)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, res.Error
	}
	detail := &PoolDetail{
		Pool:         pool,
		Participants: make([]*storage.PoolParticipant, 0),
		Winners:      make([]*storage.PoolWinner, 0),
		Activity:     make([]*storage.UserActivity, 0),
	}

	poolScope := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("pool_address = ? AND chain_id = ?", address, chainId)
	}

	if res := db.Model(&storage.PoolParticipant{}).Scopes(poolScope).Count(&detail.ParticipantsCount); res.Error != nil {
		return nil, res.Error
	}
	res = db.Scopes(poolScope).
		Order("slots_purchased desc, participant_address asc").
		Limit(detailParticipantsLimit).
		Find(&detail.Participants)
	if res.Error != nil {
		return nil, res.Error
	}
	if res := db.Scopes(poolScope).Order("winner_index asc").Find(&detail.Winners); res.Error != nil {
		return nil, res.Error
	}
	res = db.Scopes(poolScope).
		Order("block_number desc, log_index desc").
		Limit(detailActivityLimit).
		Find(&detail.Activity)
	if res.Error != nil {
		return nil, res.Error
	}

	if pool.PrizeCollection != "" {
		collection := &storage.Collection{}
		res := db.Where("address = ? AND chain_id = ?", pool.PrizeCollection, chainId).Limit(1).Find(collection)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			tokenId := pool.PrizeTokenId
			detail.CollectionArtwork = types.NewCollectionArtwork(collection, &tokenId)
		}
	}
	return detail, nil
}

type groupCount struct {
	GroupKey string
	Count    int64
}

func (pds *PoolDataService) groupCounts(query *gorm.DB, column string) (map[string]int64, error) {
	rows := make([]*groupCount, 0)
	res := query.Session(&gorm.Session{}).
		Select(fmt.Sprintf("CAST(%s AS TEXT) AS group_key, COUNT(*) AS count", column)).
		Where(fmt.Sprintf("%s IS NOT NULL", column)).
		Group(column).
		Scan(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.GroupKey] = r.Count
	}
	return counts, nil
}

func (pds *PoolDataService) countWhere(query *gorm.DB, where string, args ...interface{}) (int64, error) {
	var c int64
	res := query.Session(&gorm.Session{}).Where(where, args...).Count(&c)
	return c, res.Error
}

// ComputeFilterCounts aggregates the full pool set of a chain. Every known key is present, zero or not.
func (pds *PoolDataService) ComputeFilterCounts(ctx context.Context, chainId uint64) (*FilterCounts, error) {
	query := pds.DB.WithContext(ctx).Model(&storage.Pool{}).Where("chain_id = ?", chainId)

	counts := &FilterCounts{
		ByState:         orderedmap.New[string, int64](),
		ByRaffleType:    orderedmap.New[string, int64](),
		ByPrizeType:     orderedmap.New[string, int64](),
		ByPrizeStandard: orderedmap.New[string, int64](),
	}
	if res := query.Session(&gorm.Session{}).Count(&counts.Total); res.Error != nil {
		return nil, res.Error
	}

	byState, err := pds.groupCounts(query, "state")
	if err != nil {
		return nil, err
	}
	for _, s := range storage.AllPoolStates() {
		counts.ByState.Set(s.String(), byState[fmt.Sprintf("%d", s)])
	}

	byPrizeType, err := pds.groupCounts(query, "prize_type")
	if err != nil {
		return nil, err
	}
	for _, p := range storage.AllPrizeTypes {
		counts.ByPrizeType.Set(string(p), byPrizeType[string(p)])
	}

	byStandard, err := pds.groupCounts(query, "prize_standard")
	if err != nil {
		return nil, err
	}
	for _, p := range storage.AllPrizeStandards {
		counts.ByPrizeStandard.Set(p.String(), byStandard[fmt.Sprintf("%d", p)])
	}

	raffleTypes := []struct {
		key   string
		where string
		arg   bool
	}{
		{RaffleType_Prized, "is_prized = ?", true},
		{RaffleType_NonPrized, "is_prized = ?", false},
		{RaffleType_Collab, "is_collab_pool = ?", true},
		{RaffleType_HolderGated, "has_holder_token = ?", true},
	}
	for _, rt := range raffleTypes {
		c, err := pds.countWhere(query, rt.where, rt.arg)
		if err != nil {
			return nil, err
		}
		counts.ByRaffleType.Set(rt.key, c)
	}
	return counts, nil
}
