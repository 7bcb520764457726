package collectionDataService

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/helpers"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/baseDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var sortableColumns = map[string]bool{
	"created_at":   true,
	"name":         true,
	"symbol":       true,
	"total_supply": true,
	"max_supply":   true,
}

var amountColumns = map[string]bool{
	"total_supply": true,
	"max_supply":   true,
}

type ListCollectionsParams struct {
	ChainId    uint64
	Creator    string
	Standard   string
	IsRevealed *bool
	Search     string
	SortBy     string
	SortOrder  string
	Pagination *types.Pagination
}

type CollectionItem struct {
	*storage.Collection
	ArtworkUri string `json:"artworkUri"`
}

type ListCollectionsResult struct {
	Items   []*CollectionItem `json:"items"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"hasMore"`
}

type CollectionDetail struct {
	*storage.Collection
	ArtworkUri string `json:"artworkUri"`
	PoolsCount int64  `json:"poolsCount"`
}

type TokenMetadata struct {
	Collection string `json:"collection"`
	ChainId    uint64 `json:"chainId"`
	TokenId    string `json:"tokenId"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	Standard   string `json:"standard"`
	IsRevealed bool   `json:"isRevealed"`
	ArtworkUri string `json:"artworkUri"`
}

type CollectionDataService struct {
	baseDataService.BaseDataService
	logger *zap.Logger
}

func NewCollectionDataService(
	db *gorm.DB,
	logger *zap.Logger,
	globalConfig *config.Config,
) *CollectionDataService {
	return &CollectionDataService{
		BaseDataService: baseDataService.BaseDataService{
			DB:           db,
			GlobalConfig: globalConfig,
		},
		logger: logger,
	}
}

func (cds *CollectionDataService) ListCollections(ctx context.Context, params *ListCollectionsParams) (*ListCollectionsResult, error) {
	if params == nil {
		params = &ListCollectionsParams{}
	}
	page, err := cds.ResolvePagination(params.Pagination)
	if err != nil {
		return nil, err
	}

	sortBy := params.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if !sortableColumns[sortBy] {
		return nil, types.NewInvalidArgumentError("sortBy", fmt.Sprintf("cannot sort by '%s'", params.SortBy))
	}
	order := strings.ToLower(params.SortOrder)
	if order == "" {
		order = "desc"
	}
	if order != "asc" && order != "desc" {
		return nil, types.NewInvalidArgumentError("sortOrder", "must be 'asc' or 'desc'")
	}
	column := sortBy
	if amountColumns[sortBy] {
		column = helpers.AmountSortExpression(cds.DB, sortBy)
	}

	query := cds.DB.WithContext(ctx).Model(&storage.Collection{})
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
	if params.Standard != "" {
		standard, err := storage.ParsePrizeStandard(params.Standard)
		if err != nil {
			return nil, types.NewInvalidArgumentError("standard", err.Error())
		}
		query = query.Where("standard = ?", standard.String())
	}
	if params.IsRevealed != nil {
		query = query.Where("is_revealed = ?", *params.IsRevealed)
	}
	if strings.TrimSpace(params.Search) != "" {
		like := baseDataService.ContainsPattern(params.Search)
		query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(symbol) LIKE ? ESCAPE '\' OR LOWER(address) LIKE ? ESCAPE '\')`, like, like, like)
	}

	var total int64
	if res := query.Session(&gorm.Session{}).Count(&total); res.Error != nil {
		return nil, res.Error
	}

	collections := make([]*storage.Collection, 0)
	res := query.Session(&gorm.Session{}).
		Order(fmt.Sprintf("%s %s, address asc", column, order)).
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&collections)
	if res.Error != nil {
		return nil, res.Error
	}

	items := make([]*CollectionItem, 0, len(collections))
	for _, c := range collections {
		items = append(items, &CollectionItem{Collection: c, ArtworkUri: c.ArtworkUri(nil)})
	}
	return &ListCollectionsResult{
		Items:   items,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore(len(items), total),
	}, nil
}

func (cds *CollectionDataService) findCollection(ctx context.Context, address string, chainId uint64) (*storage.Collection, error) {
	address, err := baseDataService.NormalizeAddressArg("address", address)
	if err != nil {
		return nil, err
	}
	collection := &storage.Collection{}
	res := cds.DB.WithContext(ctx).Where("address = ? AND chain_id = ?", address, chainId).First(collection)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, res.Error
	}
	return collection, nil
}

// GetCollection returns the collection and the number of pools offering it as a prize.
func (cds *CollectionDataService) GetCollection(ctx context.Context, address string, chainId uint64) (*CollectionDetail, error) {
	collection, err := cds.findCollection(ctx, address, chainId)
	if err != nil {
		return nil, err
	}
	detail := &CollectionDetail{Collection: collection, ArtworkUri: collection.ArtworkUri(nil)}
	res := cds.DB.WithContext(ctx).Model(&storage.Pool{}).
		Where("prize_collection = ? AND chain_id = ?", collection.Address, chainId).
		Count(&detail.PoolsCount)
	if res.Error != nil {
		return nil, res.Error
	}
	return detail, nil
}

func (cds *CollectionDataService) GetTokenMetadata(ctx context.Context, address string, chainId uint64, tokenId string) (*TokenMetadata, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenId), 10)
	if !ok || id.Sign() < 0 {
		return nil, types.NewInvalidArgumentError("tokenId", "must be a non-negative integer")
	}
	collection, err := cds.findCollection(ctx, address, chainId)
	if err != nil {
		return nil, err
	}
	normalizedId := id.String()
	return &TokenMetadata{
		Collection: collection.Address,
		ChainId:    chainId,
		TokenId:    normalizedId,
		Name:       fmt.Sprintf("%s #%s", collection.Name, normalizedId),
		Symbol:     collection.Symbol,
		Standard:   collection.Standard,
		IsRevealed: collection.IsRevealed,
		ArtworkUri: collection.ArtworkUri(&normalizedId),
	}, nil
}
