package indexer

import (
	"context"
	"math/big"

	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type viewSpec struct {
	method   string
	fallback any
}

var (
	zeroInt     = big.NewInt(0)
	zeroAddress = common.Address{}
)

// Every pool view and the value recorded when the call fails.
var poolViews = []viewSpec{
	{"name", ""},
	{"creator", zeroAddress},
	{"startTime", zeroInt},
	{"duration", zeroInt},
	{"slotFee", zeroInt},
	{"slotLimit", zeroInt},
	{"winnersCount", zeroInt},
	{"maxSlotsPerAddress", zeroInt},
	{"state", uint8(0)},
	{"isPrized", false},
	{"isCollabPool", false},
	{"holderTokenAddress", zeroAddress},
	{"nativePrizeAmount", zeroInt},
	{"erc20PrizeToken", zeroAddress},
	{"erc20PrizeAmount", zeroInt},
	{"prizeCollection", zeroAddress},
	{"prizeTokenId", zeroInt},
	{"prizeStandard", nil},
	{"slotsSold", zeroInt},
}

var collectionViews = []viewSpec{
	{"name", ""},
	{"symbol", ""},
	{"owner", zeroAddress},
	{"baseURI", ""},
	{"unrevealedBaseURI", ""},
	{"contractURI", ""},
	{"isRevealed", false},
	{"maxSupply", zeroInt},
	{"totalSupply", zeroInt},
}

func callViews(ctx context.Context, caller contractCaller.IContractCaller, target string, contractAbi *abi.ABI, views []viewSpec) map[string]contractCaller.Result[any] {
	calls := make([]*contractCaller.ViewCall, 0, len(views))
	for _, v := range views {
		var opts *contractCaller.CallOptions
		if v.fallback != nil {
			opts = contractCaller.WithFallback(v.fallback)
		}
		calls = append(calls, contractCaller.NewViewCall(target, contractAbi, v.method, opts))
	}
	results := caller.CallViews(ctx, calls)

	byMethod := make(map[string]contractCaller.Result[any], len(views))
	for i, v := range views {
		byMethod[v.method] = results[i]
	}
	return byMethod
}

func failedViews(results map[string]contractCaller.Result[any]) []string {
	failed := make([]string, 0)
	for method, r := range results {
		if !r.Ok() {
			failed = append(failed, method)
		}
	}
	return failed
}

// ReadPool reads a pool's current state through its views. Views that fail fall back to their
// defaults so a pool is never dropped because of a partial read; their names are returned and
// recorded on the pool so a merge keeps the stored values for them.
func ReadPool(ctx context.Context, caller contractCaller.IContractCaller, chainId uint64, poolAddress string) (*storage.Pool, []string) {
	r := callViews(ctx, caller, poolAddress, contractCaller.Pool, poolViews)

	pool := &storage.Pool{
		Address:            lower(poolAddress),
		ChainId:            chainId,
		Creator:            contractCaller.AsAddress(r["creator"], ""),
		Name:               contractCaller.AsString(r["name"], ""),
		StartTime:          contractCaller.AsUint64(r["startTime"], 0),
		Duration:           contractCaller.AsUint64(r["duration"], 0),
		SlotFee:            contractCaller.AsBigInt(r["slotFee"], zeroInt).String(),
		SlotLimit:          contractCaller.AsUint64(r["slotLimit"], 0),
		WinnersCount:       contractCaller.AsUint64(r["winnersCount"], 0),
		MaxSlotsPerAddress: contractCaller.AsUint64(r["maxSlotsPerAddress"], 0),
		State:              storage.PoolState(contractCaller.AsUint64(r["state"], 0)),
		IsPrized:           contractCaller.AsBool(r["isPrized"], false),
		IsCollabPool:       contractCaller.AsBool(r["isCollabPool"], false),
		HolderTokenAddress: contractCaller.AsAddress(r["holderTokenAddress"], ""),
		NativePrizeAmount:  contractCaller.AsBigInt(r["nativePrizeAmount"], zeroInt).String(),
		Erc20PrizeToken:    contractCaller.AsAddress(r["erc20PrizeToken"], ""),
		Erc20PrizeAmount:   contractCaller.AsBigInt(r["erc20PrizeAmount"], zeroInt).String(),
		PrizeCollection:    contractCaller.AsAddress(r["prizeCollection"], ""),
		PrizeTokenId:       contractCaller.AsBigInt(r["prizeTokenId"], zeroInt).String(),
		SlotsSold:          contractCaller.AsUint64(r["slotsSold"], 0),
	}
	if std := r["prizeStandard"]; std.Ok() {
		standard := storage.PrizeStandard(contractCaller.AsUint64(std, 0))
		pool.PrizeStandard = &standard
	}
	if !pool.State.IsValid() {
		pool.State = storage.PoolState_Pending
	}
	pool.Normalize()
	pool.FailedViews = failedViews(r)
	return pool, pool.FailedViews
}

func (idx *Indexer) hydratePool(ctx context.Context, chain *chainDeps, poolAddress string) *storage.Pool {
	pool, failed := ReadPool(ctx, chain.caller, chain.config.ChainId, poolAddress)
	if len(failed) > 0 {
		idx.Logger.Sugar().Debugw("Some pool views failed, using defaults",
			zap.String("pool", poolAddress),
			zap.Strings("views", failed),
		)
	}
	return pool
}

func (idx *Indexer) hydrateCollection(ctx context.Context, chain *chainDeps, address string, standard *storage.PrizeStandard) *storage.Collection {
	r := callViews(ctx, chain.caller, address, contractCaller.Collection, collectionViews)

	collection := &storage.Collection{
		Address:       lower(address),
		ChainId:       chain.config.ChainId,
		Name:          contractCaller.AsString(r["name"], ""),
		Symbol:        contractCaller.AsString(r["symbol"], ""),
		Creator:       contractCaller.AsAddress(r["owner"], ""),
		BaseUri:       contractCaller.AsString(r["baseURI"], ""),
		UnrevealedUri: contractCaller.AsString(r["unrevealedBaseURI"], ""),
		ContractUri:   contractCaller.AsString(r["contractURI"], ""),
		IsRevealed:    contractCaller.AsBool(r["isRevealed"], false),
		MaxSupply:     contractCaller.AsBigInt(r["maxSupply"], zeroInt).String(),
		TotalSupply:   contractCaller.AsBigInt(r["totalSupply"], zeroInt).String(),
	}
	if standard != nil {
		collection.Standard = standard.String()
	}
	collection.Normalize()
	return collection
}

// storePool upserts the pool and its prize collection, publishing the change on success.
func (idx *Indexer) storePool(ctx context.Context, chain *chainDeps, pool *storage.Pool, isNew bool) (*storage.Pool, error) {
	if pool.PrizeCollection != "" {
		collection := idx.hydrateCollection(ctx, chain, pool.PrizeCollection, pool.PrizeStandard)
		collection.LastSyncedBlock = pool.LastSyncedBlock
		if collection.Creator == "" {
			collection.Creator = pool.Creator
		}
		stored, written, err := idx.Store.UpsertCollection(ctx, collection)
		if err != nil {
			idx.Logger.Sugar().Errorw("Failed to upsert prize collection",
				zap.String("pool", pool.Address),
				zap.String("collection", collection.Address),
				zap.Error(err),
			)
		} else if written {
			idx.publishRow(eventBusTypes.Table_Collections, eventBusTypes.ChangeType_Update, chain.config.ChainId, pool.Address, stored)
		}
	}

	stored, written, err := idx.Store.UpsertPool(ctx, pool)
	if err != nil {
		return nil, err
	}
	if written {
		changeType := eventBusTypes.ChangeType_Update
		if isNew {
			changeType = eventBusTypes.ChangeType_Insert
		}
		idx.publishPool(changeType, stored)
	}
	return stored, nil
}
