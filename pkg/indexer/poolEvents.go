package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/Layr-Labs/raffle-sidecar/pkg/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	poolEvent_SlotsPurchased      = "SlotsPurchased"
	poolEvent_RefundClaimed       = "RefundClaimed"
	poolEvent_PrizeClaimed        = "PrizeClaimed"
	poolEvent_RandomnessRequested = "RandomnessRequested"
	poolEvent_WinnersSelected     = "WinnersSelected"
)

// eth_getLogs address lists are capped at this many pools per request.
const poolAddressChunkSize = 100

var poolEventTopics = func() map[string]string {
	topics := make(map[string]string)
	for _, name := range []string{
		poolEvent_SlotsPurchased,
		poolEvent_RefundClaimed,
		poolEvent_PrizeClaimed,
		poolEvent_RandomnessRequested,
		poolEvent_WinnersSelected,
	} {
		topics[strings.ToLower(contractCaller.Pool.Events[name].ID.Hex())] = name
	}
	return topics
}()

func poolEventTopicList() []string {
	list := make([]string, 0, len(poolEventTopics))
	for topic := range poolEventTopics {
		list = append(list, topic)
	}
	return list
}

// IndexPoolEvents ingests participant, winner and activity events emitted by every known pool on the chain.
// The pass never scans past the pool-creation cursor.
func (idx *Indexer) IndexPoolEvents(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*IndexResult, error) {
	chain, err := idx.getChain(chainId)
	if err != nil {
		return nil, err
	}

	deployer := lower(chain.config.PoolDeployerAddress)
	var pools []string
	return idx.runPass(ctx, chain, &passSpec{
		contractType:    syncCursor.ContractType_PoolEvents,
		contractAddress: deployer,
		// Pools created past the creation cursor are not in the store yet, so their events wait.
		ceiling: func(ctx context.Context) (uint64, bool, error) {
			cursor, err := idx.CursorStore.Get(ctx, syncCursor.CursorKey{
				ChainId:         chainId,
				ContractType:    syncCursor.ContractType_PoolDeployer,
				ContractAddress: deployer,
			})
			if err != nil {
				return 0, false, err
			}
			if cursor == nil {
				return 0, false, nil
			}
			return cursor.LastIndexedBlock, true, nil
		},
		fetch: func(ctx context.Context, from uint64, to uint64) ([]*ethereum.EthereumEventLog, error) {
			if pools == nil {
				known, err := idx.Store.ListPoolAddresses(ctx, chainId)
				if err != nil {
					return nil, errors.Wrap(err, "failed to list pools")
				}
				pools = known
			}
			logs := make([]*ethereum.EthereumEventLog, 0)
			for i := 0; i < len(pools); i += poolAddressChunkSize {
				chunk := pools[i:min(i+poolAddressChunkSize, len(pools))]
				res, err := chain.client.GetLogs(ctx, &ethereum.LogFilter{
					Addresses: chunk,
					Topics:    [][]string{poolEventTopicList()},
					FromBlock: from,
					ToBlock:   to,
				})
				if err != nil {
					return nil, err
				}
				logs = append(logs, res...)
			}
			return logs, nil
		},
		process: func(ctx context.Context, logs []*ethereum.EthereumEventLog, blocks *blockCache, toBlock uint64, counters *passCounters) {
			idx.processPoolEvents(ctx, chain, logs, blocks, toBlock, counters)
		},
	}, fromBlock, toBlock)
}

// processPoolEvents applies logs in order within a pool and handles pools concurrently. Refunds
// clamp against the running refundable amount, so per-pool ordering matters.
func (idx *Indexer) processPoolEvents(ctx context.Context, chain *chainDeps, logs []*ethereum.EthereumEventLog, blocks *blockCache, toBlock uint64, counters *passCounters) {
	byPool := make(map[string][]*ethereum.EthereumEventLog)
	order := make([]string, 0)
	for _, log := range logs {
		address := lower(log.Address.Value())
		if _, ok := byPool[address]; !ok {
			order = append(order, address)
		}
		byPool[address] = append(byPool[address], log)
	}

	g := &errgroup.Group{}
	g.SetLimit(max(idx.Config.IndexerConfig.Concurrency, 1))
	for _, address := range order {
		address := address
		poolLogs := byPool[address]
		g.Go(func() error {
			for _, log := range poolLogs {
				err := idx.processPoolEvent(ctx, chain, log, blocks)
				if err != nil {
					var indexErr *IndexError
					if !errors.As(err, &indexErr) {
						indexErr = NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log)
					}
					idx.logIndexError(indexErr)
				}
				counters.record(err)
			}
			idx.refreshPool(ctx, chain, address, toBlock)
			return nil
		})
	}
	_ = g.Wait()
}

func (idx *Indexer) refreshPool(ctx context.Context, chain *chainDeps, address string, toBlock uint64) {
	pool := idx.hydratePool(ctx, chain, address)
	pool.LastSyncedBlock = toBlock
	if _, err := idx.storePool(ctx, chain, pool, false); err != nil {
		idx.Logger.Sugar().Errorw("Failed to refresh pool",
			zap.String("pool", address),
			zap.Uint64("chainId", chain.config.ChainId),
			zap.Error(err),
		)
	}
}

func (idx *Indexer) processPoolEvent(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, blocks *blockCache) error {
	if len(log.Topics) == 0 {
		return NewIndexError(IndexError_FailedToDecodeLog, fmt.Errorf("log has no topics")).WithLog(log)
	}
	eventName, ok := poolEventTopics[log.Topics[0].Value()]
	if !ok {
		return NewIndexError(IndexError_FailedToDecodeLog, fmt.Errorf("unknown topic %s", log.Topics[0])).WithLog(log)
	}

	values, err := decodeEventData(eventName, log)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log).WithMetadata("event", eventName)
	}

	timestamp, err := blocks.timestamp(ctx, log.BlockNumber.Value())
	if err != nil {
		idx.Logger.Sugar().Warnw("Failed to get block timestamp for event",
			zap.String("event", eventName),
			zap.Uint64("blockNumber", log.BlockNumber.Value()),
			zap.Error(err),
		)
	}

	pool := lower(log.Address.Value())
	activity := &storage.UserActivity{
		ChainId:         chain.config.ChainId,
		PoolAddress:     pool,
		TransactionHash: log.TransactionHash.Value(),
		LogIndex:        log.LogIndex.Value(),
		BlockNumber:     log.BlockNumber.Value(),
		BlockTimestamp:  timestamp,
	}

	switch eventName {
	case poolEvent_SlotsPurchased:
		return idx.handleSlotsPurchased(ctx, chain, log, activity, values)
	case poolEvent_RefundClaimed:
		return idx.handleRefundClaimed(ctx, chain, log, activity, values)
	case poolEvent_RandomnessRequested:
		return idx.handleRandomnessRequested(ctx, chain, log, activity, values)
	case poolEvent_WinnersSelected:
		return idx.handleWinnersSelected(ctx, chain, log, values)
	case poolEvent_PrizeClaimed:
		return idx.handlePrizeClaimed(ctx, chain, log, activity, values)
	}
	return nil
}

func decodeEventData(eventName string, log *ethereum.EthereumEventLog) ([]interface{}, error) {
	data, err := hexutil.Decode(log.Data.Value())
	if err != nil {
		return nil, errors.Wrap(err, "invalid log data")
	}
	values, err := contractCaller.Pool.Unpack(eventName, data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", eventName)
	}
	return values, nil
}

func indexedAddress(log *ethereum.EthereumEventLog) (string, error) {
	if len(log.Topics) < 2 {
		return "", fmt.Errorf("expected an indexed address topic")
	}
	return utils.NormalizeAddress(utils.TopicToAddress(log.Topics[1].Value())), nil
}

func bigValue(values []interface{}, i int) (*big.Int, error) {
	if i >= len(values) {
		return nil, fmt.Errorf("missing value %d", i)
	}
	v, ok := values[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("value %d is %T, expected uint256", i, values[i])
	}
	return v, nil
}

func (idx *Indexer) handleSlotsPurchased(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, activity *storage.UserActivity, values []interface{}) error {
	participant, err := indexedAddress(log)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}
	quantity, err := bigValue(values, 0)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}
	amount, err := bigValue(values, 1)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}

	activity.UserAddress = participant
	activity.ActivityType = storage.ActivityType_SlotPurchased
	activity.Quantity = quantity.Uint64()
	activity.Amount = amount.String()

	inserted, p, err := idx.Store.ApplySlotPurchase(ctx, activity)
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log).WithMessage("failed to apply slot purchase")
	}
	if inserted {
		chainId := chain.config.ChainId
		idx.publishRow(eventBusTypes.Table_UserActivity, eventBusTypes.ChangeType_Insert, chainId, activity.PoolAddress, activity)
		idx.publishRow(eventBusTypes.Table_PoolParticipants, participantChangeType(p, activity), chainId, activity.PoolAddress, p)
	}
	return nil
}

func (idx *Indexer) handleRefundClaimed(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, activity *storage.UserActivity, values []interface{}) error {
	participant, err := indexedAddress(log)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}
	amount, err := bigValue(values, 0)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}

	activity.UserAddress = participant
	activity.ActivityType = storage.ActivityType_RefundClaimed
	activity.Amount = amount.String()

	inserted, p, err := idx.Store.ApplyRefund(ctx, activity)
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log).WithMessage("failed to apply refund")
	}
	if inserted {
		chainId := chain.config.ChainId
		idx.publishRow(eventBusTypes.Table_UserActivity, eventBusTypes.ChangeType_Insert, chainId, activity.PoolAddress, activity)
		idx.publishRow(eventBusTypes.Table_PoolParticipants, eventBusTypes.ChangeType_Update, chainId, activity.PoolAddress, p)
	}
	return nil
}

func (idx *Indexer) handleRandomnessRequested(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, activity *storage.UserActivity, values []interface{}) error {
	requestId, err := bigValue(values, 0)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}

	pool, err := idx.Store.GetPool(ctx, activity.PoolAddress, chain.config.ChainId)
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log).WithMessage("failed to load pool")
	}

	metadata, _ := json.Marshal(map[string]string{"requestId": requestId.String()})
	activity.UserAddress = pool.Creator
	activity.ActivityType = storage.ActivityType_RandomnessRequested
	activity.Metadata = string(metadata)

	inserted, err := idx.Store.InsertActivity(ctx, activity)
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log).WithMessage("failed to insert randomness activity")
	}
	if inserted {
		idx.publishRow(eventBusTypes.Table_UserActivity, eventBusTypes.ChangeType_Insert, chain.config.ChainId, activity.PoolAddress, activity)
	}
	return idx.raiseState(ctx, chain, log, storage.PoolState_Drawing)
}

func (idx *Indexer) handleWinnersSelected(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, values []interface{}) error {
	if len(values) == 0 {
		return NewIndexError(IndexError_FailedToDecodeLog, fmt.Errorf("missing winners")).WithLog(log)
	}
	addresses, ok := values[0].([]common.Address)
	if !ok {
		return NewIndexError(IndexError_FailedToDecodeLog, fmt.Errorf("winners is %T, expected address[]", values[0])).WithLog(log)
	}

	pool := lower(log.Address.Value())
	winners := make([]*storage.PoolWinner, 0, len(addresses))
	for i, a := range addresses {
		winners = append(winners, &storage.PoolWinner{
			PoolAddress:     pool,
			ChainId:         chain.config.ChainId,
			WinnerIndex:     uint64(i),
			WinnerAddress:   lower(a.Hex()),
			TransactionHash: log.TransactionHash.Value(),
			BlockNumber:     log.BlockNumber.Value(),
		})
	}

	written, err := idx.Store.InsertWinners(ctx, winners)
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log).WithMessage("failed to insert winners")
	}
	if written > 0 {
		for _, w := range winners {
			idx.publishRow(eventBusTypes.Table_PoolWinners, eventBusTypes.ChangeType_Insert, chain.config.ChainId, pool, w)
		}
	}
	return idx.raiseState(ctx, chain, log, storage.PoolState_Completed)
}

func (idx *Indexer) handlePrizeClaimed(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, activity *storage.UserActivity, values []interface{}) error {
	winner, err := indexedAddress(log)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}
	winnerIndex, err := bigValue(values, 0)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}

	activity.UserAddress = winner
	activity.ActivityType = storage.ActivityType_PrizeClaimed
	metadata, _ := json.Marshal(map[string]uint64{"winnerIndex": winnerIndex.Uint64()})
	activity.Metadata = string(metadata)

	inserted, err := idx.Store.MarkPrizeClaimed(ctx, activity, winnerIndex.Uint64())
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).WithLog(log).WithMessage("failed to mark prize claimed")
	}
	if inserted {
		chainId := chain.config.ChainId
		idx.publishRow(eventBusTypes.Table_UserActivity, eventBusTypes.ChangeType_Insert, chainId, activity.PoolAddress, activity)
		idx.publishRow(eventBusTypes.Table_PoolWinners, eventBusTypes.ChangeType_Update, chainId, activity.PoolAddress, &storage.PoolWinner{
			PoolAddress:   activity.PoolAddress,
			ChainId:       chainId,
			WinnerIndex:   winnerIndex.Uint64(),
			WinnerAddress: winner,
			PrizeClaimed:  true,
		})
	}
	return nil
}

func (idx *Indexer) raiseState(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, state storage.PoolState) error {
	pool := lower(log.Address.Value())
	raised, err := idx.Store.RaisePoolState(ctx, pool, chain.config.ChainId, state, log.BlockNumber.Value())
	if err != nil {
		return NewIndexError(IndexError_FailedToStorePool, err).WithLog(log).WithMetadata("state", state.String())
	}
	if raised {
		idx.Logger.Sugar().Debugw("Raised pool state",
			zap.String("pool", pool),
			zap.String("state", state.String()),
		)
	}
	return nil
}

// participantChangeType reports INSERT for a participant's first purchase.
func participantChangeType(p *storage.PoolParticipant, purchase *storage.UserActivity) eventBusTypes.ChangeType {
	if p != nil && p.SlotsPurchased == purchase.Quantity {
		return eventBusTypes.ChangeType_Insert
	}
	return eventBusTypes.ChangeType_Update
}
