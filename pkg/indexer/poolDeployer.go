package indexer

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/Layr-Labs/raffle-sidecar/pkg/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PoolCreatedTopic is topic0 of the deployer's PoolCreated event.
var PoolCreatedTopic = contractCaller.PoolDeployer.Events["PoolCreated"].ID.Hex()

// Index scans the deployer's PoolCreated logs and stores every pool it finds. A nil toBlock indexes
// up to the current head; a nil fromBlock resumes from the cursor.
func (idx *Indexer) Index(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*IndexResult, error) {
	chain, err := idx.getChain(chainId)
	if err != nil {
		return nil, err
	}
	deployer := lower(chain.config.PoolDeployerAddress)

	return idx.runPass(ctx, chain, &passSpec{
		contractType:    syncCursor.ContractType_PoolDeployer,
		contractAddress: deployer,
		fetch: func(ctx context.Context, from uint64, to uint64) ([]*ethereum.EthereumEventLog, error) {
			return chain.client.GetLogs(ctx, &ethereum.LogFilter{
				Addresses: []string{deployer},
				Topics:    [][]string{{PoolCreatedTopic}},
				FromBlock: from,
				ToBlock:   to,
			})
		},
		process: func(ctx context.Context, logs []*ethereum.EthereumEventLog, blocks *blockCache, toBlock uint64, counters *passCounters) {
			g := &errgroup.Group{}
			g.SetLimit(max(idx.Config.IndexerConfig.Concurrency, 1))
			for _, log := range logs {
				log := log
				g.Go(func() error {
					err := idx.processPoolCreated(ctx, chain, log, blocks, toBlock)
					if err != nil {
						var indexErr *IndexError
						if errors.As(err, &indexErr) {
							idx.logIndexError(indexErr)
						} else {
							idx.logIndexError(NewIndexError(IndexError_FailedToStorePool, err).WithLog(log))
						}
					}
					counters.record(err)
					return nil
				})
			}
			_ = g.Wait()
		},
	}, fromBlock, toBlock)
}

type poolCreatedEvent struct {
	pool    string
	creator string
}

func decodePoolCreated(log *ethereum.EthereumEventLog) (*poolCreatedEvent, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("PoolCreated log has %d topics, expected 3", len(log.Topics))
	}
	pool := utils.NormalizeAddress(utils.TopicToAddress(log.Topics[1].Value()))
	if pool == "" {
		return nil, fmt.Errorf("PoolCreated log carries the zero address as pool")
	}
	return &poolCreatedEvent{
		pool:    pool,
		creator: utils.NormalizeAddress(utils.TopicToAddress(log.Topics[2].Value())),
	}, nil
}

// DecodePoolCreated returns the pool and creator addresses announced by a PoolCreated log.
func DecodePoolCreated(log *ethereum.EthereumEventLog) (pool string, creator string, err error) {
	decoded, err := decodePoolCreated(log)
	if err != nil {
		return "", "", err
	}
	return decoded.pool, decoded.creator, nil
}

func (idx *Indexer) processPoolCreated(ctx context.Context, chain *chainDeps, log *ethereum.EthereumEventLog, blocks *blockCache, toBlock uint64) error {
	decoded, err := decodePoolCreated(log)
	if err != nil {
		return NewIndexError(IndexError_FailedToDecodeLog, err).WithLog(log)
	}

	blockNumber := log.BlockNumber.Value()
	timestamp, err := blocks.timestamp(ctx, blockNumber)
	if err != nil {
		idx.Logger.Sugar().Warnw("Failed to get block timestamp for pool",
			zap.String("pool", decoded.pool),
			zap.Uint64("blockNumber", blockNumber),
			zap.Error(err),
		)
	}

	pool := idx.hydratePool(ctx, chain, decoded.pool)
	if pool.Creator == "" {
		pool.Creator = decoded.creator
	}
	pool.CreatedAtBlock = blockNumber
	pool.CreatedAtTimestamp = timestamp
	pool.CreationTxHash = log.TransactionHash.Value()
	pool.LastSyncedBlock = max(toBlock, blockNumber)

	activity := &storage.UserActivity{
		ChainId:         chain.config.ChainId,
		UserAddress:     decoded.creator,
		ActivityType:    storage.ActivityType_RaffleCreated,
		PoolAddress:     decoded.pool,
		TransactionHash: log.TransactionHash.Value(),
		LogIndex:        log.LogIndex.Value(),
		BlockNumber:     blockNumber,
		BlockTimestamp:  timestamp,
	}
	activity.Normalize()

	inserted, err := idx.Store.InsertActivity(ctx, activity)
	if err != nil {
		return NewIndexError(IndexError_FailedToStoreEvent, err).
			WithLog(log).
			WithMetadata("pool", decoded.pool).
			WithMessage("failed to insert raffle_created activity")
	}
	if inserted {
		idx.publishRow(eventBusTypes.Table_UserActivity, eventBusTypes.ChangeType_Insert, chain.config.ChainId, decoded.pool, activity)
	}

	if _, err := idx.storePool(ctx, chain, pool, inserted); err != nil {
		return NewIndexError(IndexError_FailedToStorePool, err).
			WithLog(log).
			WithMetadata("pool", decoded.pool).
			WithMessage("failed to upsert pool")
	}

	idx.Logger.Sugar().Debugw("Indexed pool",
		zap.Uint64("chainId", chain.config.ChainId),
		zap.String("pool", decoded.pool),
		zap.String("state", pool.State.String()),
		zap.Uint64("blockNumber", blockNumber),
	)
	return nil
}
