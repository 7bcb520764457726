package indexer

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type logFetcher func(ctx context.Context, from uint64, to uint64) ([]*ethereum.EthereumEventLog, error)

type logProcessor func(ctx context.Context, logs []*ethereum.EthereumEventLog, blocks *blockCache, toBlock uint64, counters *passCounters)

// passCeiling bounds how far a pass may scan. ok is false when there is nothing the pass may cover yet.
type passCeiling func(ctx context.Context) (block uint64, ok bool, err error)

type passSpec struct {
	contractType    string
	contractAddress string
	fetch           logFetcher
	process         logProcessor
	ceiling         passCeiling
}

// blockCache memoizes block lookups for the duration of one pass.
type blockCache struct {
	client ChainClient
	group  singleflight.Group
	mu     sync.Mutex
	blocks map[uint64]*ethereum.EthereumBlock
}

func newBlockCache(client ChainClient) *blockCache {
	return &blockCache{
		client: client,
		blocks: make(map[uint64]*ethereum.EthereumBlock),
	}
}

func (b *blockCache) get(ctx context.Context, blockNumber uint64) (*ethereum.EthereumBlock, error) {
	b.mu.Lock()
	block, ok := b.blocks[blockNumber]
	b.mu.Unlock()
	if ok {
		return block, nil
	}

	res, err, _ := b.group.Do(strconv.FormatUint(blockNumber, 10), func() (interface{}, error) {
		block, err := b.client.GetBlockByNumber(ctx, blockNumber)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.blocks[blockNumber] = block
		b.mu.Unlock()
		return block, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*ethereum.EthereumBlock), nil
}

func (b *blockCache) timestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	block, err := b.get(ctx, blockNumber)
	if err != nil {
		return 0, err
	}
	return block.Timestamp.Value(), nil
}

// fetchLogsChunked walks [from, to] in windows of at most maxRange blocks. The first failure aborts.
func fetchLogsChunked(ctx context.Context, from uint64, to uint64, maxRange uint64, fetch logFetcher) ([]*ethereum.EthereumEventLog, error) {
	if maxRange == 0 {
		maxRange = to - from + 1
	}
	logs := make([]*ethereum.EthereumEventLog, 0)
	for start := from; ; start += maxRange {
		end := min(start+maxRange-1, to)
		chunk, err := fetch(ctx, start, end)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch logs for blocks [%d, %d]", start, end)
		}
		for _, l := range chunk {
			if !l.Removed {
				logs = append(logs, l)
			}
		}
		if end >= to {
			break
		}
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})
	return logs, nil
}

func (idx *Indexer) runPass(ctx context.Context, chain *chainDeps, spec *passSpec, fromBlock *uint64, toBlock *uint64) (*IndexResult, error) {
	started := time.Now()
	chainId := chain.config.ChainId
	key := syncCursor.CursorKey{ChainId: chainId, ContractType: spec.contractType, ContractAddress: spec.contractAddress}
	labels := idx.metricLabels(chainId, spec.contractType)

	var to uint64
	if toBlock != nil {
		to = *toBlock
	} else {
		head, err := chain.client.GetBlockNumberUint64(ctx)
		if err != nil {
			idx.markUnhealthy(ctx, key, err)
			return nil, NewIndexError(IndexError_FailedToFetchHead, err).WithMessage("failed to get current block number")
		}
		to = head
	}
	if spec.ceiling != nil {
		ceiling, ok, err := spec.ceiling(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve pass ceiling")
		}
		if !ok {
			idx.Logger.Sugar().Debugw("Nothing to index until the pool-creation pass has run",
				zap.String("cursor", key.String()),
			)
			return &IndexResult{}, nil
		}
		to = min(to, ceiling)
	}

	resolution, err := chain.resolver.ResolveFromBlock(ctx, key, fromBlock, to, chain.config.PoolDeployerStartBlock)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve starting block")
	}
	from := resolution.FromBlock

	result := &IndexResult{
		BlocksScanned: BlocksScanned{From: from, To: to},
		ReorgDetected: resolution.ReorgDetected,
	}
	if from > to {
		idx.Logger.Sugar().Debugw("Nothing to index",
			zap.String("cursor", key.String()),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
		)
		return result, nil
	}
	result.BlocksScanned.Total = to - from + 1

	idx.Logger.Sugar().Infow("Starting indexing pass",
		zap.String("cursor", key.String()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.String("resolvedFrom", string(resolution.Source)),
	)

	logs, err := fetchLogsChunked(ctx, from, to, idx.Config.IndexerConfig.MaxBlockRange, spec.fetch)
	if err != nil {
		_ = idx.Metrics.Incr(metricsTypes.Metric_Incr_LogFetchFailed, labels, 1)
		idx.markUnhealthy(ctx, key, err)
		return nil, NewIndexError(IndexError_FailedToFetchLogs, err).WithBlockNumber(from)
	}
	result.EventsFound = len(logs)

	blocks := newBlockCache(chain.client)
	counters := &passCounters{}
	spec.process(ctx, logs, blocks, to, counters)
	result.Succeeded = counters.succeeded
	result.Failed = counters.failed

	blockHash := ""
	if block, err := blocks.get(ctx, to); err != nil {
		idx.Logger.Sugar().Warnw("Failed to get block hash for cursor, saving without it",
			zap.Uint64("blockNumber", to),
			zap.Error(err),
		)
	} else {
		blockHash = block.Hash.Value()
	}

	cursor := &storage.IndexerSyncState{
		ChainId:          chainId,
		ContractType:     spec.contractType,
		ContractAddress:  spec.contractAddress,
		LastIndexedBlock: to,
		LastBlockHash:    blockHash,
		IsHealthy:        true,
		ErrorMessage:     "",
	}
	// An explicit range behind the cursor must not move it backwards.
	if resolution.Source == syncCursor.ResolutionSource_Explicit {
		existing, err := idx.CursorStore.Get(ctx, key)
		if err != nil {
			return result, NewIndexError(IndexError_FailedToStoreCursor, err).WithBlockNumber(to)
		}
		if existing != nil && existing.LastIndexedBlock >= to {
			cursor.LastIndexedBlock = existing.LastIndexedBlock
			if existing.LastBlockHash != "" || existing.LastIndexedBlock > to {
				cursor.LastBlockHash = existing.LastBlockHash
			}
		}
	}
	if err := idx.CursorStore.Save(ctx, cursor); err != nil {
		return result, NewIndexError(IndexError_FailedToStoreCursor, err).WithBlockNumber(to)
	}

	_ = idx.Metrics.Incr(metricsTypes.Metric_Incr_EventsProcessed, labels, float64(result.Succeeded))
	_ = idx.Metrics.Incr(metricsTypes.Metric_Incr_EventsFailed, labels, float64(result.Failed))
	_ = idx.Metrics.Gauge(metricsTypes.Metric_Gauge_CursorBlock, float64(cursor.LastIndexedBlock), labels)
	_ = idx.Metrics.Timing(metricsTypes.Metric_Timing_PassDuration, time.Since(started), labels)

	idx.publish(&eventBusTypes.Event{
		Name:    eventBusTypes.EventName_PassFinished,
		ChainId: chainId,
		Record: &eventBusTypes.PassFinishedData{
			ChainId:      chainId,
			ContractType: spec.contractType,
			FromBlock:    from,
			ToBlock:      to,
			Succeeded:    result.Succeeded,
			Failed:       result.Failed,
		},
	})

	idx.Logger.Sugar().Infow("Finished indexing pass",
		zap.String("cursor", key.String()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("eventsFound", result.EventsFound),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

func (idx *Indexer) markUnhealthy(ctx context.Context, key syncCursor.CursorKey, cause error) {
	if err := idx.CursorStore.MarkUnhealthy(ctx, key, cause.Error()); err != nil {
		idx.Logger.Sugar().Errorw("Failed to mark cursor unhealthy",
			zap.String("cursor", key.String()),
			zap.Error(err),
		)
	}
}

func (idx *Indexer) logIndexError(err *IndexError) {
	idx.Logger.Sugar().Errorw("Failed to index event",
		zap.Int("type", int(err.Type)),
		zap.Uint64("blockNumber", err.BlockNumber),
		zap.String("transactionHash", err.TransactionHash),
		zap.Uint64("logIndex", err.LogIndex),
		zap.Any("metadata", err.Metadata),
		zap.Error(err.Err),
	)
}
