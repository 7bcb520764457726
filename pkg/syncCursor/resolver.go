package syncCursor

import (
	"context"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"go.uber.org/zap"
)

type BlockFetcher interface {
	GetBlockByNumber(ctx context.Context, blockNumber uint64) (*ethereum.EthereumBlock, error)
}

type ResolverConfig struct {
	LookbackBlocks uint64
	SafetyBlocks   uint64
	ReorgDepth     uint64
}

type ResolutionSource string

const (
	ResolutionSource_Explicit ResolutionSource = "explicit"
	ResolutionSource_Cursor   ResolutionSource = "cursor"
	ResolutionSource_Lookback ResolutionSource = "lookback"
)

type Resolution struct {
	FromBlock     uint64
	Source        ResolutionSource
	ReorgDetected bool
}

type Resolver struct {
	store  CursorStore
	chain  BlockFetcher
	config *ResolverConfig
	logger *zap.Logger
}

func NewResolver(store CursorStore, chain BlockFetcher, cfg *ResolverConfig, l *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		chain:  chain,
		config: cfg,
		logger: l,
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// ResolveFromBlock picks where a pass starts. An explicit block wins. Otherwise the cursor is resumed,
// rewinding the reorg depth when the stored hash no longer matches the chain, and always re-scanning the
// safety window. Without a cursor the pass starts lookbackBlocks behind head. The result is never below
// startBlock.
func (r *Resolver) ResolveFromBlock(ctx context.Context, key CursorKey, explicit *uint64, head uint64, startBlock uint64) (*Resolution, error) {
	if explicit != nil {
		return &Resolution{FromBlock: *explicit, Source: ResolutionSource_Explicit}, nil
	}

	cursor, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cursor == nil || (cursor.LastIndexedBlock == 0 && cursor.LastBlockHash == "") {
		return &Resolution{
			FromBlock: max(saturatingSub(head, r.config.LookbackBlocks), startBlock),
			Source:    ResolutionSource_Lookback,
		}, nil
	}

	rewind := r.config.SafetyBlocks
	reorg := false
	if cursor.LastBlockHash != "" {
		block, err := r.chain.GetBlockByNumber(ctx, cursor.LastIndexedBlock)
		if err != nil {
			r.logger.Sugar().Warnw("Failed to fetch block for reorg check, resuming without it",
				zap.String("cursor", key.String()),
				zap.Uint64("blockNumber", cursor.LastIndexedBlock),
				zap.Error(err),
			)
		} else if !strings.EqualFold(block.Hash.Value(), cursor.LastBlockHash) {
			reorg = true
			rewind = max(rewind, r.config.ReorgDepth)
			r.logger.Sugar().Warnw("Reorg detected at cursor, rewinding",
				zap.String("cursor", key.String()),
				zap.Uint64("blockNumber", cursor.LastIndexedBlock),
				zap.String("storedHash", cursor.LastBlockHash),
				zap.String("chainHash", block.Hash.Value()),
				zap.Uint64("rewind", rewind),
			)
		}
	}

	return &Resolution{
		FromBlock:     max(saturatingSub(cursor.LastIndexedBlock+1, rewind), startBlock),
		Source:        ResolutionSource_Cursor,
		ReorgDetected: reorg,
	}, nil
}
