package sidecar

import (
	"context"
	"errors"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"go.uber.org/zap"
)

// RunIndex runs a pool-creation pass for the chain while holding its index lock.
func (s *Sidecar) RunIndex(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error) {
	return s.withLock(s.cursorKey(chainId, syncCursor.ContractType_PoolDeployer), func() (*indexer.IndexResult, error) {
		return s.Indexer.Index(ctx, chainId, fromBlock, toBlock)
	})
}

// RunIndexPoolEvents runs a pool-event pass for the chain while holding its index lock.
func (s *Sidecar) RunIndexPoolEvents(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error) {
	return s.withLock(s.cursorKey(chainId, syncCursor.ContractType_PoolEvents), func() (*indexer.IndexResult, error) {
		return s.Indexer.IndexPoolEvents(ctx, chainId, fromBlock, toBlock)
	})
}

func (s *Sidecar) cursorKey(chainId uint64, contractType string) syncCursor.CursorKey {
	key := syncCursor.CursorKey{ChainId: chainId, ContractType: contractType}
	if chain, err := s.GlobalConfig.GetChain(chainId); err == nil {
		key.ContractAddress = chain.PoolDeployerAddress
	}
	return key
}

func (s *Sidecar) withLock(key syncCursor.CursorKey, run func() (*indexer.IndexResult, error)) (*indexer.IndexResult, error) {
	release, err := s.Locks.TryLock(key)
	if err != nil {
		return nil, err
	}
	defer release()
	return run()
}

func (s *Sidecar) runChainLoop(ctx context.Context, chainId uint64) {
	s.Logger.Sugar().Infow("Starting chain indexing loop",
		zap.Uint64("chainId", chainId),
		zap.Duration("interval", s.Config.Interval),
	)

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		s.tick(ctx, chainId)

		select {
		case <-ctx.Done():
			s.Logger.Sugar().Infow("Shutting down chain indexing loop", zap.Uint64("chainId", chainId))
			return
		case <-ticker.C:
		}
	}
}

// tick runs one scheduled round. A pass already running for the same contract is skipped, not queued.
func (s *Sidecar) tick(ctx context.Context, chainId uint64) {
	if s.ShuttingDown() {
		return
	}

	started := time.Now()
	res, err := s.RunIndex(ctx, chainId, nil, nil)
	s.logPass(chainId, syncCursor.ContractType_PoolDeployer, res, err, started)

	if !s.Config.PoolEventsEnabled || ctx.Err() != nil {
		return
	}
	started = time.Now()
	res, err = s.RunIndexPoolEvents(ctx, chainId, nil, nil)
	s.logPass(chainId, syncCursor.ContractType_PoolEvents, res, err, started)
}

func (s *Sidecar) logPass(chainId uint64, contractType string, res *indexer.IndexResult, err error, started time.Time) {
	if errors.Is(err, ErrIndexInProgress) {
		s.Logger.Sugar().Debugw("Skipping scheduled pass, one is already running",
			zap.Uint64("chainId", chainId),
			zap.String("contractType", contractType),
		)
		return
	}
	if err != nil {
		s.Logger.Sugar().Errorw("Scheduled indexing pass failed",
			zap.Uint64("chainId", chainId),
			zap.String("contractType", contractType),
			zap.Error(err),
		)
		return
	}
	s.Logger.Sugar().Debugw("Scheduled indexing pass finished",
		zap.Uint64("chainId", chainId),
		zap.String("contractType", contractType),
		zap.Uint64("from", res.BlocksScanned.From),
		zap.Uint64("to", res.BlocksScanned.To),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(started)),
	)
}
