package sidecar

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"go.uber.org/zap"
)

// ChainIndexer runs the indexing passes for configured chains.
type ChainIndexer interface {
	Index(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error)
	IndexPoolEvents(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error)
	ChainIds() []uint64
}

type SidecarConfig struct {
	Interval          time.Duration
	PoolEventsEnabled bool
}

func SidecarConfigFromConfig(cfg *config.Config) *SidecarConfig {
	interval := time.Duration(cfg.IndexerConfig.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SidecarConfig{
		Interval:          interval,
		PoolEventsEnabled: cfg.IndexerConfig.PoolEventsEnabled,
	}
}

type Sidecar struct {
	Logger         *zap.Logger
	Config         *SidecarConfig
	GlobalConfig   *config.Config
	Indexer        ChainIndexer
	Locks          *IndexLocks
	ShutdownChan   chan bool
	shouldShutdown *atomic.Bool
	wg             sync.WaitGroup
}

func NewSidecar(
	cfg *SidecarConfig,
	gCfg *config.Config,
	idx ChainIndexer,
	locks *IndexLocks,
	l *zap.Logger,
) *Sidecar {
	shouldShutdown := &atomic.Bool{}
	shouldShutdown.Store(false)
	return &Sidecar{
		Logger:         l,
		Config:         cfg,
		GlobalConfig:   gCfg,
		Indexer:        idx,
		Locks:          locks,
		ShutdownChan:   make(chan bool),
		shouldShutdown: shouldShutdown,
	}
}

// Start launches one scheduling loop per chain and returns immediately. Loops stop when ctx is
// cancelled or a value is sent on ShutdownChan.
func (s *Sidecar) Start(ctx context.Context) {
	s.Logger.Info("Starting sidecar")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for range s.ShutdownChan {
			s.Logger.Sugar().Infow("Received shutdown signal")
			s.shouldShutdown.Store(true)
			cancel()
		}
	}()

	for _, chainId := range s.Indexer.ChainIds() {
		chainId := chainId
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runChainLoop(ctx, chainId)
		}()
	}
}

// Wait blocks until every chain loop has exited.
func (s *Sidecar) Wait() {
	s.wg.Wait()
}

func (s *Sidecar) ShuttingDown() bool {
	return s.shouldShutdown.Load()
}
