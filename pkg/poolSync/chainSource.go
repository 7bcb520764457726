package poolSync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLogChunkSize    = 10_000
	defaultReadConcurrency = 8
)

// LogReader is the part of the chain client the log fallback needs.
type LogReader interface {
	GetBlockNumberUint64(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, filter *ethereum.LogFilter) ([]*ethereum.EthereumEventLog, error)
}

type ChainSourceChain struct {
	ChainId         uint64
	DeployerAddress string
	StartBlock      uint64
	Caller          contractCaller.IContractCaller
	Logs            LogReader
}

// ChainSource reads pools straight from the contracts, bypassing the cache.
type ChainSource struct {
	logger       *zap.Logger
	chains       map[uint64]*ChainSourceChain
	LogChunkSize uint64
	Concurrency  int
}

func NewChainSource(chains []*ChainSourceChain, l *zap.Logger) *ChainSource {
	byId := make(map[uint64]*ChainSourceChain, len(chains))
	for _, c := range chains {
		byId[c.ChainId] = c
	}
	return &ChainSource{
		logger:       l,
		chains:       byId,
		LogChunkSize: defaultLogChunkSize,
		Concurrency:  defaultReadConcurrency,
	}
}

func (cs *ChainSource) chain(chainId uint64) (*ChainSourceChain, error) {
	c, ok := cs.chains[chainId]
	if !ok {
		return nil, fmt.Errorf("chain %d is not configured for chain reads", chainId)
	}
	return c, nil
}

// PoolAddresses lists every pool the deployer created, oldest first. It asks the deployer's
// registry view and only scans PoolCreated logs when that view fails.
func (cs *ChainSource) PoolAddresses(ctx context.Context, chainId uint64) ([]string, error) {
	c, err := cs.chain(chainId)
	if err != nil {
		return nil, err
	}

	res := contractCaller.As[[]common.Address](c.Caller.CallView(ctx,
		contractCaller.NewViewCall(c.DeployerAddress, contractCaller.PoolDeployer, "getAllPools", nil)))
	if res.Ok() {
		addresses := make([]string, 0, len(res.Value))
		for _, a := range res.Value {
			addresses = append(addresses, strings.ToLower(a.Hex()))
		}
		return addresses, nil
	}

	cs.logger.Sugar().Debugw("getAllPools failed, scanning PoolCreated logs",
		zap.Uint64("chainId", chainId),
		zap.Error(res.Err),
	)
	if c.Logs == nil {
		return nil, errors.Wrap(res.Err, "getAllPools failed and no log reader is configured")
	}
	return cs.scanPoolCreated(ctx, c)
}

func (cs *ChainSource) scanPoolCreated(ctx context.Context, c *ChainSourceChain) ([]string, error) {
	head, err := c.Logs.GetBlockNumberUint64(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get head block")
	}
	chunk := max(cs.LogChunkSize, 1)

	addresses := make([]string, 0)
	for from := c.StartBlock; from <= head; from += chunk {
		to := min(from+chunk-1, head)
		logs, err := c.Logs.GetLogs(ctx, &ethereum.LogFilter{
			Addresses: []string{strings.ToLower(c.DeployerAddress)},
			Topics:    [][]string{{indexer.PoolCreatedTopic}},
			FromBlock: from,
			ToBlock:   to,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get PoolCreated logs for %d-%d", from, to)
		}
		for _, log := range logs {
			pool, _, err := indexer.DecodePoolCreated(log)
			if err != nil {
				cs.logger.Sugar().Debugw("Skipping undecodable PoolCreated log",
					zap.String("transactionHash", log.TransactionHash.Value()),
					zap.Error(err),
				)
				continue
			}
			if !slices.Contains(addresses, pool) {
				addresses = append(addresses, pool)
			}
		}
	}
	return addresses, nil
}

// GetPool reads one pool's summary. A target that answers neither creator nor state is not a pool.
func (cs *ChainSource) GetPool(ctx context.Context, chainId uint64, address string) (*storage.Pool, error) {
	c, err := cs.chain(chainId)
	if err != nil {
		return nil, err
	}
	pool, failed := indexer.ReadPool(ctx, c.Caller, chainId, address)
	if slices.Contains(failed, "creator") && slices.Contains(failed, "state") {
		return nil, fmt.Errorf("pool %s on chain %d: %w", address, chainId, ErrNotFound)
	}
	if len(failed) > 0 {
		cs.logger.Sugar().Debugw("Some pool views failed, using defaults",
			zap.String("pool", address),
			zap.Strings("views", failed),
		)
	}
	return pool, nil
}

// ListPools reads every pool's summary, newest first. Pools that cannot be read are left out.
func (cs *ChainSource) ListPools(ctx context.Context, chainId uint64) ([]*storage.Pool, error) {
	addresses, err := cs.PoolAddresses(ctx, chainId)
	if err != nil {
		return nil, err
	}

	pools := make([]*storage.Pool, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cs.Concurrency, 1))
	for i, address := range addresses {
		i, address := i, address
		g.Go(func() error {
			pool, err := cs.GetPool(gctx, chainId, address)
			if err != nil {
				cs.logger.Sugar().Debugw("Skipping unreadable pool",
					zap.String("pool", address),
					zap.Error(err),
				)
				return nil
			}
			pools[i] = pool
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*storage.Pool, 0, len(pools))
	for i := len(pools) - 1; i >= 0; i-- {
		if pools[i] != nil {
			out = append(out, pools[i])
		}
	}
	return out, nil
}
