package indexer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"go.uber.org/zap"
)

// ChainClient is the read surface of a chain the indexer needs.
type ChainClient interface {
	GetBlockNumberUint64(ctx context.Context) (uint64, error)
	GetBlockByNumber(ctx context.Context, blockNumber uint64) (*ethereum.EthereumBlock, error)
	GetLogs(ctx context.Context, filter *ethereum.LogFilter) ([]*ethereum.EthereumEventLog, error)
}

type IndexErrorType int

const (
	IndexError_FailedToDecodeLog   IndexErrorType = 1
	IndexError_FailedToStorePool   IndexErrorType = 2
	IndexError_FailedToStoreEvent  IndexErrorType = 3
	IndexError_FailedToFetchLogs   IndexErrorType = 4
	IndexError_FailedToFetchHead   IndexErrorType = 5
	IndexError_FailedToStoreCursor IndexErrorType = 6
)

type IndexError struct {
	Type            IndexErrorType
	Err             error
	BlockNumber     uint64
	TransactionHash string
	LogIndex        uint64
	Metadata        map[string]interface{}
	Message         string
}

func (e *IndexError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("IndexError: %s: %s", e.Message, e.Err.Error())
	}
	return fmt.Sprintf("IndexError: %s", e.Err.Error())
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func NewIndexError(t IndexErrorType, err error) *IndexError {
	return &IndexError{
		Type:     t,
		Err:      err,
		Metadata: make(map[string]interface{}),
	}
}

func (e *IndexError) WithBlockNumber(blockNumber uint64) *IndexError {
	e.BlockNumber = blockNumber
	return e
}

func (e *IndexError) WithTransactionHash(txHash string) *IndexError {
	e.TransactionHash = txHash
	return e
}

func (e *IndexError) WithLogIndex(logIndex uint64) *IndexError {
	e.LogIndex = logIndex
	return e
}

func (e *IndexError) WithMetadata(key string, value interface{}) *IndexError {
	e.Metadata[key] = value
	return e
}

func (e *IndexError) WithMessage(message string) *IndexError {
	e.Message = message
	return e
}

func (e *IndexError) WithLog(log *ethereum.EthereumEventLog) *IndexError {
	return e.WithBlockNumber(log.BlockNumber.Value()).
		WithTransactionHash(log.TransactionHash.Value()).
		WithLogIndex(log.LogIndex.Value())
}

type UnknownChainError struct {
	ChainId uint64
}

func (e *UnknownChainError) Error() string {
	return fmt.Sprintf("chain %d is not configured", e.ChainId)
}

type BlocksScanned struct {
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Total uint64 `json:"total"`
}

type IndexResult struct {
	BlocksScanned BlocksScanned `json:"blocksScanned"`
	EventsFound   int           `json:"eventsFound"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	ReorgDetected bool          `json:"reorgDetected"`
}

// passCounters is shared by the workers of one pass.
type passCounters struct {
	mu        sync.Mutex
	succeeded int
	failed    int
}

func (c *passCounters) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
	} else {
		c.succeeded++
	}
}

type chainDeps struct {
	config   *config.ChainConfig
	client   ChainClient
	caller   contractCaller.IContractCaller
	resolver *syncCursor.Resolver
}

type Indexer struct {
	Logger      *zap.Logger
	Config      *config.Config
	Store       storage.Store
	CursorStore syncCursor.CursorStore
	EventBus    eventBusTypes.IEventBus
	Metrics     *metrics.MetricsSink

	mu     sync.RWMutex
	chains map[uint64]*chainDeps
}

func NewIndexer(
	store storage.Store,
	cursors syncCursor.CursorStore,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	cfg *config.Config,
	l *zap.Logger,
) *Indexer {
	return &Indexer{
		Logger:      l,
		Config:      cfg,
		Store:       store,
		CursorStore: cursors,
		EventBus:    eb,
		Metrics:     ms,
		chains:      make(map[uint64]*chainDeps),
	}
}

// RegisterChain wires the chain client and contract caller used for a configured chain.
func (idx *Indexer) RegisterChain(chainCfg *config.ChainConfig, client ChainClient, caller contractCaller.IContractCaller) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.chains[chainCfg.ChainId] = &chainDeps{
		config: chainCfg,
		client: client,
		caller: caller,
		resolver: syncCursor.NewResolver(idx.CursorStore, client, &syncCursor.ResolverConfig{
			LookbackBlocks: idx.Config.IndexerConfig.LookbackBlocks,
			SafetyBlocks:   idx.Config.IndexerConfig.SafetyBlocks,
			ReorgDepth:     idx.Config.IndexerConfig.ReorgDepth,
		}, idx.Logger),
	}
}

func (idx *Indexer) getChain(chainId uint64) (*chainDeps, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	chain, ok := idx.chains[chainId]
	if !ok {
		return nil, &UnknownChainError{ChainId: chainId}
	}
	return chain, nil
}

func (idx *Indexer) ChainIds() []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]uint64, 0, len(idx.chains))
	for id := range idx.chains {
		ids = append(ids, id)
	}
	return ids
}

func (idx *Indexer) publish(event *eventBusTypes.Event) {
	if idx.EventBus != nil {
		idx.EventBus.Publish(event)
	}
}

func (idx *Indexer) publishRow(table string, changeType eventBusTypes.ChangeType, chainId uint64, poolAddress string, record any) {
	idx.publish(&eventBusTypes.Event{
		Name:        eventBusTypes.EventName_RowChanged,
		Table:       table,
		Type:        changeType,
		ChainId:     chainId,
		PoolAddress: lower(poolAddress),
		Record:      record,
	})
}

func (idx *Indexer) publishPool(changeType eventBusTypes.ChangeType, pool *storage.Pool) {
	idx.publish(&eventBusTypes.Event{
		Name:        eventBusTypes.EventName_PoolUpserted,
		Table:       eventBusTypes.Table_Pools,
		Type:        changeType,
		ChainId:     pool.ChainId,
		PoolAddress: pool.Address,
		Record:      pool,
	})
}

func (idx *Indexer) metricLabels(chainId uint64, contractType string) []metricsTypes.MetricsLabel {
	return []metricsTypes.MetricsLabel{
		{Name: "chainId", Value: strconv.FormatUint(chainId, 10)},
		{Name: "contractType", Value: contractType},
	}
}

func lower(s string) string {
	return strings.ToLower(s)
}
