package cmd

import (
	"database/sql"
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller/batchContractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller/sequentialContractCaller"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations"
	pgStorage "github.com/Layr-Labs/raffle-sidecar/pkg/storage/postgres"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	flagFromBlock  = "from-block"
	flagToBlock    = "to-block"
	flagPoolEvents = "pool-events"
	flagChunkSize  = "chunk-size"
	flagTable      = "table"
	flagOutput     = "output"
)

// openDatabase connects to the configured store and brings its schema up to date.
func openDatabase(cfg *config.Config, l *zap.Logger) (*sql.DB, *gorm.DB, error) {
	if !cfg.DatabaseConfig.UseSqlite() {
		if err := postgres.CreateDatabaseIfNotExists(postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig), l); err != nil {
			return nil, nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	db, grm, err := postgres.NewDatabase(&cfg.DatabaseConfig, l)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup database connection: %w", err)
	}

	migrator := migrations.NewMigrator(db, grm, l)
	if err := migrator.MigrateAll(); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, grm, nil
}

func newMetricsSink(cfg *config.Config, l *zap.Logger) (*metrics.MetricsSink, error) {
	metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to setup metrics clients: %w", err)
	}
	return metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, metricsClients)
}

func newContractCaller(cfg *config.Config, client *ethereum.Client, l *zap.Logger) contractCaller.IContractCaller {
	if cfg.EthereumRpcConfig.ContractCallStrategy == config.ContractCallStrategySequential {
		return sequentialContractCaller.NewSequentialContractCaller(client, cfg.EthereumRpcConfig.ChunkedBatchCallSize, l)
	}
	return batchContractCaller.NewBatchContractCaller(client, l)
}

// newIndexer builds an indexer with every configured chain registered.
func newIndexer(cfg *config.Config, grm *gorm.DB, eb eventBusTypes.IEventBus, ms *metrics.MetricsSink, l *zap.Logger) (*indexer.Indexer, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("no chains configured; set --%s or a chains list in the config file", config.ChainId)
	}

	store := pgStorage.NewPostgresStore(grm, l)
	cursors := syncCursor.NewGormCursorStore(grm)

	idx := indexer.NewIndexer(store, cursors, eb, ms, cfg, l)
	for _, chain := range cfg.Chains {
		if chain.RpcUrl == "" {
			return nil, fmt.Errorf("chain %d has no rpc url", chain.ChainId)
		}
		client := ethereum.NewClient(ethereum.ConvertGlobalConfigToEthereumConfig(&cfg.EthereumRpcConfig, chain.RpcUrl), l)
		idx.RegisterChain(chain, client, newContractCaller(cfg, client, l))

		l.Sugar().Infow("Registered chain",
			zap.Uint64("chainId", chain.ChainId),
			zap.String("poolDeployer", chain.PoolDeployerAddress),
			zap.Uint64("startBlock", chain.PoolDeployerStartBlock),
		)
	}
	return idx, nil
}

// chainIdFromFlags returns --chain-id, or the only configured chain when the flag is unset.
func chainIdFromFlags(cfg *config.Config) (uint64, error) {
	if chainId := viper.GetUint64(config.KebabToSnakeCase(config.ChainId)); chainId != 0 {
		return chainId, nil
	}
	ids := cfg.ChainIds()
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("no chains configured")
	case 1:
		return ids[0], nil
	}
	return 0, fmt.Errorf("multiple chains configured; pass --%s", config.ChainId)
}
