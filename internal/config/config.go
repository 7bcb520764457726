package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "RAFFLE_SIDECAR"

const (
	Debug      = "debug"
	ConfigFile = "config"
	EnvFile    = "env-file"

	ChainId = "chain-id"

	EthereumRpcBaseUrl              = "ethereum.rpc-url"
	EthereumRpcContractCallStrategy = "ethereum.contract-call-strategy"
	EthereumRpcUseNativeBatchCall   = "ethereum.use-native-batch-call"
	EthereumRpcNativeBatchCallSize  = "ethereum.native-batch-call-size"
	EthereumRpcChunkedBatchCallSize = "ethereum.chunked-batch-call-size"
	EthereumRpcRetries              = "ethereum.rpc-retries"
	EthereumRpcRetryBaseDelayMs     = "ethereum.rpc-retry-base-delay-ms"
	EthereumRpcRetryMaxDelayMs      = "ethereum.rpc-retry-max-delay-ms"

	ContractsPoolDeployerAddress    = "contracts.pool-deployer-address"
	ContractsPoolDeployerStartBlock = "contracts.pool-deployer-start-block"

	DatabaseHost        = "database.host"
	DatabasePort        = "database.port"
	DatabaseUser        = "database.user"
	DatabasePassword    = "database.password"
	DatabaseDbName      = "database.db_name"
	DatabaseSchemaName  = "database.schema_name"
	DatabaseSSLMode     = "database.ssl_mode"
	DatabaseSSLCert     = "database.ssl_cert"
	DatabaseSSLKey      = "database.ssl_key"
	DatabaseSSLRootCert = "database.ssl_root_cert"
	DatabaseSqlitePath  = "database.sqlite-path"

	IndexerLookbackBlocks    = "indexer.lookback-blocks"
	IndexerMaxBlockRange     = "indexer.max-block-range"
	IndexerConcurrency       = "indexer.concurrency"
	IndexerSafetyBlocks      = "indexer.safety-blocks"
	IndexerReorgDepth        = "indexer.reorg-depth"
	IndexerIntervalSeconds   = "indexer.interval-seconds"
	IndexerPoolEventsEnabled = "indexer.pool-events-enabled"
	IndexerSchedulerEnabled  = "indexer.scheduler-enabled"

	ReadApiMaxPageSize     = "read-api.max-page-size"
	ReadApiDefaultPageSize = "read-api.default-page-size"

	RpcGrpcPort           = "rpc.grpc-port"
	RpcHttpPort           = "rpc.http-port"
	RpcCorsAllowedOrigins = "rpc.cors-allowed-origins"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample_rate"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	SnapshotOutputFile = "output-file"
	SnapshotInputFile  = "input-file"
)

const (
	ContractCallStrategySequential = "sequential"
	ContractCallStrategyBatch      = "batch"
)

type ChainConfig struct {
	ChainId                uint64 `mapstructure:"chain_id"`
	RpcUrl                 string `mapstructure:"rpc_url"`
	PoolDeployerAddress    string `mapstructure:"pool_deployer_address"`
	PoolDeployerStartBlock uint64 `mapstructure:"pool_deployer_start_block"`
}

type EthereumRpcConfig struct {
	BaseUrl              string
	ContractCallStrategy string
	UseNativeBatchCall   bool
	NativeBatchCallSize  int
	ChunkedBatchCallSize int
	Retries              int
	RetryBaseDelayMs     int
	RetryMaxDelayMs      int
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DbName      string
	SchemaName  string
	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
	SqlitePath  string
}

func (d DatabaseConfig) UseSqlite() bool {
	return d.SqlitePath != ""
}

type IndexerConfig struct {
	LookbackBlocks    uint64
	MaxBlockRange     uint64
	Concurrency       int
	SafetyBlocks      uint64
	ReorgDepth        uint64
	IntervalSeconds   int
	PoolEventsEnabled bool
	SchedulerEnabled  bool
}

type ReadApiConfig struct {
	MaxPageSize     int
	DefaultPageSize int
}

type RpcConfig struct {
	GrpcPort           int
	HttpPort           int
	CorsAllowedOrigins []string
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type DataDogConfig struct {
	StatsdConfig StatsdConfig
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type SnapshotConfig struct {
	OutputFile string
	InputFile  string
}

type Config struct {
	Debug             bool
	Chains            []*ChainConfig
	EthereumRpcConfig EthereumRpcConfig
	DatabaseConfig    DatabaseConfig
	IndexerConfig     IndexerConfig
	ReadApiConfig     ReadApiConfig
	RpcConfig         RpcConfig
	DataDogConfig     DataDogConfig
	PrometheusConfig  PrometheusConfig
	SnapshotConfig    SnapshotConfig
}

func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

func parseListString(s string) []string {
	if s == "" {
		return []string{}
	}
	l := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			l = append(l, item)
		}
	}
	return l
}

// LoadEnvFile loads a dotenv file into the process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func NewConfig() *Config {
	cfg := &Config{
		Debug: viper.GetBool(normalizeFlagName(Debug)),

		EthereumRpcConfig: EthereumRpcConfig{
			BaseUrl:              viper.GetString(normalizeFlagName(EthereumRpcBaseUrl)),
			ContractCallStrategy: viper.GetString(normalizeFlagName(EthereumRpcContractCallStrategy)),
			UseNativeBatchCall:   viper.GetBool(normalizeFlagName(EthereumRpcUseNativeBatchCall)),
			NativeBatchCallSize:  viper.GetInt(normalizeFlagName(EthereumRpcNativeBatchCallSize)),
			ChunkedBatchCallSize: viper.GetInt(normalizeFlagName(EthereumRpcChunkedBatchCallSize)),
			Retries:              viper.GetInt(normalizeFlagName(EthereumRpcRetries)),
			RetryBaseDelayMs:     viper.GetInt(normalizeFlagName(EthereumRpcRetryBaseDelayMs)),
			RetryMaxDelayMs:      viper.GetInt(normalizeFlagName(EthereumRpcRetryMaxDelayMs)),
		},

		DatabaseConfig: DatabaseConfig{
			Host:        viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:        viper.GetInt(normalizeFlagName(DatabasePort)),
			User:        viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:    viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:      viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName:  viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:     viper.GetString(normalizeFlagName(DatabaseSSLMode)),
			SSLCert:     viper.GetString(normalizeFlagName(DatabaseSSLCert)),
			SSLKey:      viper.GetString(normalizeFlagName(DatabaseSSLKey)),
			SSLRootCert: viper.GetString(normalizeFlagName(DatabaseSSLRootCert)),
			SqlitePath:  viper.GetString(normalizeFlagName(DatabaseSqlitePath)),
		},

		IndexerConfig: IndexerConfig{
			LookbackBlocks:    viper.GetUint64(normalizeFlagName(IndexerLookbackBlocks)),
			MaxBlockRange:     viper.GetUint64(normalizeFlagName(IndexerMaxBlockRange)),
			Concurrency:       viper.GetInt(normalizeFlagName(IndexerConcurrency)),
			SafetyBlocks:      viper.GetUint64(normalizeFlagName(IndexerSafetyBlocks)),
			ReorgDepth:        viper.GetUint64(normalizeFlagName(IndexerReorgDepth)),
			IntervalSeconds:   viper.GetInt(normalizeFlagName(IndexerIntervalSeconds)),
			PoolEventsEnabled: viper.GetBool(normalizeFlagName(IndexerPoolEventsEnabled)),
			SchedulerEnabled:  viper.GetBool(normalizeFlagName(IndexerSchedulerEnabled)),
		},

		ReadApiConfig: ReadApiConfig{
			MaxPageSize:     viper.GetInt(normalizeFlagName(ReadApiMaxPageSize)),
			DefaultPageSize: viper.GetInt(normalizeFlagName(ReadApiDefaultPageSize)),
		},

		RpcConfig: RpcConfig{
			GrpcPort:           viper.GetInt(normalizeFlagName(RpcGrpcPort)),
			HttpPort:           viper.GetInt(normalizeFlagName(RpcHttpPort)),
			CorsAllowedOrigins: parseListString(viper.GetString(normalizeFlagName(RpcCorsAllowedOrigins))),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},

		SnapshotConfig: SnapshotConfig{
			OutputFile: viper.GetString(normalizeFlagName(SnapshotOutputFile)),
			InputFile:  viper.GetString(normalizeFlagName(SnapshotInputFile)),
		},
	}
	cfg.Chains = loadChains(cfg.EthereumRpcConfig.BaseUrl)
	cfg.applyDefaults()
	return cfg
}

// loadChains merges the flag-configured primary chain with any `chains` list from the config file.
func loadChains(defaultRpcUrl string) []*ChainConfig {
	chains := make([]*ChainConfig, 0)

	if primaryId := viper.GetUint64(normalizeFlagName(ChainId)); primaryId != 0 {
		chains = append(chains, &ChainConfig{
			ChainId:                primaryId,
			RpcUrl:                 defaultRpcUrl,
			PoolDeployerAddress:    strings.ToLower(viper.GetString(normalizeFlagName(ContractsPoolDeployerAddress))),
			PoolDeployerStartBlock: viper.GetUint64(normalizeFlagName(ContractsPoolDeployerStartBlock)),
		})
	}

	fileChains := make([]*ChainConfig, 0)
	if err := viper.UnmarshalKey("chains", &fileChains); err == nil {
		for _, c := range fileChains {
			if c == nil || c.ChainId == 0 {
				continue
			}
			if slices.ContainsFunc(chains, func(existing *ChainConfig) bool { return existing.ChainId == c.ChainId }) {
				continue
			}
			if c.RpcUrl == "" {
				c.RpcUrl = defaultRpcUrl
			}
			c.PoolDeployerAddress = strings.ToLower(c.PoolDeployerAddress)
			chains = append(chains, c)
		}
	}
	return chains
}

func (c *Config) applyDefaults() {
	if c.EthereumRpcConfig.ContractCallStrategy == "" {
		c.EthereumRpcConfig.ContractCallStrategy = ContractCallStrategyBatch
	}
	if c.EthereumRpcConfig.NativeBatchCallSize <= 0 {
		c.EthereumRpcConfig.NativeBatchCallSize = 500
	}
	if c.EthereumRpcConfig.ChunkedBatchCallSize <= 0 {
		c.EthereumRpcConfig.ChunkedBatchCallSize = 10
	}
	if c.IndexerConfig.LookbackBlocks == 0 {
		c.IndexerConfig.LookbackBlocks = 10_000
	}
	if c.IndexerConfig.MaxBlockRange == 0 {
		c.IndexerConfig.MaxBlockRange = 2_000
	}
	if c.IndexerConfig.Concurrency <= 0 {
		c.IndexerConfig.Concurrency = 4
	}
	if c.IndexerConfig.IntervalSeconds <= 0 {
		c.IndexerConfig.IntervalSeconds = 30
	}
	if c.ReadApiConfig.MaxPageSize <= 0 {
		c.ReadApiConfig.MaxPageSize = 100
	}
	if c.ReadApiConfig.DefaultPageSize <= 0 || c.ReadApiConfig.DefaultPageSize > c.ReadApiConfig.MaxPageSize {
		c.ReadApiConfig.DefaultPageSize = min(20, c.ReadApiConfig.MaxPageSize)
	}
}

func (c *Config) GetChain(chainId uint64) (*ChainConfig, error) {
	for _, chain := range c.Chains {
		if chain.ChainId == chainId {
			return chain, nil
		}
	}
	return nil, fmt.Errorf("chain '%d' is not configured", chainId)
}

func (c *Config) ChainIds() []uint64 {
	ids := make([]uint64, 0, len(c.Chains))
	for _, chain := range c.Chains {
		ids = append(ids, chain.ChainId)
	}
	return ids
}
