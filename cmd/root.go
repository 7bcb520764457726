package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "raffle-sidecar",
	Short: "The Raffle Sidecar indexes raffle pools into a relational cache and serves them over a read API",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfigFiles)
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().String(config.ConfigFile, "", `Path to a YAML config file, e.g. one carrying a "chains" list`)
	rootCmd.PersistentFlags().String(config.EnvFile, ".env", `Path to a dotenv file loaded into the environment`)

	rootCmd.PersistentFlags().Uint64(config.ChainId, 0, `Chain id of the primary chain, e.g. 84532`)
	rootCmd.PersistentFlags().String(config.ContractsPoolDeployerAddress, "", `Address of the PoolDeployer contract on the primary chain`)
	rootCmd.PersistentFlags().Uint64(config.ContractsPoolDeployerStartBlock, 0, `Block the PoolDeployer was deployed at`)

	rootCmd.PersistentFlags().String(config.EthereumRpcBaseUrl, "", `e.g. "http://<hostname>:8545"`)
	rootCmd.PersistentFlags().String(config.EthereumRpcContractCallStrategy, config.ContractCallStrategyBatch, `How view calls are made: "batch" or "sequential"`)
	rootCmd.PersistentFlags().Bool(config.EthereumRpcUseNativeBatchCall, true, `Use native JSON-RPC batch requests`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcNativeBatchCallSize, 500, `The number of calls to batch together when using native batch requests`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcChunkedBatchCallSize, 10, `The number of calls to make in parallel when native batching is disabled`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcRetries, 3, `Attempts per JSON-RPC request`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcRetryBaseDelayMs, 250, `Base delay between retries, doubled per attempt`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcRetryMaxDelayMs, 5000, `Upper bound on the delay between retries`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "raffle", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "raffle_sidecar", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL sslmode`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLCert, "", `PostgreSQL client certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLKey, "", `PostgreSQL client key`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLRootCert, "", `PostgreSQL root certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSqlitePath, "", `Use a SQLite file instead of PostgreSQL`)

	rootCmd.PersistentFlags().Uint64(config.IndexerLookbackBlocks, 10_000, `Blocks to look back when no cursor exists`)
	rootCmd.PersistentFlags().Uint64(config.IndexerMaxBlockRange, 2_000, `Maximum block range per eth_getLogs request`)
	rootCmd.PersistentFlags().Int(config.IndexerConcurrency, 4, `Pools hydrated in parallel`)
	rootCmd.PersistentFlags().Uint64(config.IndexerSafetyBlocks, 0, `Blocks re-scanned behind the cursor on every pass`)
	rootCmd.PersistentFlags().Uint64(config.IndexerReorgDepth, 12, `Blocks rewound when a reorg is detected`)
	rootCmd.PersistentFlags().Int(config.IndexerIntervalSeconds, 30, `Seconds between scheduled passes`)
	rootCmd.PersistentFlags().Bool(config.IndexerPoolEventsEnabled, true, `Also run the pool-event pass on schedule`)
	rootCmd.PersistentFlags().Bool(config.IndexerSchedulerEnabled, true, `Run scheduled passes in "run"`)

	rootCmd.PersistentFlags().Int(config.ReadApiMaxPageSize, 100, `Largest page the read API returns`)
	rootCmd.PersistentFlags().Int(config.ReadApiDefaultPageSize, 20, `Page size when none is requested`)

	rootCmd.PersistentFlags().Int(config.RpcGrpcPort, 7100, `gRPC port`)
	rootCmd.PersistentFlags().Int(config.RpcHttpPort, 7101, `http rpc port`)
	rootCmd.PersistentFlags().String(config.RpcCorsAllowedOrigins, "*", `Comma separated list of allowed origins`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `The sample rate to use for statsd metrics`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rpcCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(createSnapshotCmd)
	rootCmd.AddCommand(restoreSnapshotCmd)
	rootCmd.AddCommand(runVersionCmd)

	// bind any subcommand flags
	createSnapshotCmd.PersistentFlags().String(config.SnapshotOutputFile, "", "Path to save the snapshot file to (required)")
	restoreSnapshotCmd.PersistentFlags().String(config.SnapshotInputFile, "", "Path to the snapshot file (required)")

	indexCmd.Flags().Uint64(flagFromBlock, 0, "First block of the pass (default: resume from the cursor)")
	indexCmd.Flags().Uint64(flagToBlock, 0, "Last block of the pass (default: chain head)")
	indexCmd.Flags().Bool(flagPoolEvents, false, "Run the pool-event pass instead of the pool-creation pass")

	backfillCmd.Flags().Uint64(flagFromBlock, 0, "First block to backfill (default: the deployer start block)")
	backfillCmd.Flags().Uint64(flagToBlock, 0, "Last block to backfill (default: chain head)")
	backfillCmd.Flags().Uint64(flagChunkSize, 10_000, "Blocks per pass")

	exportCmd.Flags().String(flagTable, "pools", `Table to export: "pools" or "user_activity"`)
	exportCmd.Flags().String(flagOutput, "", "Path of the CSV file (default: stdout)")

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}

// loadConfigFiles runs once flags are parsed so --env-file and --config are honored.
func loadConfigFiles() {
	if err := config.LoadEnvFile(viper.GetString(config.KebabToSnakeCase(config.EnvFile))); err != nil {
		fmt.Printf("Failed to load env file - %+v\n", err)
	}

	configFile := viper.GetString(config.KebabToSnakeCase(config.ConfigFile))
	if configFile == "" {
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Failed to read config file '%s' - %+v\n", configFile, err)
		os.Exit(1)
	}
}

func bindCommandFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
