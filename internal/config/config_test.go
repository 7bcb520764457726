package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config(t *testing.T) {
	t.Run("Should apply defaults when nothing is configured", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		cfg := NewConfig()

		assert.Equal(t, ContractCallStrategyBatch, cfg.EthereumRpcConfig.ContractCallStrategy)
		assert.Equal(t, uint64(10_000), cfg.IndexerConfig.LookbackBlocks)
		assert.Equal(t, uint64(2_000), cfg.IndexerConfig.MaxBlockRange)
		assert.Equal(t, 100, cfg.ReadApiConfig.MaxPageSize)
		assert.Equal(t, 20, cfg.ReadApiConfig.DefaultPageSize)
		assert.Empty(t, cfg.Chains)
	})
	t.Run("Should build the primary chain from flags", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		viper.Set(KebabToSnakeCase(ChainId), 84532)
		viper.Set(KebabToSnakeCase(EthereumRpcBaseUrl), "http://localhost:8545")
		viper.Set(KebabToSnakeCase(ContractsPoolDeployerAddress), "0xABCDEF0000000000000000000000000000000001")
		viper.Set(KebabToSnakeCase(ContractsPoolDeployerStartBlock), 100)

		cfg := NewConfig()
		require.Len(t, cfg.Chains, 1)

		chain, err := cfg.GetChain(84532)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8545", chain.RpcUrl)
		assert.Equal(t, "0xabcdef0000000000000000000000000000000001", chain.PoolDeployerAddress)
		assert.Equal(t, uint64(100), chain.PoolDeployerStartBlock)

		_, err = cfg.GetChain(1)
		assert.Error(t, err)
	})
	t.Run("Should clamp the default page size to the max page size", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		viper.Set(KebabToSnakeCase(ReadApiMaxPageSize), 10)
		viper.Set(KebabToSnakeCase(ReadApiDefaultPageSize), 50)

		cfg := NewConfig()
		assert.Equal(t, 10, cfg.ReadApiConfig.MaxPageSize)
		assert.Equal(t, 10, cfg.ReadApiConfig.DefaultPageSize)
	})
	t.Run("Should ignore a missing env file and load an existing one", func(t *testing.T) {
		assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("RAFFLE_SIDECAR_TEST_VALUE=hello\n"), 0o600))
		defer os.Unsetenv("RAFFLE_SIDECAR_TEST_VALUE")

		require.NoError(t, LoadEnvFile(path))
		assert.Equal(t, "hello", os.Getenv("RAFFLE_SIDECAR_TEST_VALUE"))
	})
}
