package tests

import (
	"fmt"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/sqlite"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func GetConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Chains = []*config.ChainConfig{
		{
			ChainId:                84532,
			RpcUrl:                 "http://localhost:8545",
			PoolDeployerAddress:    "0x00000000000000000000000000000000000000d1",
			PoolDeployerStartBlock: 0,
		},
	}
	cfg.IndexerConfig.Concurrency = 2
	return cfg
}

func GenerateTestDbName() string {
	return fmt.Sprintf("test_%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// GetSqliteDatabaseConnection returns a fresh, fully migrated in-memory database.
func GetSqliteDatabaseConnection(l *zap.Logger) (*gorm.DB, error) {
	grm, err := sqlite.NewGormSqliteFromSqlite(sqlite.NewInMemorySqlite(GenerateTestDbName()))
	if err != nil {
		return nil, err
	}

	sqlDb, err := grm.DB()
	if err != nil {
		return nil, err
	}

	migrator := migrations.NewMigrator(sqlDb, grm, l)
	if err := migrator.MigrateAll(); err != nil {
		return nil, err
	}
	return grm, nil
}
