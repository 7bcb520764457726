package postgres

import (
	"errors"
	"testing"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Postgres(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	t.Run("Should build a connection string", func(t *testing.T) {
		connStr, err := getPostgresConnectionString(&PostgresConfig{
			Host:       "localhost",
			Port:       5432,
			Username:   "raffle",
			Password:   "secret",
			DbName:     "raffle_sidecar",
			SchemaName: "public",
			SSLMode:    "require",
			SSLCert:    "/certs/client.crt",
		})
		require.NoError(t, err)
		assert.Equal(t, "host=localhost user=raffle password=secret dbname=raffle_sidecar port=5432 sslmode=require TimeZone=UTC sslcert=/certs/client.crt search_path=public", connStr)
	})
	t.Run("Should reject an unknown ssl mode", func(t *testing.T) {
		_, err := getPostgresConnectionString(&PostgresConfig{Host: "localhost", SSLMode: "sometimes"})
		assert.Error(t, err)
	})
	t.Run("Should open and migrate a sqlite database", func(t *testing.T) {
		sqlDb, grm, err := NewDatabase(&config.DatabaseConfig{SqlitePath: "file:postgres_test?mode=memory&cache=shared"}, l)
		require.NoError(t, err)

		require.NoError(t, migrations.NewMigrator(sqlDb, grm, l).MigrateAll())
		assert.True(t, grm.Migrator().HasTable("pools"))
	})
	t.Run("Should recognize duplicate key errors", func(t *testing.T) {
		assert.True(t, IsDuplicateKeyError(errors.New(`pq: duplicate key value violates unique constraint "pools_pkey"`)))
		assert.True(t, IsDuplicateKeyError(errors.New("UNIQUE constraint failed: pools.address")))
		assert.False(t, IsDuplicateKeyError(nil))
	})
}
