package cmd

import (
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		db, grm, err := openDatabase(cfg, l)
		if err != nil {
			return err
		}

		applied, err := migrations.NewMigrator(db, grm, l).Applied()
		if err != nil {
			return err
		}
		l.Sugar().Infow("Database is up to date", zap.Strings("applied", applied))
		return nil
	},
}
