package cmd

import (
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/snapshot"
	"github.com/spf13/cobra"
)

var restoreSnapshotCmd = &cobra.Command{
	Use:   "restore-snapshot",
	Short: "Restore the raffle tables from a snapshot file",
	Long: `Restore the database from a previously created snapshot file.
The snapshot file is expected to be a pg_dump custom format file. When a .sha256 file sits next to it
the dump is validated before anything is restored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		svc, err := snapshot.NewSnapshotService(&snapshot.SnapshotConfig{
			InputFile:  cfg.SnapshotConfig.InputFile,
			Host:       cfg.DatabaseConfig.Host,
			Port:       cfg.DatabaseConfig.Port,
			User:       cfg.DatabaseConfig.User,
			Password:   cfg.DatabaseConfig.Password,
			DbName:     cfg.DatabaseConfig.DbName,
			SchemaName: cfg.DatabaseConfig.SchemaName,
		}, l)
		if err != nil {
			return err
		}

		if err := svc.RestoreSnapshot(); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}

		return nil
	},
}
