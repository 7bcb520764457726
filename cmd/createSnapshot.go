package cmd

import (
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/version"
	"github.com/Layr-Labs/raffle-sidecar/pkg/snapshot"
	"github.com/spf13/cobra"
)

var createSnapshotCmd = &cobra.Command{
	Use:   "create-snapshot",
	Short: "Create a snapshot of the raffle tables",
	Long: `Dump the raffle tables to a pg_dump custom format file.
A .sha256 hash file and a .metadata.json file are written next to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		svc, err := snapshot.NewSnapshotService(&snapshot.SnapshotConfig{
			OutputFile: cfg.SnapshotConfig.OutputFile,
			Host:       cfg.DatabaseConfig.Host,
			Port:       cfg.DatabaseConfig.Port,
			User:       cfg.DatabaseConfig.User,
			Password:   cfg.DatabaseConfig.Password,
			DbName:     cfg.DatabaseConfig.DbName,
			SchemaName: cfg.DatabaseConfig.SchemaName,
			Version:    version.GetVersion(),
			ChainIds:   cfg.ChainIds(),
		}, l)
		if err != nil {
			return err
		}

		if err := svc.CreateSnapshot(); err != nil {
			return fmt.Errorf("failed to create snapshot: %w", err)
		}

		return nil
	},
}
