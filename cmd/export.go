package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/export"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a cached table as CSV",
	Long:  "Export the pools or user_activity table as CSV, optionally limited to --chain-id.",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		table, _ := cmd.Flags().GetString(flagTable)
		output, _ := cmd.Flags().GetString(flagOutput)

		_, grm, err := openDatabase(cfg, l)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		chainId := viper.GetUint64(config.KebabToSnakeCase(config.ChainId))
		n, err := export.NewExporter(grm, l).Export(table, chainId, w)
		if err != nil {
			return err
		}
		l.Sugar().Infow("Export complete",
			zap.String("table", table),
			zap.Int("rows", n),
			zap.String("output", output),
		)
		return nil
	},
}
