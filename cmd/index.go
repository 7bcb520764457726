package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a single indexing pass",
	Long: `Run one pool-creation pass (or a pool-event pass with --pool-events) for a chain and print the result.
Without --from-block the pass resumes from the stored cursor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		chainId, err := chainIdFromFlags(cfg)
		if err != nil {
			return err
		}

		_, grm, err := openDatabase(cfg, l)
		if err != nil {
			return err
		}

		ms := metrics.NewNoopMetricsSink()
		idx, err := newIndexer(cfg, grm, eventBus.NewEventBus(ms, l), ms, l)
		if err != nil {
			return err
		}

		fromBlock := optionalBlockFlag(cmd, flagFromBlock)
		toBlock := optionalBlockFlag(cmd, flagToBlock)

		pass := idx.Index
		if poolEvents, _ := cmd.Flags().GetBool(flagPoolEvents); poolEvents {
			pass = idx.IndexPoolEvents
		}

		res, err := pass(ctx, chainId, fromBlock, toBlock)
		if err != nil {
			l.Sugar().Errorw("Index pass failed", zap.Uint64("chainId", chainId), zap.Error(err))
			return err
		}
		return printResult(res)
	},
}

func optionalBlockFlag(cmd *cobra.Command, name string) *uint64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetUint64(name)
	if err != nil {
		return nil
	}
	return &v
}

func printResult(res *indexer.IndexResult) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
