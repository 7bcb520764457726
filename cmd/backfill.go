package cmd

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Index a block range in chunks",
	Long: `Run pool-creation passes over a block range, chunk by chunk, followed by a pool-event pass per chunk
when pool events are enabled. Passes are idempotent so a range can be backfilled again safely.`,
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
		chain, err := cfg.GetChain(chainId)
		if err != nil {
			return err
		}

		fromBlock := chain.PoolDeployerStartBlock
		if v := optionalBlockFlag(cmd, flagFromBlock); v != nil {
			fromBlock = *v
		}
		var toBlock uint64
		if v := optionalBlockFlag(cmd, flagToBlock); v != nil {
			toBlock = *v
		} else {
			client := ethereum.NewClient(ethereum.ConvertGlobalConfigToEthereumConfig(&cfg.EthereumRpcConfig, chain.RpcUrl), l)
			if toBlock, err = client.GetBlockNumberUint64(ctx); err != nil {
				return fmt.Errorf("failed to fetch chain head: %w", err)
			}
		}
		if toBlock < fromBlock {
			return fmt.Errorf("--%s %d is after --%s %d", flagFromBlock, fromBlock, flagToBlock, toBlock)
		}

		chunkSize, _ := cmd.Flags().GetUint64(flagChunkSize)
		if chunkSize == 0 {
			return fmt.Errorf("--%s must be positive", flagChunkSize)
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

		l.Sugar().Infow("Starting backfill",
			zap.Uint64("chainId", chainId),
			zap.Uint64("fromBlock", fromBlock),
			zap.Uint64("toBlock", toBlock),
			zap.Uint64("chunkSize", chunkSize),
		)

		bar := progressbar.Default(int64(toBlock-fromBlock+1), fmt.Sprintf("backfilling chain %d", chainId))
		defer func() {
			// print a newline after the progress bar is done to make the output look nice
			fmt.Println()
		}()

		var eventsFound, failed int
		for start := fromBlock; start <= toBlock; start += chunkSize {
			end := min(start+chunkSize-1, toBlock)

			res, err := idx.Index(ctx, chainId, &start, &end)
			if err != nil {
				return fmt.Errorf("pool creation pass %d-%d failed: %w", start, end, err)
			}
			eventsFound += res.EventsFound
			failed += res.Failed

			if cfg.IndexerConfig.PoolEventsEnabled {
				res, err := idx.IndexPoolEvents(ctx, chainId, &start, &end)
				if err != nil {
					return fmt.Errorf("pool event pass %d-%d failed: %w", start, end, err)
				}
				eventsFound += res.EventsFound
				failed += res.Failed
			}

			_ = bar.Add64(int64(end - start + 1))
			if end == toBlock {
				break
			}
		}

		l.Sugar().Infow("Backfill complete",
			zap.Uint64("chainId", chainId),
			zap.Int("eventsFound", eventsFound),
			zap.Int("failed", failed),
		)
		return nil
	},
}
