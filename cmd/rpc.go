package cmd

import (
	"context"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/prometheus"
	"github.com/Layr-Labs/raffle-sidecar/internal/shutdown"
	"github.com/Layr-Labs/raffle-sidecar/internal/version"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus"
	"github.com/Layr-Labs/raffle-sidecar/pkg/rpcServer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/collectionDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/userDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/sidecar"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Run just the read API",
	Long:  "Serve the read API without the scheduled indexing loops. Index endpoints still run passes on request.",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug, Name: "raffle-sidecar"})

		l.Sugar().Infow("raffle sidecar rpc",
			zap.String("version", version.GetVersion()),
			zap.String("commit", version.GetCommit()),
		)

		ms, err := newMetricsSink(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup metrics sink", zap.Error(err))
		}

		_, grm, err := openDatabase(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup database", zap.Error(err))
		}

		eb := eventBus.NewEventBus(ms, l)

		idx, err := newIndexer(cfg, grm, eb, ms, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup indexer", zap.Error(err))
		}
		sdc := sidecar.NewSidecar(sidecar.SidecarConfigFromConfig(cfg), cfg, idx, sidecar.NewIndexLocks(), l)

		rpc := rpcServer.NewRpcServer(
			rpcServer.RpcServerConfigFromConfig(cfg),
			grm,
			poolDataService.NewPoolDataService(grm, l, cfg),
			collectionDataService.NewCollectionDataService(grm, l, cfg),
			userDataService.NewUserDataService(grm, l, cfg),
			sdc,
			syncCursor.NewGormCursorStore(grm),
			eb,
			ms,
			l,
			cfg,
		)
		if err := rpc.Start(ctx); err != nil {
			l.Sugar().Fatalw("Failed to start RPC server", zap.Error(err))
		}

		if cfg.PrometheusConfig.Enabled {
			prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{Port: cfg.PrometheusConfig.Port}, l).Start(ctx)
		}

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()

		done := make(chan bool)
		shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down...")
			cancel()
		}, time.Second*5, l)
	},
}
