package rpcServer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/collectionDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/userDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

// IndexRunner triggers indexing passes under the per-contract lock.
type IndexRunner interface {
	RunIndex(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error)
	RunIndexPoolEvents(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error)
}

type RpcServerConfig struct {
	GrpcPort           int
	HttpPort           int
	CorsAllowedOrigins []string
	HealthInterval     time.Duration
}

func RpcServerConfigFromConfig(cfg *config.Config) *RpcServerConfig {
	return &RpcServerConfig{
		GrpcPort:           cfg.RpcConfig.GrpcPort,
		HttpPort:           cfg.RpcConfig.HttpPort,
		CorsAllowedOrigins: cfg.RpcConfig.CorsAllowedOrigins,
		HealthInterval:     15 * time.Second,
	}
}

type RpcServer struct {
	Logger       *zap.Logger
	rpcConfig    *RpcServerConfig
	globalConfig *config.Config
	db           *gorm.DB

	poolDataService       *poolDataService.PoolDataService
	collectionDataService *collectionDataService.CollectionDataService
	userDataService       *userDataService.UserDataService
	indexRunner           IndexRunner
	cursorStore           syncCursor.CursorStore
	eventBus              eventBusTypes.IEventBus
	metricsSink           *metrics.MetricsSink

	healthServer *health.Server
}

func NewRpcServer(
	rpcConfig *RpcServerConfig,
	db *gorm.DB,
	pds *poolDataService.PoolDataService,
	cds *collectionDataService.CollectionDataService,
	uds *userDataService.UserDataService,
	runner IndexRunner,
	cursors syncCursor.CursorStore,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	l *zap.Logger,
	gCfg *config.Config,
) *RpcServer {
	return &RpcServer{
		Logger:                l,
		rpcConfig:             rpcConfig,
		globalConfig:          gCfg,
		db:                    db,
		poolDataService:       pds,
		collectionDataService: cds,
		userDataService:       uds,
		indexRunner:           runner,
		cursorStore:           cursors,
		eventBus:              eb,
		metricsSink:           ms,
		healthServer:          health.NewServer(),
	}
}

// Handler builds the HTTP surface: the gateway mux with every route registered, wrapped in
// request metrics and CORS.
func (rpc *RpcServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux(
		runtime.WithRoutingErrorHandler(rpc.handleRoutingError),
	)
	if err := rpc.registerRoutes(mux); err != nil {
		return nil, err
	}

	allowed := rpc.rpcConfig.CorsAllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(rpc.withMetrics(mux)), nil
}

func (rpc *RpcServer) newGrpcServer() *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_recovery.UnaryServerInterceptor(),
			grpc_zap.UnaryServerInterceptor(rpc.Logger),
		)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_recovery.StreamServerInterceptor(),
			grpc_zap.StreamServerInterceptor(rpc.Logger),
		)),
	)
	healthpb.RegisterHealthServer(grpcServer, rpc.healthServer)
	return grpcServer
}

// Start serves gRPC health and the HTTP API in the background until ctx is cancelled.
func (rpc *RpcServer) Start(ctx context.Context) error {
	handler, err := rpc.Handler()
	if err != nil {
		return err
	}

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", rpc.rpcConfig.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", rpc.rpcConfig.GrpcPort, err)
	}
	grpcServer := rpc.newGrpcServer()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", rpc.rpcConfig.HttpPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rpc.refreshHealth(ctx)
	go rpc.watchHealth(ctx)

	go func() {
		rpc.Logger.Sugar().Infow("Starting gRPC server", zap.Int("port", rpc.rpcConfig.GrpcPort))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			rpc.Logger.Sugar().Errorw("gRPC server stopped", zap.Error(err))
		}
	}()
	go func() {
		rpc.Logger.Sugar().Infow("Starting HTTP server", zap.Int("port", rpc.rpcConfig.HttpPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rpc.Logger.Sugar().Errorw("HTTP server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		rpc.Logger.Sugar().Info("Shutting down RPC server")
		rpc.healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			rpc.Logger.Sugar().Errorw("Failed to shutdown HTTP server", zap.Error(err))
		}
		grpcServer.GracefulStop()
	}()
	return nil
}
