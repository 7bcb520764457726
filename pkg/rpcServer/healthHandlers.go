package rpcServer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type chainHealth struct {
	ChainId uint64                      `json:"chainId"`
	Healthy bool                        `json:"healthy"`
	Cursors []*storage.IndexerSyncState `json:"cursors"`
}

type healthResponse struct {
	Success bool           `json:"success"`
	Status  string         `json:"status"`
	Chains  []*chainHealth `json:"chains"`
}

type readyResponse struct {
	Success bool `json:"success"`
	Ready   bool `json:"ready"`
}

// ChainHealthServiceName is the gRPC health service name for one chain's indexer.
func ChainHealthServiceName(chainId uint64) string {
	return fmt.Sprintf("raffle.indexer.%d", chainId)
}

// collectHealth groups the cursors per configured chain. A chain is healthy when none of its
// cursors carry an error.
func (rpc *RpcServer) collectHealth(ctx context.Context) ([]*chainHealth, error) {
	cursors, err := rpc.cursorStore.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	chains := make([]*chainHealth, 0, len(rpc.globalConfig.Chains))
	byChain := make(map[uint64]*chainHealth)
	for _, id := range rpc.globalConfig.ChainIds() {
		ch := &chainHealth{ChainId: id, Healthy: true, Cursors: make([]*storage.IndexerSyncState, 0)}
		byChain[id] = ch
		chains = append(chains, ch)
	}
	for _, c := range cursors {
		ch, ok := byChain[c.ChainId]
		if !ok {
			continue
		}
		ch.Cursors = append(ch.Cursors, c)
		ch.Healthy = ch.Healthy && c.IsHealthy
	}
	return chains, nil
}

// refreshHealth pushes cursor health into the gRPC health service. The overall service goes
// NOT_SERVING only when the store cannot be read.
func (rpc *RpcServer) refreshHealth(ctx context.Context) []*chainHealth {
	chains, err := rpc.collectHealth(ctx)
	if err != nil {
		rpc.Logger.Sugar().Warnw("Failed to read cursors for health", zap.Error(err))
		rpc.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return nil
	}
	rpc.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, ch := range chains {
		status := healthpb.HealthCheckResponse_SERVING
		if !ch.Healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		rpc.healthServer.SetServingStatus(ChainHealthServiceName(ch.ChainId), status)
	}
	return chains
}

func (rpc *RpcServer) watchHealth(ctx context.Context) {
	interval := rpc.rpcConfig.HealthInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rpc.refreshHealth(ctx)
		}
	}
}

func (rpc *RpcServer) HealthCheck(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	chains := rpc.refreshHealth(r.Context())
	if chains == nil {
		writeError(w, http.StatusServiceUnavailable, errCode_StoreUnavailable, "failed to read indexer state")
		return
	}
	status := healthpb.HealthCheckResponse_SERVING.String()
	for _, ch := range chains {
		if !ch.Healthy {
			status = "DEGRADED"
		}
	}
	writeJSON(w, http.StatusOK, &healthResponse{Success: true, Status: status, Chains: chains})
}

// ReadyCheck reports ready once the store answers a ping.
func (rpc *RpcServer) ReadyCheck(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	sqlDb, err := rpc.db.DB()
	if err == nil {
		err = sqlDb.PingContext(r.Context())
	}
	if err != nil {
		rpc.Logger.Sugar().Warnw("Readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, errCode_StoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &readyResponse{Success: true, Ready: true})
}
