package rpcServer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"go.uber.org/zap"
)

type indexRequest struct {
	ChainId   uint64  `json:"chainId"`
	FromBlock *uint64 `json:"fromBlock"`
	ToBlock   *uint64 `json:"toBlock"`
}

type recordsProcessed struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

type indexResponse struct {
	Success          bool                  `json:"success"`
	BlocksScanned    indexer.BlocksScanned `json:"blocksScanned"`
	EventsFound      int                   `json:"eventsFound"`
	RecordsProcessed recordsProcessed      `json:"recordsProcessed"`
}

type syncStateResponse struct {
	Success bool                        `json:"success"`
	Cursors []*storage.IndexerSyncState `json:"cursors"`
}

type indexFunc func(ctx context.Context, chainId uint64, fromBlock *uint64, toBlock *uint64) (*indexer.IndexResult, error)

func decodeIndexRequest(r *http.Request) (*indexRequest, error) {
	req := &indexRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && err != io.EOF {
		return nil, types.NewInvalidArgumentError("body", err.Error())
	}
	if req.ChainId == 0 {
		return nil, types.NewInvalidArgumentError("chainId", "is required")
	}
	if req.FromBlock != nil && req.ToBlock != nil && *req.FromBlock > *req.ToBlock {
		return nil, types.NewInvalidArgumentError("fromBlock", "must not be greater than toBlock")
	}
	return req, nil
}

func (rpc *RpcServer) runIndex(w http.ResponseWriter, r *http.Request, name string, run indexFunc) {
	req, err := decodeIndexRequest(r)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}

	rpc.Logger.Sugar().Infow("Index pass requested",
		zap.String("pass", name),
		zap.Uint64("chainId", req.ChainId),
		zap.Any("fromBlock", req.FromBlock),
		zap.Any("toBlock", req.ToBlock),
	)
	res, err := run(r.Context(), req.ChainId, req.FromBlock, req.ToBlock)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &indexResponse{
		Success:       true,
		BlocksScanned: res.BlocksScanned,
		EventsFound:   res.EventsFound,
		RecordsProcessed: recordsProcessed{
			Success: res.Succeeded,
			Errors:  res.Failed,
		},
	})
}

// IndexPoolDeployer runs a pool creation pass. A pass already running for the chain yields 409.
func (rpc *RpcServer) IndexPoolDeployer(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	rpc.runIndex(w, r, "pool_deployer", rpc.indexRunner.RunIndex)
}

func (rpc *RpcServer) IndexPoolEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	rpc.runIndex(w, r, "pool_events", rpc.indexRunner.RunIndexPoolEvents)
}

func (rpc *RpcServer) GetSyncState(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := newQueryParams(r)
	var chainId *uint64
	if q.Has("chainId") {
		id := q.Uint64("chainId")
		chainId = &id
	}
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	cursors, err := rpc.cursorStore.List(r.Context(), chainId)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &syncStateResponse{Success: true, Cursors: cursors})
}
