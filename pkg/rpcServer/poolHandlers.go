package rpcServer

import (
	"net/http"

	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
)

type listPoolsResponse struct {
	Success      bool                            `json:"success"`
	Pools        []*poolDataService.PoolListItem `json:"pools"`
	Pagination   paginationResponse              `json:"pagination"`
	FilterCounts *poolDataService.FilterCounts   `json:"filterCounts,omitempty"`
}

type getPoolResponse struct {
	Success bool                        `json:"success"`
	Pool    *poolDataService.PoolDetail `json:"pool"`
}

// GetPools serves both modes of /pools. With an address it returns one pool in detail, otherwise
// a filtered page.
func (rpc *RpcServer) GetPools(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := newQueryParams(r)
	if q.Has("address") {
		rpc.getPool(w, r, q)
		return
	}

	includeCounts := q.Bool("includeFilterCounts", false)
	var chainId uint64
	if includeCounts {
		// Filter counts are per chain.
		chainId = rpc.requireChainId(q)
	} else {
		chainId = rpc.optionalChainId(q)
	}

	params := &poolDataService.ListPoolsParams{
		ChainId:        chainId,
		Creator:        q.String("creator"),
		States:         q.PoolStates("state"),
		IsPrized:       q.OptionalBool("isPrized"),
		IsCollabPool:   q.OptionalBool("isCollabPool"),
		HasHolderToken: q.OptionalBool("hasHolderToken"),
		PrizeType:      q.String("prizeType"),
		PrizeStandard:  q.String("prizeStandard"),
		Search:         q.String("search"),
		SortBy:         q.String("sortBy"),
		SortOrder:      q.String("sortOrder"),
		Pagination:     q.Pagination("limit", "offset"),
	}
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	res, err := rpc.poolDataService.ListPools(r.Context(), params)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}

	resp := &listPoolsResponse{
		Success: true,
		Pools:   res.Items,
		Pagination: paginationResponse{
			Total:   res.Total,
			Limit:   res.Limit,
			Offset:  res.Offset,
			HasMore: res.HasMore,
		},
	}
	if includeCounts {
		counts, err := rpc.poolDataService.ComputeFilterCounts(r.Context(), params.ChainId)
		if err != nil {
			rpc.writeServiceError(w, r, err)
			return
		}
		resp.FilterCounts = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rpc *RpcServer) getPool(w http.ResponseWriter, r *http.Request, q *queryParams) {
	address := q.String("address")
	chainId := rpc.requireChainId(q)
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	pool, err := rpc.poolDataService.GetPool(r.Context(), address, chainId)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &getPoolResponse{Success: true, Pool: pool})
}
