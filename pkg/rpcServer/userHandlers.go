package rpcServer

import (
	"net/http"

	"github.com/Layr-Labs/raffle-sidecar/pkg/service/baseDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/userDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
)

type userActivityPage struct {
	Items      []*storage.UserActivity `json:"items"`
	Pagination paginationResponse      `json:"pagination"`
}

type getUserResponse struct {
	Success  bool                       `json:"success"`
	Stats    *userDataService.UserStats `json:"stats,omitempty"`
	Activity *userActivityPage          `json:"activity,omitempty"`
}

// GetUser returns a user's stats (on unless includeStats=false) and, when includeActivity=true,
// a page of their activity.
func (rpc *RpcServer) GetUser(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := newQueryParams(r)
	address := q.String("address")
	chainId := rpc.requireChainId(q)
	includeStats := q.Bool("includeStats", true)
	includeActivity := q.Bool("includeActivity", false)
	page := q.Pagination("activityLimit", "activityOffset")
	if q.err == nil {
		if _, err := baseDataService.NormalizeAddressArg("address", address); err != nil {
			q.err = err
		}
	}
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	resp := &getUserResponse{Success: true}
	if includeStats {
		stats, err := rpc.userDataService.GetUserStats(r.Context(), address, chainId)
		if err != nil {
			rpc.writeServiceError(w, r, err)
			return
		}
		resp.Stats = stats
	}
	if includeActivity {
		res, err := rpc.userDataService.ListUserActivity(r.Context(), address, chainId, page)
		if err != nil {
			rpc.writeServiceError(w, r, err)
			return
		}
		resp.Activity = &userActivityPage{
			Items: res.Items,
			Pagination: paginationResponse{
				Total:   res.Total,
				Limit:   res.Limit,
				Offset:  res.Offset,
				HasMore: res.HasMore,
			},
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
