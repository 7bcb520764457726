package rpcServer

import (
	"net/http"

	"github.com/Layr-Labs/raffle-sidecar/pkg/service/collectionDataService"
)

type listCollectionsResponse struct {
	Success     bool                                    `json:"success"`
	Collections []*collectionDataService.CollectionItem `json:"collections"`
	Pagination  paginationResponse                      `json:"pagination"`
}

type getCollectionResponse struct {
	Success    bool                                    `json:"success"`
	Collection *collectionDataService.CollectionDetail `json:"collection"`
}

type getTokenResponse struct {
	Success bool                                 `json:"success"`
	Token   *collectionDataService.TokenMetadata `json:"token"`
}

// GetCollections mirrors /pools: a page, a single collection by address, or one token's metadata
// when tokenId is also given.
func (rpc *RpcServer) GetCollections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := newQueryParams(r)
	if q.Has("address") {
		rpc.getCollection(w, r, q)
		return
	}

	params := &collectionDataService.ListCollectionsParams{
		ChainId:    q.Uint64("chainId"),
		Creator:    q.String("creator"),
		Standard:   q.String("standard"),
		IsRevealed: q.OptionalBool("isRevealed"),
		Search:     q.String("search"),
		SortBy:     q.String("sortBy"),
		SortOrder:  q.String("sortOrder"),
		Pagination: q.Pagination("limit", "offset"),
	}
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	res, err := rpc.collectionDataService.ListCollections(r.Context(), params)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &listCollectionsResponse{
		Success:     true,
		Collections: res.Items,
		Pagination: paginationResponse{
			Total:   res.Total,
			Limit:   res.Limit,
			Offset:  res.Offset,
			HasMore: res.HasMore,
		},
	})
}

func (rpc *RpcServer) getCollection(w http.ResponseWriter, r *http.Request, q *queryParams) {
	address := q.String("address")
	chainId := rpc.requireChainId(q)
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	if q.Has("tokenId") {
		token, err := rpc.collectionDataService.GetTokenMetadata(r.Context(), address, chainId, q.String("tokenId"))
		if err != nil {
			rpc.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, &getTokenResponse{Success: true, Token: token})
		return
	}

	collection, err := rpc.collectionDataService.GetCollection(r.Context(), address, chainId)
	if err != nil {
		rpc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &getCollectionResponse{Success: true, Collection: collection})
}
