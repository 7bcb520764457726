package rpcServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/sidecar"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"go.uber.org/zap"
)

const (
	errCode_InvalidArgument  = "invalid_argument"
	errCode_NotFound         = "not_found"
	errCode_Conflict         = "conflict"
	errCode_MethodNotAllowed = "method_not_allowed"
	errCode_StoreUnavailable = "store_unavailable"
	errCode_ChainUnavailable = "chain_unavailable"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type paginationResponse struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, &errorResponse{
		Success: false,
		Error:   errorBody{Code: code, Message: message},
	})
}

// classifyError maps a service or indexer error onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	var invalidArg *types.InvalidArgumentError
	var unknownChain *indexer.UnknownChainError
	var indexErr *indexer.IndexError

	switch {
	case errors.As(err, &invalidArg), errors.As(err, &unknownChain):
		return http.StatusBadRequest, errCode_InvalidArgument
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, errCode_NotFound
	case errors.Is(err, sidecar.ErrIndexInProgress):
		return http.StatusConflict, errCode_Conflict
	case errors.As(err, &indexErr) &&
		(indexErr.Type == indexer.IndexError_FailedToFetchLogs || indexErr.Type == indexer.IndexError_FailedToFetchHead):
		return http.StatusBadGateway, errCode_ChainUnavailable
	default:
		return http.StatusServiceUnavailable, errCode_StoreUnavailable
	}
}

func (rpc *RpcServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		rpc.Logger.Sugar().Errorw("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(w, status, code, err.Error())
}

// queryParams reads typed values out of a query string. The first malformed value is kept as an
// InvalidArgumentError in err.
type queryParams struct {
	values url.Values
	err    error
}

func newQueryParams(r *http.Request) *queryParams {
	return &queryParams{values: r.URL.Query()}
}

func (q *queryParams) fail(field string, message string) {
	if q.err == nil {
		q.err = types.NewInvalidArgumentError(field, message)
	}
}

func (q *queryParams) String(name string) string {
	return strings.TrimSpace(q.values.Get(name))
}

func (q *queryParams) Has(name string) bool {
	return q.String(name) != ""
}

func (q *queryParams) Uint64(name string) uint64 {
	raw := q.String(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		q.fail(name, fmt.Sprintf("'%s' is not an unsigned integer", raw))
		return 0
	}
	return v
}

func (q *queryParams) Int(name string) int {
	raw := q.String(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		q.fail(name, fmt.Sprintf("'%s' is not an integer", raw))
		return 0
	}
	return v
}

func (q *queryParams) OptionalBool(name string) *bool {
	raw := q.String(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		q.fail(name, fmt.Sprintf("'%s' is not a boolean", raw))
		return nil
	}
	return &v
}

func (q *queryParams) Bool(name string, fallback bool) bool {
	if v := q.OptionalBool(name); v != nil {
		return *v
	}
	return fallback
}

// List accepts both repeated parameters and comma separated values.
func (q *queryParams) List(name string) []string {
	out := make([]string, 0)
	for _, raw := range q.values[name] {
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// PoolStates accepts state names or their numeric values.
func (q *queryParams) PoolStates(name string) []storage.PoolState {
	states := make([]storage.PoolState, 0)
	for _, raw := range q.List(name) {
		if n, err := strconv.ParseUint(raw, 10, 8); err == nil {
			states = append(states, storage.PoolState(n))
			continue
		}
		s, err := storage.ParsePoolState(raw)
		if err != nil {
			q.fail(name, err.Error())
			continue
		}
		states = append(states, s)
	}
	return states
}

func (q *queryParams) Pagination(limitName string, offsetName string) *types.Pagination {
	return &types.Pagination{
		Limit:  q.Int(limitName),
		Offset: q.Int(offsetName),
	}
}

// requireChainId reports a missing chainId. Unconfigured chains are rejected too.
func (rpc *RpcServer) requireChainId(q *queryParams) uint64 {
	chainId := rpc.optionalChainId(q)
	if q.err == nil && chainId == 0 {
		q.fail("chainId", "is required")
	}
	return chainId
}

// optionalChainId returns 0 when chainId is absent and rejects unconfigured chains.
func (rpc *RpcServer) optionalChainId(q *queryParams) uint64 {
	chainId := q.Uint64("chainId")
	if q.err != nil || chainId == 0 {
		return 0
	}
	if _, err := rpc.globalConfig.GetChain(chainId); err != nil {
		q.fail("chainId", err.Error())
	}
	return chainId
}
