package poolSync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"go.uber.org/zap"
)

const defaultApiTimeout = 10 * time.Second

// ApiError is a non-2xx answer from the read API.
type ApiError struct {
	Status  int
	Code    string
	Message string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("read api returned %d (%s): %s", e.Status, e.Code, e.Message)
}

func (e *ApiError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type apiErrorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiPagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

type apiListPoolsResponse struct {
	Success    bool                            `json:"success"`
	Pools      []*poolDataService.PoolListItem `json:"pools"`
	Pagination apiPagination                   `json:"pagination"`
}

type apiGetPoolResponse struct {
	Success bool                        `json:"success"`
	Pool    *poolDataService.PoolDetail `json:"pool"`
}

// ApiSource reads from the raffle read API.
type ApiSource struct {
	baseUrl    string
	httpClient *http.Client
	logger     *zap.Logger
	// MaxPages bounds how many pages ListPools walks.
	MaxPages int
}

func NewApiSource(baseUrl string, hc *http.Client, l *zap.Logger) *ApiSource {
	if hc == nil {
		hc = &http.Client{Timeout: defaultApiTimeout}
	}
	return &ApiSource{
		baseUrl:    strings.TrimRight(baseUrl, "/"),
		httpClient: hc,
		logger:     l,
		MaxPages:   20,
	}
}

func (a *ApiSource) get(ctx context.Context, path string, values url.Values, out any) error {
	fullUrl := a.baseUrl + path
	if len(values) > 0 {
		fullUrl += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullUrl, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Sugar().Debugw("Read API request failed", zap.String("url", fullUrl), zap.Error(err))
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if res.StatusCode != http.StatusOK {
		apiErr := &ApiError{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		parsed := &apiErrorBody{}
		if json.Unmarshal(body, parsed) == nil && parsed.Error.Code != "" {
			apiErr.Code = parsed.Error.Code
			apiErr.Message = parsed.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// ListPools walks the /pools pages for a chain. filters are passed through as query parameters.
func (a *ApiSource) ListPools(ctx context.Context, chainId uint64, filters map[string]string) ([]*storage.Pool, error) {
	values := url.Values{}
	for k, v := range filters {
		values.Set(k, v)
	}
	values.Set("chainId", strconv.FormatUint(chainId, 10))
	values.Set("limit", strconv.Itoa(types.MaxPageSize))

	pools := make([]*storage.Pool, 0)
	offset := 0
	for page := 0; page < max(a.MaxPages, 1); page++ {
		values.Set("offset", strconv.Itoa(offset))
		res := &apiListPoolsResponse{}
		if err := a.get(ctx, "/pools", values, res); err != nil {
			return nil, err
		}
		for _, item := range res.Pools {
			if item != nil && item.Pool != nil {
				pools = append(pools, item.Pool)
			}
		}
		if !res.Pagination.HasMore || len(res.Pools) == 0 {
			return pools, nil
		}
		offset += len(res.Pools)
	}
	a.logger.Sugar().Warnw("Stopped walking pool pages",
		zap.Uint64("chainId", chainId),
		zap.Int("pools", len(pools)),
	)
	return pools, nil
}

// GetPool reads one pool in detail. A pool missing from the cache yields ErrNotFound.
func (a *ApiSource) GetPool(ctx context.Context, chainId uint64, address string) (*poolDataService.PoolDetail, error) {
	values := url.Values{}
	values.Set("address", strings.ToLower(address))
	values.Set("chainId", strconv.FormatUint(chainId, 10))

	res := &apiGetPoolResponse{}
	if err := a.get(ctx, "/pools", values, res); err != nil {
		return nil, err
	}
	if res.Pool == nil || res.Pool.Pool == nil {
		return nil, fmt.Errorf("pool %s on chain %d: %w", address, chainId, ErrNotFound)
	}
	return res.Pool, nil
}
