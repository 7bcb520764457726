package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RequestMethod struct {
	Name    string
	Timeout time.Duration
}

type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

var jsonRPCVersion = "2.0"

type Client struct {
	Logger       *zap.Logger
	httpClient   *http.Client
	clientConfig *EthereumClientConfig
}

type EthereumClientConfig struct {
	BaseUrl              string
	UseNativeBatchCall   bool // Use a native JSON-RPC batch for BatchCall
	NativeBatchCallSize  int  // Number of calls to put in a single batch request
	ChunkedBatchCallSize int  // Number of calls to make in parallel
	Retries              int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
}

func ConvertGlobalConfigToEthereumConfig(cfg *config.EthereumRpcConfig, baseUrl string) *EthereumClientConfig {
	c := DefaultNativeCallEthereumClientConfig()
	c.BaseUrl = baseUrl
	c.UseNativeBatchCall = cfg.UseNativeBatchCall
	if cfg.NativeBatchCallSize > 0 {
		c.NativeBatchCallSize = cfg.NativeBatchCallSize
	}
	if cfg.ChunkedBatchCallSize > 0 {
		c.ChunkedBatchCallSize = cfg.ChunkedBatchCallSize
	}
	if cfg.Retries > 0 {
		c.Retries = cfg.Retries
	}
	if cfg.RetryBaseDelayMs > 0 {
		c.RetryBaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.RetryMaxDelayMs > 0 {
		c.RetryMaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	}
	return c
}

func DefaultNativeCallEthereumClientConfig() *EthereumClientConfig {
	return &EthereumClientConfig{
		UseNativeBatchCall:   true,
		NativeBatchCallSize:  500,
		ChunkedBatchCallSize: 10,
		Retries:              3,
		RetryBaseDelay:       500 * time.Millisecond,
		RetryMaxDelay:        8 * time.Second,
	}
}

func DefaultChunkedCallEthereumClientConfig() *EthereumClientConfig {
	c := DefaultNativeCallEthereumClientConfig()
	c.UseNativeBatchCall = false
	return c
}

func NewClient(cfg *EthereumClientConfig, l *zap.Logger) *Client {
	client := &http.Client{
		Timeout: time.Second * 30,
	}

	l.Sugar().Infow("Creating new Ethereum client", zap.String("baseUrl", cfg.BaseUrl))

	return &Client{
		httpClient:   client,
		Logger:       l,
		clientConfig: cfg,
	}
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) GetBlockNumberUint64(ctx context.Context) (uint64, error) {
	res, err := c.Call(ctx, GetBlockRequest(1))
	if err != nil {
		return 0, err
	}
	blockNumber, err := RPCMethod_GetBlock.ResponseParser(res.Result)
	if err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(blockNumber)
}

func (c *Client) GetChainId(ctx context.Context) (uint64, error) {
	res, err := c.Call(ctx, ChainIdRequest(1))
	if err != nil {
		return 0, err
	}
	chainId, err := RPCMethod_chainId.ResponseParser(res.Result)
	if err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(chainId)
}

func (c *Client) GetBlockByNumber(ctx context.Context, blockNumber uint64) (*EthereumBlock, error) {
	res, err := c.Call(ctx, GetBlockByNumberRequest(blockNumber, 1))
	if err != nil {
		return nil, err
	}
	ethBlock, err := RPCMethod_getBlockByNumber.ResponseParser(res.Result)
	if err != nil {
		c.Logger.Sugar().Errorw("failed to parse block",
			zap.Error(err),
			zap.Uint64("blockNumber", blockNumber),
		)
		return nil, err
	}
	return ethBlock, nil
}

func (c *Client) GetLogs(ctx context.Context, filter *LogFilter) ([]*EthereumEventLog, error) {
	res, err := c.Call(ctx, GetLogsRequest(filter, 1))
	if err != nil {
		return nil, err
	}
	logs, err := RPCMethod_getLogs.ResponseParser(res.Result)
	if err != nil {
		c.Logger.Sugar().Errorw("failed to parse logs",
			zap.Error(err),
			zap.Uint64("fromBlock", filter.FromBlock),
			zap.Uint64("toBlock", filter.ToBlock),
		)
		return nil, err
	}
	return logs, nil
}

// EthCall executes a read-only call and returns the hex encoded return data.
func (c *Client) EthCall(ctx context.Context, to string, data string, block string) (string, error) {
	res, err := c.Call(ctx, EthCallRequest(to, data, block, 1))
	if err != nil {
		return "", err
	}
	return RPCMethod_call.ResponseParser(res.Result)
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clientConfig.BaseUrl, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to make request")
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	return request, nil
}

func (c *Client) do(request *http.Request) ([]byte, error) {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}
	if response.StatusCode != http.StatusOK {
		return nil, &HttpStatusError{StatusCode: response.StatusCode}
	}
	return responseBody, nil
}

func (c *Client) batchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	if len(requests) == 0 {
		return make([]*RPCResponse, 0), nil
	}
	requestBody, err := json.Marshal(requests)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal requests")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*20)
	defer cancel()

	request, err := c.newRequest(ctx, requestBody)
	if err != nil {
		return nil, err
	}

	responseBody, err := c.do(request)
	if err != nil {
		return nil, err
	}

	destination := []*RPCResponse{}
	if strings.HasPrefix(strings.TrimSpace(string(responseBody)), "{") {
		errorResponse := RPCResponse{}
		if err := json.Unmarshal(responseBody, &errorResponse); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal error response")
		}
		if errorResponse.Error != nil {
			return nil, errorResponse.Error
		}
		return nil, fmt.Errorf("unexpected non-batch response: %s", string(responseBody))
	}
	if err := json.Unmarshal(responseBody, &destination); err != nil {
		c.Logger.Sugar().Errorw("failed to unmarshal batch call response",
			zap.Error(err),
			zap.String("response", string(responseBody)),
		)
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return destination, nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	chunks := make([][]T, 0, (len(items)+size-1)/max(size, 1))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// chunkedNativeBatchCall sends native JSON-RPC batches in parallel. Results are placed by request ID,
// so a failed batch leaves nil entries rather than shifting later responses.
func (c *Client) chunkedNativeBatchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	indexById := make(map[uint]int, len(requests))
	for i, req := range requests {
		indexById[req.ID] = i
	}
	batches := chunk(requests, c.clientConfig.NativeBatchCallSize)
	c.Logger.Sugar().Debugw("Batching requests",
		zap.Int("requests", len(requests)),
		zap.Int("batches", len(batches)),
	)

	results := make([]*RPCResponse, len(requests))
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	for i, batch := range batches {
		wg.Add(1)
		go func(batchIndex int, b []*RPCRequest) {
			defer wg.Done()

			res, err := c.batchCall(ctx, b)
			if err != nil {
				c.Logger.Sugar().Errorw("failed to batch call", zap.Int("batch", batchIndex), zap.Error(err))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range res {
				if r == nil || r.ID == nil {
					continue
				}
				if idx, ok := indexById[*r.ID]; ok {
					results[idx] = r
				}
			}
		}(i, batch)
	}
	wg.Wait()

	return results, nil
}

type IndexedRpcRequestResponse struct {
	Index    int
	Request  *RPCRequest
	Response *RPCResponse
}

// chunkedBatchCall splits the requests into chunks of ChunkedBatchCallSize and sends each chunk in
// parallel through Call, which gives every request its own retry handling.
func (c *Client) chunkedBatchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	orderedRequestResponses := make([]*IndexedRpcRequestResponse, 0, len(requests))
	for i, req := range requests {
		orderedRequestResponses = append(orderedRequestResponses, &IndexedRpcRequestResponse{
			Index:   i,
			Request: req,
		})
	}

	for i, batch := range chunk(orderedRequestResponses, c.clientConfig.ChunkedBatchCallSize) {
		var wg sync.WaitGroup
		for _, req := range batch {
			wg.Add(1)
			go func(currentReq *IndexedRpcRequestResponse) {
				defer wg.Done()

				res, err := c.Call(ctx, currentReq.Request)
				if err != nil {
					c.Logger.Sugar().Debugw("failed chunked call",
						zap.Int("batch", i),
						zap.Int("index", currentReq.Index),
						zap.Error(err),
					)
					res = &RPCResponse{ID: &currentReq.Request.ID, Error: errorToRPCError(err)}
				}
				// each goroutine writes a distinct element
				currentReq.Response = res
			}(req)
		}
		wg.Wait()
	}

	allResults := make([]*RPCResponse, 0, len(orderedRequestResponses))
	for _, req := range orderedRequestResponses {
		allResults = append(allResults, req.Response)
	}
	return allResults, nil
}

func errorToRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return &RPCError{Code: 3, Message: revertErr.Error()}
	}
	return &RPCError{Code: -32000, Message: err.Error()}
}

// BatchCall returns one response per request, in request order. Entries are nil when the
// transport failed for that request; per-request RPC errors are carried in RPCResponse.Error.
func (c *Client) BatchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	if len(requests) == 0 {
		return make([]*RPCResponse, 0), nil
	}
	for i, req := range requests {
		req.ID = uint(i + 1)
	}
	if c.clientConfig.UseNativeBatchCall {
		return c.chunkedNativeBatchCall(ctx, requests)
	}
	return c.chunkedBatchCall(ctx, requests)
}

func (c *Client) call(ctx context.Context, rpcRequest *RPCRequest) (*RPCResponse, error) {
	requestBody, err := json.Marshal(rpcRequest)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutForMethod(rpcRequest.Method))
	defer cancel()

	request, err := c.newRequest(ctx, requestBody)
	if err != nil {
		return nil, err
	}

	responseBody, err := c.do(request)
	if err != nil {
		return nil, err
	}

	destination := &RPCResponse{}
	if err := json.Unmarshal(responseBody, destination); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	if destination.Error != nil {
		return nil, toRevertIfApplicable(destination.Error)
	}
	return destination, nil
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.clientConfig.RetryBaseDelay << attempt
	if delay <= 0 || delay > c.clientConfig.RetryMaxDelay {
		return c.clientConfig.RetryMaxDelay
	}
	return delay
}

// Call performs a single JSON-RPC request. Transient failures are retried with exponential backoff;
// reverts and other permanent errors are returned immediately.
func (c *Client) Call(ctx context.Context, rpcRequest *RPCRequest) (*RPCResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.clientConfig.Retries; attempt++ {
		res, err := c.call(ctx, rpcRequest)
		if err == nil {
			if attempt > 0 {
				c.Logger.Sugar().Infow("Successfully called after backoff",
					zap.Int("attempt", attempt),
					zap.String("method", rpcRequest.Method),
				)
			}
			return res, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		if attempt == c.clientConfig.Retries {
			break
		}

		delay := c.backoffDelay(attempt)
		c.Logger.Sugar().Warnw("Failed to call, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("method", rpcRequest.Method),
		)
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "context done while waiting to retry")
		case <-time.After(delay):
		}
	}
	c.Logger.Sugar().Errorw("Exceeded retries for Call",
		zap.String("method", rpcRequest.Method),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}
