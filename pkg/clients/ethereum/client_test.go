package ethereum

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRpcUrl = "http://rpc.test"

func setup(native bool) (*Client, func()) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	cfg := DefaultNativeCallEthereumClientConfig()
	if !native {
		cfg = DefaultChunkedCallEthereumClientConfig()
	}
	cfg.BaseUrl = testRpcUrl
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond

	client := NewClient(cfg, l)

	httpmock.Activate()
	client.SetHttpClient(&http.Client{Transport: httpmock.DefaultTransport})
	return client, httpmock.DeactivateAndReset
}

func decodeRequest(t *testing.T, req *http.Request) *RPCRequest {
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	rpcReq := &RPCRequest{}
	require.NoError(t, json.Unmarshal(body, rpcReq))
	return rpcReq
}

func Test_EthereumClient(t *testing.T) {
	t.Run("Should get the current block number", func(t *testing.T) {
		client, teardown := setup(true)
		defer teardown()

		httpmock.RegisterResponder(http.MethodPost, testRpcUrl,
			httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"result":"0xc8"}`))

		blockNumber, err := client.GetBlockNumberUint64(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(200), blockNumber)
	})
	t.Run("Should retry transient failures and then succeed", func(t *testing.T) {
		client, teardown := setup(true)
		defer teardown()

		calls := atomic.Int32{}
		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			if calls.Add(1) < 3 {
				return httpmock.NewStringResponse(503, "unavailable"), nil
			}
			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"result":{"hash":"0xABC","parentHash":"0x01","number":"0x64","timestamp":"0x10"}}`), nil
		})

		block, err := client.GetBlockByNumber(context.Background(), 100)
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, "0xabc", block.Hash.Value())
		assert.Equal(t, uint64(16), block.Timestamp.Value())
	})
	t.Run("Should not retry a reverted call", func(t *testing.T) {
		client, teardown := setup(true)
		defer teardown()

		calls := atomic.Int32{}
		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			calls.Add(1)
			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"error":{"code":3,"message":"execution reverted"}}`), nil
		})

		_, err := client.EthCall(context.Background(), "0x01", "0x06fdde03", "latest")
		require.Error(t, err)
		assert.True(t, IsRevert(err))
		assert.Equal(t, int32(1), calls.Load())
	})
	t.Run("Should give up after the configured retries", func(t *testing.T) {
		client, teardown := setup(true)
		defer teardown()

		calls := atomic.Int32{}
		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			calls.Add(1)
			return httpmock.NewStringResponse(500, "boom"), nil
		})

		_, err := client.GetBlockNumberUint64(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, int32(4), calls.Load())
	})
	t.Run("Should send an eth_getLogs filter", func(t *testing.T) {
		client, teardown := setup(true)
		defer teardown()

		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			rpcReq := decodeRequest(t, req)
			assert.Equal(t, "eth_getLogs", rpcReq.Method)

			params := rpcReq.Params.([]interface{})[0].(map[string]interface{})
			assert.Equal(t, "0x64", params["fromBlock"])
			assert.Equal(t, "0xc8", params["toBlock"])
			assert.Equal(t, "0x00000000000000000000000000000000000000d1", params["address"])

			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"result":[{"logIndex":"0x1","blockNumber":"0x65","transactionHash":"0xAA","topics":["0x01"],"data":"0x"}]}`), nil
		})

		logs, err := client.GetLogs(context.Background(), &LogFilter{
			Addresses: []string{"0x00000000000000000000000000000000000000d1"},
			Topics:    [][]string{{"0x01"}},
			FromBlock: 100,
			ToBlock:   200,
		})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, uint64(101), logs[0].BlockNumber.Value())
		assert.Equal(t, "0xaa", logs[0].TransactionHash.Value())
	})
	t.Run("Should keep request order for native batch calls", func(t *testing.T) {
		client, teardown := setup(true)
		defer teardown()

		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			requests := []*RPCRequest{}
			require.NoError(t, json.Unmarshal(body, &requests))

			// respond in reverse order
			responses := make([]map[string]interface{}, 0)
			for i := len(requests) - 1; i >= 0; i-- {
				responses = append(responses, map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      requests[i].ID,
					"result":  requests[i].Params.([]interface{})[0].(map[string]interface{})["to"],
				})
			}
			return httpmock.NewJsonResponse(200, responses)
		})

		requests := []*RPCRequest{
			EthCallRequest("0x01", "0x", "latest", 0),
			EthCallRequest("0x02", "0x", "latest", 0),
			EthCallRequest("0x03", "0x", "latest", 0),
		}
		responses, err := client.BatchCall(context.Background(), requests)
		require.NoError(t, err)
		require.Len(t, responses, 3)
		assert.Equal(t, `"0x01"`, string(responses[0].Result))
		assert.Equal(t, `"0x02"`, string(responses[1].Result))
		assert.Equal(t, `"0x03"`, string(responses[2].Result))
	})
	t.Run("Should carry per-request errors for chunked batch calls", func(t *testing.T) {
		client, teardown := setup(false)
		defer teardown()

		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			rpcReq := decodeRequest(t, req)
			to := rpcReq.Params.([]interface{})[0].(map[string]interface{})["to"]
			if to == "0x02" {
				return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":2,"error":{"code":3,"message":"execution reverted"}}`), nil
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"jsonrpc": "2.0", "id": rpcReq.ID, "result": to})
		})

		responses, err := client.BatchCall(context.Background(), []*RPCRequest{
			EthCallRequest("0x01", "0x", "latest", 0),
			EthCallRequest("0x02", "0x", "latest", 0),
		})
		require.NoError(t, err)
		require.Len(t, responses, 2)
		assert.Nil(t, responses[0].Error)
		require.NotNil(t, responses[1].Error)
		assert.Equal(t, int64(3), responses[1].Error.Code)
	})
}
