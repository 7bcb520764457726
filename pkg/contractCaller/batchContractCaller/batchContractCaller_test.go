package batchContractCaller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testRpcUrl = "http://rpc.test"

func setup() (*ethereum.Client, *zap.Logger, func()) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	cfg := ethereum.DefaultNativeCallEthereumClientConfig()
	cfg.BaseUrl = testRpcUrl
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond

	client := ethereum.NewClient(cfg, l)
	httpmock.Activate()
	client.SetHttpClient(&http.Client{Transport: httpmock.DefaultTransport})
	return client, l, httpmock.DeactivateAndReset
}

func nameOutput(t *testing.T, name string) string {
	out, err := contractCaller.Pool.Methods["name"].Outputs.Pack(name)
	require.NoError(t, err)
	return hexutil.Encode(out)
}

func targetOf(req *ethereum.RPCRequest) string {
	return req.Params.([]interface{})[0].(map[string]interface{})["to"].(string)
}

func Test_BatchContractCaller(t *testing.T) {
	t.Run("Should decode batch results and retry transient failures individually", func(t *testing.T) {
		client, l, teardown := setup()
		defer teardown()

		singleCalls := atomic.Int32{}
		httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
				requests := []*ethereum.RPCRequest{}
				require.NoError(t, json.Unmarshal(body, &requests))

				responses := make([]map[string]interface{}, 0, len(requests))
				for _, r := range requests {
					res := map[string]interface{}{"jsonrpc": "2.0", "id": r.ID}
					switch targetOf(r) {
					case "0x02":
						res["error"] = map[string]interface{}{"code": 3, "message": "execution reverted"}
					case "0x03":
						res["error"] = map[string]interface{}{"code": -32000, "message": "header not found"}
					default:
						res["result"] = nameOutput(t, "pool-"+targetOf(r))
					}
					responses = append(responses, res)
				}
				return httpmock.NewJsonResponse(200, responses)
			}

			singleCalls.Add(1)
			r := &ethereum.RPCRequest{}
			require.NoError(t, json.Unmarshal(body, r))
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      r.ID,
				"result":  nameOutput(t, "retried-"+targetOf(r)),
			})
		})

		cc := NewBatchContractCaller(client, l)
		results := cc.CallViews(context.Background(), []*contractCaller.ViewCall{
			contractCaller.NewViewCall("0x01", contractCaller.Pool, "name", nil),
			contractCaller.NewViewCall("0x02", contractCaller.Pool, "name", contractCaller.WithFallback("")),
			contractCaller.NewViewCall("0x03", contractCaller.Pool, "name", nil),
		})
		require.Len(t, results, 3)

		assert.Equal(t, "pool-0x01", contractCaller.AsString(results[0], ""))

		assert.True(t, results[1].Reverted)
		assert.True(t, results[1].UsedFallback)
		assert.Equal(t, "", contractCaller.AsString(results[1], "x"))

		assert.True(t, results[2].Ok())
		assert.Equal(t, "retried-0x03", contractCaller.AsString(results[2], ""))
		assert.Equal(t, int32(1), singleCalls.Load())
	})
	t.Run("Should return an empty slice for no calls", func(t *testing.T) {
		client, l, teardown := setup()
		defer teardown()

		cc := NewBatchContractCaller(client, l)
		assert.Empty(t, cc.CallViews(context.Background(), nil))
	})
}
