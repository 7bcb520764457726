package sequentialContractCaller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRpcUrl = "http://rpc.test"

func Test_SequentialContractCaller(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	cfg := ethereum.DefaultChunkedCallEthereumClientConfig()
	cfg.BaseUrl = testRpcUrl
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	client := ethereum.NewClient(cfg, l)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	client.SetHttpClient(&http.Client{Transport: httpmock.DefaultTransport})

	httpmock.RegisterResponder(http.MethodPost, testRpcUrl, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		r := &ethereum.RPCRequest{}
		require.NoError(t, json.Unmarshal(body, r))

		params := r.Params.([]interface{})
		to := params[0].(map[string]interface{})["to"].(string)
		if to == "0x02" {
			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"error":{"code":3,"message":"execution reverted"}}`), nil
		}
		out, err := contractCaller.Pool.Methods["slotLimit"].Outputs.Pack(hexutil.MustDecodeBig("0x64"))
		require.NoError(t, err)
		assert.Equal(t, "0xa", params[1])
		return httpmock.NewJsonResponse(200, map[string]interface{}{"jsonrpc": "2.0", "id": r.ID, "result": hexutil.Encode(out)})
	})

	block := uint64(10)
	cc := NewSequentialContractCaller(client, 2, l)
	results := cc.CallViews(context.Background(), []*contractCaller.ViewCall{
		contractCaller.NewViewCall("0x01", contractCaller.Pool, "slotLimit", &contractCaller.CallOptions{BlockNumber: &block}),
		contractCaller.NewViewCall("0x02", contractCaller.Pool, "slotLimit", &contractCaller.CallOptions{BlockNumber: &block}),
	})
	require.Len(t, results, 2)
	assert.Equal(t, uint64(100), contractCaller.AsUint64(results[0], 0))
	assert.True(t, results[1].Reverted)
	assert.Equal(t, uint64(7), contractCaller.AsUint64(results[1], 7))
}
