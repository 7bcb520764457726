package batchContractCaller

import (
	"context"

	"github.com/Layr-Labs/raffle-sidecar/pkg/clients/ethereum"
	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"go.uber.org/zap"
)

// BatchContractCaller sends all views of a CallViews invocation in one batched request. Entries that come
// back with a transient error, or not at all, are retried one at a time with the client's own backoff.
type BatchContractCaller struct {
	client contractCaller.EthereumClient
	logger *zap.Logger
}

func NewBatchContractCaller(client contractCaller.EthereumClient, l *zap.Logger) *BatchContractCaller {
	return &BatchContractCaller{
		client: client,
		logger: l,
	}
}

func (cc *BatchContractCaller) CallView(ctx context.Context, call *contractCaller.ViewCall) contractCaller.Result[any] {
	return cc.CallViews(ctx, []*contractCaller.ViewCall{call})[0]
}

func (cc *BatchContractCaller) callSingle(ctx context.Context, call *contractCaller.ViewCall, data string) contractCaller.Result[any] {
	raw, err := cc.client.EthCall(ctx, call.Target, data, call.Block())
	return contractCaller.ResolveResult(call, raw, err)
}

func (cc *BatchContractCaller) CallViews(ctx context.Context, calls []*contractCaller.ViewCall) []contractCaller.Result[any] {
	results := make([]contractCaller.Result[any], len(calls))

	requests := make([]*ethereum.RPCRequest, 0, len(calls))
	packed := make([]string, len(calls))
	// index into calls for each request
	requestIndex := make([]int, 0, len(calls))

	for i, call := range calls {
		data, err := call.Pack()
		if err != nil {
			results[i] = contractCaller.ResolveResult(call, "", err)
			continue
		}
		packed[i] = data
		requests = append(requests, ethereum.EthCallRequest(call.Target, data, call.Block(), 0))
		requestIndex = append(requestIndex, i)
	}
	if len(requests) == 0 {
		return results
	}

	responses, err := cc.client.BatchCall(ctx, requests)
	if err != nil {
		cc.logger.Sugar().Warnw("Batch call failed, falling back to individual calls",
			zap.Int("count", len(requests)),
			zap.Error(err),
		)
		responses = make([]*ethereum.RPCResponse, len(requests))
	}

	retried := 0
	for j, callIdx := range requestIndex {
		call := calls[callIdx]

		var res *ethereum.RPCResponse
		if j < len(responses) {
			res = responses[j]
		}
		if res == nil {
			retried++
			results[callIdx] = cc.callSingle(ctx, call, packed[callIdx])
			continue
		}
		if resErr := res.Err(); resErr != nil {
			if ethereum.IsTransient(resErr) {
				retried++
				results[callIdx] = cc.callSingle(ctx, call, packed[callIdx])
				continue
			}
			results[callIdx] = contractCaller.ResolveResult(call, "", resErr)
			continue
		}
		raw, perr := ethereum.ParseEthCallResult(res.Result)
		results[callIdx] = contractCaller.ResolveResult(call, raw, perr)
	}
	if retried > 0 {
		cc.logger.Sugar().Debugw("Retried batch entries individually", zap.Int("count", retried))
	}
	return results
}
