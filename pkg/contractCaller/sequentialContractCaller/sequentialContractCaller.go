package sequentialContractCaller

import (
	"context"

	"github.com/Layr-Labs/raffle-sidecar/pkg/contractCaller"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SequentialContractCaller issues one eth_call per view, bounded to `concurrency` in flight.
type SequentialContractCaller struct {
	client      contractCaller.EthereumClient
	concurrency int
	logger      *zap.Logger
}

func NewSequentialContractCaller(client contractCaller.EthereumClient, concurrency int, l *zap.Logger) *SequentialContractCaller {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &SequentialContractCaller{
		client:      client,
		concurrency: concurrency,
		logger:      l,
	}
}

func (cc *SequentialContractCaller) CallView(ctx context.Context, call *contractCaller.ViewCall) contractCaller.Result[any] {
	data, err := call.Pack()
	if err != nil {
		return contractCaller.ResolveResult(call, "", err)
	}
	raw, err := cc.client.EthCall(ctx, call.Target, data, call.Block())
	if err != nil {
		cc.logger.Sugar().Debugw("View call failed",
			zap.String("target", call.Target),
			zap.String("method", call.Method),
			zap.Error(err),
		)
	}
	return contractCaller.ResolveResult(call, raw, err)
}

func (cc *SequentialContractCaller) CallViews(ctx context.Context, calls []*contractCaller.ViewCall) []contractCaller.Result[any] {
	results := make([]contractCaller.Result[any], len(calls))

	g := &errgroup.Group{}
	g.SetLimit(cc.concurrency)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = cc.CallView(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
