package poolSync

import (
	"context"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"go.uber.org/zap"
)

// PoolSummary is a pool as a listing shows it.
type PoolSummary struct {
	*storage.Pool
	PrizeSymbol string `json:"prizeSymbol,omitempty"`
}

func summarize(ctx context.Context, symbols *SymbolCache, pools []*storage.Pool, l *zap.Logger) []*PoolSummary {
	out := make([]*PoolSummary, 0, len(pools))
	for _, p := range pools {
		s := &PoolSummary{Pool: p}
		if symbols != nil && p.Erc20PrizeToken != "" {
			symbol, err := symbols.Symbol(ctx, p.ChainId, p.Erc20PrizeToken)
			if err != nil {
				l.Sugar().Debugw("Failed to resolve prize token symbol",
					zap.String("token", p.Erc20PrizeToken),
					zap.Error(err),
				)
			}
			s.PrizeSymbol = symbol
		}
		out = append(out, s)
	}
	return out
}

// poolFilter is the /pools filter set applied in memory to chain reads, which have no query
// support. A value that does not parse matches no pool.
type poolFilter struct {
	creator        string
	states         []storage.PoolState
	isPrized       *bool
	isCollabPool   *bool
	hasHolderToken *bool
	prizeType      storage.PrizeType
	prizeStandard  *storage.PrizeStandard
	search         string
	invalid        bool
}

func (f *poolFilter) optionalBool(filters map[string]string, name string) *bool {
	raw := strings.TrimSpace(filters[name])
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		f.invalid = true
		return nil
	}
	return &v
}

func newPoolFilter(filters map[string]string) *poolFilter {
	f := &poolFilter{
		creator: strings.ToLower(strings.TrimSpace(filters["creator"])),
		search:  strings.ToLower(strings.TrimSpace(filters["search"])),
	}
	for _, s := range strings.Split(filters["state"], ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if n, err := strconv.ParseUint(s, 10, 8); err == nil {
			f.states = append(f.states, storage.PoolState(n))
		} else if st, err := storage.ParsePoolState(s); err == nil {
			f.states = append(f.states, st)
		} else {
			f.invalid = true
		}
	}
	f.isPrized = f.optionalBool(filters, "isPrized")
	f.isCollabPool = f.optionalBool(filters, "isCollabPool")
	f.hasHolderToken = f.optionalBool(filters, "hasHolderToken")

	if raw := strings.ToLower(strings.TrimSpace(filters["prizeType"])); raw != "" {
		f.prizeType = storage.PrizeType(raw)
		if !slices.Contains(storage.AllPrizeTypes, f.prizeType) {
			f.invalid = true
		}
	}
	if raw := strings.TrimSpace(filters["prizeStandard"]); raw != "" {
		standard, err := storage.ParsePrizeStandard(raw)
		if err != nil {
			f.invalid = true
		} else {
			f.prizeStandard = &standard
		}
	}
	return f
}

func (f *poolFilter) matches(p *storage.Pool) bool {
	switch {
	case f.invalid:
		return false
	case f.creator != "" && p.Creator != f.creator:
		return false
	case len(f.states) > 0 && !slices.Contains(f.states, p.State):
		return false
	case f.isPrized != nil && p.IsPrized != *f.isPrized:
		return false
	case f.isCollabPool != nil && p.IsCollabPool != *f.isCollabPool:
		return false
	case f.hasHolderToken != nil && p.HasHolderToken != *f.hasHolderToken:
		return false
	case f.prizeType != "" && p.PrizeType != f.prizeType:
		return false
	case f.prizeStandard != nil && (p.PrizeStandard == nil || *p.PrizeStandard != *f.prizeStandard):
		return false
	case f.search != "" && !strings.Contains(strings.ToLower(p.Name), f.search) && !strings.Contains(p.Address, f.search):
		return false
	}
	return true
}

func filterPools(pools []*storage.Pool, filters map[string]string) []*storage.Pool {
	f := newPoolFilter(filters)
	out := make([]*storage.Pool, 0, len(pools))
	for _, p := range pools {
		if f.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// NewPoolListQuery lists a chain's pools from the read API, or from the deployer when the API fails
// or has none. Identity.Filters carries the /pools filters.
func NewPoolListQuery(api *ApiSource, chain *ChainSource, symbols *SymbolCache, l *zap.Logger) *Query[[]*PoolSummary] {
	return NewQuery(&QueryConfig[[]*PoolSummary]{
		Name: "pools",
		Primary: func(ctx context.Context, id Identity) ([]*PoolSummary, error) {
			pools, err := api.ListPools(ctx, id.ChainId, id.Filters)
			if err != nil {
				return nil, err
			}
			return summarize(ctx, symbols, pools, l), nil
		},
		Fallback: func(ctx context.Context, id Identity) ([]*PoolSummary, error) {
			pools, err := chain.ListPools(ctx, id.ChainId)
			if err != nil {
				return nil, err
			}
			return summarize(ctx, symbols, filterPools(pools, id.Filters), l), nil
		},
		IsEmpty: func(pools []*PoolSummary) bool { return len(pools) == 0 },
		Symbols: symbols,
	}, l)
}

// AggregateFromDetail seeds an aggregate from a pool read. Only the participants included in the
// read are counted toward refunds until the stream reports the rest.
func AggregateFromDetail(detail *poolDataService.PoolDetail) *RaffleAggregate {
	if detail == nil || detail.Pool == nil {
		return NewRaffleAggregate(0, "")
	}
	agg := NewRaffleAggregate(detail.ChainId, detail.Address)
	agg.SlotsSold = detail.SlotsSold
	for _, p := range detail.Participants {
		agg.applyParticipant(p)
	}
	for _, a := range detail.Activity {
		if !agg.markSeen(a.Id) || len(agg.Activity) >= MaxActivityFeed {
			continue
		}
		agg.Activity = append(agg.Activity, a)
	}
	return agg
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// PoolWatcher loads one pool and, when a stream url is set, keeps its aggregate current from the
// change stream.
type PoolWatcher struct {
	*Query[*poolDataService.PoolDetail]
	logger    *zap.Logger
	streamUrl string

	mu         sync.Mutex
	reconciler *Reconciler
}

func NewPoolWatcher(api *ApiSource, chain *ChainSource, streamUrl string, l *zap.Logger) *PoolWatcher {
	w := &PoolWatcher{logger: l, streamUrl: streamUrl}

	cfg := &QueryConfig[*poolDataService.PoolDetail]{
		Name: "pool",
		Primary: func(ctx context.Context, id Identity) (*poolDataService.PoolDetail, error) {
			return api.GetPool(ctx, id.ChainId, id.Address)
		},
		Fallback: func(ctx context.Context, id Identity) (*poolDataService.PoolDetail, error) {
			pool, err := chain.GetPool(ctx, id.ChainId, id.Address)
			if err != nil {
				return nil, err
			}
			return &poolDataService.PoolDetail{
				Pool:         pool,
				Participants: make([]*storage.PoolParticipant, 0),
				Winners:      make([]*storage.PoolWinner, 0),
				Activity:     make([]*storage.UserActivity, 0),
			}, nil
		},
		IsEmpty: func(d *poolDataService.PoolDetail) bool { return d == nil || d.Pool == nil },
	}
	if streamUrl != "" {
		cfg.Subscribe = w.subscribe
	}
	w.Query = NewQuery(cfg, l)
	return w
}

func (w *PoolWatcher) subscribe(ctx context.Context, id Identity, detail *poolDataService.PoolDetail) (io.Closer, error) {
	reconciler := NewReconciler(AggregateFromDetail(detail), w.logger)
	sub, err := Subscribe(ctx, &SubscriberConfig{
		Url:         w.streamUrl,
		ChainId:     id.ChainId,
		PoolAddress: id.Address,
	}, reconciler, w.logger)
	if err != nil {
		_ = reconciler.Close()
		return nil, err
	}

	w.mu.Lock()
	w.reconciler = reconciler
	w.mu.Unlock()

	return closerFunc(func() error {
		err := sub.Close()
		_ = reconciler.Close()
		w.mu.Lock()
		if w.reconciler == reconciler {
			w.reconciler = nil
		}
		w.mu.Unlock()
		return err
	}), nil
}

// Aggregate is the live aggregate while subscribed, otherwise the one implied by the last load.
func (w *PoolWatcher) Aggregate() (*RaffleAggregate, error) {
	w.mu.Lock()
	reconciler := w.reconciler
	w.mu.Unlock()

	if reconciler != nil {
		agg, err := reconciler.Aggregate()
		if err == nil {
			return agg, nil
		}
	}
	return AggregateFromDetail(w.Snapshot().Data), nil
}
