package poolSync

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Fetcher[T any] func(ctx context.Context, id Identity) (T, error)

// SubscribeFunc starts a change subscription for the data a load produced. The returned closer is
// closed when the identity key changes or the query is closed.
type SubscribeFunc[T any] func(ctx context.Context, id Identity, data T) (io.Closer, error)

type QueryConfig[T any] struct {
	Name string
	// Key overrides Identity.Key as the fetch-guard key.
	Key      func(Identity) string
	Primary  Fetcher[T]
	Fallback Fetcher[T]
	IsEmpty  func(T) bool
	// Symbols is invalidated on Refresh.
	Symbols   *SymbolCache
	Subscribe SubscribeFunc[T]
}

// Query runs the cache-then-chain read for one logical query and tracks where its data came from.
// Results for a key that is no longer current are discarded.
type Query[T any] struct {
	logger *zap.Logger
	config *QueryConfig[T]
	group  singleflight.Group

	mu            sync.Mutex
	identity      *Identity
	key           string
	lastCompleted string
	state         SyncState
	source        DataSource
	data          T
	err           error
	subscription  io.Closer
	subscribedKey string
}

func NewQuery[T any](cfg *QueryConfig[T], l *zap.Logger) *Query[T] {
	return &Query[T]{
		logger: l,
		config: cfg,
		state:  SyncState_Uninitialized,
		source: DataSource_None,
	}
}

func (q *Query[T]) keyFor(id Identity) string {
	if q.config.Key != nil {
		return q.config.Key(id)
	}
	return id.Key()
}

func (q *Query[T]) isEmpty(data T) bool {
	if q.config.IsEmpty == nil {
		return false
	}
	return q.config.IsEmpty(data)
}

// Load brings the query to id. It is a no-op when id has the same key as the last completed load.
// Concurrent loads of one key share a single fetch.
func (q *Query[T]) Load(ctx context.Context, id Identity) Snapshot[T] {
	key := q.keyFor(id)

	q.mu.Lock()
	if q.lastCompleted == key {
		snap := q.snapshotLocked()
		q.mu.Unlock()
		return snap
	}
	var stale io.Closer
	if q.subscription != nil && q.subscribedKey != key {
		stale = q.subscription
		q.subscription = nil
		q.subscribedKey = ""
	}
	loaded := id
	q.identity = &loaded
	q.key = key
	q.mu.Unlock()

	if stale != nil {
		q.closeSubscription(stale)
	}

	_, _, _ = q.group.Do(key, func() (interface{}, error) {
		q.run(ctx, id, key)
		return nil, nil
	})
	return q.Snapshot()
}

// Refresh forgets the last completed key, invalidates the symbol cache and loads the current
// identity again.
func (q *Query[T]) Refresh(ctx context.Context) (Snapshot[T], error) {
	q.mu.Lock()
	if q.identity == nil {
		q.mu.Unlock()
		return q.Snapshot(), ErrNotLoaded
	}
	id := *q.identity
	q.lastCompleted = ""
	q.mu.Unlock()

	if q.config.Symbols != nil {
		q.config.Symbols.Invalidate()
	}
	q.group.Forget(q.keyFor(id))
	return q.Load(ctx, id), nil
}

func (q *Query[T]) Snapshot() Snapshot[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Query[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		State:      q.state,
		DataSource: q.source,
		Data:       q.data,
		Err:        q.err,
		Key:        q.key,
	}
}

// Close tears down the subscription, if any.
func (q *Query[T]) Close() error {
	q.mu.Lock()
	sub := q.subscription
	q.subscription = nil
	q.subscribedKey = ""
	if q.state == SyncState_Subscribed {
		q.state = SyncState_Idle
	}
	q.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (q *Query[T]) run(ctx context.Context, id Identity, key string) {
	if !q.transition(key, SyncState_FetchingPrimary) {
		return
	}

	data, primaryErr := q.config.Primary(ctx, id)
	if primaryErr == nil && !q.isEmpty(data) {
		q.complete(ctx, id, key, SyncState_ServedFromCache, DataSource_Cache, data)
		return
	}
	if primaryErr != nil {
		q.logger.Sugar().Warnw("Primary source failed, falling back to chain",
			zap.String("query", q.config.Name),
			zap.String("key", key),
			zap.Error(primaryErr),
		)
	} else {
		q.logger.Sugar().Debugw("Primary source returned nothing, falling back to chain",
			zap.String("query", q.config.Name),
			zap.String("key", key),
		)
	}

	if q.config.Fallback == nil {
		if primaryErr == nil {
			q.complete(ctx, id, key, SyncState_ServedFromCache, DataSource_Cache, data)
			return
		}
		q.fail(key, primaryErr)
		return
	}

	if !q.transition(key, SyncState_FallingBackToChain) {
		return
	}
	chainData, chainErr := q.config.Fallback(ctx, id)
	if chainErr == nil {
		q.complete(ctx, id, key, SyncState_ServedFromChain, DataSource_Chain, chainData)
		return
	}

	q.logger.Sugar().Warnw("Chain fallback failed",
		zap.String("query", q.config.Name),
		zap.String("key", key),
		zap.Error(chainErr),
	)
	if primaryErr == nil {
		// The cache did answer, with nothing. Keep that answer but report the failure and leave the
		// key open for the next load.
		q.mu.Lock()
		if q.key == key {
			q.state = SyncState_ServedFromCache
			q.source = DataSource_Cache
			q.data = data
			q.err = chainErr
		}
		q.mu.Unlock()
		return
	}
	q.fail(key, errors.Join(primaryErr, chainErr))
}

func (q *Query[T]) transition(key string, state SyncState) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.key != key {
		return false
	}
	q.state = state
	return true
}

func (q *Query[T]) complete(ctx context.Context, id Identity, key string, state SyncState, source DataSource, data T) {
	q.mu.Lock()
	if q.key != key {
		q.mu.Unlock()
		return
	}
	q.state = state
	q.source = source
	q.data = data
	q.err = nil
	q.lastCompleted = key
	if q.subscription != nil && q.subscribedKey == key {
		q.state = SyncState_Subscribed
	}
	needsSubscription := q.config.Subscribe != nil && q.subscribedKey != key
	q.mu.Unlock()

	if needsSubscription {
		q.subscribe(ctx, id, key, data)
	}
}

func (q *Query[T]) subscribe(ctx context.Context, id Identity, key string, data T) {
	sub, err := q.config.Subscribe(ctx, id, data)
	if err != nil {
		q.logger.Sugar().Warnw("Failed to subscribe to changes",
			zap.String("query", q.config.Name),
			zap.String("key", key),
			zap.Error(err),
		)
		q.mu.Lock()
		if q.key == key {
			q.state = SyncState_Idle
		}
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	if q.key != key || q.subscription != nil {
		q.mu.Unlock()
		q.closeSubscription(sub)
		return
	}
	q.subscription = sub
	q.subscribedKey = key
	q.state = SyncState_Subscribed
	q.mu.Unlock()
}

func (q *Query[T]) fail(key string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.key != key {
		return
	}
	var zero T
	q.state = SyncState_Idle
	q.source = DataSource_None
	q.data = zero
	q.err = err
}

func (q *Query[T]) closeSubscription(sub io.Closer) {
	if err := sub.Close(); err != nil {
		q.logger.Sugar().Debugw("Failed to close subscription",
			zap.String("query", q.config.Name),
			zap.Error(err),
		)
	}
}
