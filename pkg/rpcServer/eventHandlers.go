package rpcServer

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	changesBufferSize   = 64
	changesWriteTimeout = 10 * time.Second
	changesPingInterval = 30 * time.Second
)

var changeTables = []string{
	eventBusTypes.Table_Pools,
	eventBusTypes.Table_Collections,
	eventBusTypes.Table_PoolParticipants,
	eventBusTypes.Table_PoolWinners,
	eventBusTypes.Table_UserActivity,
}

func (rpc *RpcServer) checkOrigin(r *http.Request) bool {
	allowed := rpc.rpcConfig.CorsAllowedOrigins
	origin := r.Header.Get("Origin")
	if len(allowed) == 0 || origin == "" {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func (rpc *RpcServer) changesFilter(q *queryParams) *eventBusTypes.ConsumerFilter {
	filter := &eventBusTypes.ConsumerFilter{
		Names: []string{eventBusTypes.EventName_RowChanged, eventBusTypes.EventName_PoolUpserted},
	}
	if table := q.String("table"); table != "" {
		if !slices.Contains(changeTables, table) {
			q.fail("table", fmt.Sprintf("unknown table '%s'", table))
		}
		filter.Table = table
	}
	filter.ChainId = q.Uint64("chainId")
	filter.PoolAddress = strings.ToLower(q.String("poolAddress"))
	return filter
}

// subscribeToChanges forwards matching bus events to handle until ctx ends or handle fails.
func (rpc *RpcServer) subscribeToChanges(ctx context.Context, requestId string, filter *eventBusTypes.ConsumerFilter, handle func(*eventBusTypes.Event) error) error {
	consumer := &eventBusTypes.Consumer{
		Id:      eventBusTypes.ConsumerId(requestId),
		Context: ctx,
		Channel: make(chan *eventBusTypes.Event, changesBufferSize),
		Filter:  filter,
	}
	rpc.eventBus.Subscribe(consumer)
	defer rpc.eventBus.Unsubscribe(consumer)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-consumer.Channel:
			if err := handle(event); err != nil {
				return err
			}
		}
	}
}

// StreamChanges upgrades to a websocket and streams row changes matching table, chainId and
// poolAddress.
func (rpc *RpcServer) StreamChanges(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := newQueryParams(r)
	filter := rpc.changesFilter(q)
	if q.err != nil {
		rpc.writeServiceError(w, r, q.err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     rpc.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rpc.Logger.Sugar().Warnw("Failed to upgrade change stream", zap.Error(err))
		return
	}
	defer conn.Close()

	requestId := uuid.New().String()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rpc.Logger.Sugar().Infow("Change stream opened",
		zap.String("requestId", requestId),
		zap.String("table", filter.Table),
		zap.Uint64("chainId", filter.ChainId),
		zap.String("poolAddress", filter.PoolAddress),
	)

	// The read loop only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(changesPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(changesWriteTimeout)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = rpc.subscribeToChanges(ctx, requestId, filter, func(event *eventBusTypes.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(changesWriteTimeout))
		return conn.WriteJSON(event)
	})
	if err != nil {
		rpc.Logger.Sugar().Debugw("Change stream write failed", zap.String("requestId", requestId), zap.Error(err))
	}
	rpc.Logger.Sugar().Infow("Change stream closed", zap.String("requestId", requestId))
}
