package poolSync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/gorilla/websocket"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// changeStream upgrades every request and writes the queued events, then waits for the client
// to go away.
func changeStream(t *testing.T, events []*eventBusTypes.Event) (*httptest.Server, chan string) {
	queries := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, e := range events {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, queries
}

func wsUrl(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/changes"
}

func Test_Subscriber(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	events := []*eventBusTypes.Event{
		{
			Table: eventBusTypes.Table_PoolParticipants, Type: eventBusTypes.ChangeType_Insert, ChainId: 84532, PoolAddress: testPool,
			Record: &storage.PoolParticipant{ParticipantAddress: testAlice, RefundableAmount: "1000000000000000000"},
		},
		{
			Table: eventBusTypes.Table_PoolParticipants, Type: eventBusTypes.ChangeType_Update, ChainId: 84532, PoolAddress: testPool,
			Record: &storage.PoolParticipant{ParticipantAddress: testAlice, RefundableAmount: "1000000000000000000"},
		},
		{
			Table: eventBusTypes.Table_UserActivity, Type: eventBusTypes.ChangeType_Insert, ChainId: 84532, PoolAddress: testPool,
			Record: &storage.UserActivity{Id: "0x01", ActivityType: storage.ActivityType_SlotPurchased, Quantity: 2},
		},
		{
			Table: eventBusTypes.Table_UserActivity, Type: eventBusTypes.ChangeType_Insert, ChainId: 84532, PoolAddress: testPool,
			Record: &storage.UserActivity{Id: "0x01", ActivityType: storage.ActivityType_SlotPurchased, Quantity: 2},
		},
		{
			Table: eventBusTypes.Table_UserActivity, Type: eventBusTypes.ChangeType_Insert, ChainId: 84532, PoolAddress: testPoolB,
			Record: &storage.UserActivity{Id: "0x02", ActivityType: storage.ActivityType_SlotPurchased, Quantity: 5},
		},
	}

	t.Run("Should fold the stream into the aggregate", func(t *testing.T) {
		srv, queries := changeStream(t, events)
		reconciler := NewReconciler(NewRaffleAggregate(84532, testPool), l)
		defer reconciler.Close()

		sub, err := Subscribe(ctx, &SubscriberConfig{Url: wsUrl(srv), ChainId: 84532, PoolAddress: "0x00000000000000000000000000000000000000A1"}, reconciler, l)
		require.NoError(t, err)

		query := <-queries
		assert.Contains(t, query, "chainId=84532")
		assert.Contains(t, query, "poolAddress="+testPool)

		assert.Eventually(t, func() bool {
			agg, err := reconciler.Aggregate()
			return err == nil && len(agg.Activity) == 1
		}, 5*time.Second, 20*time.Millisecond)

		agg, err := reconciler.Aggregate()
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000", agg.TotalClaimableRefunds.String())
		assert.Equal(t, uint64(2), agg.SlotsSold)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		assert.NoError(t, sub.Err())
		<-sub.Done()
	})

	t.Run("Should report a stream that ends on its own", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
			if err != nil {
				return
			}
			_ = conn.Close()
		}))
		defer srv.Close()

		reconciler := NewReconciler(NewRaffleAggregate(84532, testPool), l)
		defer reconciler.Close()
		sub, err := Subscribe(ctx, &SubscriberConfig{Url: wsUrl(srv)}, reconciler, l)
		require.NoError(t, err)

		select {
		case <-sub.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not end")
		}
		assert.Error(t, sub.Err())
		_ = sub.Close()
	})

	t.Run("Should fail to subscribe to an unreachable stream", func(t *testing.T) {
		reconciler := NewReconciler(NewRaffleAggregate(84532, testPool), l)
		defer reconciler.Close()
		_, err := Subscribe(ctx, &SubscriberConfig{Url: "ws://127.0.0.1:1/changes"}, reconciler, l)
		assert.Error(t, err)
	})

	t.Run("Should keep a watched pool current from the stream", func(t *testing.T) {
		srv, _ := changeStream(t, events)
		api, transport := newMockedApiSource(t)
		transport.RegisterResponder(http.MethodGet, testApiUrl+"/pools", func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, &apiGetPoolResponse{Success: true, Pool: &poolDataService.PoolDetail{
				Pool:     &storage.Pool{Address: testPool, ChainId: 84532, SlotsSold: 10},
				Activity: []*storage.UserActivity{{Id: "0x00"}},
			}})
		})

		w := NewPoolWatcher(api, newTestChainSource(newFakeCaller(), nil), wsUrl(srv), l)
		snap := w.Load(ctx, Identity{ChainId: 84532, Address: testPool})
		assert.Equal(t, SyncState_Subscribed, snap.State)
		assert.Equal(t, DataSource_Cache, snap.DataSource)

		assert.Eventually(t, func() bool {
			agg, err := w.Aggregate()
			return err == nil && len(agg.Activity) == 2
		}, 5*time.Second, 20*time.Millisecond)

		agg, err := w.Aggregate()
		require.NoError(t, err)
		assert.Equal(t, uint64(12), agg.SlotsSold)
		assert.Equal(t, "0x01", agg.Activity[0].Id)
		assert.Equal(t, "1000000000000000000", agg.TotalClaimableRefunds.String())

		require.NoError(t, w.Close())
		assert.Equal(t, SyncState_Idle, w.Snapshot().State)
	})
}
