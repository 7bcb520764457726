package rpcServer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/logger"
	"github.com/Layr-Labs/raffle-sidecar/internal/metrics"
	"github.com/Layr-Labs/raffle-sidecar/internal/tests"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus"
	"github.com/Layr-Labs/raffle-sidecar/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/raffle-sidecar/pkg/indexer"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/collectionDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/poolDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/userDataService"
	"github.com/Layr-Labs/raffle-sidecar/pkg/sidecar"
	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	"github.com/Layr-Labs/raffle-sidecar/pkg/syncCursor"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const chainId = uint64(84532)

func address(prefix byte, i int) string {
	return fmt.Sprintf("0x%02x%038x", prefix, i)
}

type fakeRunner struct {
	result *indexer.IndexResult
	err    error
	calls  []string
}

func (f *fakeRunner) RunIndex(_ context.Context, _ uint64, _ *uint64, _ *uint64) (*indexer.IndexResult, error) {
	f.calls = append(f.calls, "pool_deployer")
	return f.result, f.err
}

func (f *fakeRunner) RunIndexPoolEvents(_ context.Context, _ uint64, _ *uint64, _ *uint64) (*indexer.IndexResult, error) {
	f.calls = append(f.calls, "pool_events")
	return f.result, f.err
}

type fixture struct {
	grm     *gorm.DB
	server  *httptest.Server
	runner  *fakeRunner
	cursors *syncCursor.MemoryCursorStore
	bus     *eventBus.EventBus
}

func setup(t *testing.T) *fixture {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := tests.GetConfig()

	grm, err := tests.GetSqliteDatabaseConnection(l)
	require.NoError(t, err)

	sink := metrics.NewNoopMetricsSink()
	bus := eventBus.NewEventBus(sink, l)
	runner := &fakeRunner{}
	cursors := syncCursor.NewMemoryCursorStore()

	rpc := NewRpcServer(
		RpcServerConfigFromConfig(cfg),
		grm,
		poolDataService.NewPoolDataService(grm, l, cfg),
		collectionDataService.NewCollectionDataService(grm, l, cfg),
		userDataService.NewUserDataService(grm, l, cfg),
		runner,
		cursors,
		bus,
		sink,
		l,
		cfg,
	)
	handler, err := rpc.Handler()
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{grm: grm, server: server, runner: runner, cursors: cursors, bus: bus}
}

func seed(t *testing.T, grm *gorm.DB) {
	for i := 0; i < 3; i++ {
		p := &storage.Pool{
			Address:            address(0xaa, i),
			ChainId:            chainId,
			Creator:            address(0xcc, 1),
			Name:               fmt.Sprintf("Raffle %d", i),
			State:              storage.PoolState(i),
			CreatedAtTimestamp: uint64(1_700_000_000 + i),
			LastSyncedBlock:    100,
		}
		if i == 0 {
			p.PrizeCollection = address(0xee, 1)
			standard := storage.PrizeStandard_ERC721
			p.PrizeStandard = &standard
		}
		p.Normalize()
		require.NoError(t, grm.Create(p).Error)
	}
	require.NoError(t, grm.Create(&storage.Collection{
		Address:    address(0xee, 1),
		ChainId:    chainId,
		Name:       "Prize Art",
		Symbol:     "ART",
		Standard:   "ERC721",
		IsRevealed: true,
		BaseUri:    "ipfs://art/",
		MaxSupply:  "10",
	}).Error)
	require.NoError(t, grm.Create(&storage.PoolParticipant{
		PoolAddress:        address(0xaa, 0),
		ChainId:            chainId,
		ParticipantAddress: address(0xbb, 1),
		SlotsPurchased:     2,
		TotalSpent:         "2000000000000000000",
		RefundableAmount:   "1000000000000000000",
	}).Error)
	activity := &storage.UserActivity{
		ChainId:         chainId,
		UserAddress:     address(0xbb, 1),
		ActivityType:    storage.ActivityType_SlotPurchased,
		PoolAddress:     address(0xaa, 0),
		TransactionHash: fmt.Sprintf("0x%064x", 1),
		BlockNumber:     120,
		Quantity:        2,
		Amount:          "2000000000000000000",
	}
	activity.Normalize()
	require.NoError(t, grm.Create(activity).Error)
}

func getJSON(t *testing.T, url string, out any) int {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	return res.StatusCode
}

func postJSON(t *testing.T, url string, body string, out any) int {
	res, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	return res.StatusCode
}

type errorEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func Test_Pools(t *testing.T) {
	f := setup(t)
	seed(t, f.grm)

	t.Run("Should list pools with pagination and filter counts", func(t *testing.T) {
		var body struct {
			Success    bool             `json:"success"`
			Pools      []map[string]any `json:"pools"`
			Pagination struct {
				Total   int64 `json:"total"`
				Limit   int   `json:"limit"`
				Offset  int   `json:"offset"`
				HasMore bool  `json:"hasMore"`
			} `json:"pagination"`
			FilterCounts map[string]any `json:"filterCounts"`
		}
		status := getJSON(t, fmt.Sprintf("%s/pools?chainId=%d&limit=2&includeFilterCounts=true", f.server.URL, chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Success)
		assert.Len(t, body.Pools, 2)
		assert.Equal(t, int64(3), body.Pagination.Total)
		assert.Equal(t, 2, body.Pagination.Limit)
		assert.True(t, body.Pagination.HasMore)
		assert.EqualValues(t, 3, body.FilterCounts["total"])
	})

	t.Run("Should filter by state names and numbers", func(t *testing.T) {
		var body struct {
			Pools []struct {
				State int `json:"state"`
			} `json:"pools"`
		}
		status := getJSON(t, fmt.Sprintf("%s/pools?chainId=%d&state=pending,1", f.server.URL, chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Len(t, body.Pools, 2)
		for _, p := range body.Pools {
			assert.Contains(t, []int{0, 1}, p.State)
		}
	})

	t.Run("Should return a single pool in detail", func(t *testing.T) {
		var body struct {
			Success bool `json:"success"`
			Pool    struct {
				Address           string           `json:"address"`
				ParticipantsCount int64            `json:"participants_count"`
				Participants      []map[string]any `json:"participants"`
				Activity          []map[string]any `json:"activity"`
				CollectionArtwork map[string]any   `json:"collection_artwork"`
			} `json:"pool"`
		}
		status := getJSON(t, fmt.Sprintf("%s/pools?address=%s&chainId=%d", f.server.URL, address(0xaa, 0), chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Success)
		assert.Equal(t, address(0xaa, 0), body.Pool.Address)
		assert.Equal(t, int64(1), body.Pool.ParticipantsCount)
		assert.Len(t, body.Pool.Participants, 1)
		assert.Len(t, body.Pool.Activity, 1)
		assert.Equal(t, "ipfs://art/0", body.Pool.CollectionArtwork["artworkUri"])
	})

	t.Run("Should return not_found for an unknown pool", func(t *testing.T) {
		var body errorEnvelope
		status := getJSON(t, fmt.Sprintf("%s/pools?address=%s&chainId=%d", f.server.URL, address(0xaa, 42), chainId), &body)
		assert.Equal(t, http.StatusNotFound, status)
		assert.False(t, body.Success)
		assert.Equal(t, errCode_NotFound, body.Error.Code)
	})

	t.Run("Should reject malformed filters", func(t *testing.T) {
		for _, query := range []string{
			"sortBy=creator",
			"address=0x1234&chainId=84532",
			"sortOrder=sideways",
			"limit=-1",
			"isPrized=maybe",
			"state=bogus",
			"chainId=abc",
		} {
			var body errorEnvelope
			status := getJSON(t, fmt.Sprintf("%s/pools?%s", f.server.URL, query), &body)
			assert.Equal(t, http.StatusBadRequest, status, query)
			assert.Equal(t, errCode_InvalidArgument, body.Error.Code, query)
		}
	})

	t.Run("Should require a configured chain for listings and filter counts", func(t *testing.T) {
		for _, query := range []string{
			"chainId=1",
			"includeFilterCounts=true",
			"chainId=1&includeFilterCounts=true",
		} {
			var body errorEnvelope
			status := getJSON(t, fmt.Sprintf("%s/pools?%s", f.server.URL, query), &body)
			assert.Equal(t, http.StatusBadRequest, status, query)
			assert.Equal(t, errCode_InvalidArgument, body.Error.Code, query)
		}

		var body struct {
			Pools []map[string]any `json:"pools"`
		}
		status := getJSON(t, fmt.Sprintf("%s/pools", f.server.URL), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Len(t, body.Pools, 3)
	})

	t.Run("Should require a configured chain in single pool mode", func(t *testing.T) {
		var body errorEnvelope
		status := getJSON(t, fmt.Sprintf("%s/pools?address=%s&chainId=1", f.server.URL, address(0xaa, 0)), &body)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, errCode_InvalidArgument, body.Error.Code)
	})
}

func Test_Collections(t *testing.T) {
	f := setup(t)
	seed(t, f.grm)

	t.Run("Should list collections", func(t *testing.T) {
		var body struct {
			Success     bool             `json:"success"`
			Collections []map[string]any `json:"collections"`
			Pagination  struct {
				Total int64 `json:"total"`
			} `json:"pagination"`
		}
		status := getJSON(t, fmt.Sprintf("%s/collections?chainId=%d", f.server.URL, chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Len(t, body.Collections, 1)
		assert.Equal(t, int64(1), body.Pagination.Total)
	})

	t.Run("Should return a collection with its pool count", func(t *testing.T) {
		var body struct {
			Collection struct {
				Name       string `json:"name"`
				PoolsCount int64  `json:"poolsCount"`
			} `json:"collection"`
		}
		status := getJSON(t, fmt.Sprintf("%s/collections?address=%s&chainId=%d", f.server.URL, address(0xee, 1), chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Prize Art", body.Collection.Name)
		assert.Equal(t, int64(1), body.Collection.PoolsCount)
	})

	t.Run("Should return token metadata", func(t *testing.T) {
		var body struct {
			Token struct {
				Name       string `json:"name"`
				ArtworkUri string `json:"artworkUri"`
			} `json:"token"`
		}
		status := getJSON(t, fmt.Sprintf("%s/collections?address=%s&chainId=%d&tokenId=007", f.server.URL, address(0xee, 1), chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Prize Art #7", body.Token.Name)
		assert.Equal(t, "ipfs://art/7", body.Token.ArtworkUri)
	})
}

func Test_User(t *testing.T) {
	f := setup(t)
	seed(t, f.grm)

	t.Run("Should return stats and activity", func(t *testing.T) {
		var body struct {
			Success bool `json:"success"`
			Stats   struct {
				PoolsParticipated     int64  `json:"poolsParticipated"`
				TotalClaimableRefunds string `json:"totalClaimableRefunds"`
			} `json:"stats"`
			Activity struct {
				Items      []map[string]any `json:"items"`
				Pagination struct {
					Total   int64 `json:"total"`
					HasMore bool  `json:"hasMore"`
				} `json:"pagination"`
			} `json:"activity"`
		}
		status := getJSON(t, fmt.Sprintf("%s/user?address=%s&chainId=%d&includeActivity=true", f.server.URL, address(0xbb, 1), chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Success)
		assert.Equal(t, int64(1), body.Stats.PoolsParticipated)
		assert.Equal(t, "1000000000000000000", body.Stats.TotalClaimableRefunds)
		assert.Len(t, body.Activity.Items, 1)
		assert.Equal(t, int64(1), body.Activity.Pagination.Total)
		assert.False(t, body.Activity.Pagination.HasMore)
	})

	t.Run("Should omit sections that are switched off", func(t *testing.T) {
		var body map[string]any
		status := getJSON(t, fmt.Sprintf("%s/user?address=%s&chainId=%d&includeStats=false", f.server.URL, address(0xbb, 1), chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		assert.NotContains(t, body, "stats")
		assert.NotContains(t, body, "activity")
	})

	t.Run("Should reject a missing address", func(t *testing.T) {
		var body errorEnvelope
		status := getJSON(t, fmt.Sprintf("%s/user?chainId=%d", f.server.URL, chainId), &body)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func Test_Index(t *testing.T) {
	f := setup(t)

	t.Run("Should report pass counts", func(t *testing.T) {
		f.runner.result = &indexer.IndexResult{
			BlocksScanned: indexer.BlocksScanned{From: 100, To: 200, Total: 101},
			EventsFound:   3,
			Succeeded:     3,
		}
		f.runner.err = nil

		var body struct {
			Success       bool `json:"success"`
			BlocksScanned struct {
				From  uint64 `json:"from"`
				To    uint64 `json:"to"`
				Total uint64 `json:"total"`
			} `json:"blocksScanned"`
			EventsFound      int `json:"eventsFound"`
			RecordsProcessed struct {
				Success int `json:"success"`
				Errors  int `json:"errors"`
			} `json:"recordsProcessed"`
		}
		status := postJSON(t, f.server.URL+"/index-pool-deployer", `{"chainId":84532,"fromBlock":100,"toBlock":200}`, &body)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Success)
		assert.Equal(t, uint64(101), body.BlocksScanned.Total)
		assert.Equal(t, 3, body.EventsFound)
		assert.Equal(t, 3, body.RecordsProcessed.Success)
		assert.Equal(t, 0, body.RecordsProcessed.Errors)

		status = postJSON(t, f.server.URL+"/index-pool-events", `{"chainId":84532}`, &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"pool_deployer", "pool_events"}, f.runner.calls)
	})

	t.Run("Should map pass errors to status codes", func(t *testing.T) {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{sidecar.ErrIndexInProgress, http.StatusConflict, errCode_Conflict},
			{indexer.NewIndexError(indexer.IndexError_FailedToFetchLogs, errors.New("boom")), http.StatusBadGateway, errCode_ChainUnavailable},
			{&indexer.UnknownChainError{ChainId: 5}, http.StatusBadRequest, errCode_InvalidArgument},
			{indexer.NewIndexError(indexer.IndexError_FailedToStoreCursor, errors.New("disk")), http.StatusServiceUnavailable, errCode_StoreUnavailable},
		}
		for _, c := range cases {
			f.runner.result = nil
			f.runner.err = c.err

			var body errorEnvelope
			status := postJSON(t, f.server.URL+"/index-pool-deployer", `{"chainId":84532}`, &body)
			assert.Equal(t, c.status, status, c.err.Error())
			assert.Equal(t, c.code, body.Error.Code)
			assert.False(t, body.Success)
		}
	})

	t.Run("Should validate the request body", func(t *testing.T) {
		for _, payload := range []string{`{}`, `not json`, `{"chainId":84532,"fromBlock":10,"toBlock":5}`} {
			var body errorEnvelope
			status := postJSON(t, f.server.URL+"/index-pool-deployer", payload, &body)
			assert.Equal(t, http.StatusBadRequest, status, payload)
		}
	})

	t.Run("Should return 405 for the wrong method", func(t *testing.T) {
		var body errorEnvelope
		status := getJSON(t, f.server.URL+"/index-pool-deployer", &body)
		assert.Equal(t, http.StatusMethodNotAllowed, status)
		assert.Equal(t, errCode_MethodNotAllowed, body.Error.Code)
	})
}

func Test_SyncStateAndHealth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.cursors.Save(ctx, &storage.IndexerSyncState{
		ChainId:          chainId,
		ContractType:     syncCursor.ContractType_PoolDeployer,
		ContractAddress:  "0x00000000000000000000000000000000000000d1",
		LastIndexedBlock: 200,
		IsHealthy:        true,
	}))

	t.Run("Should list cursors", func(t *testing.T) {
		var body struct {
			Success bool                        `json:"success"`
			Cursors []*storage.IndexerSyncState `json:"cursors"`
		}
		status := getJSON(t, fmt.Sprintf("%s/sync-state?chainId=%d", f.server.URL, chainId), &body)
		assert.Equal(t, http.StatusOK, status)
		require.Len(t, body.Cursors, 1)
		assert.Equal(t, uint64(200), body.Cursors[0].LastIndexedBlock)
	})

	t.Run("Should report health from cursors", func(t *testing.T) {
		var body struct {
			Status string `json:"status"`
			Chains []struct {
				ChainId uint64 `json:"chainId"`
				Healthy bool   `json:"healthy"`
			} `json:"chains"`
		}
		status := getJSON(t, f.server.URL+"/health", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "SERVING", body.Status)
		require.Len(t, body.Chains, 1)
		assert.True(t, body.Chains[0].Healthy)

		require.NoError(t, f.cursors.MarkUnhealthy(ctx, syncCursor.CursorKey{
			ChainId:         chainId,
			ContractType:    syncCursor.ContractType_PoolDeployer,
			ContractAddress: "0x00000000000000000000000000000000000000d1",
		}, "log fetch failed"))

		status = getJSON(t, f.server.URL+"/health", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "DEGRADED", body.Status)
		assert.False(t, body.Chains[0].Healthy)
	})

	t.Run("Should be ready when the store answers", func(t *testing.T) {
		var body struct {
			Ready bool `json:"ready"`
		}
		status := getJSON(t, f.server.URL+"/ready", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Ready)
	})

	t.Run("Should return a JSON 404 for unknown routes", func(t *testing.T) {
		var body errorEnvelope
		status := getJSON(t, f.server.URL+"/nope", &body)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, errCode_NotFound, body.Error.Code)
	})
}

func Test_StreamChanges(t *testing.T) {
	f := setup(t)

	t.Run("Should stream matching changes only", func(t *testing.T) {
		wsUrl := "ws" + strings.TrimPrefix(f.server.URL, "http") +
			fmt.Sprintf("/changes?table=%s&chainId=%d", eventBusTypes.Table_PoolParticipants, chainId)
		conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return f.bus.ConsumerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

		f.bus.Publish(&eventBusTypes.Event{
			Name:    eventBusTypes.EventName_RowChanged,
			Table:   eventBusTypes.Table_UserActivity,
			Type:    eventBusTypes.ChangeType_Insert,
			ChainId: chainId,
		})
		f.bus.Publish(&eventBusTypes.Event{
			Name:        eventBusTypes.EventName_RowChanged,
			Table:       eventBusTypes.Table_PoolParticipants,
			Type:        eventBusTypes.ChangeType_Update,
			ChainId:     chainId,
			PoolAddress: address(0xaa, 0),
			Record:      map[string]string{"refundableAmount": "1000000000000000000"},
		})

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Table       string            `json:"table"`
			Type        string            `json:"type"`
			ChainId     uint64            `json:"chainId"`
			PoolAddress string            `json:"poolAddress"`
			Record      map[string]string `json:"record"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, eventBusTypes.Table_PoolParticipants, msg.Table)
		assert.Equal(t, "UPDATE", msg.Type)
		assert.Equal(t, address(0xaa, 0), msg.PoolAddress)
		assert.Equal(t, "1000000000000000000", msg.Record["refundableAmount"])

		conn.Close()
		require.Eventually(t, func() bool { return f.bus.ConsumerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should reject an unknown table before upgrading", func(t *testing.T) {
		var body errorEnvelope
		status := getJSON(t, f.server.URL+"/changes?table=blocks", &body)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}
