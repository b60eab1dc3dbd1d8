package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/monitor"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/remote"
	"pos-sync-service/internal/store"
	"pos-sync-service/internal/sync"
)

// fakeLink is both the connection source and the reachability sink.
type fakeLink struct {
	mu    gosync.Mutex
	state monitor.State
}

func (f *fakeLink) State() monitor.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLink) Subscribe() (<-chan monitor.Transition, func()) {
	return make(chan monitor.Transition), func() {}
}

func (f *fakeLink) SetReachable(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if up {
		f.state = monitor.Online
	} else {
		f.state = monitor.Offline
	}
}

type testServer struct {
	srv   *httptest.Server
	store *store.SQLiteStore
	repo  *remote.Memory
	link  *fakeLink
	token string
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := remote.NewMemory()
	link := &fakeLink{state: monitor.Offline}
	mgr := sync.NewManager(s, queue.New(s, 5), link,
		sync.NewRoutines(repo, nil),
		sync.NewReconciler(s, repo, "L1", time.Hour),
		sync.NewHub(),
		sync.Options{BatchSize: 10},
	)

	h := NewHandler(mgr, s, link,
		config.SyncConfig{DeviceID: "till-1", StoreID: "S1", LocationID: "L1", SigningKey: "secret"},
		config.ServerConfig{AuthToken: token},
	)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: s, repo: repo, link: link, token: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func saleBody(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"payment_method": "card",
		"discount":       50,
		"items": []map[string]any{
			{"product_id": "P1", "variant_id": "V1", "quantity": 2, "unit_price": 500, "tax_rate": 0.1},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, "")
	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	resp, err := http.Get(ts.srv.URL + "/api/v1/sync/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ok := ts.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestCreateTransactionOfflineThenSync(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodPost, "/api/v1/transactions", saleBody("T1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tx := decode[store.PendingTransaction](t, resp)
	assert.Equal(t, int64(1000), tx.Subtotal)
	assert.Equal(t, int64(100), tx.Tax)
	assert.Equal(t, int64(1050), tx.Total)
	assert.Equal(t, "till-1", tx.DeviceID)
	assert.Equal(t, "S1", tx.StoreID)
	assert.NotEmpty(t, tx.ReceiptNumber)
	assert.True(t, tx.Verify([]byte("secret")))

	dup := ts.do(t, http.MethodPost, "/api/v1/transactions", saleBody("T1"))
	assert.Equal(t, http.StatusOK, dup.StatusCode)

	status := decode[sync.Status](t, ts.do(t, http.MethodGet, "/api/v1/sync/status", nil))
	assert.Equal(t, monitor.Offline, status.ConnectionState)
	assert.Equal(t, int64(1), status.PendingCount)

	skipped := decode[sync.PassResult](t, ts.do(t, http.MethodPost, "/api/v1/sync/trigger", nil))
	assert.Equal(t, sync.SkipOffline, skipped.Skipped)
	assert.Zero(t, ts.repo.Calls().Total())

	conn := ts.do(t, http.MethodPost, "/api/v1/connectivity", map[string]bool{"online": true})
	assert.Equal(t, http.StatusAccepted, conn.StatusCode)

	res := decode[sync.PassResult](t, ts.do(t, http.MethodPost, "/api/v1/sync/trigger", nil))
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, ts.repo.Orders(), 1)
	assert.Equal(t, int64(1050), ts.repo.Orders()[0].Total)

	stats := decode[store.Stats](t, ts.do(t, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, int64(1), stats.Transactions.Total)
	assert.Zero(t, stats.Transactions.Unsynced)
	assert.Zero(t, stats.Queue.Unsynced)

	history := decode[[]store.SyncHistory](t, ts.do(t, http.MethodGet, "/api/v1/sync/history?limit=5", nil))
	require.Len(t, history, 1)
	assert.Equal(t, "completed", history[0].Status)

	got := ts.do(t, http.MethodGet, "/api/v1/transactions/T1", nil)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, store.StatusSynced, decode[store.PendingTransaction](t, got).Status)
}

func TestCreateTransactionRejectsBadTotals(t *testing.T) {
	ts := newTestServer(t, "")
	body := saleBody("T1")
	body["subtotal"] = 1000
	body["tax"] = 100
	body["total"] = 5

	resp := ts.do(t, http.MethodPost, "/api/v1/transactions", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	missing := ts.do(t, http.MethodGet, "/api/v1/transactions/T1", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestDecrementStock(t *testing.T) {
	ts := newTestServer(t, "")
	_, err := ts.store.UpsertInventory(context.Background(), []store.InventorySnapshot{
		{ProductID: "P1", VariantID: "V1", LocationID: "L1", CurrentStock: 5},
	})
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/api/v1/inventory/decrement", map[string]any{"product_id": "P1", "variant_id": "V1", "quantity": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[map[string]int64](t, resp)["remaining"])

	short := ts.do(t, http.MethodPost, "/api/v1/inventory/decrement", map[string]any{"product_id": "P1", "variant_id": "V1", "quantity": 3})
	require.Equal(t, http.StatusConflict, short.StatusCode)
	body := decode[map[string]any](t, short)
	assert.EqualValues(t, 2, body["available"])

	unknown := ts.do(t, http.MethodPost, "/api/v1/inventory/decrement", map[string]any{"product_id": "P9", "variant_id": "V1", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)

	zero := ts.do(t, http.MethodPost, "/api/v1/inventory/decrement", map[string]any{"product_id": "P1", "variant_id": "V1", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, zero.StatusCode)
}

func TestCreateCustomer(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodPost, "/api/v1/customers", map[string]any{"id": "C1", "name": "Ana", "email": "ana@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[store.CustomerCache](t, resp)
	assert.True(t, c.PendingUpload)

	dup := ts.do(t, http.MethodPost, "/api/v1/customers", map[string]any{"id": "C1", "name": "Ana"})
	assert.Equal(t, http.StatusOK, dup.StatusCode)

	noName := ts.do(t, http.MethodPost, "/api/v1/customers", map[string]any{"id": "C2"})
	assert.Equal(t, http.StatusBadRequest, noName.StatusCode)
}

func TestConnectivityRequiresFlag(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, http.MethodPost, "/api/v1/connectivity", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, monitor.Offline, ts.link.State())
}

func TestPauseAndRetryEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	paused := ts.do(t, http.MethodPost, "/api/v1/sync/stop", nil)
	assert.Equal(t, http.StatusOK, paused.StatusCode)
	status := decode[sync.Status](t, ts.do(t, http.MethodGet, "/api/v1/sync/status", nil))
	assert.True(t, status.Paused)

	resumed := ts.do(t, http.MethodPost, "/api/v1/sync/start", nil)
	assert.Equal(t, http.StatusOK, resumed.StatusCode)

	retry := ts.do(t, http.MethodPost, "/api/v1/sync/retry", nil)
	require.Equal(t, http.StatusOK, retry.StatusCode)
	assert.Zero(t, decode[map[string]int64](t, retry)["reset"])
}

func TestSyncEventsStream(t *testing.T) {
	ts := newTestServer(t, "tok")
	ts.link.SetReachable(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/sync/events?token=tok"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, string(sync.EventStatus), first["type"])

	ts.do(t, http.MethodPost, "/api/v1/sync/trigger", nil)

	seen := map[string]bool{}
	for !seen[string(sync.EventPassFinished)] {
		var ev map[string]any
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		seen[ev["type"].(string)] = true
	}
	assert.True(t, seen[string(sync.EventPassStarted)])
}
