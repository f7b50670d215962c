package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/ledger"
	"github.com/tallyline/tallyline/internal/pipeline"
	"github.com/tallyline/tallyline/internal/testutil"
	"github.com/tallyline/tallyline/pkg/types"
)

func setupTestServer(t *testing.T) (*httptest.Server, *testutil.MockStore) {
	t.Helper()
	return setupTestServerWithOpts(t, "")
}

func setupTestServerWithOpts(t *testing.T, apiKey string) (*httptest.Server, *testutil.MockStore) {
	t.Helper()
	st := testutil.NewMockStore()
	p := pipeline.New(st, ledger.New(st), nil)
	srv := New(types.ServerConfig{Addr: ":0", APIKey: apiKey}, p, st, anomaly.Config{})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func registerTestMachine(t *testing.T, st *testutil.MockStore, machineID string, lanes int, skus ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.RegisterMachine(ctx, types.Machine{
		MachineID: machineID,
		LaneCount: lanes,
		CreatedAt: time.Now().UTC(),
	}))
	for i, sku := range skus {
		require.NoError(t, st.PutAssignment(ctx, types.ActiveAssignment{
			MachineID:  machineID,
			LaneID:     i + 1,
			ProductSKU: sku,
			UpdatedAt:  time.Now().UTC(),
		}))
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestAlarmEndpoint(t *testing.T) {
	ts, st := setupTestServer(t)
	registerTestMachine(t, st, "press-7", 1, "WIDGET-A")

	resp, err := http.Post(ts.URL+"/api/alarm", "application/json",
		strings.NewReader(`{"machine_id":"press-7","alarm_count":5}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string `json:"status"`
		Product     string `json:"product"`
		LoggedLanes []int  `json:"logged_lanes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "WIDGET-A", body.Product)
	assert.Equal(t, []int{1}, body.LoggedLanes)
}

func TestAlarmRequiresMachineID(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/alarm", "application/json",
		strings.NewReader(`{"alarm_count":5}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlarmLegacyPathAlias(t *testing.T) {
	ts, st := setupTestServer(t)
	registerTestMachine(t, st, "press-7", 1, "WIDGET-A")

	resp, err := http.Post(ts.URL+"/api/iot_test", "application/json",
		strings.NewReader(`{"machine_id":"press-7"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAlarmDuplicateDeliveryStillOK(t *testing.T) {
	ts, st := setupTestServer(t)
	registerTestMachine(t, st, "press-7", 1, "WIDGET-A")

	payload := `{"machine_id":"press-7","alarm_count":3,"device_sequence":"seq-42"}`
	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/api/alarm", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
	assert.Equal(t, 1, st.LedgerSize())
}

func TestAlarmPersistFailureIs500(t *testing.T) {
	ts, st := setupTestServer(t)
	registerTestMachine(t, st, "press-7", 1, "WIDGET-A")
	st.FailPersist = assert.AnError

	resp, err := http.Post(ts.URL+"/api/alarm", "application/json",
		strings.NewReader(`{"machine_id":"press-7"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSetProductEndpoint(t *testing.T) {
	ts, st := setupTestServer(t)
	registerTestMachine(t, st, "press-7", 2)

	resp, err := http.Post(ts.URL+"/api/set-product", "application/json",
		strings.NewReader(`{"machine_id":"press-7","lane_id":2,"product_sku":"WIDGET-B"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assignments, err := st.GetAssignments(context.Background(), "press-7")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, 2, assignments[0].LaneID)
	assert.Equal(t, "WIDGET-B", assignments[0].ProductSKU)
}

func TestSetProductRejectsSentinelLane(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/set-product", "application/json",
		strings.NewReader(`{"machine_id":"press-7","lane_id":0,"product_sku":"WIDGET-B"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMachineEndpoints(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/machines", "application/json",
		strings.NewReader(`{"machine_id":"press-9","lane_count":2,"name":"Press 9"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/machines")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var machines []types.Machine
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&machines))
	require.Len(t, machines, 1)
	assert.Equal(t, "press-9", machines[0].MachineID)

	resp, err = http.Get(ts.URL + "/api/machines/press-9")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/machines/no-such")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLedgerEndpoint(t *testing.T) {
	ts, st := setupTestServer(t)
	registerTestMachine(t, st, "press-7", 1, "WIDGET-A")

	resp, err := http.Post(ts.URL+"/api/alarm", "application/json",
		strings.NewReader(`{"machine_id":"press-7","alarm_count":4}`))
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/ledger?sku=WIDGET-A")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []types.StockLedgerEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].ChangeQty)
}

func TestAPIKeyMiddleware(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, "secret-key")

	// Health stays open.
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Everything else requires the key.
	resp, err = http.Get(ts.URL + "/api/machines")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/machines", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
