package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-energy/internal/audit"
	"community-energy/internal/auth"
	energyapp "community-energy/internal/energy/application"
	"community-energy/internal/energy/infrastructure/memory"
)

const testCommunity = "valley"

var testSecret = []byte("handler-secret")

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, entry := range a.entries {
		out[i] = entry.Action
	}
	return out
}

type fixture struct {
	handler *Handler
	audit   *recordingAudit
}

func newFixture(t *testing.T, limiter *RateLimiter) *fixture {
	t.Helper()
	engine, err := energyapp.NewEngine(context.Background(), memory.NewStateStore(), nil, testCommunity)
	require.NoError(t, err)
	queries, err := energyapp.NewQueryService(engine)
	require.NoError(t, err)
	recorder := &recordingAudit{}
	handler, err := NewHandler(engine, queries, recorder, limiter, nil)
	require.NoError(t, err)
	handler.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return &fixture{handler: handler, audit: recorder}
}

func (f *fixture) do(t *testing.T, role auth.Role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, APIPrefix+path, reader)
	if role != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), testCommunity, role, "user-1"))
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, f.do(t, auth.RoleOperator, http.MethodPut, "/devices/export", deviceRequest{DeviceID: "grid"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, auth.RoleOperator, http.MethodPut, "/import-price", priceRequest{Price: 300}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, auth.RoleOperator, http.MethodPost, "/members",
		addMemberRequest{ID: "m1", Devices: []string{"d1"}, ShareBps: 3000}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, auth.RoleOperator, http.MethodPost, "/members",
		addMemberRequest{ID: "m2", Devices: []string{"d2"}, ShareBps: 6700}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, auth.RoleOperator, http.MethodPost, "/members",
		addMemberRequest{ID: "m3", Devices: []string{"d3"}, ShareBps: 300}).Code)
}

func TestNewHandlerValidatesArguments(t *testing.T) {
	_, err := NewHandler(nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestMembersLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	resp := f.do(t, auth.RoleViewer, http.MethodGet, "/members", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[membersResponse](t, resp)
	assert.Equal(t, 10000, list.TotalShareBps)
	require.Len(t, list.Members, 3)
	assert.Equal(t, "m1", list.Members[0].ID)

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/members/m2", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"d2"}, decode[memberResponse](t, resp).Devices)

	resp = f.do(t, auth.RoleOperator, http.MethodDelete, "/members/m3", nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/members/m3", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, kindNotFound, decode[errorResponse](t, resp).Error)

	assert.Equal(t, []string{
		"device.reserve_export", "import_price.set", "member.add", "member.add", "member.add", "member.remove",
	}, f.audit.Actions())
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"share overflow", http.MethodPost, "/members", addMemberRequest{ID: "m4", Devices: []string{"d4"}, ShareBps: 1}, http.StatusUnprocessableEntity, kindOverflow},
		{"duplicate device", http.MethodPost, "/members", addMemberRequest{ID: "m4", Devices: []string{"d1"}, ShareBps: 1}, http.StatusBadRequest, kindInvalidInput},
		{"unknown member removal", http.MethodDelete, "/members/ghost", nil, http.StatusNotFound, kindNotFound},
		{"no sources", http.MethodPost, "/distribute", distributeRequest{}, http.StatusBadRequest, kindInvalidInput},
		{"battery target without battery", http.MethodPost, "/distribute", map[string]any{
			"sources":        []sourceRequest{{Price: 1, Quantity: 1}},
			"battery_target": 10,
		}, http.StatusConflict, kindConflict},
		{"no requests", http.MethodPost, "/consume", consumeRequest{}, http.StatusBadRequest, kindInvalidInput},
		{"unknown device", http.MethodPost, "/consume", consumeRequest{Requests: []consumptionRequest{{DeviceID: "x", Quantity: 1}}}, http.StatusNotFound, kindNotFound},
		{"negative price", http.MethodPut, "/import-price", priceRequest{Price: -1}, http.StatusBadRequest, kindInvalidInput},
		{"bad json", http.MethodPost, "/members", "not an object", http.StatusBadRequest, kindInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, auth.RoleAdmin, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, tc.kind, decode[errorResponse](t, resp).Error)
		})
	}
}

func TestViewerCannotMutate(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, auth.RoleViewer, http.MethodPost, "/members",
		addMemberRequest{ID: "m1", Devices: []string{"d1"}, ShareBps: 10000})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, kindForbidden, decode[errorResponse](t, resp).Error)

	resp = f.do(t, "", http.MethodPut, "/import-price", priceRequest{Price: 1})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, f.audit.Actions())
}

func TestDistributeConsumeAndBalances(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	resp := f.do(t, auth.RoleOperator, http.MethodPost, "/distribute", distributeRequest{
		Sources: []sourceRequest{{ID: "pv", Price: 100, Quantity: 1000}},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	report := decode[distributionResponse](t, resp)
	assert.Equal(t, uint64(1), report.Period)
	assert.Equal(t, map[string]int64{"m1": 300, "m2": 670, "m3": 30}, report.Allocations)

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/collective-consumption", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	collective := decode[collectiveResponse](t, resp)
	assert.Equal(t, int64(1000), collective.TotalUnconsumed)
	assert.Len(t, collective.Lots, 3)

	resp = f.do(t, auth.RoleOperator, http.MethodPost, "/consume", consumeRequest{Requests: []consumptionRequest{
		{DeviceID: "d1", Quantity: 300},
		{DeviceID: "d2", Quantity: 670},
		{DeviceID: "d3", Quantity: 50},
	}})
	require.Equal(t, http.StatusOK, resp.Code)
	settlement := decode[settlementResponse](t, resp)
	assert.Equal(t, int64(1000), settlement.Consumed)
	assert.Equal(t, int64(20), settlement.Imported)
	require.Len(t, settlement.Transfers, 1)
	assert.Equal(t, transferResponse{Kind: "import", Payer: "member:m3", Payee: "import", Price: 300, Quantity: 20, Amount: 6000}, settlement.Transfers[0])

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/balances", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	balances := decode[balancesResponse](t, resp)
	assert.True(t, balances.ZeroSum)
	assert.Equal(t, "0", balances.Net)
	assert.Contains(t, balances.Accounts, balanceResponse{Account: "member:m3", Balance: -6000})
	assert.Contains(t, balances.Accounts, balanceResponse{Account: "import", Balance: 6000})
}

func TestBatteryAndDevices(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	resp := f.do(t, auth.RoleOperator, http.MethodPut, "/battery", batteryRequest{Price: 120, MaxCapacity: 500})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, batteryResponse{Price: 120, MaxCapacity: 500, Configured: true}, decode[batteryResponse](t, resp))

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/battery", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decode[batteryResponse](t, resp).Configured)

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/devices/d2", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, deviceResponse{DeviceID: "d2", Owner: "member", MemberID: "m2"}, decode[deviceResponse](t, resp))

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/devices/grid", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "export", decode[deviceResponse](t, resp).Owner)

	resp = f.do(t, auth.RoleOperator, http.MethodPut, "/devices/community", deviceRequest{DeviceID: "d1"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, auth.RoleViewer, http.MethodGet, "/import-price", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(300), decode[priceResponse](t, resp).Price)
}

func TestLedgerExports(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	require.Equal(t, http.StatusOK, f.do(t, auth.RoleOperator, http.MethodPost, "/distribute", distributeRequest{
		Sources: []sourceRequest{{Price: 100, Quantity: 1000}},
	}).Code)

	resp := f.do(t, auth.RoleAdmin, http.MethodGet, "/ledger/export.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "ledger-valley-1.xlsx")
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")))

	resp = f.do(t, auth.RoleAdmin, http.MethodGet, "/ledger/export.pdf", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")))
}

func TestRoutingFallbacks(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.do(t, auth.RoleViewer, http.MethodGet, "/unknown", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, auth.RoleViewer, http.MethodPatch, "/members", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, auth.RoleViewer, http.MethodGet, "/consume", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, auth.RoleViewer, http.MethodGet, "/members/a/b", nil).Code)
}

func TestConsumeIsRateLimited(t *testing.T) {
	f := newFixture(t, NewRateLimiter(0.001, 1, nil))
	f.seed(t)
	require.Equal(t, http.StatusOK, f.do(t, auth.RoleOperator, http.MethodPost, "/distribute", distributeRequest{
		Sources: []sourceRequest{{Price: 100, Quantity: 1000}},
	}).Code)

	batch := consumeRequest{Requests: []consumptionRequest{{DeviceID: "d1", Quantity: 1}}}
	assert.Equal(t, http.StatusOK, f.do(t, auth.RoleOperator, http.MethodPost, "/consume", batch).Code)
	resp := f.do(t, auth.RoleOperator, http.MethodPost, "/consume", batch)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, kindRateLimited, decode[errorResponse](t, resp).Error)
}

func TestThroughAuthMiddleware(t *testing.T) {
	f := newFixture(t, nil)
	mw := auth.NewMiddleware(testSecret, auth.NewDefaultPolicy(nil, nil), testCommunity)
	server := mw.Wrap(f.handler)

	viewer, err := auth.IssueJWT(testSecret, testCommunity, auth.RoleViewer, "view-1", time.Hour)
	require.NoError(t, err)
	operator, err := auth.IssueJWT(testSecret, testCommunity, auth.RoleOperator, "op-1", time.Hour)
	require.NoError(t, err)

	send := func(token, method, path string, payload any) int {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		req := httptest.NewRequest(method, APIPrefix+path, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		return resp.Code
	}

	assert.Equal(t, http.StatusForbidden, send(viewer, http.MethodPut, "/import-price", priceRequest{Price: 10}))
	assert.Equal(t, http.StatusOK, send(operator, http.MethodPut, "/import-price", priceRequest{Price: 10}))
	assert.Equal(t, http.StatusOK, send(operator, http.MethodPut, "/devices/export", deviceRequest{DeviceID: "grid"}))
	assert.Equal(t, http.StatusOK, send(operator, http.MethodPut, "/battery", batteryRequest{Price: 50, MaxCapacity: 100}))
	require.Equal(t, http.StatusCreated, send(operator, http.MethodPost, "/members",
		addMemberRequest{ID: "m1", Devices: []string{"d1"}, ShareBps: 10000}))

	entries := f.audit.entries
	require.Len(t, entries, 4)
	assert.Equal(t, "import_price.set", entries[0].Action)
	last := entries[3]
	assert.Equal(t, "member.add", last.Action)
	assert.Equal(t, "op-1", last.Actor)
	assert.Equal(t, "operator", last.Role)
	assert.Equal(t, testCommunity, last.CommunityID)
	assert.Zero(t, last.Period)
	assert.NotEmpty(t, last.PayloadDigest)
}
