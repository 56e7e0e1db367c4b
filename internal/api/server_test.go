package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/engine"
)

type fakeRooms struct {
	mu           sync.Mutex
	processCalls int
	actErr       error
	releaseStack int64
	releaseErr   error
}

func (f *fakeRooms) CreateTable(_ context.Context, _ engine.Config) (string, error) {
	return "tbl-1", nil
}

func (f *fakeRooms) GetState(_ context.Context, tableID, viewerID string) (*engine.View, error) {
	return &engine.View{TableID: tableID, Version: 1, ActionOn: -1}, nil
}

func (f *fakeRooms) ProcessAction(_ context.Context, tableID string, _ engine.Action, _ string) (*engine.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processCalls++
	if f.actErr != nil {
		return nil, f.actErr
	}
	return &engine.View{TableID: tableID, Version: uint64(f.processCalls), ActionOn: -1}, nil
}

func (f *fakeRooms) ReleaseSeat(_ context.Context, tableID, _ string) (int64, *engine.View, error) {
	if f.releaseErr != nil {
		return 0, nil, f.releaseErr
	}
	return f.releaseStack, &engine.View{TableID: tableID, ActionOn: -1}, nil
}

type fakeFunds struct {
	mu       sync.Mutex
	buyIns   []int64
	cashOuts []int64
	buyInErr error
}

func (f *fakeFunds) BuyIn(_ context.Context, _, _ string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyInErr != nil {
		return f.buyInErr
	}
	f.buyIns = append(f.buyIns, amount)
	return nil
}

func (f *fakeFunds) CashOut(_ context.Context, _, _ string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashOuts = append(f.cashOuts, amount)
	return nil
}

func (f *fakeFunds) Balances(context.Context, string) (int64, int64, error) {
	return 100, 50, nil
}

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func kvString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = kvString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = kvString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeKV) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func newTestServer(t *testing.T) (*Server, *fakeRooms, *fakeFunds, *fakeKV) {
	t.Helper()
	rooms := &fakeRooms{}
	fundsMgr := &fakeFunds{}
	kv := newFakeKV()
	return NewServer(rooms, fundsMgr, nil, kv, zap.NewNop()), rooms, fundsMgr, kv
}

func doJSON(t *testing.T, s *Server, method, path, user, idemKey, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestBuyIn_IdempotencyKeyReplayServesCachedResult(t *testing.T) {
	s, rooms, fundsMgr, _ := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "alice", "k1", `{"amount":200,"seat":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A retry with the same key replays the stored response; no second
	// ledger movement, no second seat action.
	resp2, body2 := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "alice", "k1", `{"amount":200,"seat":0}`)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.JSONEq(t, body, body2)
	assert.Equal(t, []int64{200}, fundsMgr.buyIns)
	assert.Equal(t, 1, rooms.processCalls)
}

func TestBuyIn_ConcurrentDuplicateGetsConflict(t *testing.T) {
	s, _, fundsMgr, kv := newTestServer(t)

	// Another request with this key is mid-flight.
	kv.Set(context.Background(), idemProcessingKey("k1"), "1", time.Minute)

	resp, body := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "alice", "k1", `{"amount":200,"seat":0}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "IN_PROGRESS")
	assert.Empty(t, fundsMgr.buyIns)
}

func TestBuyIn_DistinctKeysMoveMoneyTwice(t *testing.T) {
	s, _, fundsMgr, _ := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "alice", "k1", `{"amount":200,"seat":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "alice", "k2", `{"amount":300}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []int64{200, 300}, fundsMgr.buyIns)
}

func TestBuyIn_RollsBackFundsWhenSeatFails(t *testing.T) {
	s, rooms, fundsMgr, _ := newTestServer(t)
	rooms.actErr = &engine.InvalidActionError{Code: "SEAT_OCCUPIED", Reason: "seat 0 occupied"}

	resp, body := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "alice", "", `{"amount":200,"seat":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "SEAT_OCCUPIED")
	assert.Equal(t, []int64{200}, fundsMgr.buyIns)
	assert.Equal(t, []int64{200}, fundsMgr.cashOuts)
}

func TestCashOut_ReleasesTheCommittedStack(t *testing.T) {
	s, rooms, fundsMgr, _ := newTestServer(t)
	// The stand commits against a state where a settled hand already grew
	// the stack; that amount, not any earlier read, is what moves.
	rooms.releaseStack = 250

	resp, body := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/cash-out", "alice", "", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"cashedOut":250`)
	assert.Equal(t, []int64{250}, fundsMgr.cashOuts)
}

func TestCashOut_ZeroStackSkipsLedger(t *testing.T) {
	s, rooms, fundsMgr, _ := newTestServer(t)
	rooms.releaseStack = 0

	resp, body := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/cash-out", "alice", "", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"cashedOut":0`)
	assert.Empty(t, fundsMgr.cashOuts)
}

func TestMoneyEndpoints_RequireIdentity(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/buy-in", "", "", `{"amount":200}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, s, http.MethodPost, "/v1/tables/tbl-1/cash-out", "", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, s, http.MethodGet, "/v1/balances", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
