package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/executor"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "operator-key"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeManager struct {
	symbol     string
	pos        entity.Position
	refreshErr error
	closeOrder *entity.Order
	closeErr   error
	leverage   int
	marginErr  error
	margin     entity.MarginType
	refreshes  int
}

func (m *fakeManager) Symbol() string { return m.symbol }

func (m *fakeManager) Refresh(context.Context) error {
	m.refreshes++
	return m.refreshErr
}

func (m *fakeManager) Snapshot() (entity.Position, bool) { return m.pos, m.refreshErr == nil }

func (m *fakeManager) Close(context.Context) (*entity.Order, error) {
	return m.closeOrder, m.closeErr
}

func (m *fakeManager) SetLeverage(_ context.Context, leverage int) (int, error) {
	if leverage < 1 || leverage > 125 {
		return 0, entity.NewValidationError("leverage", "must be between 1 and 125")
	}
	m.leverage = leverage
	return leverage, nil
}

func (m *fakeManager) ChangeMarginType(_ context.Context, marginType entity.MarginType) error {
	m.margin = marginType
	return m.marginErr
}

func (m *fakeManager) MonitorRisk(thresholds position.RiskThresholds) []position.RiskWarning {
	return position.EvaluateRisk(m.pos, thresholds)
}

type fakeSubmitter struct {
	requests []entity.OrderRequest
	order    *entity.Order
	err      error
}

func (s *fakeSubmitter) Submit(_ context.Context, req entity.OrderRequest, _ executor.SubmitOptions) (*entity.Order, error) {
	s.requests = append(s.requests, req)
	return s.order, s.err
}

type fakeLocker struct {
	err      error
	acquired int
	released int
}

func (l *fakeLocker) Acquire(context.Context, string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type fakeRecords struct {
	limit uint64
}

func (f *fakeRecords) ListBySymbol(_ context.Context, symbol string, limit uint64) ([]entity.DecisionRecord, error) {
	f.limit = limit
	return []entity.DecisionRecord{{Symbol: symbol, Action: entity.DecisionBuy, ResultingPosition: entity.PositionStateLong}}, nil
}

type testServer struct {
	mux       *http.ServeMux
	manager   *fakeManager
	submitter *fakeSubmitter
	locker    *fakeLocker
	records   *fakeRecords
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger, _ := test.NewNullLogger()
	ts := &testServer{
		mux: http.NewServeMux(),
		manager: &fakeManager{
			symbol: "BTCUSDT",
			pos: entity.Position{
				Symbol:        "BTCUSDT",
				Amount:        decimal.RequireFromString("-0.5"),
				EntryPrice:    decimal.NewFromInt(60000),
				Leverage:      10,
				MarginType:    entity.MarginTypeCrossed,
				UnrealizedPnl: decimal.NewFromInt(-250),
			},
		},
		submitter: &fakeSubmitter{},
		locker:    &fakeLocker{},
		records:   &fakeRecords{},
	}

	handler := NewEngineHTTPHandler(
		[]PositionManager{ts.manager},
		ts.submitter,
		[]config.APIKeyConfig{
			{Name: "ops", Key: testAPIKey, Active: true},
			{Name: "old", Key: "old-key", Active: true, ExpiredAt: "2026-01-01"},
			{Name: "off", Key: "off-key", Active: false},
		},
		WithLocker(ts.locker, time.Second),
		WithHistory(ts.records, nil),
		WithClock(util.NewFakeClock(now)),
		WithLogger(logger),
	)
	handler.Register(ts.mux)

	return ts
}

func (ts *testServer) do(method, target, body string, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPIKey(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		key  string
		code int
	}{
		{name: "missing", key: "", code: http.StatusUnauthorized},
		{name: "unknown", key: "nope", code: http.StatusUnauthorized},
		{name: "inactive", key: "off-key", code: http.StatusUnauthorized},
		{name: "expired", key: "old-key", code: http.StatusUnauthorized},
		{name: "valid", key: testAPIKey, code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, "/engine/v1/position?symbol=btcusdt", "", tt.key)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestAPIKeyFromBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/engine/v1/position/close", `{"api_key":"operator-key","symbol":"BTCUSDT"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseExpiry(t *testing.T) {
	at, ok, err := parseExpiry("2026-03-01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), at)

	at, ok, err = parseExpiry("2026-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), at)

	_, ok, err = parseExpiry(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseExpiry(42)
	assert.Error(t, err)
}

func TestGetPosition(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/engine/v1/position?symbol=btcusdt", "", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[PositionResponse](t, rec)
	assert.Equal(t, "BTCUSDT", resp.Symbol)
	assert.Equal(t, "SHORT", resp.State)
	assert.Equal(t, "-0.5", resp.Amount)
	assert.False(t, resp.IsolatedMargin.Valid)
	assert.Equal(t, 1, ts.manager.refreshes)
}

func TestGetPosition_Errors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/engine/v1/position", "", testAPIKey).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/engine/v1/position?symbol=ETHUSDT", "", testAPIKey).Code)

	ts.manager.refreshErr = &entity.StaleStateError{Symbol: "BTCUSDT", Err: errors.New("timeout")}
	assert.Equal(t, http.StatusBadGateway, ts.do(http.MethodGet, "/engine/v1/position?symbol=BTCUSDT", "", testAPIKey).Code)
}

func TestGetRisk(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/engine/v1/position/risk?symbol=BTCUSDT", "", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[RiskResponse](t, rec)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, string(position.RiskKindUnrealizedLoss), resp.Warnings[0].Kind)
	assert.Equal(t, "-250", resp.Warnings[0].Value)
}

func TestPlaceOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.submitter.order = &entity.Order{
		OrderID:     7,
		Symbol:      "BTCUSDT",
		Side:        entity.OrderSideBuy,
		Type:        entity.OrderTypeLimit,
		Status:      entity.OrderStatusNew,
		Price:       decimal.NewFromInt(59000),
		OrigQty:     decimal.RequireFromString("0.01"),
		TimeInForce: entity.TimeInForceGTC,
	}

	body := `{"symbol":"btcusdt","side":"buy","type":"limit","quantity":"0.01","price":"59000","time_in_force":"gtc"}`
	rec := ts.do(http.MethodPost, "/engine/v1/orders", body, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.submitter.requests, 1)
	req := ts.submitter.requests[0]
	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.Equal(t, entity.OrderSideBuy, req.Side)
	assert.Equal(t, entity.OrderTypeLimit, req.Type)
	require.NotNil(t, req.Price)
	assert.Equal(t, "59000", req.Price.String())
	assert.Nil(t, req.StopPrice)
	assert.Equal(t, entity.TimeInForceGTC, req.TimeInForce)
	assert.Equal(t, 1, ts.locker.acquired)
	assert.Equal(t, 1, ts.locker.released)

	resp := decode[OrderResponse](t, rec)
	assert.Equal(t, int64(7), resp.OrderID)
	assert.Equal(t, "59000", resp.Price.String)
	assert.False(t, resp.AvgPrice.Valid)
	assert.False(t, resp.UpdateTime.Valid)
}

func TestPlaceOrder_Errors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		ts := newTestServer(t)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/engine/v1/orders", "{", testAPIKey).Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		ts := newTestServer(t)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/engine/v1/orders", `{"symbol":"BTCUSDT"}`, testAPIKey).Code)
	})

	t.Run("invalid quantity", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(http.MethodPost, "/engine/v1/orders", `{"symbol":"BTCUSDT","side":"BUY","type":"MARKET","quantity":"abc"}`, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, ts.submitter.requests)
	})

	t.Run("locked", func(t *testing.T) {
		ts := newTestServer(t)
		ts.locker.err = entity.ErrSymbolLocked
		rec := ts.do(http.MethodPost, "/engine/v1/orders", `{"symbol":"BTCUSDT","side":"BUY","type":"MARKET","quantity":"1"}`, testAPIKey)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, ts.submitter.requests)
	})

	t.Run("rejected order is returned", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submitter.order = &entity.Order{OrderID: 9, Status: entity.OrderStatusRejected}
		ts.submitter.err = &entity.BusinessRejection{Symbol: "BTCUSDT", Reason: "REJECTED"}
		rec := ts.do(http.MethodPost, "/engine/v1/orders", `{"symbol":"BTCUSDT","side":"BUY","type":"MARKET","quantity":"1"}`, testAPIKey)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), `"order_id":9`)
	})

	t.Run("submission failed", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submitter.err = &entity.SubmissionFailedError{Symbol: "BTCUSDT", Attempts: 3, Err: errors.New("timeout")}
		rec := ts.do(http.MethodPost, "/engine/v1/orders", `{"symbol":"BTCUSDT","side":"BUY","type":"MARKET","quantity":"1"}`, testAPIKey)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submitter.err = entity.NewValidationError("quantity", "must be positive")
		rec := ts.do(http.MethodPost, "/engine/v1/orders", `{"symbol":"BTCUSDT","side":"BUY","type":"MARKET","quantity":"0"}`, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClosePosition(t *testing.T) {
	ts := newTestServer(t)
	ts.manager.closeOrder = &entity.Order{OrderID: 11, Side: entity.OrderSideBuy, Status: entity.OrderStatusFilled, ReduceOnly: true}

	rec := ts.do(http.MethodPost, "/engine/v1/position/close", `{"symbol":"BTCUSDT"}`, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ClosePositionResponse](t, rec)
	assert.True(t, resp.Closed)
	require.NotNil(t, resp.Order)
	assert.Equal(t, int64(11), resp.Order.OrderID)
	assert.True(t, resp.Order.ReduceOnly)

	ts.manager.closeOrder = nil
	rec = ts.do(http.MethodPost, "/engine/v1/position/close", `{"symbol":"BTCUSDT"}`, testAPIKey)
	resp = decode[ClosePositionResponse](t, rec)
	assert.False(t, resp.Closed)
	assert.Nil(t, resp.Order)
}

func TestSetLeverage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/engine/v1/position/leverage", `{"symbol":"BTCUSDT","leverage":20}`, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, decode[LeverageResponse](t, rec).Leverage)

	rec = ts.do(http.MethodPost, "/engine/v1/position/leverage", `{"symbol":"BTCUSDT","leverage":500}`, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeMarginType(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/engine/v1/position/margin-type", `{"symbol":"BTCUSDT","margin_type":"isolated"}`, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entity.MarginTypeIsolated, ts.manager.margin)

	ts.manager.marginErr = &entity.HTTPError{StatusCode: http.StatusBadRequest, Code: -4047, Message: "Margin type cannot be changed if there exists position."}
	rec = ts.do(http.MethodPost, "/engine/v1/position/margin-type", `{"symbol":"BTCUSDT","margin_type":"CROSSED"}`, testAPIKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListHistory(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/engine/v1/decisions?symbol=BTCUSDT&limit=5", "", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(5), ts.records.limit)
	assert.Contains(t, rec.Body.String(), `"resulting_position":"LONG"`)

	ts.do(http.MethodGet, "/engine/v1/decisions?symbol=BTCUSDT&limit=100000", "", testAPIKey)
	assert.Equal(t, uint64(maxHistoryLimit), ts.records.limit)

	rec = ts.do(http.MethodGet, "/engine/v1/orders/history?symbol=BTCUSDT", "", testAPIKey)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/engine/v1/orders", "", testAPIKey)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
