package executor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/quantization"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type placeResult struct {
	order *entity.Order
	err   error
}

type fakeGateway struct {
	mu           sync.Mutex
	placeResults []placeResult
	placed       []entity.OrderRequest
	statuses     []entity.OrderStatus
	getCalls     int
	cancelCalls  int
	cancelErr    error
	clientOrder  *entity.Order
	clientCalls  []string
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req entity.OrderRequest) (*entity.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.placed = append(g.placed, req)
	if len(g.placeResults) == 0 {
		return &entity.Order{OrderID: 1, Symbol: req.Symbol, Status: entity.OrderStatusNew, OrigQty: req.Quantity}, nil
	}

	res := g.placeResults[0]
	if len(g.placeResults) > 1 {
		g.placeResults = g.placeResults[1:]
	}
	return res.order, res.err
}

func (g *fakeGateway) GetOrder(_ context.Context, symbol string, orderID int64) (*entity.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.getCalls++
	status := entity.OrderStatusNew
	if len(g.statuses) > 0 {
		status = g.statuses[0]
		if len(g.statuses) > 1 {
			g.statuses = g.statuses[1:]
		}
	}
	return &entity.Order{OrderID: orderID, Symbol: symbol, Status: status}, nil
}

func (g *fakeGateway) GetOrderByClientID(_ context.Context, _ string, clientOrderID string) (*entity.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clientCalls = append(g.clientCalls, clientOrderID)
	if g.clientOrder == nil {
		return nil, &entity.HTTPError{StatusCode: http.StatusBadRequest, Code: entity.BinanceFuturesCodeUnknownOrder, Message: "Order does not exist."}
	}
	order := *g.clientOrder
	return &order, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, symbol string, orderID int64) (*entity.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelCalls++
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &entity.Order{OrderID: orderID, Symbol: symbol, Status: entity.OrderStatusCanceled}, nil
}

type fakeQuantizer struct {
	step decimal.Decimal
	tick decimal.Decimal
}

func (q fakeQuantizer) RoundQuantity(_ context.Context, _ string, quantity decimal.Decimal) decimal.Decimal {
	return quantization.FloorToStep(quantity, q.step)
}

func (q fakeQuantizer) RoundPrice(_ context.Context, _ string, price decimal.Decimal) decimal.Decimal {
	return quantization.FloorToStep(price, q.tick)
}

type fakeRecorder struct {
	mu        sync.Mutex
	histories []*entity.OrderHistory
}

func (r *fakeRecorder) Create(_ context.Context, history *entity.OrderHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, history)
	return nil
}

type harness struct {
	gateway  *fakeGateway
	clock    *util.FakeClock
	recorder *fakeRecorder
	executor *OrderExecutor
}

func newHarness(gateway *fakeGateway) *harness {
	logger, _ := test.NewNullLogger()
	clock := util.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	recorder := &fakeRecorder{}

	return &harness{
		gateway:  gateway,
		clock:    clock,
		recorder: recorder,
		executor: NewOrderExecutor(gateway, fakeQuantizer{step: d("0.001"), tick: d("0.1")},
			WithClock(clock),
			WithLogger(logger),
			WithOrderHistoryRecorder(recorder),
		),
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func marketBuy(qty string) entity.OrderRequest {
	return entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideBuy,
		Type:     entity.OrderTypeMarket,
		Quantity: d(qty),
	}
}

func limitBuy(qty, price string) entity.OrderRequest {
	req := marketBuy(qty)
	req.Type = entity.OrderTypeLimit
	req.Price = ptr(d(price))
	return req
}

var defaultOpts = SubmitOptions{MaxRetries: 3, RetryDelay: time.Second, Timeout: 10 * time.Second}

func transportErr() error {
	return &entity.TransportError{Method: http.MethodPost, Path: "/fapi/v1/order", Err: errors.New("connection refused")}
}

func TestSubmit_RoundsQuantityDownToStep(t *testing.T) {
	h := newHarness(&fakeGateway{})

	order, err := h.executor.Submit(context.Background(), marketBuy("0.0123456"), defaultOpts)
	require.NoError(t, err)
	require.NotNil(t, order)

	require.Len(t, h.gateway.placed, 1)
	submitted := h.gateway.placed[0].Quantity
	assert.True(t, submitted.Equal(d("0.012")), "submitted %s", submitted)
	assert.True(t, submitted.LessThanOrEqual(d("0.0123456")))
	assert.True(t, submitted.Mod(d("0.001")).IsZero())
}

func TestSubmit_RoundsPriceAndDefaultsTimeInForce(t *testing.T) {
	h := newHarness(&fakeGateway{statuses: []entity.OrderStatus{entity.OrderStatusFilled}})

	_, err := h.executor.Submit(context.Background(), limitBuy("1", "30123.456"), defaultOpts)
	require.NoError(t, err)

	require.Len(t, h.gateway.placed, 1)
	placed := h.gateway.placed[0]
	require.NotNil(t, placed.Price)
	assert.True(t, placed.Price.Equal(d("30123.4")))
	assert.Equal(t, entity.TimeInForceGTC, placed.TimeInForce)
	assert.Len(t, placed.ClientOrderID, 32)
}

func TestSubmit_ValidationFailsWithoutGatewayCall(t *testing.T) {
	tests := []struct {
		name  string
		req   entity.OrderRequest
		field string
	}{
		{name: "quantity floors to zero", req: marketBuy("0.0009"), field: "quantity"},
		{name: "zero quantity", req: marketBuy("0"), field: "quantity"},
		{name: "negative quantity", req: marketBuy("-1"), field: "quantity"},
		{name: "limit without price", req: func() entity.OrderRequest {
			r := marketBuy("1")
			r.Type = entity.OrderTypeLimit
			return r
		}(), field: "price"},
		{name: "limit with zero price", req: limitBuy("1", "0"), field: "price"},
		{name: "empty symbol", req: func() entity.OrderRequest {
			r := marketBuy("1")
			r.Symbol = " "
			return r
		}(), field: "symbol"},
		{name: "invalid side", req: func() entity.OrderRequest {
			r := marketBuy("1")
			r.Side = "HOLD"
			return r
		}(), field: "side"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(&fakeGateway{})

			order, err := h.executor.Submit(context.Background(), tt.req, defaultOpts)
			assert.Nil(t, order)

			var validationErr *entity.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Empty(t, h.gateway.placed)
			assert.Empty(t, h.recorder.histories)
		})
	}
}

func TestSubmit_AllAttemptsFailReturnsNoOrder(t *testing.T) {
	h := newHarness(&fakeGateway{placeResults: []placeResult{{err: transportErr()}}})

	order, err := h.executor.Submit(context.Background(), marketBuy("1"), defaultOpts)
	assert.Nil(t, order)

	var failure *entity.SubmissionFailedError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.Attempts)
	assert.Len(t, h.gateway.placed, 3)
	assert.Len(t, h.gateway.clientCalls, 1)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.clock.Sleeps())

	require.Len(t, h.recorder.histories, 1)
	assert.Equal(t, "FAILED", h.recorder.histories[0].Status)
	assert.Equal(t, 3, h.recorder.histories[0].Attempts)
	assert.True(t, h.recorder.histories[0].ErrorMessage.Valid)
}

func TestSubmit_RetryReusesClientOrderID(t *testing.T) {
	h := newHarness(&fakeGateway{placeResults: []placeResult{
		{err: transportErr()},
		{err: &entity.HTTPError{StatusCode: http.StatusBadGateway}},
		{order: &entity.Order{OrderID: 7, Status: entity.OrderStatusFilled}},
	}})

	order, err := h.executor.Submit(context.Background(), marketBuy("1"), defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, int64(7), order.OrderID)

	require.Len(t, h.gateway.placed, 3)
	id := h.gateway.placed[0].ClientOrderID
	assert.NotEmpty(t, id)
	for _, placed := range h.gateway.placed {
		assert.Equal(t, id, placed.ClientOrderID)
	}
}

func duplicateClientOrderIDErr() error {
	return &entity.HTTPError{
		Method:     http.MethodPost,
		Path:       "/fapi/v1/order",
		StatusCode: http.StatusBadRequest,
		Code:       entity.BinanceFuturesCodeDuplicateClientOrderID,
		Message:    "ClientOrderId is duplicated.",
	}
}

func TestSubmit_DuplicateClientOrderIDAfterTransportErrorAdoptsLiveOrder(t *testing.T) {
	h := newHarness(&fakeGateway{
		placeResults: []placeResult{
			{err: transportErr()},
			{err: duplicateClientOrderIDErr()},
		},
		clientOrder: &entity.Order{OrderID: 42, Symbol: "BTCUSDT", Status: entity.OrderStatusNew},
	})

	order, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), defaultOpts)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, int64(42), order.OrderID)

	require.Len(t, h.gateway.placed, 2)
	assert.Equal(t, []string{h.gateway.placed[0].ClientOrderID}, h.gateway.clientCalls)
	assert.Equal(t, 20, h.gateway.getCalls)
	assert.Equal(t, 1, h.gateway.cancelCalls)

	require.Len(t, h.recorder.histories, 1)
	history := h.recorder.histories[0]
	assert.Equal(t, int64(42), history.OrderID.Int64)
	assert.Equal(t, 2, history.Attempts)
	assert.False(t, history.ErrorMessage.Valid)
}

func TestSubmit_DuplicateClientOrderIDOnFirstAttemptIsRejection(t *testing.T) {
	h := newHarness(&fakeGateway{
		placeResults: []placeResult{{err: duplicateClientOrderIDErr()}},
		clientOrder:  &entity.Order{OrderID: 42, Status: entity.OrderStatusNew},
	})

	order, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), defaultOpts)
	assert.Nil(t, order)

	var rejection *entity.BusinessRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, entity.BinanceFuturesCodeDuplicateClientOrderID, rejection.Code)
	assert.Empty(t, h.gateway.clientCalls)
	assert.Zero(t, h.gateway.cancelCalls)
}

func TestSubmit_ExhaustedTransportErrorsRecoverAcceptedOrder(t *testing.T) {
	h := newHarness(&fakeGateway{
		placeResults: []placeResult{{err: transportErr()}},
		clientOrder:  &entity.Order{OrderID: 5, Symbol: "BTCUSDT", Status: entity.OrderStatusFilled},
	})

	order, err := h.executor.Submit(context.Background(), marketBuy("1"), defaultOpts)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, int64(5), order.OrderID)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)

	assert.Len(t, h.gateway.placed, 3)
	assert.Len(t, h.gateway.clientCalls, 1)
	require.Len(t, h.recorder.histories, 1)
	assert.Equal(t, int64(5), h.recorder.histories[0].OrderID.Int64)
}

func TestSubmit_BusinessRejectionIsNotRetried(t *testing.T) {
	h := newHarness(&fakeGateway{placeResults: []placeResult{
		{err: &entity.HTTPError{StatusCode: http.StatusBadRequest, Code: -2019, Message: "Margin is insufficient."}},
	}})

	order, err := h.executor.Submit(context.Background(), marketBuy("1"), defaultOpts)
	assert.Nil(t, order)

	var rejection *entity.BusinessRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, -2019, rejection.Code)
	assert.Equal(t, "Margin is insufficient.", rejection.Reason)
	assert.Len(t, h.gateway.placed, 1)
	assert.Empty(t, h.clock.Sleeps())
}

func TestSubmit_RejectedStatusReturnsOrderAndRejection(t *testing.T) {
	h := newHarness(&fakeGateway{placeResults: []placeResult{
		{order: &entity.Order{OrderID: 9, Status: entity.OrderStatusRejected}},
	}})

	order, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), defaultOpts)
	require.NotNil(t, order)
	assert.Equal(t, entity.OrderStatusRejected, order.Status)

	var rejection *entity.BusinessRejection
	assert.ErrorAs(t, err, &rejection)
	assert.Len(t, h.gateway.placed, 1)
	assert.Zero(t, h.gateway.getCalls)
}

func TestSubmit_LimitFilledBeforeTimeoutIsNotCancelled(t *testing.T) {
	h := newHarness(&fakeGateway{statuses: []entity.OrderStatus{
		entity.OrderStatusNew,
		entity.OrderStatusPartiallyFilled,
		entity.OrderStatusFilled,
	}})

	order, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), defaultOpts)
	require.NoError(t, err)

	assert.Equal(t, entity.OrderStatusFilled, order.Status)
	assert.Equal(t, 3, h.gateway.getCalls)
	assert.Zero(t, h.gateway.cancelCalls)
	for _, sleep := range h.clock.Sleeps() {
		assert.Equal(t, 500*time.Millisecond, sleep)
	}
}

func TestSubmit_LimitTimeoutCancelsExactlyOnce(t *testing.T) {
	h := newHarness(&fakeGateway{})

	order, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), defaultOpts)
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, entity.OrderStatusNew, order.Status)
	assert.Equal(t, 1, h.gateway.cancelCalls)
	assert.Equal(t, 20, h.gateway.getCalls)

	require.Len(t, h.recorder.histories, 1)
	assert.Equal(t, "NEW", h.recorder.histories[0].Status)
}

func TestSubmit_LimitTimeoutCancelFailureStillReturnsOrder(t *testing.T) {
	h := newHarness(&fakeGateway{cancelErr: transportErr()})

	order, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), SubmitOptions{MaxRetries: 1, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusNew, order.Status)
	assert.Equal(t, 1, h.gateway.cancelCalls)
}

func TestSubmit_MarketOrderIsNotPolled(t *testing.T) {
	h := newHarness(&fakeGateway{})

	order, err := h.executor.Submit(context.Background(), marketBuy("1"), defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusNew, order.Status)
	assert.Zero(t, h.gateway.getCalls)
	assert.Zero(t, h.gateway.cancelCalls)
}

func TestSubmit_ZeroTimeoutDoesNotWait(t *testing.T) {
	h := newHarness(&fakeGateway{})

	_, err := h.executor.Submit(context.Background(), limitBuy("1", "100"), SubmitOptions{MaxRetries: 1})
	require.NoError(t, err)
	assert.Zero(t, h.gateway.getCalls)
	assert.Zero(t, h.gateway.cancelCalls)
}

func TestCancelAndCheckStatus_Validation(t *testing.T) {
	h := newHarness(&fakeGateway{})
	ctx := context.Background()

	_, err := h.executor.Cancel(ctx, "", 1)
	var validationErr *entity.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = h.executor.Cancel(ctx, "BTCUSDT", 0)
	assert.ErrorAs(t, err, &validationErr)

	_, err = h.executor.CheckStatus(ctx, "BTCUSDT", -1)
	assert.ErrorAs(t, err, &validationErr)

	assert.Zero(t, h.gateway.cancelCalls)
	assert.Zero(t, h.gateway.getCalls)
}

func TestCancelAndCheckStatus_PassThrough(t *testing.T) {
	h := newHarness(&fakeGateway{statuses: []entity.OrderStatus{entity.OrderStatusPartiallyFilled}})
	ctx := context.Background()

	order, err := h.executor.Cancel(ctx, "BTCUSDT", 11)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCanceled, order.Status)

	status, err := h.executor.CheckStatus(ctx, "BTCUSDT", 11)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPartiallyFilled, status)
	assert.Equal(t, 1, h.gateway.cancelCalls)
}

func TestNewClientOrderID(t *testing.T) {
	id := NewClientOrderID()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, NewClientOrderID())
}
