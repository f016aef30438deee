package position

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/executor"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	positions     []*entity.Position
	riskErr       error
	riskCalls     int
	leverageCalls int
	marginErr     error
	marginCalls   int
}

func (g *fakeGateway) PositionRisk(_ context.Context, symbol string) (*entity.Position, error) {
	g.riskCalls++
	if g.riskErr != nil {
		return nil, g.riskErr
	}
	if len(g.positions) == 0 {
		flat := entity.FlatPosition(symbol, time.Unix(0, 0))
		return &flat, nil
	}
	pos := g.positions[0]
	if len(g.positions) > 1 {
		g.positions = g.positions[1:]
	}
	return pos, nil
}

func (g *fakeGateway) SetLeverage(_ context.Context, _ string, leverage int) (int, error) {
	g.leverageCalls++
	return leverage, nil
}

func (g *fakeGateway) ChangeMarginType(_ context.Context, _ string, _ entity.MarginType) error {
	g.marginCalls++
	return g.marginErr
}

type fakeSubmitter struct {
	requests []entity.OrderRequest
	opts     []executor.SubmitOptions
	err      error
}

func (s *fakeSubmitter) Submit(_ context.Context, req entity.OrderRequest, opts executor.SubmitOptions) (*entity.Order, error) {
	s.requests = append(s.requests, req)
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Order{OrderID: 99, Symbol: req.Symbol, Side: req.Side, Status: entity.OrderStatusFilled, ExecutedQty: req.Quantity}, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func positionWithAmount(amount string) *entity.Position {
	return &entity.Position{
		Symbol:        "BTCUSDT",
		Amount:        d(amount),
		EntryPrice:    d("100"),
		Leverage:      10,
		MarginType:    entity.MarginTypeCrossed,
		UnrealizedPnl: d("5"),
	}
}

func newManager(gw *fakeGateway, sub *fakeSubmitter, opts ...Option) *Manager {
	logger, _ := test.NewNullLogger()
	return NewManager("btcusdt", gw, sub, append([]Option{WithLogger(logger)}, opts...)...)
}

func TestRefresh_StoresSnapshot(t *testing.T) {
	gw := &fakeGateway{positions: []*entity.Position{positionWithAmount("0.5")}}
	m := newManager(gw, &fakeSubmitter{})

	_, ok := m.Snapshot()
	assert.False(t, ok)

	require.NoError(t, m.Refresh(context.Background()))

	pos, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.True(t, m.IsPositionOpen())
	assert.True(t, m.PositionAmount().Equal(d("0.5")))
	assert.True(t, m.EntryPrice().Equal(d("100")))
	assert.True(t, m.UnrealizedPnl().Equal(d("5")))
	assert.Equal(t, entity.MarginTypeCrossed, m.MarginType())

	state, known := m.State()
	assert.True(t, known)
	assert.Equal(t, entity.PositionStateLong, state)
}

func TestRefresh_FailureClearsSnapshot(t *testing.T) {
	gw := &fakeGateway{positions: []*entity.Position{positionWithAmount("-3")}}
	var observed []bool
	m := newManager(gw, &fakeSubmitter{}, WithStateObserver(func(_ string, known bool) {
		observed = append(observed, known)
	}))

	require.NoError(t, m.Refresh(context.Background()))
	require.True(t, m.IsPositionOpen())

	gw.riskErr = &entity.TransportError{Method: http.MethodGet, Path: "/fapi/v2/positionRisk", Err: errors.New("timeout")}
	err := m.Refresh(context.Background())

	var stale *entity.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "BTCUSDT", stale.Symbol)

	_, ok := m.Snapshot()
	assert.False(t, ok)
	assert.False(t, m.IsPositionOpen())
	assert.True(t, m.PositionAmount().IsZero())

	state, known := m.State()
	assert.False(t, known)
	assert.Equal(t, entity.PositionStateFlat, state)
	assert.Equal(t, []bool{true, false}, observed)
}

func TestClose_ShortPositionBuysAbsoluteAmount(t *testing.T) {
	gw := &fakeGateway{positions: []*entity.Position{positionWithAmount("-2.5")}}
	sub := &fakeSubmitter{}
	opts := executor.SubmitOptions{MaxRetries: 3, RetryDelay: time.Second}
	m := newManager(gw, sub, WithSubmitOptions(opts))

	order, err := m.Close(context.Background())
	require.NoError(t, err)
	require.NotNil(t, order)

	require.Len(t, sub.requests, 1)
	req := sub.requests[0]
	assert.Equal(t, entity.OrderSideBuy, req.Side)
	assert.Equal(t, entity.OrderTypeMarket, req.Type)
	assert.True(t, req.Quantity.Equal(d("2.5")))
	assert.True(t, req.ReduceOnly)
	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.Equal(t, opts, sub.opts[0])
	assert.Equal(t, 1, gw.riskCalls)
}

func TestClose_LongPositionSells(t *testing.T) {
	gw := &fakeGateway{positions: []*entity.Position{positionWithAmount("0.75")}}
	sub := &fakeSubmitter{}
	m := newManager(gw, sub)

	_, err := m.Close(context.Background())
	require.NoError(t, err)

	require.Len(t, sub.requests, 1)
	assert.Equal(t, entity.OrderSideSell, sub.requests[0].Side)
	assert.True(t, sub.requests[0].Quantity.Equal(d("0.75")))
}

func TestClose_FlatPositionPlacesNoOrder(t *testing.T) {
	gw := &fakeGateway{positions: []*entity.Position{positionWithAmount("0")}}
	sub := &fakeSubmitter{}
	m := newManager(gw, sub)

	order, err := m.Close(context.Background())
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Empty(t, sub.requests)
}

func TestClose_UsesFreshSnapshot(t *testing.T) {
	gw := &fakeGateway{positions: []*entity.Position{positionWithAmount("1"), positionWithAmount("-4")}}
	sub := &fakeSubmitter{}
	m := newManager(gw, sub)

	require.NoError(t, m.Refresh(context.Background()))
	_, err := m.Close(context.Background())
	require.NoError(t, err)

	require.Len(t, sub.requests, 1)
	assert.Equal(t, entity.OrderSideBuy, sub.requests[0].Side)
	assert.True(t, sub.requests[0].Quantity.Equal(d("4")))
}

func TestClose_RefreshFailurePlacesNoOrder(t *testing.T) {
	gw := &fakeGateway{riskErr: errors.New("boom")}
	sub := &fakeSubmitter{}
	m := newManager(gw, sub)

	order, err := m.Close(context.Background())
	assert.Nil(t, order)

	var stale *entity.StaleStateError
	assert.ErrorAs(t, err, &stale)
	assert.Empty(t, sub.requests)
}

func TestSetLeverage(t *testing.T) {
	gw := &fakeGateway{}
	m := newManager(gw, &fakeSubmitter{})

	for _, invalid := range []int{0, -1, 126} {
		_, err := m.SetLeverage(context.Background(), invalid)
		var validationErr *entity.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	}
	assert.Zero(t, gw.leverageCalls)

	applied, err := m.SetLeverage(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 20, applied)
	assert.Equal(t, 1, gw.leverageCalls)
}

func TestLeverage_ReadsFreshSnapshot(t *testing.T) {
	pos := positionWithAmount("1")
	pos.Leverage = 15
	m := newManager(&fakeGateway{positions: []*entity.Position{pos}}, &fakeSubmitter{})

	leverage, err := m.Leverage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, leverage)
}

func TestChangeMarginType(t *testing.T) {
	t.Run("already set is success", func(t *testing.T) {
		gw := &fakeGateway{marginErr: &entity.HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       entity.BinanceFuturesCodeNoNeedToChangeMarginType,
			Message:    "No need to change margin type.",
		}}
		m := newManager(gw, &fakeSubmitter{})

		assert.NoError(t, m.ChangeMarginType(context.Background(), "isolated"))
		assert.Equal(t, 1, gw.marginCalls)
	})

	t.Run("other errors are returned without retry", func(t *testing.T) {
		gw := &fakeGateway{marginErr: &entity.HTTPError{StatusCode: http.StatusBadRequest, Code: -4047}}
		m := newManager(gw, &fakeSubmitter{})

		assert.Error(t, m.ChangeMarginType(context.Background(), entity.MarginTypeIsolated))
		assert.Equal(t, 1, gw.marginCalls)
	})

	t.Run("invalid mode", func(t *testing.T) {
		gw := &fakeGateway{}
		m := newManager(gw, &fakeSubmitter{})

		var validationErr *entity.ValidationError
		assert.ErrorAs(t, m.ChangeMarginType(context.Background(), "PORTFOLIO"), &validationErr)
		assert.Zero(t, gw.marginCalls)
	})
}
