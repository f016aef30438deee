package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/shopspring/decimal"
)

const (
	pathExchangeInfo = "/fapi/v1/exchangeInfo"
	pathOrder        = "/fapi/v1/order"
	pathOpenOrders   = "/fapi/v1/openOrders"
	pathPositionRisk = "/fapi/v2/positionRisk"
	pathLeverage     = "/fapi/v1/leverage"
	pathMarginType   = "/fapi/v1/marginType"
	pathAccount      = "/fapi/v2/account"

	filterTypePrice   = "PRICE_FILTER"
	filterTypeLotSize = "LOT_SIZE"
	quoteAssetUSDT    = "USDT"
)

// ExchangeInfo returns the PRICE_FILTER tick and LOT_SIZE step of symbol.
func (g *BinanceFuturesGateway) ExchangeInfo(ctx context.Context, symbol string) (entity.SymbolRules, error) {
	var info entity.BinanceFuturesExchangeInfo
	if err := g.requestJSON(ctx, http.MethodGet, pathExchangeInfo, nil, false, &info); err != nil {
		return entity.SymbolRules{}, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		return symbolRulesFromInfo(s)
	}

	return entity.SymbolRules{}, fmt.Errorf("%s: %w", symbol, entity.ErrSymbolRulesNotFound)
}

func symbolRulesFromInfo(info entity.BinanceFuturesSymbolInfo) (entity.SymbolRules, error) {
	rules := entity.SymbolRules{Symbol: info.Symbol}

	for _, filter := range info.Filters {
		switch filter.FilterType {
		case filterTypePrice:
			tick, err := parseDecimal("tickSize", filter.TickSize)
			if err != nil {
				return entity.SymbolRules{}, err
			}
			rules.PriceTick = tick
		case filterTypeLotSize:
			step, err := parseDecimal("stepSize", filter.StepSize)
			if err != nil {
				return entity.SymbolRules{}, err
			}
			rules.QuantityStep = step
		}
	}

	if !rules.PriceTick.IsPositive() || !rules.QuantityStep.IsPositive() {
		return entity.SymbolRules{}, fmt.Errorf("%s missing price or lot size filter: %w", info.Symbol, entity.ErrSymbolRulesNotFound)
	}

	return rules, nil
}

func (g *BinanceFuturesGateway) PlaceOrder(ctx context.Context, req entity.OrderRequest) (*entity.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())

	if req.ClosePosition {
		params.Set("closePosition", "true")
	} else {
		params.Set("reduceOnly", strconv.FormatBool(req.ReduceOnly))
	}
	if req.Price != nil {
		params.Set("price", req.Price.String())
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if req.StopPrice != nil {
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var resp entity.BinanceFuturesOrderResponse
	if err := g.requestJSON(ctx, http.MethodPost, pathOrder, params, true, &resp); err != nil {
		return nil, err
	}

	return orderFromResponse(resp)
}

func (g *BinanceFuturesGateway) GetOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error) {
	var resp entity.BinanceFuturesOrderResponse
	if err := g.requestJSON(ctx, http.MethodGet, pathOrder, orderParams(symbol, orderID), true, &resp); err != nil {
		return nil, err
	}

	return orderFromResponse(resp)
}

// GetOrderByClientID looks an order up by the newClientOrderId it was submitted with.
func (g *BinanceFuturesGateway) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*entity.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var resp entity.BinanceFuturesOrderResponse
	if err := g.requestJSON(ctx, http.MethodGet, pathOrder, params, true, &resp); err != nil {
		return nil, err
	}

	return orderFromResponse(resp)
}

func (g *BinanceFuturesGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error) {
	var resp entity.BinanceFuturesOrderResponse
	if err := g.requestJSON(ctx, http.MethodDelete, pathOrder, orderParams(symbol, orderID), true, &resp); err != nil {
		return nil, err
	}

	return orderFromResponse(resp)
}

func (g *BinanceFuturesGateway) OpenOrders(ctx context.Context, symbol string) ([]entity.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var resp []entity.BinanceFuturesOrderResponse
	if err := g.requestJSON(ctx, http.MethodGet, pathOpenOrders, params, true, &resp); err != nil {
		return nil, err
	}

	orders := make([]entity.Order, 0, len(resp))
	for _, r := range resp {
		order, err := orderFromResponse(r)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	return orders, nil
}

// PositionRisk returns the one-way (BOTH) position of symbol. A symbol with no entry is flat.
func (g *BinanceFuturesGateway) PositionRisk(ctx context.Context, symbol string) (*entity.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []entity.BinanceFuturesPositionRisk
	if err := g.requestJSON(ctx, http.MethodGet, pathPositionRisk, params, true, &resp); err != nil {
		return nil, err
	}

	for _, risk := range resp {
		if !strings.EqualFold(risk.Symbol, symbol) {
			continue
		}
		if risk.PositionSide != "" && risk.PositionSide != entity.BinanceFuturesPositionSideBoth {
			continue
		}
		return positionFromRisk(risk, g.clock.Now())
	}

	flat := entity.FlatPosition(symbol, g.clock.Now().UTC())
	return &flat, nil
}

func (g *BinanceFuturesGateway) SetLeverage(ctx context.Context, symbol string, leverage int) (int, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	var resp entity.BinanceFuturesLeverageResponse
	if err := g.requestJSON(ctx, http.MethodPost, pathLeverage, params, true, &resp); err != nil {
		return 0, err
	}

	return resp.Leverage, nil
}

func (g *BinanceFuturesGateway) ChangeMarginType(ctx context.Context, symbol string, marginType entity.MarginType) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", string(marginType))

	_, err := g.Request(ctx, http.MethodPost, pathMarginType, params, true)
	return err
}

func (g *BinanceFuturesGateway) Account(ctx context.Context) (*entity.AccountSummary, error) {
	var resp entity.BinanceFuturesAccountResponse
	if err := g.requestJSON(ctx, http.MethodGet, pathAccount, nil, true, &resp); err != nil {
		return nil, err
	}

	totalMargin, err := parseDecimal("totalMarginBalance", resp.TotalMarginBalance)
	if err != nil {
		return nil, err
	}
	available, err := parseDecimal("availableBalance", resp.AvailableBalance)
	if err != nil {
		return nil, err
	}
	unrealized, err := parseDecimal("totalUnrealizedProfit", resp.TotalUnrealizedProfit)
	if err != nil {
		return nil, err
	}

	summary := &entity.AccountSummary{
		TotalMarginBalance: totalMargin,
		AvailableBalance:   available,
		TotalUnrealizedPnl: unrealized,
		WalletBalances:     make(map[string]decimal.Decimal, len(resp.Assets)),
	}

	for _, asset := range resp.Assets {
		balance, err := parseDecimal("walletBalance", asset.WalletBalance)
		if err != nil {
			return nil, err
		}
		summary.WalletBalances[asset.Asset] = balance
	}

	return summary, nil
}

// USDTBalance returns the USDT wallet balance, zero when the account holds none.
func USDTBalance(summary *entity.AccountSummary) decimal.Decimal {
	if summary == nil {
		return decimal.Zero
	}
	return summary.WalletBalances[quoteAssetUSDT]
}

func orderParams(symbol string, orderID int64) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return params
}

func orderFromResponse(resp entity.BinanceFuturesOrderResponse) (*entity.Order, error) {
	price, err := parseDecimal("price", resp.Price)
	if err != nil {
		return nil, err
	}
	avgPrice, err := parseDecimal("avgPrice", resp.AvgPrice)
	if err != nil {
		return nil, err
	}
	stopPrice, err := parseDecimal("stopPrice", resp.StopPrice)
	if err != nil {
		return nil, err
	}
	origQty, err := parseDecimal("origQty", resp.OrigQty)
	if err != nil {
		return nil, err
	}
	executedQty, err := parseDecimal("executedQty", resp.ExecutedQty)
	if err != nil {
		return nil, err
	}

	order := &entity.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          entity.OrderSide(resp.Side),
		Type:          entity.OrderType(resp.Type),
		Status:        entity.OrderStatus(resp.Status),
		Price:         price,
		AvgPrice:      avgPrice,
		StopPrice:     stopPrice,
		OrigQty:       origQty,
		ExecutedQty:   executedQty,
		ReduceOnly:    resp.ReduceOnly,
		TimeInForce:   entity.TimeInForce(resp.TimeInForce),
	}
	if resp.UpdateTime > 0 {
		order.UpdateTime = time.UnixMilli(resp.UpdateTime).UTC()
	}

	return order, nil
}

func positionFromRisk(risk entity.BinanceFuturesPositionRisk, now time.Time) (*entity.Position, error) {
	amount, err := parseDecimal("positionAmt", risk.PositionAmt)
	if err != nil {
		return nil, err
	}
	entryPrice, err := parseDecimal("entryPrice", risk.EntryPrice)
	if err != nil {
		return nil, err
	}
	markPrice, err := parseDecimal("markPrice", risk.MarkPrice)
	if err != nil {
		return nil, err
	}
	unrealized, err := parseDecimal("unRealizedProfit", risk.UnRealizedProfit)
	if err != nil {
		return nil, err
	}
	liquidation, err := parseDecimal("liquidationPrice", risk.LiquidationPrice)
	if err != nil {
		return nil, err
	}
	isolatedMargin, err := parseOptionalDecimal("isolatedMargin", risk.IsolatedMargin)
	if err != nil {
		return nil, err
	}
	maintMargin, err := parseOptionalDecimal("maintMargin", risk.MaintMargin)
	if err != nil {
		return nil, err
	}

	leverage := 1
	if raw := strings.TrimSpace(risk.Leverage); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid leverage %q: %w", raw, err)
		}
		if parsed > 0 {
			leverage = parsed
		}
	}

	marginType := entity.MarginTypeCrossed
	if strings.EqualFold(risk.MarginType, "isolated") {
		marginType = entity.MarginTypeIsolated
	}

	updatedAt := now.UTC()
	if risk.UpdateTime > 0 {
		updatedAt = time.UnixMilli(risk.UpdateTime).UTC()
	}

	return &entity.Position{
		Symbol:           risk.Symbol,
		Amount:           amount,
		EntryPrice:       entryPrice,
		MarkPrice:        markPrice,
		Leverage:         leverage,
		MarginType:       marginType,
		UnrealizedPnl:    unrealized,
		LiquidationPrice: liquidation,
		IsolatedMargin:   isolatedMargin,
		MaintMargin:      maintMargin,
		UpdatedAt:        updatedAt,
	}, nil
}
