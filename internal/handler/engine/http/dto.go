package http

import (
	"errors"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/shopspring/decimal"
)

type PlaceOrderRequest struct {
	ApiKey        string `json:"api_key"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	StopPrice     string `json:"stop_price"`
	TimeInForce   string `json:"time_in_force"`
	ReduceOnly    bool   `json:"reduce_only"`
	ClosePosition bool   `json:"close_position"`
	ClientOrderID string `json:"client_order_id"`
}

type SymbolRequest struct {
	ApiKey string `json:"api_key"`
	Symbol string `json:"symbol"`
}

type LeverageRequest struct {
	ApiKey   string `json:"api_key"`
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

type MarginTypeRequest struct {
	ApiKey     string `json:"api_key"`
	Symbol     string `json:"symbol"`
	MarginType string `json:"margin_type"`
}

type OrderResponse struct {
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	Price         null.String `json:"price"`
	AvgPrice      null.String `json:"avg_price"`
	StopPrice     null.String `json:"stop_price"`
	OrigQty       string      `json:"orig_qty"`
	ExecutedQty   string      `json:"executed_qty"`
	ReduceOnly    bool        `json:"reduce_only"`
	TimeInForce   null.String `json:"time_in_force"`
	UpdateTime    null.Int    `json:"update_time"`
}

type PositionResponse struct {
	Symbol           string      `json:"symbol"`
	State            string      `json:"state"`
	Amount           string      `json:"amount"`
	EntryPrice       string      `json:"entry_price"`
	MarkPrice        string      `json:"mark_price"`
	Leverage         int         `json:"leverage"`
	MarginType       string      `json:"margin_type"`
	UnrealizedPnl    string      `json:"unrealized_pnl"`
	LiquidationPrice string      `json:"liquidation_price"`
	IsolatedMargin   null.String `json:"isolated_margin"`
	MaintMargin      null.String `json:"maint_margin"`
	UpdatedAt        null.Int    `json:"updated_at"`
}

type ClosePositionResponse struct {
	Symbol string         `json:"symbol"`
	Closed bool           `json:"closed"`
	Order  *OrderResponse `json:"order,omitempty"`
}

type LeverageResponse struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

type MarginTypeResponse struct {
	Symbol     string `json:"symbol"`
	MarginType string `json:"margin_type"`
}

type RiskWarningResponse struct {
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Threshold string `json:"threshold"`
	Message   string `json:"message"`
}

type RiskResponse struct {
	Symbol   string                `json:"symbol"`
	Warnings []RiskWarningResponse `json:"warnings"`
}

func mapHTTPRequestToOrderRequest(req *PlaceOrderRequest) (entity.OrderRequest, error) {
	quantity, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil {
		return entity.OrderRequest{}, errors.New("invalid quantity")
	}

	price, err := optionalDecimal(req.Price)
	if err != nil {
		return entity.OrderRequest{}, errors.New("invalid price")
	}

	stopPrice, err := optionalDecimal(req.StopPrice)
	if err != nil {
		return entity.OrderRequest{}, errors.New("invalid stop_price")
	}

	return entity.OrderRequest{
		Symbol:        strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:          entity.OrderSide(strings.ToUpper(strings.TrimSpace(req.Side))),
		Type:          entity.OrderType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Quantity:      quantity,
		Price:         price,
		StopPrice:     stopPrice,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		TimeInForce:   entity.TimeInForce(strings.ToUpper(strings.TrimSpace(req.TimeInForce))),
		ClientOrderID: strings.TrimSpace(req.ClientOrderID),
		Source:        "operator_api",
	}, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}

	return &value, nil
}

func decimalOrNull(value decimal.Decimal) null.String {
	return null.NewString(value.String(), !value.IsZero())
}

func decimalPtrOrNull(value *decimal.Decimal) null.String {
	if value == nil {
		return null.String{}
	}

	return null.StringFrom(value.String())
}

func unixMilliOrNull(value time.Time) null.Int {
	return null.NewInt(value.UnixMilli(), !value.IsZero())
}

func mapOrderToHTTPResponse(order *entity.Order) *OrderResponse {
	if order == nil {
		return nil
	}

	return &OrderResponse{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Status:        string(order.Status),
		Price:         decimalOrNull(order.Price),
		AvgPrice:      decimalOrNull(order.AvgPrice),
		StopPrice:     decimalOrNull(order.StopPrice),
		OrigQty:       order.OrigQty.String(),
		ExecutedQty:   order.ExecutedQty.String(),
		ReduceOnly:    order.ReduceOnly,
		TimeInForce:   null.NewString(string(order.TimeInForce), order.TimeInForce != ""),
		UpdateTime:    unixMilliOrNull(order.UpdateTime),
	}
}

func mapPositionToHTTPResponse(pos entity.Position) *PositionResponse {
	return &PositionResponse{
		Symbol:           pos.Symbol,
		State:            string(pos.State()),
		Amount:           pos.Amount.String(),
		EntryPrice:       pos.EntryPrice.String(),
		MarkPrice:        pos.MarkPrice.String(),
		Leverage:         pos.Leverage,
		MarginType:       string(pos.MarginType),
		UnrealizedPnl:    pos.UnrealizedPnl.String(),
		LiquidationPrice: pos.LiquidationPrice.String(),
		IsolatedMargin:   decimalPtrOrNull(pos.IsolatedMargin),
		MaintMargin:      decimalPtrOrNull(pos.MaintMargin),
		UpdatedAt:        unixMilliOrNull(pos.UpdatedAt),
	}
}

func mapRiskWarningsToHTTPResponse(symbol string, warnings []position.RiskWarning) *RiskResponse {
	resp := &RiskResponse{Symbol: symbol, Warnings: make([]RiskWarningResponse, 0, len(warnings))}
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, RiskWarningResponse{
			Kind:      string(w.Kind),
			Value:     w.Value.String(),
			Threshold: w.Threshold.String(),
			Message:   w.Message,
		})
	}

	return resp
}
