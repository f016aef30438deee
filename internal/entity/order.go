package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type OrderType string
type OrderSide string
type OrderStatus string
type TimeInForce string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeLimit              OrderType = "LIMIT"
	OrderTypeMarket             OrderType = "MARKET"
	OrderTypeStop               OrderType = "STOP"
	OrderTypeStopMarket         OrderType = "STOP_MARKET"
	OrderTypeTakeProfit         OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket   OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"

	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"

	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTX TimeInForce = "GTX"
)

func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the side that reduces a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (t OrderType) IsValid() bool {
	switch t {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStop, OrderTypeStopMarket,
		OrderTypeTakeProfit, OrderTypeTakeProfitMarket, OrderTypeTrailingStopMarket:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the exchange will no longer change the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	TimeInForce   TimeInForce
	ClientOrderID string
	Source        string
}

type Order struct {
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Status        OrderStatus     `json:"status"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	OrigQty       decimal.Decimal `json:"orig_qty"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	ReduceOnly    bool            `json:"reduce_only"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	UpdateTime    time.Time       `json:"update_time"`
}

type OrderHistory struct {
	ID             string           `db:"id" json:"id"`
	Symbol         string           `db:"symbol" json:"symbol"`
	OrderID        null.Int         `db:"order_id" json:"order_id"`
	ClientOrderID  string           `db:"client_order_id" json:"client_order_id"`
	Side           OrderSide        `db:"side" json:"side"`
	Type           OrderType        `db:"type" json:"type"`
	Price          *decimal.Decimal `db:"price" json:"price"`
	Quantity       decimal.Decimal  `db:"quantity" json:"quantity"`
	FilledQuantity decimal.Decimal  `db:"filled_quantity" json:"filled_quantity"`
	AvgFillPrice   *decimal.Decimal `db:"avg_fill_price" json:"avg_fill_price"`
	Status         string           `db:"status" json:"status"`
	ReduceOnly     bool             `db:"reduce_only" json:"reduce_only"`
	Attempts       int              `db:"attempts" json:"attempts"`
	Source         null.String      `db:"source" json:"source"`
	ErrorMessage   null.String      `db:"error_message" json:"error_message"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      null.Time        `db:"updated_at" json:"updated_at"`
}

func (o OrderHistory) TableName() string {
	return "order_histories"
}
