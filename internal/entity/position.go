package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type MarginType string
type PositionState string

const (
	MarginTypeCrossed  MarginType = "CROSSED"
	MarginTypeIsolated MarginType = "ISOLATED"

	PositionStateFlat    PositionState = "FLAT"
	PositionStateLong    PositionState = "LONG"
	PositionStateShort   PositionState = "SHORT"
	PositionStateUnknown PositionState = "UNKNOWN"
)

func (m MarginType) IsValid() bool {
	return m == MarginTypeCrossed || m == MarginTypeIsolated
}

// Position is a point-in-time snapshot of one symbol's open position.
// Amount is signed: >0 long, <0 short, 0 flat.
type Position struct {
	Symbol           string           `json:"symbol"`
	Amount           decimal.Decimal  `json:"amount"`
	EntryPrice       decimal.Decimal  `json:"entry_price"`
	MarkPrice        decimal.Decimal  `json:"mark_price"`
	Leverage         int              `json:"leverage"`
	MarginType       MarginType       `json:"margin_type"`
	UnrealizedPnl    decimal.Decimal  `json:"unrealized_pnl"`
	LiquidationPrice decimal.Decimal  `json:"liquidation_price"`
	IsolatedMargin   *decimal.Decimal `json:"isolated_margin,omitempty"`
	MaintMargin      *decimal.Decimal `json:"maint_margin,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func FlatPosition(symbol string, at time.Time) Position {
	return Position{
		Symbol:     symbol,
		Leverage:   1,
		MarginType: MarginTypeCrossed,
		UpdatedAt:  at,
	}
}

func (p Position) State() PositionState {
	switch p.Amount.Sign() {
	case 1:
		return PositionStateLong
	case -1:
		return PositionStateShort
	default:
		return PositionStateFlat
	}
}

func (p Position) IsOpen() bool {
	return !p.Amount.IsZero()
}

// CloseSide is the side of the order that flattens the position.
// The second return value is false for a flat position.
func (p Position) CloseSide() (OrderSide, bool) {
	switch p.Amount.Sign() {
	case 1:
		return OrderSideSell, true
	case -1:
		return OrderSideBuy, true
	default:
		return "", false
	}
}

// MarginRatio returns isolatedMargin / maintMargin when both are known and maintMargin is non-zero.
func (p Position) MarginRatio() (decimal.Decimal, bool) {
	if p.IsolatedMargin == nil || p.MaintMargin == nil || p.MaintMargin.IsZero() {
		return decimal.Zero, false
	}
	return p.IsolatedMargin.Div(*p.MaintMargin), true
}
