package entity

import (
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// ParseDecision maps free-form advisor output to a decision; anything without buy/sell holds.
func ParseDecision(raw string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(normalized, "buy"):
		return DecisionBuy
	case strings.Contains(normalized, "sell"):
		return DecisionSell
	default:
		return DecisionHold
	}
}

// MarketSnapshot is an immutable market view handed to the decision loop for context only.
type MarketSnapshot struct {
	Symbol      string          `json:"symbol"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	IndexPrice  decimal.Decimal `json:"index_price"`
	FundingRate decimal.Decimal `json:"funding_rate"`
	EventTime   time.Time       `json:"event_time"`
}

type DecisionSignal struct {
	Symbol        string          `json:"symbol"`
	Decision      Decision        `json:"decision"`
	StrategyLabel string          `json:"strategy_label"`
	Snapshot      *MarketSnapshot `json:"snapshot,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
}

type DecisionRecord struct {
	ID                string          `db:"id" json:"id"`
	Symbol            string          `db:"symbol" json:"symbol"`
	Action            Decision        `db:"action" json:"action"`
	StrategyLabel     null.String     `db:"strategy_label" json:"strategy_label"`
	ResultingPosition PositionState   `db:"resulting_position" json:"resulting_position"`
	PositionAmount    decimal.Decimal `db:"position_amount" json:"position_amount"`
	OrderID           null.Int        `db:"order_id" json:"order_id"`
	MarkPrice         null.String     `db:"mark_price" json:"mark_price"`
	ErrorMessage      null.String     `db:"error_message" json:"error_message"`
	RecordedAt        time.Time       `db:"recorded_at" json:"recorded_at"`
}

func (d DecisionRecord) TableName() string {
	return "decision_records"
}
