package entity

import (
	"github.com/shopspring/decimal"
)

// SymbolRules holds the quantization increments the exchange enforces for a symbol.
type SymbolRules struct {
	Symbol       string
	PriceTick    decimal.Decimal
	QuantityStep decimal.Decimal
}

type AccountSummary struct {
	TotalMarginBalance decimal.Decimal
	AvailableBalance   decimal.Decimal
	TotalUnrealizedPnl decimal.Decimal
	WalletBalances     map[string]decimal.Decimal
}

// MarginUsed is the margin currently locked by positions and open orders.
func (a AccountSummary) MarginUsed() decimal.Decimal {
	return a.TotalMarginBalance.Sub(a.AvailableBalance)
}
