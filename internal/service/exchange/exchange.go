package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/shopspring/decimal"
)

// Gateway is the signed REST surface of a USD-M futures exchange.
type Gateway interface {
	ExchangeInfo(ctx context.Context, symbol string) (entity.SymbolRules, error)
	PlaceOrder(ctx context.Context, req entity.OrderRequest) (*entity.Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error)
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*entity.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error)
	PositionRisk(ctx context.Context, symbol string) (*entity.Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (int, error)
	ChangeMarginType(ctx context.Context, symbol string, marginType entity.MarginType) error
	OpenOrders(ctx context.Context, symbol string) ([]entity.Order, error)
	Account(ctx context.Context) (*entity.AccountSummary, error)
}

var _ Gateway = (*BinanceFuturesGateway)(nil)

func hmacSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}

	return value, nil
}

func parseOptionalDecimal(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}

	value, err := parseDecimal(field, *raw)
	if err != nil {
		return nil, err
	}

	return &value, nil
}
