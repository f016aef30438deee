package quantization

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type RulesFetcher interface {
	ExchangeInfo(ctx context.Context, symbol string) (entity.SymbolRules, error)
}

// RulesCache lazily loads and keeps per-symbol quantization rules for the process lifetime.
type RulesCache struct {
	fetcher RulesFetcher
	logger  logrus.FieldLogger

	mu    sync.RWMutex
	rules map[string]entity.SymbolRules

	inflight singleflight.Group
}

func NewRulesCache(fetcher RulesFetcher, logger logrus.FieldLogger) *RulesCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &RulesCache{
		fetcher: fetcher,
		logger:  logger,
		rules:   make(map[string]entity.SymbolRules),
	}
}

func (c *RulesCache) GetRules(ctx context.Context, symbol string) (entity.SymbolRules, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if rules, ok := c.cached(symbol); ok {
		return rules, nil
	}

	// concurrent first lookups of one symbol share a single fetch
	result, err, _ := c.inflight.Do(symbol, func() (any, error) {
		if rules, ok := c.cached(symbol); ok {
			return rules, nil
		}

		rules, err := c.fetcher.ExchangeInfo(ctx, symbol)
		if err != nil {
			return entity.SymbolRules{}, err
		}

		c.mu.Lock()
		c.rules[symbol] = rules
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{
			"symbol":        symbol,
			"price_tick":    rules.PriceTick.String(),
			"quantity_step": rules.QuantityStep.String(),
		}).Info("symbol rules cached")

		return rules, nil
	})
	if err != nil {
		return entity.SymbolRules{}, err
	}

	return result.(entity.SymbolRules), nil
}

func (c *RulesCache) cached(symbol string) (entity.SymbolRules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rules, ok := c.rules[symbol]
	return rules, ok
}

// RoundQuantity floors quantity to the symbol's lot step. The input is returned unchanged
// when it is not positive or the rules cannot be loaded.
func (c *RulesCache) RoundQuantity(ctx context.Context, symbol string, quantity decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() {
		return quantity
	}

	rules, err := c.GetRules(ctx, symbol)
	if err != nil {
		c.logRulesUnavailable(symbol, err)
		return quantity
	}

	return FloorToStep(quantity, rules.QuantityStep)
}

// RoundPrice floors price to the symbol's tick size with the same fallbacks as RoundQuantity.
func (c *RulesCache) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return price
	}

	rules, err := c.GetRules(ctx, symbol)
	if err != nil {
		c.logRulesUnavailable(symbol, err)
		return price
	}

	return FloorToStep(price, rules.PriceTick)
}

func (c *RulesCache) logRulesUnavailable(symbol string, err error) {
	entry := c.logger.WithField("symbol", symbol)
	if errors.Is(err, entity.ErrSymbolRulesNotFound) {
		entry.Warn("symbol rules not listed, value left unrounded")
		return
	}
	entry.WithError(err).Warn("failed to load symbol rules, value left unrounded")
}

// FloorToStep returns floor(value/step)*step expressed with the step's decimal places.
// Non-positive value or step returns value unchanged.
func FloorToStep(value, step decimal.Decimal) decimal.Decimal {
	if !value.IsPositive() || !step.IsPositive() {
		return value
	}

	floored := value.Div(step).Floor().Mul(step)
	if floored.GreaterThan(value) {
		floored = floored.Sub(step)
	}
	return floored.Round(StepPrecision(step))
}

// StepPrecision is the number of decimal places of step, e.g. 0.001 -> 3, 10 -> 0.
// For power-of-ten steps this is max(0, -log10(step)).
func StepPrecision(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}

	normalized := step.String()
	idx := strings.IndexByte(normalized, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(normalized) - idx - 1)
}
