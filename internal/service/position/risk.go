package position

import (
	"fmt"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RiskKind string

const (
	RiskKindUnrealizedLoss RiskKind = "UNREALIZED_LOSS"
	RiskKindLowMarginRatio RiskKind = "LOW_MARGIN_RATIO"
)

const (
	defaultPnlThreshold         = -100
	defaultMarginRatioThreshold = "0.1"
)

type RiskThresholds struct {
	PnlThreshold         decimal.Decimal
	MarginRatioThreshold decimal.Decimal
}

func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		PnlThreshold:         decimal.NewFromInt(defaultPnlThreshold),
		MarginRatioThreshold: decimal.RequireFromString(defaultMarginRatioThreshold),
	}
}

// RiskThresholdsFromConfig falls back to the defaults for unset values. An explicit zero is kept.
func RiskThresholdsFromConfig(cfg config.RiskConfig) RiskThresholds {
	thresholds := DefaultRiskThresholds()
	if cfg.PnlThreshold != nil {
		thresholds.PnlThreshold = *cfg.PnlThreshold
	}
	if cfg.MarginRatioThreshold != nil && !cfg.MarginRatioThreshold.IsNegative() {
		thresholds.MarginRatioThreshold = *cfg.MarginRatioThreshold
	}
	return thresholds
}

type RiskWarning struct {
	Symbol    string          `json:"symbol"`
	Kind      RiskKind        `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	Threshold decimal.Decimal `json:"threshold"`
	Message   string          `json:"message"`
}

// EvaluateRisk compares a snapshot against thresholds without side effects.
func EvaluateRisk(pos entity.Position, thresholds RiskThresholds) []RiskWarning {
	var warnings []RiskWarning

	if pos.UnrealizedPnl.LessThan(thresholds.PnlThreshold) {
		warnings = append(warnings, RiskWarning{
			Symbol:    pos.Symbol,
			Kind:      RiskKindUnrealizedLoss,
			Value:     pos.UnrealizedPnl,
			Threshold: thresholds.PnlThreshold,
			Message:   fmt.Sprintf("unrealized pnl %s below %s", pos.UnrealizedPnl, thresholds.PnlThreshold),
		})
	}

	if ratio, ok := pos.MarginRatio(); ok && ratio.LessThan(thresholds.MarginRatioThreshold) {
		warnings = append(warnings, RiskWarning{
			Symbol:    pos.Symbol,
			Kind:      RiskKindLowMarginRatio,
			Value:     ratio,
			Threshold: thresholds.MarginRatioThreshold,
			Message:   fmt.Sprintf("margin ratio %s below %s", ratio.StringFixed(4), thresholds.MarginRatioThreshold),
		})
	}

	return warnings
}

// MonitorRisk evaluates the current snapshot and logs each warning. It never acts on the position.
// An unknown position yields no warnings.
func (m *Manager) MonitorRisk(thresholds RiskThresholds) []RiskWarning {
	pos, ok := m.Snapshot()
	if !ok {
		return nil
	}

	warnings := EvaluateRisk(pos, thresholds)
	for _, w := range warnings {
		m.logger.WithFields(logrus.Fields{
			"kind":      w.Kind,
			"value":     w.Value.String(),
			"threshold": w.Threshold.String(),
		}).Warn(w.Message)
	}

	return warnings
}
