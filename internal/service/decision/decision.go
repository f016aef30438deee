package decision

import (
	"context"
	"strings"
	"time"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
)

// SignalEvent is the wire form of a decision published on trade_decision.<SYMBOL>.
// Decision may be free-form advisor text; it is normalized with entity.ParseDecision.
type SignalEvent struct {
	Symbol        string                 `json:"symbol"`
	Decision      string                 `json:"decision"`
	StrategyLabel string                 `json:"strategy_label"`
	Snapshot      *entity.MarketSnapshot `json:"snapshot,omitempty"`
	IssuedAt      time.Time              `json:"issued_at"`
}

func (e SignalEvent) ToSignal(receivedAt time.Time) entity.DecisionSignal {
	issuedAt := e.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = receivedAt
	}

	return entity.DecisionSignal{
		Symbol:        strings.ToUpper(strings.TrimSpace(e.Symbol)),
		Decision:      entity.ParseDecision(e.Decision),
		StrategyLabel: strings.TrimSpace(e.StrategyLabel),
		Snapshot:      e.Snapshot,
		IssuedAt:      issuedAt.UTC(),
	}
}

func holdSignal(symbol string, at time.Time) entity.DecisionSignal {
	return entity.DecisionSignal{
		Symbol:   strings.ToUpper(symbol),
		Decision: entity.DecisionHold,
		IssuedAt: at.UTC(),
	}
}

// StaticSource returns the same decision on every call.
type StaticSource struct {
	decision entity.Decision
	label    string
	clock    util.Clock
}

func NewStaticSource(decision entity.Decision, label string) *StaticSource {
	return &StaticSource{decision: decision, label: label, clock: util.RealClock{}}
}

func (s *StaticSource) Next(_ context.Context, symbol string) (entity.DecisionSignal, error) {
	return entity.DecisionSignal{
		Symbol:        strings.ToUpper(symbol),
		Decision:      s.decision,
		StrategyLabel: s.label,
		IssuedAt:      s.clock.Now().UTC(),
	}, nil
}
