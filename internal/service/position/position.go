package position

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/executor"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	MinLeverage = 1
	MaxLeverage = 125

	closeOrderSource = "position_close"
)

type Gateway interface {
	PositionRisk(ctx context.Context, symbol string) (*entity.Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (int, error)
	ChangeMarginType(ctx context.Context, symbol string, marginType entity.MarginType) error
}

type OrderSubmitter interface {
	Submit(ctx context.Context, req entity.OrderRequest, opts executor.SubmitOptions) (*entity.Order, error)
}

// StateObserver is notified after every refresh with whether the snapshot is known.
type StateObserver func(symbol string, known bool)

// Manager owns the position snapshot of one symbol. The snapshot is replaced whole on
// every refresh; nil means unknown.
type Manager struct {
	symbol     string
	gateway    Gateway
	submitter  OrderSubmitter
	submitOpts executor.SubmitOptions
	logger     logrus.FieldLogger
	observers  []StateObserver

	snapshot atomic.Pointer[entity.Position]
}

type Option func(*Manager)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithSubmitOptions(opts executor.SubmitOptions) Option {
	return func(m *Manager) {
		m.submitOpts = opts
	}
}

func WithStateObserver(observer StateObserver) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observers = append(m.observers, observer)
		}
	}
}

func NewManager(symbol string, gateway Gateway, submitter OrderSubmitter, opts ...Option) *Manager {
	m := &Manager{
		symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		gateway:    gateway,
		submitter:  submitter,
		submitOpts: executor.SubmitOptions{MaxRetries: 1},
		logger:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.WithField("symbol", m.symbol)
	return m
}

func (m *Manager) Symbol() string {
	return m.symbol
}

// Refresh replaces the snapshot from the exchange. On failure the snapshot becomes unknown
// and a StaleStateError is returned.
func (m *Manager) Refresh(ctx context.Context) error {
	pos, err := m.gateway.PositionRisk(ctx, m.symbol)
	if err != nil {
		m.snapshot.Store(nil)
		m.notify(false)
		m.logger.WithError(err).Error("failed to refresh position, state is unknown")
		return &entity.StaleStateError{Symbol: m.symbol, Err: err}
	}

	snapshot := *pos
	snapshot.Symbol = m.symbol
	m.snapshot.Store(&snapshot)
	m.notify(true)

	m.logger.WithFields(logrus.Fields{
		"state":          snapshot.State(),
		"amount":         snapshot.Amount.String(),
		"entry_price":    snapshot.EntryPrice.String(),
		"unrealized_pnl": snapshot.UnrealizedPnl.String(),
		"leverage":       snapshot.Leverage,
		"margin_type":    snapshot.MarginType,
	}).Debug("position refreshed")

	return nil
}

func (m *Manager) notify(known bool) {
	for _, observer := range m.observers {
		observer(m.symbol, known)
	}
}

// Snapshot returns a copy of the current snapshot; false when the position is unknown.
func (m *Manager) Snapshot() (entity.Position, bool) {
	pos := m.snapshot.Load()
	if pos == nil {
		return entity.Position{}, false
	}
	return *pos, true
}

// IsPositionOpen is false for a flat or unknown position.
func (m *Manager) IsPositionOpen() bool {
	pos, ok := m.Snapshot()
	return ok && pos.IsOpen()
}

func (m *Manager) PositionAmount() decimal.Decimal {
	pos, _ := m.Snapshot()
	return pos.Amount
}

func (m *Manager) EntryPrice() decimal.Decimal {
	pos, _ := m.Snapshot()
	return pos.EntryPrice
}

func (m *Manager) UnrealizedPnl() decimal.Decimal {
	pos, _ := m.Snapshot()
	return pos.UnrealizedPnl
}

// MarginType is empty while the position is unknown.
func (m *Manager) MarginType() entity.MarginType {
	pos, _ := m.Snapshot()
	return pos.MarginType
}

// State derives FLAT/LONG/SHORT from the amount sign. Unknown reports FLAT and false.
func (m *Manager) State() (entity.PositionState, bool) {
	pos, ok := m.Snapshot()
	if !ok {
		return entity.PositionStateFlat, false
	}
	return pos.State(), true
}

// Leverage refreshes and returns the current leverage.
func (m *Manager) Leverage(ctx context.Context) (int, error) {
	if err := m.Refresh(ctx); err != nil {
		return 0, err
	}

	pos, _ := m.Snapshot()
	return pos.Leverage, nil
}

// Close flattens the position with a reduce-only MARKET order sized from a fresh snapshot.
// A flat position returns nil without placing an order.
func (m *Manager) Close(ctx context.Context) (*entity.Order, error) {
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}

	pos, _ := m.Snapshot()
	side, ok := pos.CloseSide()
	if !ok {
		m.logger.Info("no open position to close")
		return nil, nil
	}

	req := entity.OrderRequest{
		Symbol:     m.symbol,
		Side:       side,
		Type:       entity.OrderTypeMarket,
		Quantity:   pos.Amount.Abs(),
		ReduceOnly: true,
		Source:     closeOrderSource,
	}

	logger := m.logger.WithFields(logrus.Fields{
		"side":     side,
		"quantity": req.Quantity.String(),
		"state":    pos.State(),
	})
	logger.Info("closing position")

	order, err := m.submitter.Submit(ctx, req, m.submitOpts)
	if err != nil {
		logger.WithError(err).Error("failed to close position")
		return order, err
	}

	return order, nil
}

func (m *Manager) SetLeverage(ctx context.Context, leverage int) (int, error) {
	if leverage < MinLeverage || leverage > MaxLeverage {
		return 0, entity.NewValidationError("leverage", "must be between 1 and 125")
	}

	logger := m.logger.WithField("leverage", leverage)
	applied, err := m.gateway.SetLeverage(ctx, m.symbol, leverage)
	if err != nil {
		logger.WithError(err).Error("failed to set leverage")
		return 0, err
	}

	logger.WithField("applied", applied).Info("leverage updated")
	return applied, nil
}

// ChangeMarginType switches margin mode. The exchange answer that the mode is already set
// counts as success.
func (m *Manager) ChangeMarginType(ctx context.Context, marginType entity.MarginType) error {
	marginType = entity.MarginType(strings.ToUpper(strings.TrimSpace(string(marginType))))
	if !marginType.IsValid() {
		return entity.NewValidationError("margin_type", "must be CROSSED or ISOLATED")
	}

	logger := m.logger.WithField("margin_type", marginType)
	err := m.gateway.ChangeMarginType(ctx, m.symbol, marginType)
	if err != nil {
		var httpErr *entity.HTTPError
		if errors.As(err, &httpErr) && httpErr.Code == entity.BinanceFuturesCodeNoNeedToChangeMarginType {
			logger.Info("margin type already set")
			return nil
		}

		logger.WithError(err).Error("failed to change margin type")
		return err
	}

	logger.Info("margin type updated")
	return nil
}
