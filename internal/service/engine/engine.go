package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/executor"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultCycleInterval = 5 * time.Minute
	defaultLockWait      = 30 * time.Second
	defaultMaxMarkAge    = 30 * time.Second
	orderSource          = "decision_loop"
)

var bpsDivisor = decimal.NewFromInt(10000)

type PositionManager interface {
	Symbol() string
	Refresh(ctx context.Context) error
	State() (entity.PositionState, bool)
	PositionAmount() decimal.Decimal
	Close(ctx context.Context) (*entity.Order, error)
	MonitorRisk(thresholds position.RiskThresholds) []position.RiskWarning
}

type OrderSubmitter interface {
	Submit(ctx context.Context, req entity.OrderRequest, opts executor.SubmitOptions) (*entity.Order, error)
}

type DecisionSource interface {
	Next(ctx context.Context, symbol string) (entity.DecisionSignal, error)
}

type Locker interface {
	Acquire(ctx context.Context, symbol string) (func(), error)
}

type MarketView interface {
	Snapshot(symbol string) *entity.MarketSnapshot
}

type RecordRepository interface {
	Create(ctx context.Context, record *entity.DecisionRecord) error
}

type RecordPublisher interface {
	Publish(ctx context.Context, record *entity.DecisionRecord) error
}

type Config struct {
	OrderQuantity  decimal.Decimal
	OrderType      entity.OrderType
	LimitOffsetBps decimal.Decimal
	CycleInterval  time.Duration
	LockWait       time.Duration
	MaxMarkAge     time.Duration
	Submit         executor.SubmitOptions
	Risk           position.RiskThresholds
}

func ConfigFromEngineConfig(cfg config.EngineConfig) Config {
	orderType := entity.OrderType(strings.ToUpper(strings.TrimSpace(cfg.OrderType)))
	if orderType == "" {
		orderType = entity.OrderTypeMarket
	}

	return Config{
		OrderQuantity:  cfg.OrderQuantity,
		OrderType:      orderType,
		LimitOffsetBps: cfg.LimitOffsetBps,
		CycleInterval:  cfg.CycleInterval,
		LockWait:       cfg.LockTTL,
		MaxMarkAge:     cfg.MaxMarkPriceAge,
		Submit:         executor.SubmitOptionsFromConfig(cfg),
		Risk:           position.RiskThresholdsFromConfig(cfg.Risk),
	}
}

// Loop drives one symbol: refresh, decide, execute, confirm, record.
type Loop struct {
	manager   PositionManager
	submitter OrderSubmitter
	source    DecisionSource
	cfg       Config

	locker     Locker
	market     MarketView
	repository RecordRepository
	publisher  RecordPublisher
	clock      util.Clock
	logger     logrus.FieldLogger
}

type Option func(*Loop)

func WithLocker(locker Locker) Option {
	return func(l *Loop) {
		l.locker = locker
	}
}

func WithMarketView(market MarketView) Option {
	return func(l *Loop) {
		l.market = market
	}
}

func WithRecordRepository(repository RecordRepository) Option {
	return func(l *Loop) {
		l.repository = repository
	}
}

func WithRecordPublisher(publisher RecordPublisher) Option {
	return func(l *Loop) {
		l.publisher = publisher
	}
}

func WithClock(clock util.Clock) Option {
	return func(l *Loop) {
		l.clock = clock
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

func NewLoop(manager PositionManager, submitter OrderSubmitter, source DecisionSource, cfg Config, opts ...Option) *Loop {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.MaxMarkAge <= 0 {
		cfg.MaxMarkAge = defaultMaxMarkAge
	}
	if cfg.OrderType == "" {
		cfg.OrderType = entity.OrderTypeMarket
	}

	l := &Loop{
		manager:   manager,
		submitter: submitter,
		source:    source,
		cfg:       cfg,
		clock:     util.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = util.LoggerOrDefault(l.logger).WithField("symbol", manager.Symbol())

	return l
}

// Run executes a cycle immediately and then once per interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.WithField("interval", l.cfg.CycleInterval.String()).Info("decision loop started")

	for {
		l.RunCycle(ctx)

		if err := util.Sleep(ctx, l.clock, l.cfg.CycleInterval); err != nil {
			l.logger.Info("decision loop stopped")
			return nil
		}
	}
}

// RunCycle never returns an error: every outcome, failures included, ends up in the returned record.
func (l *Loop) RunCycle(ctx context.Context) *entity.DecisionRecord {
	symbol := l.manager.Symbol()
	signal, err := l.source.Next(ctx, symbol)
	if err != nil {
		signal = entity.DecisionSignal{Symbol: symbol, Decision: entity.DecisionHold}
		err = fmt.Errorf("next decision: %w", err)
	}

	var order *entity.Order
	if err == nil {
		order, err = l.executeLocked(ctx, signal)
	}

	if err != nil {
		l.logger.WithField("decision", signal.Decision).Errorf("decision cycle failed: %v", err)
	}

	l.manager.MonitorRisk(l.cfg.Risk)

	record := l.buildRecord(signal, order, err)
	l.persist(ctx, record)

	return record
}

func (l *Loop) executeLocked(ctx context.Context, signal entity.DecisionSignal) (*entity.Order, error) {
	if l.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, l.cfg.LockWait)
		release, err := l.locker.Acquire(lockCtx, l.manager.Symbol())
		cancel()
		if err != nil {
			return nil, fmt.Errorf("acquire symbol lock: %w", err)
		}
		defer release()
	}

	if err := l.manager.Refresh(ctx); err != nil {
		return nil, err
	}

	order, execErr := l.execute(ctx, signal)

	if err := l.manager.Refresh(ctx); err != nil {
		return order, errors.Join(execErr, fmt.Errorf("confirm position: %w", err))
	}

	return order, execErr
}

func (l *Loop) execute(ctx context.Context, signal entity.DecisionSignal) (*entity.Order, error) {
	var side entity.OrderSide
	var opposite entity.PositionState
	var same entity.PositionState

	switch signal.Decision {
	case entity.DecisionBuy:
		side, same, opposite = entity.OrderSideBuy, entity.PositionStateLong, entity.PositionStateShort
	case entity.DecisionSell:
		side, same, opposite = entity.OrderSideSell, entity.PositionStateShort, entity.PositionStateLong
	default:
		return nil, nil
	}

	state, _ := l.manager.State()
	logger := l.logger.WithFields(logrus.Fields{"decision": signal.Decision, "position": state})

	switch state {
	case same:
		logger.Info("position already aligned with decision")
		return nil, nil
	case opposite:
		logger.Info("closing position before reversing")
		if _, err := l.manager.Close(ctx); err != nil {
			return nil, fmt.Errorf("close %s position: %w", strings.ToLower(string(state)), err)
		}
	}

	req := l.openRequest(side, signal)
	order, err := l.submitter.Submit(ctx, req, l.cfg.Submit)
	if err != nil {
		return order, fmt.Errorf("open %s: %w", side, err)
	}

	logger.WithFields(logrus.Fields{"order_id": order.OrderID, "status": order.Status}).Info("position opened")
	return order, nil
}

func (l *Loop) openRequest(side entity.OrderSide, signal entity.DecisionSignal) entity.OrderRequest {
	req := entity.OrderRequest{
		Symbol:   l.manager.Symbol(),
		Side:     side,
		Type:     entity.OrderTypeMarket,
		Quantity: l.cfg.OrderQuantity,
		Source:   orderSource,
	}

	if l.cfg.OrderType != entity.OrderTypeLimit {
		return req
	}

	mark := l.markPrice(signal)
	if mark == nil || !mark.IsPositive() {
		l.logger.Warn("no mark price for limit order, sending market order")
		return req
	}

	offset := l.cfg.LimitOffsetBps.Div(bpsDivisor)
	var price decimal.Decimal
	if side == entity.OrderSideBuy {
		price = mark.Mul(decimal.NewFromInt(1).Sub(offset))
	} else {
		price = mark.Mul(decimal.NewFromInt(1).Add(offset))
	}

	req.Type = entity.OrderTypeLimit
	req.Price = &price

	return req
}

// markPrice prefers the signal's snapshot over the stream. Snapshots older than MaxMarkAge are ignored.
func (l *Loop) markPrice(signal entity.DecisionSignal) *decimal.Decimal {
	if l.freshSnapshot(signal.Snapshot) {
		return &signal.Snapshot.MarkPrice
	}
	if l.market == nil {
		return nil
	}
	if snapshot := l.market.Snapshot(l.manager.Symbol()); l.freshSnapshot(snapshot) {
		return &snapshot.MarkPrice
	}

	return nil
}

func (l *Loop) freshSnapshot(snapshot *entity.MarketSnapshot) bool {
	if snapshot == nil || !snapshot.MarkPrice.IsPositive() {
		return false
	}
	return l.clock.Now().Sub(snapshot.EventTime) <= l.cfg.MaxMarkAge
}

func (l *Loop) buildRecord(signal entity.DecisionSignal, order *entity.Order, err error) *entity.DecisionRecord {
	record := &entity.DecisionRecord{
		Symbol:            l.manager.Symbol(),
		Action:            signal.Decision,
		ResultingPosition: entity.PositionStateUnknown,
		RecordedAt:        l.clock.Now().UTC(),
	}

	if signal.StrategyLabel != "" {
		record.StrategyLabel = null.StringFrom(signal.StrategyLabel)
	}
	if state, known := l.manager.State(); known {
		record.ResultingPosition = state
		record.PositionAmount = l.manager.PositionAmount()
	}
	if order != nil {
		record.OrderID = null.IntFrom(order.OrderID)
	}
	if mark := l.markPrice(signal); mark != nil {
		record.MarkPrice = null.StringFrom(mark.String())
	}
	if err != nil {
		record.ErrorMessage = null.StringFrom(err.Error())
	}

	return record
}

func (l *Loop) persist(ctx context.Context, record *entity.DecisionRecord) {
	ctx = context.WithoutCancel(ctx)

	if l.repository != nil {
		if err := l.repository.Create(ctx, record); err != nil {
			l.logger.Errorf("failed to store decision record: %v", err)
		}
	}

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, record); err != nil {
			l.logger.Errorf("failed to publish decision record: %v", err)
		}
	}
}
