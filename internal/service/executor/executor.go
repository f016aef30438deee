package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	maxClientOrderIDLen = 36
)

type Gateway interface {
	PlaceOrder(ctx context.Context, req entity.OrderRequest) (*entity.Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error)
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*entity.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error)
}

type Quantizer interface {
	RoundQuantity(ctx context.Context, symbol string, quantity decimal.Decimal) decimal.Decimal
	RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) decimal.Decimal
}

type OrderHistoryRecorder interface {
	Create(ctx context.Context, history *entity.OrderHistory) error
}

type SubmitOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func SubmitOptionsFromConfig(cfg config.EngineConfig) SubmitOptions {
	return SubmitOptions{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Timeout:    cfg.OrderTimeout,
	}
}

type OrderExecutor struct {
	gateway      Gateway
	quantizer    Quantizer
	recorder     OrderHistoryRecorder
	clock        util.Clock
	logger       logrus.FieldLogger
	pollInterval time.Duration
	newID        func() string
}

type Option func(*OrderExecutor)

func WithClock(clock util.Clock) Option {
	return func(e *OrderExecutor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *OrderExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(e *OrderExecutor) {
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

func WithOrderHistoryRecorder(recorder OrderHistoryRecorder) Option {
	return func(e *OrderExecutor) {
		e.recorder = recorder
	}
}

func WithClientOrderIDGenerator(fn func() string) Option {
	return func(e *OrderExecutor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func NewOrderExecutor(gateway Gateway, quantizer Quantizer, opts ...Option) *OrderExecutor {
	e := &OrderExecutor{
		gateway:      gateway,
		quantizer:    quantizer,
		clock:        util.RealClock{},
		logger:       logrus.StandardLogger(),
		pollInterval: defaultPollInterval,
		newID:        NewClientOrderID,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewClientOrderID returns a 32 character id accepted by newClientOrderId.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit validates, rounds and places one order. Transport failures and 5xx responses are
// retried with the same client order id; a 4xx response stops immediately as a BusinessRejection.
// A retry answered with a duplicate client order id, or a run of attempts that ended on transport
// failures, is resolved by looking the order up by client order id, since an earlier attempt may
// have reached the exchange. Non-market orders with a timeout are polled until terminal and
// cancelled once on timeout.
func (e *OrderExecutor) Submit(ctx context.Context, req entity.OrderRequest, opts SubmitOptions) (*entity.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		e.logger.WithFields(requestFields(req)).Error(err)
		return nil, err
	}

	normalized, err := e.normalize(ctx, req)
	if err != nil {
		e.logger.WithFields(requestFields(req)).Error(err)
		return nil, err
	}

	logger := e.logger.WithFields(requestFields(normalized))

	var (
		placed    *entity.Order
		ambiguous bool
	)
	attempts, err := Retry(ctx, e.clock, opts.MaxRetries, opts.RetryDelay, func(attempt int) error {
		order, err := e.gateway.PlaceOrder(ctx, normalized)
		if err != nil {
			logger.WithField("attempt", attempt).WithError(err).Warn("order submission attempt failed")

			if attempt > 1 && isDuplicateClientOrderID(err) {
				accepted, lookupErr := e.lookupAccepted(ctx, normalized, logger)
				if lookupErr != nil {
					return lookupErr
				}
				placed = accepted
				return nil
			}

			var transportErr *entity.TransportError
			if errors.As(err, &transportErr) {
				ambiguous = true
			}

			if rejection, ok := entity.AsBusinessRejection(normalized.Symbol, err); ok {
				return Permanent(rejection)
			}
			if !entity.IsRetryable(err) {
				return Permanent(err)
			}
			return err
		}

		placed = order
		return nil
	})
	var rejection *entity.BusinessRejection
	if err != nil && ambiguous && !errors.As(err, &rejection) {
		if accepted, lookupErr := e.lookupAccepted(context.WithoutCancel(ctx), normalized, logger); lookupErr == nil {
			placed = accepted
			err = nil
		}
	}
	if err != nil {
		if errors.As(err, &rejection) {
			logger.WithField("attempt", attempts).Error(rejection)
			e.record(ctx, normalized, nil, attempts, rejection)
			return nil, rejection
		}

		failure := &entity.SubmissionFailedError{Symbol: normalized.Symbol, Attempts: attempts, Err: err}
		logger.Error(failure)
		e.record(ctx, normalized, nil, attempts, failure)
		return nil, failure
	}

	logger = logger.WithFields(logrus.Fields{
		"order_id": placed.OrderID,
		"status":   placed.Status,
		"attempt":  attempts,
	})
	logger.Info("order placed")

	if placed.Status == entity.OrderStatusRejected {
		rejection := &entity.BusinessRejection{
			Symbol: normalized.Symbol,
			Reason: "order status " + string(placed.Status),
		}
		e.record(ctx, normalized, placed, attempts, rejection)
		return placed, rejection
	}

	result := placed
	if normalized.Type != entity.OrderTypeMarket && opts.Timeout > 0 {
		result = e.awaitResolution(ctx, normalized.Symbol, placed, opts.Timeout, logger)
	}

	e.record(ctx, normalized, result, attempts, nil)
	return result, nil
}

// lookupAccepted fetches an order an earlier attempt may have placed under the request's client order id.
func (e *OrderExecutor) lookupAccepted(ctx context.Context, req entity.OrderRequest, logger logrus.FieldLogger) (*entity.Order, error) {
	order, err := e.gateway.GetOrderByClientID(ctx, req.Symbol, req.ClientOrderID)
	if err != nil {
		logger.WithError(err).Warn("failed to look up order by client order id")
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"status":   order.Status,
	}).Warn("order from an earlier attempt was accepted by the exchange")
	return order, nil
}

func isDuplicateClientOrderID(err error) bool {
	var httpErr *entity.HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == entity.BinanceFuturesCodeDuplicateClientOrderID
}

// awaitResolution polls until the order is terminal or timeout elapses, then issues one cancel.
// The returned order is the last one observed by polling.
func (e *OrderExecutor) awaitResolution(ctx context.Context, symbol string, order *entity.Order, timeout time.Duration, logger logrus.FieldLogger) *entity.Order {
	if order.OrderID <= 0 {
		logger.Warn("order id missing from response, not waiting for resolution")
		return order
	}

	last := order
	deadline := e.clock.Now().Add(timeout)

	for !last.Status.IsTerminal() {
		if !e.clock.Now().Before(deadline) {
			e.cancelOnTimeout(ctx, symbol, last.OrderID, timeout, logger)
			return last
		}

		if err := util.Sleep(ctx, e.clock, e.pollInterval); err != nil {
			logger.WithError(err).Warn("stopped waiting for order resolution")
			e.cancelOnTimeout(context.WithoutCancel(ctx), symbol, last.OrderID, timeout, logger)
			return last
		}

		current, err := e.gateway.GetOrder(ctx, symbol, last.OrderID)
		if err != nil {
			logger.WithError(err).Warn("failed to poll order status")
			continue
		}
		last = current
	}

	logger.WithField("status", last.Status).Info("order resolved")
	return last
}

func (e *OrderExecutor) cancelOnTimeout(ctx context.Context, symbol string, orderID int64, timeout time.Duration, logger logrus.FieldLogger) {
	cancelled, err := e.gateway.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		logger.WithError(err).Errorf("failed to cancel order after %s timeout", timeout)
		return
	}

	logger.WithField("cancel_status", cancelled.Status).Infof("order cancelled after %s timeout", timeout)
}

// Cancel sends one cancel request without retry.
func (e *OrderExecutor) Cancel(ctx context.Context, symbol string, orderID int64) (*entity.Order, error) {
	if err := validateOrderRef(symbol, orderID); err != nil {
		return nil, err
	}

	logger := e.logger.WithFields(logrus.Fields{"symbol": symbol, "order_id": orderID})
	order, err := e.gateway.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		logger.WithError(err).Error("failed to cancel order")
		return nil, err
	}

	logger.Info("order cancelled")
	return order, nil
}

// CheckStatus fetches the current order status without retry.
func (e *OrderExecutor) CheckStatus(ctx context.Context, symbol string, orderID int64) (entity.OrderStatus, error) {
	if err := validateOrderRef(symbol, orderID); err != nil {
		return "", err
	}

	order, err := e.gateway.GetOrder(ctx, symbol, orderID)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"symbol": symbol, "order_id": orderID}).WithError(err).Error("failed to check order status")
		return "", err
	}

	return order.Status, nil
}

func (e *OrderExecutor) normalize(ctx context.Context, req entity.OrderRequest) (entity.OrderRequest, error) {
	normalized := req
	normalized.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	normalized.Quantity = e.quantizer.RoundQuantity(ctx, normalized.Symbol, req.Quantity)
	if !normalized.Quantity.IsPositive() {
		return entity.OrderRequest{}, entity.NewValidationError("quantity", "is zero after rounding to the lot step: "+req.Quantity.String())
	}

	if req.Price != nil {
		price := e.quantizer.RoundPrice(ctx, normalized.Symbol, *req.Price)
		if !price.IsPositive() {
			return entity.OrderRequest{}, entity.NewValidationError("price", "is zero after rounding to the tick size: "+req.Price.String())
		}
		normalized.Price = &price
	}

	if req.StopPrice != nil {
		stopPrice := e.quantizer.RoundPrice(ctx, normalized.Symbol, *req.StopPrice)
		normalized.StopPrice = &stopPrice
	}

	if normalized.Type == entity.OrderTypeLimit && normalized.TimeInForce == "" {
		normalized.TimeInForce = entity.TimeInForceGTC
	}

	if normalized.ClientOrderID == "" {
		normalized.ClientOrderID = e.newID()
	}

	return normalized, nil
}

func (e *OrderExecutor) record(ctx context.Context, req entity.OrderRequest, order *entity.Order, attempts int, failure error) {
	if e.recorder == nil {
		return
	}

	history := &entity.OrderHistory{
		ID:            uuid.NewString(),
		Symbol:        req.Symbol,
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ReduceOnly:    req.ReduceOnly,
		Attempts:      attempts,
		Status:        "FAILED",
		Source:        null.NewString(req.Source, req.Source != ""),
		CreatedAt:     e.clock.Now().UTC(),
	}

	if order != nil {
		history.OrderID = null.NewInt(order.OrderID, order.OrderID > 0)
		history.Status = string(order.Status)
		history.FilledQuantity = order.ExecutedQty
		if order.AvgPrice.IsPositive() {
			avg := order.AvgPrice
			history.AvgFillPrice = &avg
		}
	}
	if failure != nil {
		history.ErrorMessage = null.StringFrom(failure.Error())
	}

	if err := e.recorder.Create(context.WithoutCancel(ctx), history); err != nil {
		e.logger.WithFields(requestFields(req)).WithError(err).Error("failed to record order history")
	}
}

func validateOrderRequest(req entity.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return entity.NewValidationError("symbol", "is required")
	}
	if !req.Side.IsValid() {
		return entity.NewValidationError("side", "must be BUY or SELL, got "+string(req.Side))
	}
	if !req.Type.IsValid() {
		return entity.NewValidationError("type", "is not supported: "+string(req.Type))
	}
	if !req.Quantity.IsPositive() {
		return entity.NewValidationError("quantity", "must be greater than zero")
	}
	if req.Type == entity.OrderTypeLimit && (req.Price == nil || !req.Price.IsPositive()) {
		return entity.NewValidationError("price", "must be greater than zero for LIMIT orders")
	}
	if len(req.ClientOrderID) > maxClientOrderIDLen {
		return entity.NewValidationError("client_order_id", "must be at most 36 characters")
	}
	return nil
}

func validateOrderRef(symbol string, orderID int64) error {
	if strings.TrimSpace(symbol) == "" {
		return entity.NewValidationError("symbol", "is required")
	}
	if orderID <= 0 {
		return entity.NewValidationError("order_id", "must be greater than zero")
	}
	return nil
}

func requestFields(req entity.OrderRequest) logrus.Fields {
	fields := logrus.Fields{
		"symbol":          req.Symbol,
		"side":            req.Side,
		"type":            req.Type,
		"quantity":        req.Quantity.String(),
		"reduce_only":     req.ReduceOnly,
		"client_order_id": req.ClientOrderID,
	}
	if req.Price != nil {
		fields["price"] = req.Price.String()
	}
	if req.Source != "" {
		fields["source"] = req.Source
	}
	return fields
}
