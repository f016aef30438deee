package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/service/executor"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultLockWait     = 5 * time.Second
)

var errUnknownSymbol = errors.New("symbol is not managed by this engine")

type PositionManager interface {
	Symbol() string
	Refresh(ctx context.Context) error
	Snapshot() (entity.Position, bool)
	Close(ctx context.Context) (*entity.Order, error)
	SetLeverage(ctx context.Context, leverage int) (int, error)
	ChangeMarginType(ctx context.Context, marginType entity.MarginType) error
	MonitorRisk(thresholds position.RiskThresholds) []position.RiskWarning
}

type OrderSubmitter interface {
	Submit(ctx context.Context, req entity.OrderRequest, opts executor.SubmitOptions) (*entity.Order, error)
}

type Locker interface {
	Acquire(ctx context.Context, symbol string) (func(), error)
}

type DecisionRecordLister interface {
	ListBySymbol(ctx context.Context, symbol string, limit uint64) ([]entity.DecisionRecord, error)
}

type OrderHistoryLister interface {
	ListBySymbol(ctx context.Context, symbol string, limit uint64) ([]entity.OrderHistory, error)
}

type Handler struct {
	managers   map[string]PositionManager
	submitter  OrderSubmitter
	locker     Locker
	lockWait   time.Duration
	submitOpts executor.SubmitOptions
	risk       position.RiskThresholds
	apiKeys    []config.APIKeyConfig
	decisions  DecisionRecordLister
	orders     OrderHistoryLister
	clock      util.Clock
	logger     logrus.FieldLogger
}

type Option func(*Handler)

// WithLocker serializes mutating requests per symbol, waiting at most wait for the lock.
func WithLocker(locker Locker, wait time.Duration) Option {
	return func(h *Handler) {
		h.locker = locker
		h.lockWait = wait
	}
}

func WithSubmitOptions(opts executor.SubmitOptions) Option {
	return func(h *Handler) {
		h.submitOpts = opts
	}
}

func WithRiskThresholds(thresholds position.RiskThresholds) Option {
	return func(h *Handler) {
		h.risk = thresholds
	}
}

func WithHistory(decisions DecisionRecordLister, orders OrderHistoryLister) Option {
	return func(h *Handler) {
		h.decisions = decisions
		h.orders = orders
	}
}

func WithClock(clock util.Clock) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewEngineHTTPHandler(managers []PositionManager, submitter OrderSubmitter, apiKeys []config.APIKeyConfig, opts ...Option) *Handler {
	h := &Handler{
		managers:  make(map[string]PositionManager, len(managers)),
		submitter: submitter,
		apiKeys:   apiKeys,
		risk:      position.DefaultRiskThresholds(),
		clock:     util.RealClock{},
	}
	for _, manager := range managers {
		h.managers[strings.ToUpper(manager.Symbol())] = manager
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = util.LoggerOrDefault(h.logger)
	if h.lockWait <= 0 {
		h.lockWait = defaultLockWait
	}

	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /engine/v1/position", h.GetPosition)
	mux.HandleFunc("GET /engine/v1/position/risk", h.GetRisk)
	mux.HandleFunc("POST /engine/v1/orders", h.PlaceOrder)
	mux.HandleFunc("GET /engine/v1/orders/history", h.ListOrderHistory)
	mux.HandleFunc("GET /engine/v1/decisions", h.ListDecisionRecords)
	mux.HandleFunc("POST /engine/v1/position/close", h.ClosePosition)
	mux.HandleFunc("POST /engine/v1/position/leverage", h.SetLeverage)
	mux.HandleFunc("POST /engine/v1/position/margin-type", h.ChangeMarginType)
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.authorizeQuery(w, r)
	if !ok {
		return
	}

	if err := manager.Refresh(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	pos, _ := manager.Snapshot()
	writeJSON(w, http.StatusOK, mapPositionToHTTPResponse(pos))
}

func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.authorizeQuery(w, r)
	if !ok {
		return
	}

	if err := manager.Refresh(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapRiskWarningsToHTTPResponse(manager.Symbol(), manager.MonitorRisk(h.risk)))
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	manager, ok := h.authorize(w, r, req.ApiKey, req.Symbol)
	if !ok {
		return
	}

	if strings.TrimSpace(req.Side) == "" || strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Quantity) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields"})
		return
	}

	orderReq, err := mapHTTPRequestToOrderRequest(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	var order *entity.Order
	err = h.withSymbolLock(r.Context(), manager.Symbol(), func(ctx context.Context) error {
		var submitErr error
		order, submitErr = h.submitter.Submit(ctx, orderReq, h.submitOpts)
		return submitErr
	})
	if err != nil {
		var rejection *entity.BusinessRejection
		if errors.As(err, &rejection) && order != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "order": mapOrderToHTTPResponse(order)})
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToHTTPResponse(order))
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req SymbolRequest
	if !decodeBody(w, r, &req) {
		return
	}

	manager, ok := h.authorize(w, r, req.ApiKey, req.Symbol)
	if !ok {
		return
	}

	var order *entity.Order
	err := h.withSymbolLock(r.Context(), manager.Symbol(), func(ctx context.Context) error {
		var closeErr error
		order, closeErr = manager.Close(ctx)
		return closeErr
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClosePositionResponse{
		Symbol: manager.Symbol(),
		Closed: order != nil,
		Order:  mapOrderToHTTPResponse(order),
	})
}

func (h *Handler) SetLeverage(w http.ResponseWriter, r *http.Request) {
	var req LeverageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	manager, ok := h.authorize(w, r, req.ApiKey, req.Symbol)
	if !ok {
		return
	}

	var applied int
	err := h.withSymbolLock(r.Context(), manager.Symbol(), func(ctx context.Context) error {
		var leverageErr error
		applied, leverageErr = manager.SetLeverage(ctx, req.Leverage)
		return leverageErr
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LeverageResponse{Symbol: manager.Symbol(), Leverage: applied})
}

func (h *Handler) ChangeMarginType(w http.ResponseWriter, r *http.Request) {
	var req MarginTypeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	manager, ok := h.authorize(w, r, req.ApiKey, req.Symbol)
	if !ok {
		return
	}

	marginType := entity.MarginType(strings.ToUpper(strings.TrimSpace(req.MarginType)))
	err := h.withSymbolLock(r.Context(), manager.Symbol(), func(ctx context.Context) error {
		return manager.ChangeMarginType(ctx, marginType)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MarginTypeResponse{Symbol: manager.Symbol(), MarginType: string(marginType)})
}

func (h *Handler) ListDecisionRecords(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.authorizeQuery(w, r)
	if !ok {
		return
	}
	if h.decisions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "decision history is not configured"})
		return
	}

	records, err := h.decisions.ListBySymbol(r.Context(), manager.Symbol(), parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"symbol": manager.Symbol(), "records": records})
}

func (h *Handler) ListOrderHistory(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.authorizeQuery(w, r)
	if !ok {
		return
	}
	if h.orders == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "order history is not configured"})
		return
	}

	histories, err := h.orders.ListBySymbol(r.Context(), manager.Symbol(), parseLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"symbol": manager.Symbol(), "orders": histories})
}

func (h *Handler) authorizeQuery(w http.ResponseWriter, r *http.Request) (PositionManager, bool) {
	return h.authorize(w, r, "", r.URL.Query().Get("symbol"))
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, bodyKey, symbol string) (PositionManager, bool) {
	if err := validateAPIKey(h.apiKeys, resolveAPIKey(r, bodyKey), h.clock.Now()); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return nil, false
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol is required"})
		return nil, false
	}

	manager, ok := h.managers[symbol]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": errUnknownSymbol.Error()})
		return nil, false
	}

	return manager, true
}

func (h *Handler) withSymbolLock(ctx context.Context, symbol string, fn func(ctx context.Context) error) error {
	if h.locker == nil {
		return fn(ctx)
	}

	lockCtx, cancel := context.WithTimeout(ctx, h.lockWait)
	release, err := h.locker.Acquire(lockCtx, symbol)
	cancel()
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithField("status", status).Errorf("operator request failed: %v", err)
	}

	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFromError(err error) int {
	var validationErr *entity.ValidationError
	var rejection *entity.BusinessRejection
	var stale *entity.StaleStateError
	var submission *entity.SubmissionFailedError
	var httpErr *entity.HTTPError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrSymbolLocked), errors.Is(err, context.DeadlineExceeded):
		return http.StatusConflict
	case errors.As(err, &rejection):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stale), errors.As(err, &submission):
		return http.StatusBadGateway
	case errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500:
		return http.StatusUnprocessableEntity
	case entity.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request) uint64 {
	limit, err := strconv.ParseUint(r.URL.Query().Get("limit"), 10, 64)
	if err != nil || limit == 0 {
		return defaultHistoryLimit
	}

	return min(limit, maxHistoryLimit)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
