package orderhistory

import (
	"context"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultOrderHistorySyncInterval = 30 * time.Second
	defaultSyncBatchSize            = 100
)

var pendingOrderHistoryStatuses = []string{
	string(entity.OrderStatusNew),
	string(entity.OrderStatusPartiallyFilled),
}

type OrderGetter interface {
	GetOrder(ctx context.Context, symbol string, orderID int64) (*entity.Order, error)
}

type Store interface {
	ListPending(ctx context.Context, statuses []string, limit uint64) ([]entity.OrderHistory, error)
	UpdateStatus(ctx context.Context, orderHistory *entity.OrderHistory) error
}

// OrderHistorySyncService brings recorded orders that were still working at submission time up to
// date with the exchange, so order history ends with the status the exchange settled on.
type OrderHistorySyncService struct {
	gateway      OrderGetter
	store        Store
	syncInterval time.Duration
	clock        util.Clock
	logger       logrus.FieldLogger
}

type Option func(*OrderHistorySyncService)

func WithClock(clock util.Clock) Option {
	return func(s *OrderHistorySyncService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *OrderHistorySyncService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewOrderHistorySyncService(gateway OrderGetter, store Store, syncInterval time.Duration, opts ...Option) *OrderHistorySyncService {
	if syncInterval <= 0 {
		syncInterval = defaultOrderHistorySyncInterval
	}

	s := &OrderHistorySyncService{
		gateway:      gateway,
		store:        store,
		syncInterval: syncInterval,
		clock:        util.RealClock{},
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *OrderHistorySyncService) Run(ctx context.Context) error {
	for {
		s.SyncPendingOrderHistories(ctx)

		if err := util.Sleep(ctx, s.clock, s.syncInterval); err != nil {
			return nil
		}
	}
}

// SyncPendingOrderHistories returns the number of rows whose status changed.
func (s *OrderHistorySyncService) SyncPendingOrderHistories(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	orderHistories, err := s.store.ListPending(ctx, pendingOrderHistoryStatuses, defaultSyncBatchSize)
	if err != nil {
		s.logger.WithError(err).Error("failed to load order histories to sync")
		return 0
	}

	updated := 0
	for i := range orderHistories {
		if ctx.Err() != nil {
			return updated
		}

		history := &orderHistories[i]
		logger := s.logger.WithFields(logrus.Fields{
			"symbol":   history.Symbol,
			"order_id": history.OrderID.Int64,
			"status":   history.Status,
		})

		order, err := s.gateway.GetOrder(ctx, history.Symbol, history.OrderID.Int64)
		if err != nil {
			logger.WithError(err).Error("failed to sync order history")
			continue
		}

		if !applyOrder(history, order, s.clock.Now()) {
			continue
		}

		if err := s.store.UpdateStatus(ctx, history); err != nil {
			logger.WithError(err).Error("failed to update order history")
			continue
		}
		updated++
	}

	return updated
}

// applyOrder copies the exchange view of the order into history and reports whether anything changed.
func applyOrder(history *entity.OrderHistory, order *entity.Order, now time.Time) bool {
	if order == nil {
		return false
	}

	changed := history.Status != string(order.Status) || !history.FilledQuantity.Equal(order.ExecutedQty)
	if !changed {
		return false
	}

	history.Status = string(order.Status)
	history.FilledQuantity = order.ExecutedQty
	if order.AvgPrice.IsPositive() {
		avg := order.AvgPrice
		history.AvgFillPrice = &avg
	}
	history.UpdatedAt = null.TimeFrom(now.UTC())

	return true
}
