package repository

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/futures-engine/internal/entity"
)

const defaultListLimit = 50

type OrderHistoryRepository struct {
	db *sqlx.DB
}

func NewOrderHistoryRepository(db *sqlx.DB) *OrderHistoryRepository {
	return &OrderHistoryRepository{db: db}
}

func (r *OrderHistoryRepository) Create(ctx context.Context, orderHistory *entity.OrderHistory) error {
	query, args, err := buildCreateOrderHistory(orderHistory)
	if err != nil {
		return err
	}

	var id string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err != nil {
		return err
	}

	orderHistory.ID = id

	return nil
}

func (r *OrderHistoryRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) ([]entity.OrderHistory, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(entity.OrderHistory{}.TableName()).
		Where(sq.Eq{"client_order_id": clientOrderID}).
		OrderBy("created_at asc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var orderHistories []entity.OrderHistory
	err = r.db.SelectContext(ctx, &orderHistories, query, args...)
	if err != nil {
		return nil, err
	}

	return orderHistories, nil
}

func (r *OrderHistoryRepository) ListBySymbol(ctx context.Context, symbol string, limit uint64) ([]entity.OrderHistory, error) {
	query, args, err := buildListBySymbol(entity.OrderHistory{}.TableName(), "created_at", symbol, limit)
	if err != nil {
		return nil, err
	}

	var orderHistories []entity.OrderHistory
	err = r.db.SelectContext(ctx, &orderHistories, query, args...)
	if err != nil {
		return nil, err
	}

	return orderHistories, nil
}

// ListPending returns orders the exchange accepted but that had not reached a terminal status when recorded.
func (r *OrderHistoryRepository) ListPending(ctx context.Context, statuses []string, limit uint64) ([]entity.OrderHistory, error) {
	query, args, err := buildListPending(statuses, limit)
	if err != nil {
		return nil, err
	}

	var orderHistories []entity.OrderHistory
	err = r.db.SelectContext(ctx, &orderHistories, query, args...)
	if err != nil {
		return nil, err
	}

	return orderHistories, nil
}

func (r *OrderHistoryRepository) UpdateStatus(ctx context.Context, orderHistory *entity.OrderHistory) error {
	query, args, err := buildUpdateOrderStatus(orderHistory)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func buildCreateOrderHistory(orderHistory *entity.OrderHistory) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(orderHistory.TableName()).
		Columns(
			"symbol",
			"order_id",
			"client_order_id",
			"side",
			"type",
			"price",
			"quantity",
			"filled_quantity",
			"avg_fill_price",
			"status",
			"reduce_only",
			"attempts",
			"source",
			"error_message",
			"created_at",
		).
		Values(
			orderHistory.Symbol,
			orderHistory.OrderID,
			orderHistory.ClientOrderID,
			orderHistory.Side,
			orderHistory.Type,
			orderHistory.Price,
			orderHistory.Quantity,
			orderHistory.FilledQuantity,
			orderHistory.AvgFillPrice,
			orderHistory.Status,
			orderHistory.ReduceOnly,
			orderHistory.Attempts,
			orderHistory.Source,
			orderHistory.ErrorMessage,
			orderHistory.CreatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
}

func buildListBySymbol(table, orderColumn, symbol string, limit uint64) (string, []any, error) {
	if limit == 0 {
		limit = defaultListLimit
	}

	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(table).
		Where(sq.Eq{"symbol": strings.ToUpper(symbol)}).
		OrderBy(orderColumn + " desc").
		Limit(limit).
		ToSql()
}

func buildListPending(statuses []string, limit uint64) (string, []any, error) {
	if limit == 0 {
		limit = defaultListLimit
	}

	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(entity.OrderHistory{}.TableName()).
		Where(sq.Eq{"status": statuses}).
		Where(sq.NotEq{"order_id": nil}).
		OrderBy("created_at asc").
		Limit(limit).
		ToSql()
}

func buildUpdateOrderStatus(orderHistory *entity.OrderHistory) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(orderHistory.TableName()).
		SetMap(map[string]any{
			"status":          orderHistory.Status,
			"filled_quantity": orderHistory.FilledQuantity,
			"avg_fill_price":  orderHistory.AvgFillPrice,
			"updated_at":      orderHistory.UpdatedAt,
		}).
		Where(sq.Eq{"id": orderHistory.ID}).
		ToSql()
}
