package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/futures-engine/internal/entity"
)

type DecisionRecordRepository struct {
	db *sqlx.DB
}

func NewDecisionRecordRepository(db *sqlx.DB) *DecisionRecordRepository {
	return &DecisionRecordRepository{db: db}
}

// Create appends record; decision records are never updated.
func (r *DecisionRecordRepository) Create(ctx context.Context, record *entity.DecisionRecord) error {
	query, args, err := buildCreateDecisionRecord(record)
	if err != nil {
		return err
	}

	var id string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err != nil {
		return err
	}

	record.ID = id

	return nil
}

func (r *DecisionRecordRepository) ListBySymbol(ctx context.Context, symbol string, limit uint64) ([]entity.DecisionRecord, error) {
	query, args, err := buildListBySymbol(entity.DecisionRecord{}.TableName(), "recorded_at", symbol, limit)
	if err != nil {
		return nil, err
	}

	var records []entity.DecisionRecord
	err = r.db.SelectContext(ctx, &records, query, args...)
	if err != nil {
		return nil, err
	}

	return records, nil
}

func buildCreateDecisionRecord(record *entity.DecisionRecord) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(record.TableName()).
		Columns(
			"symbol",
			"action",
			"strategy_label",
			"resulting_position",
			"position_amount",
			"order_id",
			"mark_price",
			"error_message",
			"recorded_at",
		).
		Values(
			record.Symbol,
			record.Action,
			record.StrategyLabel,
			record.ResultingPosition,
			record.PositionAmount,
			record.OrderID,
			record.MarkPrice,
			record.ErrorMessage,
			record.RecordedAt,
		).
		Suffix("RETURNING id").
		ToSql()
}
