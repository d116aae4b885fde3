package repository

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/lib/pq"

	"tradepilot/internal/journal"
)

const defaultStartingCapital = 10000

// PostgresJournalRepo — хранилище журнала сделок.
// Колонки setup_type/source/decision_id появились позже базовой схемы,
// поэтому запись сначала пробует полный набор колонок и при ошибке
// undefined_column (42703) откатывается на базовый. Флаг схемы
// резолвится один раз на процесс, а не на каждый вызов.
type PostgresJournalRepo struct {
	DB *sql.DB

	// 0 — не проверено, 1 — полная схема, 2 — базовая
	schemaState atomic.Int32
}

func NewPostgresJournalRepo(db *sql.DB) *PostgresJournalRepo {
	return &PostgresJournalRepo{DB: db}
}

// ListClosedTrades возвращает до limit последних закрытых сделок пользователя
func (r *PostgresJournalRepo) ListClosedTrades(ctx context.Context, userID int64, limit int) ([]journal.Trade, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, symbol, direction, COALESCE(setup_type, ''), entry_price, exit_price,
		        quantity, pnl, pnl_percent, status, COALESCE(source, 'manual'), entry_time, exit_time
		 FROM trades
		 WHERE user_id = $1 AND status = 'closed'
		 ORDER BY exit_time DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []journal.Trade
	for rows.Next() {
		var t journal.Trade
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Symbol, &t.Direction, &t.SetupType, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.Pnl, &t.PnlPercent, &t.Status, &t.Source, &t.EntryTime, &t.ExitTime,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CreateTrade создаёт сделку из Execution Engine.
// Полная вставка, при устаревшей схеме — базовая.
func (r *PostgresJournalRepo) CreateTrade(ctx context.Context, userID int64, t journal.NewTrade) (int64, error) {
	if r.schemaState.Load() != 2 {
		id, err := r.insertFull(ctx, userID, t)
		if err == nil {
			r.schemaState.CompareAndSwap(0, 1)
			return id, nil
		}
		if !isUndefinedColumn(err) {
			return 0, err
		}
		r.schemaState.Store(2)
	}
	return r.insertBasic(ctx, userID, t)
}

func (r *PostgresJournalRepo) insertFull(ctx context.Context, userID int64, t journal.NewTrade) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO trades (user_id, symbol, direction, setup_type, entry_price, quantity, status, source, decision_id, entry_time)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 'open', $7, $8, $9)
		 RETURNING id`,
		userID, t.Symbol, t.Direction, t.SetupType, t.EntryPrice, t.Quantity, t.Source, t.DecisionID, t.EntryTime,
	).Scan(&id)
	return id, err
}

func (r *PostgresJournalRepo) insertBasic(ctx context.Context, userID int64, t journal.NewTrade) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO trades (user_id, symbol, direction, entry_price, quantity, status, entry_time)
		 VALUES ($1, $2, $3, $4, $5, 'open', $6)
		 RETURNING id`,
		userID, t.Symbol, t.Direction, t.EntryPrice, t.Quantity, t.EntryTime,
	).Scan(&id)
	return id, err
}

// GetStartingCapital возвращает стартовый капитал пользователя, 10000 по умолчанию
func (r *PostgresJournalRepo) GetStartingCapital(ctx context.Context, userID int64) (float64, error) {
	var capital float64
	err := r.DB.QueryRowContext(ctx,
		`SELECT starting_capital FROM account_settings WHERE user_id = $1`,
		userID).Scan(&capital)
	if err == sql.ErrNoRows {
		return defaultStartingCapital, nil
	}
	if err != nil {
		return 0, err
	}
	return capital, nil
}

func isUndefinedColumn(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "42703"
	}
	return false
}
