package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"tradepilot/internal/decision"
)

// PostgresDecisionRepo — хранилище решений
type PostgresDecisionRepo struct {
	DB *sql.DB
}

func NewPostgresDecisionRepo(db *sql.DB) *PostgresDecisionRepo {
	return &PostgresDecisionRepo{DB: db}
}

const decisionColumns = `id, user_id, pattern_id, type, symbol, side, confidence, reasoning,
	entry_price, stop_loss, take_profit, position_size, approval_state, execution_state,
	execution_price, slippage, execution_error, execution_trade_id, suggested_at, responded_at, executed_at`

func (r *PostgresDecisionRepo) Create(ctx context.Context, d *decision.Decision) error {
	reasoning, err := json.Marshal(d.Reasoning)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO decisions (id, user_id, pattern_id, type, symbol, side, confidence, reasoning,
		                        entry_price, stop_loss, take_profit, position_size,
		                        approval_state, execution_state, suggested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.UserID, d.PatternID, d.Type, d.Symbol, d.Side, d.Confidence, reasoning,
		d.EntryPrice, d.StopLoss, d.TakeProfit, d.PositionSize,
		d.ApprovalState, d.ExecutionState, d.SuggestedAt)
	return err
}

func (r *PostgresDecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*decision.Decision, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListByUser возвращает решения пользователя, свежие первыми
func (r *PostgresDecisionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*decision.Decision, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE user_id = $1 ORDER BY suggested_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// HasOpen проверяет, есть ли у паттерна незакрытое решение
// (ожидает ответа или одобрено, но ещё не исполнено)
func (r *PostgresDecisionRepo) HasOpen(ctx context.Context, patternID uuid.UUID) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM decisions
		    WHERE pattern_id = $1
		      AND execution_state = 'pending'
		      AND approval_state IN ('pending', 'approved'))`,
		patternID).Scan(&exists)
	return exists, err
}

// SetResponse переводит pending → approved/rejected вместе с переопределениями.
// Условное обновление: второй ответ на то же решение вернёт false.
func (r *PostgresDecisionRepo) SetResponse(ctx context.Context, id uuid.UUID, state decision.ApprovalState, p *decision.ModifiedParams) (bool, error) {
	var params decision.ModifiedParams
	if p != nil {
		params = *p
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE decisions
		 SET approval_state = $2,
		     entry_price = COALESCE($3, entry_price),
		     stop_loss = COALESCE($4, stop_loss),
		     take_profit = COALESCE($5, take_profit),
		     position_size = COALESCE($6, position_size),
		     responded_at = NOW()
		 WHERE id = $1 AND approval_state = 'pending' AND execution_state = 'pending'`,
		id, state, params.EntryPrice, params.StopLoss, params.TakeProfit, params.PositionSize)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Claim атомарно захватывает решение под исполнение: pending → executing.
// Из двух конкурентных попыток ровно одна получает true — это и даёт
// семантику at-most-once.
func (r *PostgresDecisionRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE decisions SET execution_state = 'executing'
		 WHERE id = $1 AND execution_state = 'pending'`,
		id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Release возвращает захваченное решение в pending (гейт не пройден)
func (r *PostgresDecisionRepo) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE decisions SET execution_state = 'pending'
		 WHERE id = $1 AND execution_state = 'executing'`,
		id)
	return err
}

// MarkExecuted фиксирует успешное исполнение и ссылку на созданную сделку
func (r *PostgresDecisionRepo) MarkExecuted(ctx context.Context, id uuid.UUID, price, slippage float64, tradeID *int64, warning *string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE decisions
		 SET execution_state = 'executed', execution_price = $2, slippage = $3,
		     execution_trade_id = $4, execution_error = $5, executed_at = NOW()
		 WHERE id = $1 AND execution_state = 'executing'`,
		id, price, slippage, tradeID, warning)
	return err
}

// MarkFailed фиксирует фатальный сбой исполнения
func (r *PostgresDecisionRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE decisions
		 SET execution_state = 'failed', execution_error = $2, executed_at = NOW()
		 WHERE id = $1 AND execution_state = 'executing'`,
		id, reason)
	return err
}

// TodayExecutedStats — счётчик и суммарный P&L сегодняшних исполненных решений
func (r *PostgresDecisionRepo) TodayExecutedStats(ctx context.Context, userID int64) (int, float64, error) {
	var count int
	var pnl float64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(t.pnl), 0)
		 FROM decisions d
		 LEFT JOIN trades t ON t.decision_id = d.id
		 WHERE d.user_id = $1
		   AND d.execution_state = 'executed'
		   AND d.executed_at >= date_trunc('day', NOW())`,
		userID).Scan(&count, &pnl)
	return count, pnl, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row scanner) (*decision.Decision, error) {
	d := &decision.Decision{}
	var reasoning []byte
	var respondedAt, executedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.UserID, &d.PatternID, &d.Type, &d.Symbol, &d.Side, &d.Confidence, &reasoning,
		&d.EntryPrice, &d.StopLoss, &d.TakeProfit, &d.PositionSize, &d.ApprovalState, &d.ExecutionState,
		&d.ExecutionPrice, &d.Slippage, &d.ExecutionError, &d.ExecutionTrade, &d.SuggestedAt, &respondedAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Reasoning = []string{}
	if len(reasoning) > 0 {
		if jsonErr := json.Unmarshal(reasoning, &d.Reasoning); jsonErr != nil {
			d.Reasoning = []string{}
		}
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		d.RespondedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		d.ExecutedAt = &t
	}
	return d, nil
}
