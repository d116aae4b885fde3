package decision

import (
	"time"

	"github.com/google/uuid"
)

type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

type ExecutionState string

const (
	ExecutionPending   ExecutionState = "pending"
	ExecutionExecuting ExecutionState = "executing"
	ExecutionExecuted  ExecutionState = "executed"
	ExecutionFailed    ExecutionState = "failed"
)

// Decision — предложенное или исполненное торговое действие,
// выведенное из паттерна. После executed запись неизменяема;
// одно решение ссылается максимум на одну созданную сделку.
type Decision struct {
	ID             uuid.UUID      `json:"id"`
	UserID         int64          `json:"user_id"`
	PatternID      uuid.UUID      `json:"pattern_id"`
	Type           string         `json:"type"` // "suggest" | "auto"
	Symbol         string         `json:"symbol"`
	Side           string         `json:"side"` // "buy" | "sell"
	Confidence     float64        `json:"confidence"`
	Reasoning      []string       `json:"reasoning"`
	EntryPrice     *float64       `json:"entry_price,omitempty"`
	StopLoss       *float64       `json:"stop_loss,omitempty"`
	TakeProfit     *float64       `json:"take_profit,omitempty"`
	PositionSize   *float64       `json:"position_size,omitempty"`
	ApprovalState  ApprovalState  `json:"approval_state"`
	ExecutionState ExecutionState `json:"execution_state"`
	ExecutionPrice *float64       `json:"execution_price,omitempty"`
	Slippage       *float64       `json:"slippage,omitempty"`
	ExecutionError *string        `json:"execution_error,omitempty"`
	ExecutionTrade *int64         `json:"execution_trade_id,omitempty"`
	SuggestedAt    time.Time      `json:"suggested_at"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	ExecutedAt     *time.Time     `json:"executed_at,omitempty"`
}

// ModifiedParams — переопределения параметров при одобрении,
// накладываются поверх выведенных из паттерна ("last write wins")
type ModifiedParams struct {
	EntryPrice   *float64 `json:"entry_price,omitempty"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
	PositionSize *float64 `json:"position_size,omitempty"`
}
