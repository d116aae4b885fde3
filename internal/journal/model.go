package journal

import "time"

// Trade — запись журнала сделок. Закрытые сделки — единственный
// обучающий сигнал для Pattern Learning Engine.
type Trade struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Symbol     string     `json:"symbol"`
	Direction  string     `json:"direction"` // "long" | "short"
	SetupType  string     `json:"setup_type,omitempty"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	Quantity   float64    `json:"quantity"`
	Pnl        *float64   `json:"pnl,omitempty"`
	PnlPercent *float64   `json:"pnl_percent,omitempty"`
	Status     string     `json:"status"` // "open" | "closed"
	Source     string     `json:"source"` // "manual" | "auto"
	DecisionID *string    `json:"decision_id,omitempty"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
}

// NewTrade — поля для создания сделки из Execution Engine
type NewTrade struct {
	Symbol     string
	Direction  string
	SetupType  string
	EntryPrice float64
	Quantity   float64
	Source     string
	DecisionID string
	EntryTime  time.Time
}
