package risk

import "time"

type PermissionLevel string

const (
	PermissionObserve  PermissionLevel = "observe"
	PermissionSuggest  PermissionLevel = "suggest"
	PermissionSemiAuto PermissionLevel = "semi_auto"
	PermissionFullAuto PermissionLevel = "full_auto"
)

// CanExecute — может ли уровень автономии вообще доходить до исполнения
func (p PermissionLevel) CanExecute() bool {
	return p == PermissionSemiAuto || p == PermissionFullAuto
}

// HourWindow — разрешённое окно торговли в часах UTC [Start, End)
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains проверяет попадание часа в окно, включая окна через полночь
func (w HourWindow) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

// Policy — риск-политика пользователя. Меняется только явным обновлением
// конфигурации; значения по умолчанию определены в одном месте — DefaultPolicy.
type Policy struct {
	UserID              int64           `json:"user_id"`
	PermissionLevel     PermissionLevel `json:"permission_level"`
	MinConfidence       float64         `json:"min_confidence"`
	MinPatternSamples   int             `json:"min_pattern_samples"`
	MaxDailyTrades      int             `json:"max_daily_trades"`
	MaxDailyLossPercent float64         `json:"max_daily_loss_percent"`
	BasePositionUsd     float64         `json:"base_position_usd"`
	AllowedSymbols      []string        `json:"allowed_symbols"`
	BlockedSymbols      []string        `json:"blocked_symbols"`
	AllowedHours        *HourWindow     `json:"allowed_hours,omitempty"`
	IsActive            bool            `json:"is_active"`
	LearningEnabled     bool            `json:"learning_enabled"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// DefaultPolicy — единственный источник дефолтной политики.
// Никогда не переобъявляется по месту вызова.
func DefaultPolicy(userID int64) *Policy {
	return &Policy{
		UserID:              userID,
		PermissionLevel:     PermissionSuggest,
		MinConfidence:       0.7,
		MinPatternSamples:   5,
		MaxDailyTrades:      10,
		MaxDailyLossPercent: 5,
		BasePositionUsd:     100,
		AllowedSymbols:      []string{},
		BlockedSymbols:      []string{},
		IsActive:            true,
		LearningEnabled:     true,
	}
}

// SymbolAllowed проверяет символ против белого и чёрного списков
func (p *Policy) SymbolAllowed(symbol string) bool {
	for _, s := range p.BlockedSymbols {
		if s == symbol {
			return false
		}
	}
	if len(p.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range p.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// KillSwitch — блокировка автоматического исполнения.
// У пользователя не больше одной активной записи.
type KillSwitch struct {
	UserID      int64      `json:"user_id"`
	IsActive    bool       `json:"is_active"`
	Reason      string     `json:"reason"`
	TriggeredAt time.Time  `json:"triggered_at"`
	RecoveryAt  *time.Time `json:"recovery_at,omitempty"`
}

// Limits — текущее использование дневных лимитов
type Limits struct {
	TradesUsed      int     `json:"trades_used"`
	MaxDailyTrades  int     `json:"max_daily_trades"`
	LossTodayUsd    float64 `json:"loss_today_usd"`
	MaxDailyLossUsd float64 `json:"max_daily_loss_usd"`
}

// Status — сводка торгового состояния пользователя
type Status struct {
	CanTrade   bool        `json:"can_trade"`
	KillSwitch *KillSwitch `json:"kill_switch,omitempty"`
	Limits     Limits      `json:"limits"`
	Config     *Policy     `json:"config"`
}
