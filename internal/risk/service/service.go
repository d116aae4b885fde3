package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradepilot/internal/apperr"
	"tradepilot/internal/metrics"
	"tradepilot/internal/risk"
)

// PolicyRepository — интерфейс хранилища политик
type PolicyRepository interface {
	Get(ctx context.Context, userID int64) (*risk.Policy, error)
	Upsert(ctx context.Context, p *risk.Policy) error
}

// KillSwitchRepository — интерфейс хранилища kill switch'ей
type KillSwitchRepository interface {
	Get(ctx context.Context, userID int64) (*risk.KillSwitch, error)
	Upsert(ctx context.Context, ks *risk.KillSwitch) error
	Delete(ctx context.Context, userID int64) error
}

// LockoutStore — денормализованный lockout_until в профиле пользователя
type LockoutStore interface {
	GetLockoutUntil(ctx context.Context, userID int64) (*time.Time, error)
	SetLockoutUntil(ctx context.Context, userID int64, until *time.Time) error
}

// ExecutionStats — счётчики сегодняшних исполненных решений
type ExecutionStats interface {
	TodayExecutedStats(ctx context.Context, userID int64) (count int, pnl float64, err error)
}

// CapitalSource — стартовый капитал из журнального хранилища
type CapitalSource interface {
	GetStartingCapital(ctx context.Context, userID int64) (float64, error)
}

// Service — TradingGate: единственный источник истины "заблокирован ли
// пользователь". Все пути к исполнению спрашивают его, и каждый раз —
// свежим чтением, без кэша.
type Service struct {
	Policies     PolicyRepository
	KillSwitches KillSwitchRepository
	Lockouts     LockoutStore
	Stats        ExecutionStats
	Capital      CapitalSource
}

func NewService(policies PolicyRepository, ks KillSwitchRepository, lockouts LockoutStore, stats ExecutionStats, capital CapitalSource) *Service {
	return &Service{
		Policies:     policies,
		KillSwitches: ks,
		Lockouts:     lockouts,
		Stats:        stats,
		Capital:      capital,
	}
}

// GetPolicy возвращает политику пользователя либо централизованный дефолт
func (s *Service) GetPolicy(ctx context.Context, userID int64) (*risk.Policy, error) {
	p, err := s.Policies.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return risk.DefaultPolicy(userID), nil
	}
	return p, nil
}

// PolicyUpdate — частичное обновление политики ("last write wins")
type PolicyUpdate struct {
	PermissionLevel     *string          `json:"permission_level,omitempty"`
	MinConfidence       *float64         `json:"min_confidence,omitempty"`
	MinPatternSamples   *int             `json:"min_pattern_samples,omitempty"`
	MaxDailyTrades      *int             `json:"max_daily_trades,omitempty"`
	MaxDailyLossPercent *float64         `json:"max_daily_loss_percent,omitempty"`
	BasePositionUsd     *float64         `json:"base_position_usd,omitempty"`
	AllowedSymbols      *[]string        `json:"allowed_symbols,omitempty"`
	BlockedSymbols      *[]string        `json:"blocked_symbols,omitempty"`
	AllowedHours        *risk.HourWindow `json:"allowed_hours,omitempty"`
	IsActive            *bool            `json:"is_active,omitempty"`
	LearningEnabled     *bool            `json:"learning_enabled,omitempty"`
}

// UpdatePolicy применяет частичное обновление с валидацией диапазонов
func (s *Service) UpdatePolicy(ctx context.Context, userID int64, upd PolicyUpdate) (*risk.Policy, error) {
	p, err := s.GetPolicy(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.PermissionLevel != nil {
		level := risk.PermissionLevel(*upd.PermissionLevel)
		switch level {
		case risk.PermissionObserve, risk.PermissionSuggest, risk.PermissionSemiAuto, risk.PermissionFullAuto:
			p.PermissionLevel = level
		default:
			return nil, apperr.Validation("permission_level", "must be one of observe, suggest, semi_auto, full_auto")
		}
	}
	if upd.MinConfidence != nil {
		if *upd.MinConfidence < 0.5 || *upd.MinConfidence > 0.99 {
			return nil, apperr.Validation("min_confidence", "must be in [0.5, 0.99]")
		}
		p.MinConfidence = *upd.MinConfidence
	}
	if upd.MinPatternSamples != nil {
		if *upd.MinPatternSamples < 1 {
			return nil, apperr.Validation("min_pattern_samples", "must be at least 1")
		}
		p.MinPatternSamples = *upd.MinPatternSamples
	}
	if upd.MaxDailyTrades != nil {
		if *upd.MaxDailyTrades < 1 {
			return nil, apperr.Validation("max_daily_trades", "must be at least 1")
		}
		p.MaxDailyTrades = *upd.MaxDailyTrades
	}
	if upd.MaxDailyLossPercent != nil {
		if *upd.MaxDailyLossPercent <= 0 || *upd.MaxDailyLossPercent > 50 {
			return nil, apperr.Validation("max_daily_loss_percent", "must be in (0, 50]")
		}
		p.MaxDailyLossPercent = *upd.MaxDailyLossPercent
	}
	if upd.BasePositionUsd != nil {
		if *upd.BasePositionUsd <= 0 {
			return nil, apperr.Validation("base_position_usd", "must be positive")
		}
		p.BasePositionUsd = *upd.BasePositionUsd
	}
	if upd.AllowedSymbols != nil {
		p.AllowedSymbols = *upd.AllowedSymbols
	}
	if upd.BlockedSymbols != nil {
		p.BlockedSymbols = *upd.BlockedSymbols
	}
	if upd.AllowedHours != nil {
		w := *upd.AllowedHours
		if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 23 {
			return nil, apperr.Validation("allowed_hours", "hours must be in [0, 23]")
		}
		p.AllowedHours = &w
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	if upd.LearningEnabled != nil {
		p.LearningEnabled = *upd.LearningEnabled
	}

	if err := s.Policies.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CheckExecution — два независимых гейта перед каждой попыткой исполнения,
// строго в этом порядке; первый отказ обрывает проверку.
// Результат никогда не кэшируется между запросами.
func (s *Service) CheckExecution(ctx context.Context, userID int64) error {
	now := time.Now()

	// Гейт 1: kill switch и lockout профиля
	ks, err := s.KillSwitches.Get(ctx, userID)
	if err != nil {
		return err
	}
	if ks != nil && ks.IsActive {
		metrics.RiskBlockedTotal.WithLabelValues("kill_switch").Inc()
		return &apperr.RiskBlockedError{
			Gate:       "kill_switch",
			Reason:     ks.Reason,
			RecoveryAt: ks.RecoveryAt,
		}
	}

	lockout, err := s.Lockouts.GetLockoutUntil(ctx, userID)
	if err != nil {
		return err
	}
	if lockout != nil && lockout.After(now) {
		metrics.RiskBlockedTotal.WithLabelValues("kill_switch").Inc()
		return &apperr.RiskBlockedError{
			Gate:       "kill_switch",
			Reason:     "account locked out",
			RecoveryAt: lockout,
		}
	}

	// Гейт 2: дневные лимиты. Пробой блокирует до конца дня,
	// но сам по себе kill switch не взводит.
	policy, err := s.GetPolicy(ctx, userID)
	if err != nil {
		return err
	}
	count, pnl, err := s.Stats.TodayExecutedStats(ctx, userID)
	if err != nil {
		return err
	}

	if count >= policy.MaxDailyTrades {
		metrics.RiskBlockedTotal.WithLabelValues("daily_trades").Inc()
		return &apperr.RiskBlockedError{
			Gate:    "daily_trades",
			Reason:  fmt.Sprintf("daily trade limit reached: %d/%d", count, policy.MaxDailyTrades),
			Current: float64(count),
			Limit:   float64(policy.MaxDailyTrades),
		}
	}

	capital, err := s.Capital.GetStartingCapital(ctx, userID)
	if err != nil {
		return err
	}
	maxLoss := capital * policy.MaxDailyLossPercent / 100
	if pnl <= -maxLoss {
		metrics.RiskBlockedTotal.WithLabelValues("daily_loss").Inc()
		return &apperr.RiskBlockedError{
			Gate:    "daily_loss",
			Reason:  fmt.Sprintf("daily loss limit breached: %.2f/%.2f", pnl, -maxLoss),
			Current: pnl,
			Limit:   -maxLoss,
		}
	}

	return nil
}

// SetKillSwitch обрабатывает activate/deactivate/reset
func (s *Service) SetKillSwitch(ctx context.Context, userID int64, action, reason string, recoveryHours int) (*risk.KillSwitch, error) {
	switch action {
	case "activate":
		return s.activate(ctx, userID, reason, recoveryHours)
	case "deactivate":
		return s.deactivate(ctx, userID)
	case "reset":
		return nil, s.reset(ctx, userID)
	default:
		return nil, apperr.Validation("action", "must be one of activate, deactivate, reset")
	}
}

func (s *Service) activate(ctx context.Context, userID int64, reason string, recoveryHours int) (*risk.KillSwitch, error) {
	if reason == "" {
		reason = "manual kill switch"
	}
	ks := &risk.KillSwitch{
		UserID:      userID,
		IsActive:    true,
		Reason:      reason,
		TriggeredAt: time.Now(),
	}
	if recoveryHours > 0 {
		recovery := ks.TriggeredAt.Add(time.Duration(recoveryHours) * time.Hour)
		ks.RecoveryAt = &recovery
	}

	if err := s.KillSwitches.Upsert(ctx, ks); err != nil {
		return nil, err
	}
	if err := s.Lockouts.SetLockoutUntil(ctx, userID, ks.RecoveryAt); err != nil {
		return nil, err
	}

	metrics.KillSwitchActivations.Inc()
	log.Printf("RiskService: kill switch activated for user %d: %s", userID, reason)
	return ks, nil
}

func (s *Service) deactivate(ctx context.Context, userID int64) (*risk.KillSwitch, error) {
	ks, err := s.KillSwitches.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ks == nil || !ks.IsActive {
		return nil, apperr.Validation("action", "kill switch is not active")
	}
	// До истечения recovery_at деактивация запрещена
	if ks.RecoveryAt != nil && time.Now().Before(*ks.RecoveryAt) {
		return nil, apperr.Validation("action",
			fmt.Sprintf("kill switch cannot be deactivated before %s", ks.RecoveryAt.Format(time.RFC3339)))
	}

	ks.IsActive = false
	if err := s.KillSwitches.Upsert(ctx, ks); err != nil {
		return nil, err
	}
	if err := s.Lockouts.SetLockoutUntil(ctx, userID, nil); err != nil {
		return nil, err
	}
	log.Printf("RiskService: kill switch deactivated for user %d", userID)
	return ks, nil
}

// reset — безусловный административный сброс: запись и lockout очищаются
func (s *Service) reset(ctx context.Context, userID int64) error {
	if err := s.KillSwitches.Delete(ctx, userID); err != nil {
		return err
	}
	if err := s.Lockouts.SetLockoutUntil(ctx, userID, nil); err != nil {
		return err
	}
	log.Printf("RiskService: kill switch reset for user %d", userID)
	return nil
}

// Status собирает сводку торгового состояния пользователя
func (s *Service) Status(ctx context.Context, userID int64) (*risk.Status, error) {
	policy, err := s.GetPolicy(ctx, userID)
	if err != nil {
		return nil, err
	}
	ks, err := s.KillSwitches.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, pnl, err := s.Stats.TodayExecutedStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	capital, err := s.Capital.GetStartingCapital(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &risk.Status{
		KillSwitch: ks,
		Limits: risk.Limits{
			TradesUsed:      count,
			MaxDailyTrades:  policy.MaxDailyTrades,
			LossTodayUsd:    pnl,
			MaxDailyLossUsd: capital * policy.MaxDailyLossPercent / 100,
		},
		Config: policy,
	}
	st.CanTrade = s.CheckExecution(ctx, userID) == nil && policy.IsActive && policy.PermissionLevel.CanExecute()
	return st, nil
}
