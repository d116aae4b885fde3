package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"tradepilot/internal/risk"
)

// PostgresPolicyRepo — хранилище риск-политик
type PostgresPolicyRepo struct {
	DB *sql.DB
}

func NewPostgresPolicyRepo(db *sql.DB) *PostgresPolicyRepo {
	return &PostgresPolicyRepo{DB: db}
}

// Get возвращает политику пользователя; nil без ошибки, если строки нет.
// Дефолты подставляет сервисный слой из risk.DefaultPolicy.
func (r *PostgresPolicyRepo) Get(ctx context.Context, userID int64) (*risk.Policy, error) {
	p := &risk.Policy{}
	var allowed, blocked []byte
	var hours []byte

	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, permission_level, min_confidence, min_pattern_samples, max_daily_trades,
		        max_daily_loss_percent, base_position_usd, allowed_symbols, blocked_symbols,
		        allowed_hours, is_active, learning_enabled, updated_at
		 FROM risk_policies WHERE user_id = $1`,
		userID).Scan(
		&p.UserID, &p.PermissionLevel, &p.MinConfidence, &p.MinPatternSamples, &p.MaxDailyTrades,
		&p.MaxDailyLossPercent, &p.BasePositionUsd, &allowed, &blocked,
		&hours, &p.IsActive, &p.LearningEnabled, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// JSON-поля могут отсутствовать в старых строках — деградируем до дефолтов
	p.AllowedSymbols = decodeSymbols(allowed)
	p.BlockedSymbols = decodeSymbols(blocked)
	if len(hours) > 0 {
		var w risk.HourWindow
		if jsonErr := json.Unmarshal(hours, &w); jsonErr == nil {
			p.AllowedHours = &w
		}
	}
	return p, nil
}

// Upsert сохраняет политику целиком
func (r *PostgresPolicyRepo) Upsert(ctx context.Context, p *risk.Policy) error {
	allowed, err := json.Marshal(p.AllowedSymbols)
	if err != nil {
		return err
	}
	blocked, err := json.Marshal(p.BlockedSymbols)
	if err != nil {
		return err
	}
	var hours interface{}
	if p.AllowedHours != nil {
		raw, err := json.Marshal(p.AllowedHours)
		if err != nil {
			return err
		}
		hours = raw
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO risk_policies (user_id, permission_level, min_confidence, min_pattern_samples,
		                            max_daily_trades, max_daily_loss_percent, base_position_usd,
		                            allowed_symbols, blocked_symbols, allowed_hours, is_active, learning_enabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET permission_level = $2, min_confidence = $3, min_pattern_samples = $4,
		     max_daily_trades = $5, max_daily_loss_percent = $6, base_position_usd = $7,
		     allowed_symbols = $8, blocked_symbols = $9, allowed_hours = $10,
		     is_active = $11, learning_enabled = $12, updated_at = NOW()`,
		p.UserID, p.PermissionLevel, p.MinConfidence, p.MinPatternSamples,
		p.MaxDailyTrades, p.MaxDailyLossPercent, p.BasePositionUsd,
		allowed, blocked, hours, p.IsActive, p.LearningEnabled)
	return err
}

func decodeSymbols(raw []byte) []string {
	symbols := []string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &symbols); err != nil {
			return []string{}
		}
	}
	return symbols
}

// PostgresKillSwitchRepo — хранилище kill switch'ей
type PostgresKillSwitchRepo struct {
	DB *sql.DB
}

func NewPostgresKillSwitchRepo(db *sql.DB) *PostgresKillSwitchRepo {
	return &PostgresKillSwitchRepo{DB: db}
}

// Get возвращает kill switch пользователя; nil без ошибки, если его нет
func (r *PostgresKillSwitchRepo) Get(ctx context.Context, userID int64) (*risk.KillSwitch, error) {
	ks := &risk.KillSwitch{}
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, is_active, reason, triggered_at, recovery_at
		 FROM kill_switches WHERE user_id = $1`,
		userID).Scan(&ks.UserID, &ks.IsActive, &ks.Reason, &ks.TriggeredAt, &ks.RecoveryAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ks, nil
}

// Upsert сохраняет kill switch (активация или деактивация)
func (r *PostgresKillSwitchRepo) Upsert(ctx context.Context, ks *risk.KillSwitch) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO kill_switches (user_id, is_active, reason, triggered_at, recovery_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET is_active = $2, reason = $3, triggered_at = $4, recovery_at = $5`,
		ks.UserID, ks.IsActive, ks.Reason, ks.TriggeredAt, ks.RecoveryAt)
	return err
}

// Delete убирает запись полностью (административный reset)
func (r *PostgresKillSwitchRepo) Delete(ctx context.Context, userID int64) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM kill_switches WHERE user_id = $1`,
		userID)
	return err
}
