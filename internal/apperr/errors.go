package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError — некорректная форма или диапазон входных данных
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Msg)
	}
	return "validation failed: " + e.Msg
}

func Validation(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// AuthError — отсутствует или неверна идентификация пользователя
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return e.Msg }

// NotFoundError — неизвестный Decision/Pattern/подключение
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// EncryptionError — ошибка хранилища секретов.
// Сообщение никогда не содержит ключевой материал.
type EncryptionError struct {
	Op string
}

func (e *EncryptionError) Error() string {
	return "vault: " + e.Op + " failed"
}

// ExternalApiError — транспортная ошибка или отказ биржевого API
type ExternalApiError struct {
	Exchange   string
	StatusCode int
	Msg        string
}

func (e *ExternalApiError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Exchange, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("%s API error: %s", e.Exchange, e.Msg)
}

// RiskBlockedError — исполнение заблокировано kill switch'ем или дневным лимитом.
// Gate и Reason машиночитаемы: пользователь должен знать, когда торговля возобновится.
type RiskBlockedError struct {
	Gate       string // "kill_switch" | "daily_trades" | "daily_loss"
	Reason     string
	Current    float64
	Limit      float64
	RecoveryAt *time.Time
}

func (e *RiskBlockedError) Error() string {
	return fmt.Sprintf("execution blocked by %s: %s", e.Gate, e.Reason)
}

// UnsupportedExchangeError — в реестре нет адаптера для такого id
type UnsupportedExchangeError struct {
	ID string
}

func (e *UnsupportedExchangeError) Error() string {
	return fmt.Sprintf("unsupported exchange: %q", e.ID)
}

// IsRiskBlocked проверяет, является ли ошибка блокировкой риск-контура
func IsRiskBlocked(err error) (*RiskBlockedError, bool) {
	var rb *RiskBlockedError
	if errors.As(err, &rb) {
		return rb, true
	}
	return nil, false
}
