package apperr

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"
)

// ErrorResponse — единый формат ошибок API
type ErrorResponse struct {
	Error      string     `json:"error"`
	Field      string     `json:"field,omitempty"`
	Gate       string     `json:"gate,omitempty"`
	Current    *float64   `json:"current,omitempty"`
	Limit      *float64   `json:"limit,omitempty"`
	RecoveryAt *time.Time `json:"recovery_at,omitempty"`
}

// Write сериализует ошибку в HTTP-ответ. Блокировка риск-контура
// отдаётся машиночитаемо: гейт, текущее значение, лимит, recovery_at.
func Write(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		validationErr  *ValidationError
		authErr        *AuthError
		notFoundErr    *NotFoundError
		encryptionErr  *EncryptionError
		externalErr    *ExternalApiError
		riskBlocked    *RiskBlockedError
		unsupportedErr *UnsupportedExchangeError
	)

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		resp.Field = validationErr.Field
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &riskBlocked):
		status = http.StatusForbidden
		resp.Gate = riskBlocked.Gate
		resp.RecoveryAt = riskBlocked.RecoveryAt
		if riskBlocked.Limit != 0 {
			current, limit := riskBlocked.Current, riskBlocked.Limit
			resp.Current = &current
			resp.Limit = &limit
		}
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &unsupportedErr):
		status = http.StatusBadRequest
	case errors.As(err, &externalErr):
		status = http.StatusBadGateway
	case errors.As(err, &encryptionErr):
		// Детали не раскрываем, в теле только операция
		status = http.StatusInternalServerError
	default:
		log.Printf("internal error: %v", err)
		resp.Error = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
