package http

import (
	"encoding/json"
	"log"
	"net/http"

	"tradepilot/internal/api/dto"
	"tradepilot/internal/apperr"
	"tradepilot/internal/risk/service"
	"tradepilot/pkg/middleware"
)

type RiskHandler struct {
	Service *service.Service
}

func NewRiskHandler(s *service.Service) *RiskHandler {
	return &RiskHandler{Service: s}
}

func (h *RiskHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	policy, err := h.Service.GetPolicy(r.Context(), userID)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policy)
}

// UpdatePolicy применяет частичное обновление риск-политики
func (h *RiskHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	var upd service.PolicyUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}

	policy, err := h.Service.UpdatePolicy(r.Context(), userID, upd)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	log.Printf("Risk policy updated for user %d", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policy)
}

// KillSwitch обрабатывает activate/deactivate/reset
func (h *RiskHandler) KillSwitch(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	var req dto.KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		apperr.Write(w, apperr.Validation("", err.Error()))
		return
	}

	ks, err := h.Service.SetKillSwitch(r.Context(), userID, req.Action, req.Reason, req.RecoveryHours)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if ks == nil {
		// reset: записи больше нет
		json.NewEncoder(w).Encode(map[string]string{"message": "kill switch reset"})
		return
	}
	json.NewEncoder(w).Encode(ks)
}

func (h *RiskHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	status, err := h.Service.Status(r.Context(), userID)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
