package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tradepilot/internal/api/dto"
	"tradepilot/internal/apperr"
	"tradepilot/internal/decision"
	decisionsvc "tradepilot/internal/decision/service"
	executionsvc "tradepilot/internal/execution/service"
	"tradepilot/pkg/middleware"
)

type DecisionHandler struct {
	Decisions *decisionsvc.Service
	Executor  *executionsvc.Engine
}

func NewDecisionHandler(decisions *decisionsvc.Service, executor *executionsvc.Engine) *DecisionHandler {
	return &DecisionHandler{Decisions: decisions, Executor: executor}
}

// Generate создаёт предложения из паттернов, проходящих риск-политику
func (h *DecisionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	created, err := h.Decisions.Generate(r.Context(), userID)
	if err != nil {
		log.Printf("Decision generation failed for user %d: %v", userID, err)
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"decisions": created,
		"count":     len(created),
	})
}

func (h *DecisionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	decisions, err := h.Decisions.List(r.Context(), userID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if decisions == nil {
		decisions = []*decision.Decision{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// Respond принимает одобрение или отклонение предложения,
// вместе с переопределениями параметров
func (h *DecisionHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperr.Write(w, apperr.Validation("id", "invalid decision id"))
		return
	}

	var req dto.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		apperr.Write(w, apperr.Validation("", err.Error()))
		return
	}

	params := &decision.ModifiedParams{
		EntryPrice:   req.EntryPrice,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		PositionSize: req.PositionSize,
	}

	d, err := h.Decisions.Respond(r.Context(), userID, id, req.Approved, params)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	log.Printf("User %d responded to decision %s: %s", userID, id, d.ApprovalState)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

// Execute исполняет одобренное решение на бирже
func (h *DecisionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperr.Write(w, apperr.Validation("id", "invalid decision id"))
		return
	}

	var req dto.ExecuteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.Write(w, apperr.Validation("", "invalid request body"))
			return
		}
	}

	result, err := h.Executor.Execute(r.Context(), userID, id, req.Exchange)
	if err != nil {
		log.Printf("Execution of decision %s failed for user %d: %v", id, userID, err)
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
