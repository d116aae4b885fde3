package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradepilot/internal/api/dto"
	"tradepilot/internal/apperr"
	"tradepilot/internal/connection/service"
	"tradepilot/pkg/middleware"
)

type ConnectionHandler struct {
	Service *service.Service
}

func NewConnectionHandler(s *service.Service) *ConnectionHandler {
	return &ConnectionHandler{Service: s}
}

// SaveKeys сохраняет ключи подключения к бирже.
// В ответе и логах ключей нет — только биржа и id записи.
func (h *ConnectionHandler) SaveKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	var req dto.SaveKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		apperr.Write(w, apperr.Validation("", err.Error()))
		return
	}

	c, err := h.Service.SaveKeys(r.Context(), userID, req.Exchange, req.APIKey, req.APISecret, req.Passphrase)
	if err != nil {
		log.Printf("Failed to save keys for user %d, exchange %s: %v", userID, req.Exchange, err)
		apperr.Write(w, err)
		return
	}

	log.Printf("Saved %s connection %d for user %d", req.Exchange, c.ID, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       c.ID,
		"exchange": c.Exchange,
	})
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)
	exchange := chi.URLParam(r, "exchange")

	if err := h.Service.Disconnect(r.Context(), userID, exchange); err != nil {
		apperr.Write(w, err)
		return
	}

	log.Printf("Deleted %s connection for user %d", exchange, userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "connection deleted",
	})
}

// Test проверяет подключение живым запросом к бирже
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)
	exchange := chi.URLParam(r, "exchange")

	ok, err := h.Service.Test(r.Context(), userID, exchange)
	if err != nil {
		log.Printf("Connection test failed for user %d, exchange %s: %v", userID, exchange, err)
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"exchange": exchange,
		"ok":       ok,
	})
}
