package http

import (
	"encoding/json"
	"log"
	"net/http"

	"tradepilot/internal/apperr"
	"tradepilot/internal/pattern/service"
	"tradepilot/pkg/middleware"
)

type PatternHandler struct {
	Engine *service.Engine
}

func NewPatternHandler(engine *service.Engine) *PatternHandler {
	return &PatternHandler{Engine: engine}
}

// Train запускает обучающий проход по закрытым сделкам пользователя
func (h *PatternHandler) Train(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	report, err := h.Engine.Train(r.Context(), userID)
	if err != nil {
		log.Printf("Training failed for user %d: %v", userID, err)
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (h *PatternHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	patterns, err := h.Engine.List(r.Context(), userID)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}
