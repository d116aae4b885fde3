package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tradepilot/internal/api/dto"
	"tradepilot/internal/apperr"
	"tradepilot/internal/token"
	"tradepilot/internal/user/service"
)

// RefreshTokenRepository — хранилище refresh-токенов
type RefreshTokenRepository interface {
	Save(ctx context.Context, t *token.Token) error
	GetByToken(ctx context.Context, tokenStr string) (*token.Token, error)
	DeleteByToken(ctx context.Context, tokenStr string) error
}

type Handler struct {
	UserService *service.UserService
	JWT         *service.JWTManager
	Tokens      RefreshTokenRepository
}

func NewHandler(us *service.UserService, tokens RefreshTokenRepository, jwtSecret string) *Handler {
	return &Handler{
		UserService: us,
		JWT:         service.NewJWTManager(jwtSecret),
		Tokens:      tokens,
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		apperr.Write(w, apperr.Validation("", err.Error()))
		return
	}

	u, err := h.UserService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if err == service.ErrUserExists {
			apperr.Write(w, apperr.Validation("email", "user already exists"))
			return
		}
		apperr.Write(w, err)
		return
	}

	resp := map[string]interface{}{
		"id":    u.ID,
		"email": u.Email,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		apperr.Write(w, apperr.Validation("", err.Error()))
		return
	}

	u, err := h.UserService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		apperr.Write(w, &apperr.AuthError{Msg: "invalid credentials"})
		return
	}

	h.writeTokenPair(w, r, u.ID, u.Email)
}

// Refresh меняет refresh-токен на новую пару токенов (ротация)
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("", "invalid request body"))
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		apperr.Write(w, apperr.Validation("", err.Error()))
		return
	}

	t, err := h.Tokens.GetByToken(r.Context(), req.RefreshToken)
	if err != nil {
		apperr.Write(w, &apperr.AuthError{Msg: "invalid refresh token"})
		return
	}
	if time.Now().After(t.ExpiresAt) {
		_ = h.Tokens.DeleteByToken(r.Context(), t.Token)
		apperr.Write(w, &apperr.AuthError{Msg: "refresh token expired"})
		return
	}

	u, err := h.UserService.GetByID(r.Context(), t.UserID)
	if err != nil {
		apperr.Write(w, &apperr.AuthError{Msg: "invalid refresh token"})
		return
	}

	if err := h.Tokens.DeleteByToken(r.Context(), t.Token); err != nil {
		apperr.Write(w, err)
		return
	}

	h.writeTokenPair(w, r, u.ID, u.Email)
}

func (h *Handler) writeTokenPair(w http.ResponseWriter, r *http.Request, userID int64, email string) {
	access, err := h.JWT.Generate(userID, email)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	refresh, err := token.NewRefreshToken(userID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.Tokens.Save(r.Context(), refresh); err != nil {
		apperr.Write(w, err)
		return
	}

	resp := map[string]interface{}{
		"id":            userID,
		"email":         email,
		"token":         access,
		"refresh_token": refresh.Token,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
