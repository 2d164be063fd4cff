package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID int64) (string, time.Duration, error)
}

// Handler exposes HTTP endpoints for user operations (register / login).
type Handler struct {
	svc    *UserService
	tokens TokenIssuer
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, tokens TokenIssuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// RegisterRequest request body for register endpoint.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	id, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists), errors.Is(err, ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.logger.Warnw("register failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register failed"})
		}
		return
	}
	h.logger.Infow("user registered", "user_id", id)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id})
}

// LoginResponse carries a bearer token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login accepts either an OAuth2 password form (username/password) or a JSON
// body with email/password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var email, password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		email, password = req.Email, req.Password
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		email, password = r.Form.Get("username"), r.Form.Get("password")
	}

	u, err := h.svc.Authenticate(r.Context(), email, password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		if errors.Is(err, ErrBadCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	token, ttl, err := h.tokens.Issue(u.ID)
	if err != nil {
		h.logger.Errorw("issue token failed", "user_id", u.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token, TokenType: "bearer", ExpiresIn: int64(ttl.Seconds())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
