package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type ctxKey struct{}

// UserIDFromContext returns the authenticated user id stored by RequireUser.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

// WithUserID stores id as the authenticated user.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserChecker confirms a token subject still exists.
type UserChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// RequireUser rejects requests without a valid bearer token. There is no
// anonymous fallback user.
func RequireUser(tokens *TokenService, users UserChecker, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "authorization required")
				return
			}
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				unauthorized(w, "invalid auth header (expected 'Bearer <token>')")
				return
			}
			uid, err := tokens.Parse(strings.TrimSpace(header[len("bearer "):]))
			if err != nil {
				logger.Debugw("token rejected", "err", err)
				unauthorized(w, "invalid token")
				return
			}
			if users != nil {
				ok, err := users.Exists(r.Context(), uid)
				if err != nil {
					logger.Warnw("user lookup failed", "user_id", uid, "err", err)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
					return
				}
				if !ok {
					unauthorized(w, "user from token not found")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
