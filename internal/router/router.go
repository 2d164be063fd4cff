package router

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/auth"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/user"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
// It is intentionally simple and conservative so it works with most setups.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			// Referrer policy
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")

			// Permissions policy (formerly Feature-Policy) - tighten common features
			// allow none for camera, microphone, geolocation by default
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Basic Content-Security-Policy - block mixed content and restrict sources to self by default
			// Keep this conservative; callers may opt to override with more specific policy downstream.
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}

			// HSTS - instruct browsers to use HTTPS for future requests. Only set if request is over TLS.
			if r.TLS != nil {
				// 30 days by default
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Prefix is the path prefix of every route.
const Prefix = "/pitchfork-api-reminder"

// TimerCounter reports how many timers are pending.
type TimerCounter interface {
	Len() int
}

// Deps carries the handlers and middleware RegisterRoutes mounts.
type Deps struct {
	Users       *user.Handler
	Reminders   *reminder.Handler
	RequireUser func(http.Handler) http.Handler
	AuthLimiter *auth.IPLimiter
	Timers      TimerCounter
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+Prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if d.Timers != nil {
			body["pending_timers"] = d.Timers.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	// auth routes
	limit := func(h http.HandlerFunc) http.Handler { return h }
	if d.AuthLimiter != nil {
		limit = func(h http.HandlerFunc) http.Handler { return d.AuthLimiter.Middleware(h) }
	}
	mux.Handle("POST "+Prefix+"/auth/register", limit(d.Users.Register))
	mux.Handle("POST "+Prefix+"/auth/login", limit(d.Users.Login))

	// reminder routes
	protect := d.RequireUser
	mux.Handle("POST "+Prefix+"/reminders", protect(http.HandlerFunc(d.Reminders.Create)))
	mux.Handle("GET "+Prefix+"/reminders", protect(http.HandlerFunc(d.Reminders.List)))
	mux.Handle("GET "+Prefix+"/reminders/{id}", protect(http.HandlerFunc(d.Reminders.Get)))
	mux.Handle("POST "+Prefix+"/reminders/{id}/snooze", protect(http.HandlerFunc(d.Reminders.Snooze)))
	mux.Handle("POST "+Prefix+"/reminders/{id}/cancel", protect(http.HandlerFunc(d.Reminders.Cancel)))
	mux.Handle("DELETE "+Prefix+"/reminders/{id}", protect(http.HandlerFunc(d.Reminders.Delete)))
	mux.Handle("GET "+Prefix+"/notifications/poll", protect(http.HandlerFunc(d.Reminders.Poll)))

	// wrap with security headers middleware then logging middleware
	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
	return handler
}
