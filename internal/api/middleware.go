package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	profileIDKey contextKey = "profile_id"
	apiKeyKey    contextKey = "api_key"
)

// AuthMiddleware returns middleware that validates authentication.
// A request carries its key either as "Authorization: Bearer <key>" or in
// X-API-Key. If token is empty any non-empty key is accepted; otherwise the
// key must match exactly.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestKey(r)
			if key == "" {
				Unauthorized(w)
				return
			}
			if token != "" && subtle.ConstantTimeCompare([]byte(key), []byte(token)) != 1 {
				Unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestKey(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// GetAPIKey retrieves the key accepted by AuthMiddleware.
func GetAPIKey(ctx context.Context) string {
	v, _ := ctx.Value(apiKeyKey).(string)
	return v
}

// ProfileIDMiddleware extracts the profile_id from the chi URL parameter
// and stores it in the request context.
func ProfileIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profileID := chi.URLParam(r, "profile_id")
		if !ValidID(profileID) {
			BadRequest(w, "profile_id is required")
			return
		}
		ctx := context.WithValue(r.Context(), profileIDKey, profileID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetProfileID retrieves the profile_id stored in the context by ProfileIDMiddleware.
func GetProfileID(ctx context.Context) string {
	v, _ := ctx.Value(profileIDKey).(string)
	return v
}

// ValidID reports whether s is usable as an identifier and blob key segment.
func ValidID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return s != "." && s != ".."
}

// Recoverer turns a panic in a handler into the exception envelope.
func Recoverer(b Builder, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("handler panic", "path", r.URL.Path, "panic", rec, "stack", string(stack))
				Write(w, b.Exception(rec, stack))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
