// Package middleware holds the API's authentication, CORS and rate-limit
// layers. The router applies them as RequestID → CORS → Auth → RateLimit.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/apikey"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
)

type contextKey struct{}

// KeyValidator resolves a raw key. *apikey.Validator implements it.
type KeyValidator interface {
	Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error)
}

// Auth rejects requests without a valid key and stores the KeyInfo in the
// request context. Paths under /health and /metrics are public.
func Auth(validator KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			info, err := validator.Validate(r.Context(), key)
			switch {
			case err == nil:
			case errors.Is(err, apikey.ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			case errors.Is(err, apperrors.ErrUnauthorized):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			default:
				logger.FromContext(r.Context()).Error("validating api key failed", "component", "auth", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyInfo returns the KeyInfo Auth stored, or nil.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(contextKey{}).(*apikey.KeyInfo)
	return info
}

// WithKeyInfo returns ctx carrying info, as Auth would.
func WithKeyInfo(ctx context.Context, info *apikey.KeyInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// OwnerID returns the authenticated owner, or "".
func OwnerID(ctx context.Context) string {
	if info := GetKeyInfo(ctx); info != nil {
		return info.OwnerID
	}
	return ""
}

// extractAPIKey checks Authorization: Bearer, then X-API-Key, then the
// x-auth-token header the web client sends.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.Header.Get("X-Auth-Token")
}

func isPublic(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
