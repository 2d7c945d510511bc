package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
)

// RateLimit enforces each owner's budget. The key's own rate_limit wins over
// defaultLimit. Requests without KeyInfo pass through; Auth rejects them.
func RateLimit(limiter *ratelimit.Limiter, defaultLimit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetKeyInfo(r.Context())
			if info == nil || isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			limit := info.RateLimit
			if limit <= 0 {
				limit = defaultLimit
			}
			if ok, wait := limiter.Allow(info.OwnerID, limit); !ok {
				err := fmt.Errorf("%w: owner %s over %d requests", apperrors.ErrRateLimited, info.OwnerID, limit)
				logger.FromContext(r.Context()).Debug("request throttled", "component", "ratelimit", "error", err, "retry_in", wait)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, apperrors.HTTPStatusCode(err), apperrors.ErrRateLimited.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
