package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// RateLimit returns middleware that limits each client IP to limit requests
// per window, using the same sliding-window store as the exchange limiter.
// A nil store or a non-positive limit disables it.
func RateLimit(store domain.WindowStore, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || limit <= 0 || window <= 0 {
			return next
		}
		lim := domain.Limit{Capacity: limit, Window: window}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			budget := domain.Budget{Key: "api:" + extractClientIP(r), Limit: lim}

			wait, err := store.Reserve(r.Context(), time.Now(), 1, budget)
			if err != nil {
				// Fail open: the API is read-only status.
				next.ServeHTTP(w, r)
				return
			}
			if wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		if ip = strings.TrimSpace(ip); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
