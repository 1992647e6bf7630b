package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// RateLimitConfig sets the request budgets. Every request spends from the
// budget of its client address; ledger calls under /api/tx/ additionally
// spend from a per-principal budget when TxLimit is set.
type RateLimitConfig struct {
	Limit   int
	TxLimit int
	Window  time.Duration
}

// RateLimit enforces cfg through limiter. Limiter failures let the request
// through.
func RateLimit(limiter domain.RateLimiter, cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || (cfg.Limit <= 0 && cfg.TxLimit <= 0) {
			return next
		}
		retryAfter := strconv.Itoa(int(cfg.Window.Seconds()) + 1)

		check := func(w http.ResponseWriter, r *http.Request, key string, limit int) bool {
			d, err := limiter.Allow(r.Context(), key, limit, cfg.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "middleware: rate limiter failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return true
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, domain.ErrRateLimited.Error())
				return false
			}
			return true
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Limit > 0 && !check(w, r, "api:ip:"+clientIP(r), cfg.Limit) {
				return
			}
			if cfg.TxLimit > 0 && r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/tx/") {
				if p, ok := domain.ParsePrincipal(r.Header.Get(HeaderPrincipal)); ok &&
					!check(w, r, "tx:principal:"+strings.ToLower(p.String()), cfg.TxLimit) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
