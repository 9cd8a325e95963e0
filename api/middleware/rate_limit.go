package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/prepmarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/prepmarket-backend/pkg/redis"
)

// RateLimit caps mutating requests per caller in a fixed window. Callers are
// keyed by user id once authenticated, otherwise by client IP. Reads pass
// through, and a limiter outage fails open.
func RateLimit(name string, limit int64, window time.Duration, limiter pkgredis.RateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			subject := UserIDFromContext(r.Context())
			if subject == "" {
				subject = "ip:" + clientIP(r)
			}
			allowed, count, err := limiter.FixedWindowAllow(r.Context(), name+":"+subject, limit, window)
			if err != nil {
				if logg != nil {
					logg.Error(r.Context(), "rate limiter unavailable", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(limit-count, 0), 10))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
