package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/medleaf/pharma-platform/internal/observability/metrics"
	"github.com/medleaf/pharma-platform/internal/ratelimit"
)

// RateLimit rejects requests over the per-IP limit for a scope with 429
// and a Retry-After header. Place after chi's RealIP so RemoteAddr is
// the client address.
func RateLimit(limiter *ratelimit.Limiter, scope string, limit int, window time.Duration, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", scope, clientIP(r))

			decision := limiter.Allow(r.Context(), key, limit, window)
			if !decision.Allowed {
				if m != nil {
					m.RateLimitRejections.WithLabelValues(scope).Inc()
				}
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeDetail(w, http.StatusTooManyRequests,
					fmt.Sprintf("Request was throttled. Expected available in %d seconds.", seconds))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
