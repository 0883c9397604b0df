package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/ratelimit"
)

// TierLimit enforces the per-user global request budget. Anonymous
// callers share a per-IP free-tier budget.
func TierLimit(limiter *ratelimit.TierLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())

			key, tier := p.ID, p.Tier
			if !p.IsAuthenticated() {
				key, tier = "ip:"+clientIP(r), core.TierFree
			}

			d := limiter.Allow(key, tier)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
			remaining := d.Limit - d.Current
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetInMs/1000))

			if !d.Allowed {
				retryAfterSec := (d.RetryAfterMs + 999) / 1000
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSec))

				code := core.CodeRateLimited
				msg := "rate limit exceeded"
				if d.Blocked {
					code = core.CodeUserBlocked
					msg = "account temporarily blocked: " + d.Reason
				}
				window := limiter.ConfigFor(tier).Window
				apiErr := core.NewAPIError(code, msg).
					WithDetail("retryAfter", retryAfterSec).
					WithDetail("limit", d.Limit).
					WithDetail("window", int(window/time.Second))
				writeAPIError(w, CorrelationFrom(r.Context()).RequestID, apiErr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}
