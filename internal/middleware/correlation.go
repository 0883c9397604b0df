package middleware

import (
	"net/http"

	"github.com/novaos/backend/internal/core"
)

const requestIDHeader = "X-Request-ID"

// Correlation injects a correlation context into every request and echoes
// the request id back to the caller. A caller-supplied X-Request-ID is
// honored so traces can span services.
func Correlation(env, version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corr := core.NewCorrelation(env, version)
			if reqID := r.Header.Get(requestIDHeader); reqID != "" {
				corr.RequestID = reqID
			}

			w.Header().Set(requestIDHeader, corr.RequestID)
			next.ServeHTTP(w, r.WithContext(WithCorrelation(r.Context(), corr)))
		})
	}
}
