package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
)

// AdminAuth builds a middleware that requires "Authorization: Bearer
// <adminToken>" on every request it wraps. An empty adminToken disables the
// check (local-dev convenience per §6) — but per the §9 redesign note, that
// posture is logged loudly at construction time, once, rather than silently.
func AdminAuth(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if adminToken == "" {
		logger.Warn("authority starting with no admin token configured; admin endpoints are open")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if adminToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != adminToken {
				writeEnvelope(w, r, &Envelope{Code: http.StatusUnauthorized, Message: "missing or invalid admin bearer token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
