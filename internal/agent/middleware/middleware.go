// Package middleware implements the agent-side request gate (§4.8): a
// net/http middleware that blocks traffic while the license controller
// reports an invalid state.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haideralmesaody/license-fabric/internal/agent/controller"
)

// statusSource is satisfied by *controller.Controller; kept as an interface
// so tests can substitute a stub without spinning up a real controller.
type statusSource interface {
	Snapshot() controller.Snapshot
}

// Guard blocks requests when the underlying controller reports Invalid.
// VALID_ONLINE and VALID_DEGRADED both pass through, matching §4.8's "any
// non-invalid status admits the request" rule.
type Guard struct {
	source       statusSource
	logger       *slog.Logger
	excludeExact map[string]struct{}
	excludeGlobs []string // entries ending in "/**", matched as a prefix
}

// New builds a Guard. excludePaths entries ending in "/**" match any path
// under that prefix; all other entries must match exactly.
func New(source statusSource, logger *slog.Logger, excludePaths ...string) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		source:       source,
		logger:       logger.With(slog.String("component", "agent_middleware")),
		excludeExact: make(map[string]struct{}),
	}
	for _, p := range excludePaths {
		if strings.HasSuffix(p, "/**") {
			g.excludeGlobs = append(g.excludeGlobs, strings.TrimSuffix(p, "**"))
			continue
		}
		g.excludeExact[p] = struct{}{}
	}
	return g
}

func (g *Guard) isExcluded(path string) bool {
	if _, ok := g.excludeExact[path]; ok {
		return true
	}
	for _, prefix := range g.excludeGlobs {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler wraps next with the license gate.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		snap := g.source.Snapshot()
		if snap.Status != controller.Invalid {
			next.ServeHTTP(w, r)
			return
		}

		g.logger.WarnContext(r.Context(), "request blocked by invalid license",
			slog.String("path", r.URL.Path),
			slog.String("reason", snap.Message))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    http.StatusForbidden,
			"message": "License invalid: " + snap.Message,
		})
	})
}
