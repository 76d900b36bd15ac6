package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewRouter assembles the authority's chi router: request-id/real-ip first,
// structured request logging, one tracing span per request, recoverer, then
// the /api/license and /api/node route groups behind the admin bearer
// middleware, plus /metrics and /healthz as unauthenticated observability
// endpoints.
func NewRouter(license *LicenseHandlers, node *NodeHandlers, adminToken string, tracer trace.Tracer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger(logger))
	r.Use(tracingMiddleware(tracer))
	r.Use(recoverer(logger))

	admin := AdminAuth(adminToken, logger)
	nodeLimiter := newIPRateLimiter(5, 10) // 5 req/s sustained, burst 10, per caller IP

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Mount("/license", license.Routes(admin))
		r.With(nodeLimiter.Middleware).Mount("/node", node.Routes(admin))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", healthz)

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, r, &Envelope{Code: http.StatusOK, Message: "ok", Data: map[string]string{"status": "ok"}})
}

// structuredLogger mirrors the ambient logging idiom used across this
// fabric: one Info line per request with method/path/status/duration.
func structuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// tracingMiddleware opens one span per authority HTTP request, mirroring the
// teacher's license middleware's tracer.Start/span.SetAttributes/span.End
// pattern. A nil tracer (never wired) would be a caller bug; NewRouter's
// callers always pass a real tracer, falling back to the global no-op
// tracer when span export failed to initialize.
func tracingMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "authority.http."+r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				))
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
			if ww.Status() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(ww.Status()))
			}
		})
	}
}

// recoverer mirrors the ambient stack's panic-to-500 conversion, logging the
// recovered value instead of crashing the process.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered", slog.Any("panic", rvr))
					writeEnvelope(w, r, &Envelope{Code: http.StatusInternalServerError, Message: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
