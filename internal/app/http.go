package app

import (
	"net/http"

	"github.com/cam3ron2/gitstats-report/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewHTTPHandler mounts the report API under /api next to the metrics and health endpoints.
func NewHTTPHandler(apiHandler, metricsHandler, healthHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(traceRequests(telemetry.Tracer("internal/app"), telemetry.CurrentMode()))

	router.Mount("/api", orNotFound(apiHandler))
	router.Handle("/metrics", orNotFound(metricsHandler))
	for _, path := range []string{"/livez", "/readyz", "/healthz"} {
		router.Handle(path, orNotFound(healthHandler))
	}
	return router
}

func orNotFound(handler http.Handler) http.Handler {
	if handler == nil {
		return http.NotFoundHandler()
	}
	return handler
}

// traceRequests opens one server span per request. The span is renamed after the chi route
// pattern once routing has matched, so "/api/owners/acme/report" and
// "/api/owners/other/report" share a span name.
func traceRequests(tracer trace.Tracer, mode telemetry.Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode == telemetry.ModeOff {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "http.server",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				),
			)
			defer span.End()

			writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(writer, r.WithContext(ctx))

			if pattern := routePattern(r); pattern != "" {
				span.SetName("http.server " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
			status := writer.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

func routePattern(r *http.Request) string {
	routeCtx := chi.RouteContext(r.Context())
	if routeCtx == nil {
		return ""
	}
	return routeCtx.RoutePattern()
}
