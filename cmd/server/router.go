package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/caseapi"
	"github.com/linnemanlabs/warden/internal/postgres"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"

	// submitted transactions are a few dozen fields
	maxBodyBytes = 64 << 10
)

// handlerDeps are the pieces main builds before the public handler.
type handlerDeps struct {
	logger   log.Logger
	api      *caseapi.API
	healthz  http.HandlerFunc
	readyz   http.HandlerFunc
	metrics  func(http.Handler) http.Handler
	clientIP func(http.Handler) http.Handler
}

// newHandler assembles the public API handler. Wrappers are applied inside
// out, so the last one added sees the raw request first.
func newHandler(d handlerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(withQueryMethod)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBodyBytes))

	r.Get(healthyPath, d.healthz)
	r.Get(readyPath, d.readyz)
	d.api.RegisterRoutes(r)

	var h http.Handler = r
	h = httpmw.WithLogger(d.logger)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(traceable),
		// AnnotateHTTPRoute renames the span to the route pattern once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	if d.metrics != nil {
		h = d.metrics(h)
	}
	if d.clientIP != nil {
		h = d.clientIP(h)
	}
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(d.logger, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}

// withQueryMethod labels database queries issued by a request with its method.
func withQueryMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
	})
}

// traceable skips probe traffic.
func traceable(r *http.Request) bool {
	return r.URL.Path != healthyPath && r.URL.Path != readyPath
}
