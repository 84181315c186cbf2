/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in the access log
  2. Logger:     zerolog access log (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/customers/*      Customer view, movements, manual operations, recalc
  /api/movements/*      Movement detail and cancel-use
  /api/process          Batch pass
  /api/runs             Run history
  /api/periods/*        Eligibility period administration
  /api/fixtures         Dev seeding
  /api/reset            Database reset (dev only)
  /api/health           Liveness + database ping
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. Run behind the back-office gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/pointsd: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured. Metrics are
// served from gatherer.
func NewRouter(h *Handler, allowedOrigins []string, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Customer routes
		r.Route("/customers/{code}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Get("/movements", h.ListMovements)
			r.Post("/points/add", h.AddPoints)
			r.Post("/points/use", h.UsePoints)
			r.Post("/recalc", h.RecalcCustomer)
		})

		// Movement routes
		r.Route("/movements/{docNo}", func(r chi.Router) {
			r.Get("/", h.GetMovement)
			r.Post("/cancel", h.CancelUse)
		})

		// Processing routes
		r.Post("/process", h.ProcessAll)
		r.Get("/runs", h.ListRuns)

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)
			r.Put("/{id}", h.UpdatePeriod)
			r.Delete("/{id}", h.DeletePeriod)
		})

		// Dev routes
		r.Post("/fixtures", h.LoadFixture)
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("[HTTP] request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
