package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/api/auth"
	"github.com/marmos91/dittopam/pkg/api/handlers"
	apiMiddleware "github.com/marmos91/dittopam/pkg/api/middleware"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe (identity store health)
//   - GET /api/v1/domains - Configured and discovered domains
//   - GET /api/v1/users - Cached records, optionally ?domain=
//   - GET /api/v1/users/{domain}/{name} - One cached record
//   - POST /api/v1/users/{domain}/{name}/expire - Force a provider refresh (admin only)
//   - GET /api/v1/stats - Negative cache and refresh table statistics
//   - DELETE /api/v1/negcache - Flush the negative cache (admin only)
func NewRouter(b Backend, jwtService *auth.JWTService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(b.healthchecker(), b.Domains)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	domainHandler := handlers.NewDomainHandler(b.Domains)
	userHandler := handlers.NewUserHandler(b.Store, b.Domains, b.Caches)
	cacheHandler := handlers.NewCacheHandler(b.Caches)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiMiddleware.JWTAuth(jwtService))

		r.Get("/domains", domainHandler.List)
		r.Get("/stats", cacheHandler.Stats)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Get("/{domain}/{name}", userHandler.Get)
			r.With(apiMiddleware.RequireAdmin()).Post("/{domain}/{name}/expire", userHandler.Expire)
		})

		r.With(apiMiddleware.RequireAdmin()).Delete("/negcache", cacheHandler.ResetNegative)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
