package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/dittopam/pkg/domain"
)

// Healthchecker is implemented by the identity store.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Can the identity store serve lookups?
type HealthHandler struct {
	store   Healthchecker
	domains *domain.Registry
}

// NewHealthHandler creates a new health handler. A nil store makes the
// readiness probe fail.
func NewHealthHandler(store Healthchecker, domains *domain.Registry) *HealthHandler {
	return &HealthHandler{store: store, domains: domains}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthyResponse(map[string]string{
		"service": "dittopam",
	}))
}

// Readiness handles GET /health/ready. It returns 503 when the identity
// store fails its health check.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("identity store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.store.Healthcheck(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	domains := 0
	if h.domains != nil {
		domains = len(h.domains.List())
	}
	WriteJSONOK(w, healthyResponse(map[string]any{
		"domains":       domains,
		"store_latency": time.Since(start).String(),
	}))
}
