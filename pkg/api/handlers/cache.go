package handlers

import (
	"net/http"

	"github.com/marmos91/dittopam/internal/logger"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"
)

// Caches is the part of the responder the cache endpoints drive.
type Caches interface {
	ResetCaches()
	Stats() responder.CacheStats
}

// CacheHandler serves the responder's in-memory caches.
type CacheHandler struct {
	caches Caches
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(caches Caches) *CacheHandler {
	return &CacheHandler{caches: caches}
}

// Stats handles GET /api/v1/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.caches.Stats())
}

// ResetNegative handles DELETE /api/v1/negcache. Entries seeded from
// filter_users survive.
func (h *CacheHandler) ResetNegative(w http.ResponseWriter, r *http.Request) {
	h.caches.ResetCaches()
	logger.InfoCtx(r.Context(), "Negative cache flushed through API")
	WriteNoContent(w)
}
