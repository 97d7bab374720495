package handlers

import (
	"net/http"

	"github.com/marmos91/dittopam/pkg/domain"
)

// DomainHandler serves the configured and discovered domains.
type DomainHandler struct {
	registry *domain.Registry
}

// NewDomainHandler creates a new DomainHandler.
func NewDomainHandler(registry *domain.Registry) *DomainHandler {
	return &DomainHandler{registry: registry}
}

// DomainResponse is the API representation of a domain.
type DomainResponse struct {
	Name                string `json:"name"`
	Provider            string `json:"provider,omitempty"`
	Parent              string `json:"parent,omitempty"`
	FullyQualifiedNames bool   `json:"fully_qualified_names"`
	CaseSensitive       bool   `json:"case_sensitive"`
	CacheCredentials    bool   `json:"cache_credentials"`
	CachedAuthTimeout   string `json:"cached_auth_timeout,omitempty"`
	EntryCacheTimeout   string `json:"entry_cache_timeout,omitempty"`
}

// List handles GET /api/v1/domains.
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	doms := h.registry.List()
	resp := make([]DomainResponse, 0, len(doms))
	for _, d := range doms {
		resp = append(resp, domainToResponse(d))
	}
	WriteJSONOK(w, resp)
}

func domainToResponse(d *domain.Domain) DomainResponse {
	resp := DomainResponse{
		Name:                d.Name,
		Provider:            d.Provider,
		Parent:              d.Parent,
		FullyQualifiedNames: d.FQNames,
		CaseSensitive:       d.CaseSensitive,
		CacheCredentials:    d.CacheCredentials,
	}
	if d.CachedAuthTimeout > 0 {
		resp.CachedAuthTimeout = d.CachedAuthTimeout.String()
	}
	if d.EntryCacheTimeout > 0 {
		resp.EntryCacheTimeout = d.EntryCacheTimeout.String()
	}
	return resp
}
