package api

import (
	"net/http"

	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/internal/domain/leveling"
)

// CatalogDependencies exposes the read-only rule catalog and level table.
type CatalogDependencies interface {
	Rules() []catalog.Rule
	Levels() []leveling.Threshold
}

// CatalogHandler handles rule and level requests.
type CatalogHandler struct {
	deps CatalogDependencies
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(deps CatalogDependencies) *CatalogHandler {
	return &CatalogHandler{deps: deps}
}

// HandleGetRules handles GET /rules requests.
func (h *CatalogHandler) HandleGetRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Rules())
}

// HandleGetLevels handles GET /levels requests.
func (h *CatalogHandler) HandleGetLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Levels())
}
