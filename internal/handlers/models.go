package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tiergate/internal/catalog"
)

// ListModels handles GET /models, optionally filtered by ?supports=a,b.
func (h *TierHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	filter := catalog.ParseFilter(r.URL.Query().Get("supports"))
	models := filter.Apply(h.Directory.Models(h.Tier))
	writeJSON(w, http.StatusOK, catalog.NewModelList(models))
}

// GetModel handles GET /models/*. Ids may contain slashes.
func (h *TierHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	m, ok := h.Directory.Resolve(h.Tier, id)
	if !ok {
		modelNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, m.ToOpenAI())
}
