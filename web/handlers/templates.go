package handlers

import (
	"errors"
	"net/http"

	"github.com/scrypster/inkwell/internal/diagnostics"
	"github.com/scrypster/inkwell/internal/templates"
)

// ListTemplates handles GET /api/templates.
func (h *APIHandlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "template catalog is not available", nil)
		return
	}
	tpls, err := h.catalog.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list templates", err)
		return
	}
	if tpls == nil {
		tpls = []*templates.Template{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"templates": tpls,
		"total":     len(tpls),
	})
}

// GetTemplate handles GET /api/templates/{id}.
func (h *APIHandlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "template catalog is not available", nil)
		return
	}
	tpl, err := h.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, templates.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown template", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load template", err)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

// PutTemplate handles PUT /api/templates/{id}.
func (h *APIHandlers) PutTemplate(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "template catalog is not available", nil)
		return
	}
	var tpl templates.Template
	if err := decodeJSON(r, &tpl); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	tpl.ID = r.PathValue("id")
	if err := h.catalog.Put(r.Context(), &tpl); err != nil {
		respondError(w, http.StatusBadRequest, "failed to store template", err)
		return
	}
	respondJSON(w, http.StatusOK, &tpl)
}

// GetDiagnostics handles GET /api/projects/{id}/diagnostics.
func (h *APIHandlers) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	root, err := h.resolver.Root(projectID)
	if err != nil {
		respondError(w, projectStatus(err), "unknown project", err)
		return
	}

	n := parseInt(r.URL.Query().Get("limit"), 20)
	entries, err := diagnostics.Recent(root, n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read diagnostics", err)
		return
	}
	if entries == nil {
		entries = []diagnostics.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"entries":    entries,
	})
}
