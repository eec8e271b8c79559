package handlers

import (
	"errors"
	"net/http"

	"github.com/scrypster/inkwell/internal/budget"
	"github.com/scrypster/inkwell/internal/config"
	"github.com/scrypster/inkwell/internal/critique"
	"github.com/scrypster/inkwell/internal/draft"
	"github.com/scrypster/inkwell/internal/fsatomic"
	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/recovery"
	"github.com/scrypster/inkwell/internal/snapshot"
	"github.com/scrypster/inkwell/internal/templates"
	"github.com/scrypster/inkwell/internal/verifier"
)

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	config      *config.Config
	resolver    *project.Resolver
	engine      *snapshot.Engine
	tracker     *recovery.Tracker
	verifier    *verifier.Verifier
	catalog     *templates.Catalog
	synthesizer draft.Synthesizer
	atomic      *fsatomic.Writer
}

// NewAPIHandlers creates a new APIHandlers instance. The verifier and
// catalog may be nil; their endpoints then report 503.
func NewAPIHandlers(cfg *config.Config, resolver *project.Resolver, engine *snapshot.Engine,
	tracker *recovery.Tracker, vrf *verifier.Verifier, catalog *templates.Catalog,
	synth draft.Synthesizer, atomic *fsatomic.Writer) *APIHandlers {
	if synth == nil {
		synth = draft.NewTemplateSynthesizer()
	}
	if atomic == nil {
		atomic = fsatomic.NewWriter(fsatomic.NewLocks())
	}
	return &APIHandlers{
		config:      cfg,
		resolver:    resolver,
		engine:      engine,
		tracker:     tracker,
		verifier:    vrf,
		catalog:     catalog,
		synthesizer: synth,
		atomic:      atomic,
	}
}

// ListProjects handles GET /api/projects.
func (h *APIHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := h.resolver.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list projects", err)
		return
	}

	type entry struct {
		ProjectID string `json:"project_id"`
		Title     string `json:"title"`
	}
	out := make([]entry, 0, len(ids))
	for _, id := range ids {
		e := entry{ProjectID: id}
		if root, err := h.resolver.Root(id); err == nil {
			if meta, err := project.LoadMeta(root); err == nil {
				e.Title = meta.Title
			}
		}
		out = append(out, e)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects": out,
		"total":    len(out),
	})
}

// CreateProject handles POST /api/projects.
func (h *APIHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ProjectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}

	meta, err := h.resolver.Create(req.ProjectID, req.Title)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to create project", err)
		return
	}
	respondJSON(w, http.StatusCreated, meta)
}

// GetCritique handles GET /api/critique?project=..&unit=..
func (h *APIHandlers) GetCritique(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	unitID := r.URL.Query().Get("unit")
	if projectID == "" || unitID == "" {
		respondError(w, http.StatusBadRequest, "project and unit query parameters are required", nil)
		return
	}

	root, err := h.resolver.Root(projectID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, project.ErrNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, status, "unknown project", err)
		return
	}

	text, err := readDraft(root, unitID)
	if err != nil {
		respondError(w, http.StatusNotFound, "draft not found", err)
		return
	}

	rep := critique.Analyze(text)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"unit_id":    unitID,
		"words":      budget.CountWords(text),
		"report":     rep,
	})
}

// GetBudget handles GET /api/projects/{id}/budget.
func (h *APIHandlers) GetBudget(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	root, err := h.resolver.Root(projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown project", err)
		return
	}
	meta, err := project.LoadMeta(root)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load project", err)
		return
	}
	outline, err := project.LoadOutline(root)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load outline", err)
		return
	}

	written := make(map[string]int, len(outline.Units))
	for _, u := range outline.Units {
		if text, err := readDraft(root, u.ID); err == nil {
			written[u.ID] = budget.CountWords(text)
		}
	}

	sum, err := budget.Spend(meta.WordBudget, outline.Units, written)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute budget", err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}
