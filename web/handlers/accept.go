package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/scrypster/inkwell/internal/budget"
	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/snapshot"
	"github.com/scrypster/inkwell/internal/templates"
)

const defaultTemplateID = "scene-basic"

// Accept handles POST /api/projects/{id}/accept: the risky write.
//
// Ordering is the contract here: the in-progress marker is persisted
// before the draft is touched, and the completion marker only after
// the snapshot exists. Any failure in between leaves the project in
// needs-recovery with the failure recorded.
func (h *APIHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req AcceptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UnitID == "" {
		respondError(w, http.StatusBadRequest, "unit_id is required", nil)
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

	outline, err := project.LoadOutline(root)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load outline", err)
		return
	}
	unit := outline.UnitByID(req.UnitID)
	if unit == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unit %q not in outline", req.UnitID), nil)
		return
	}

	tpl, err := h.acceptTemplate(r, req.TemplateID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown template", err)
		return
	}

	if _, err := h.tracker.MarkInProgress(projectID, req.UnitID, req.UnitID, "accept draft"); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark accept in progress", err)
		return
	}

	res, err := h.runAccept(projectID, root, *unit, tpl, req.Label)
	if err != nil {
		if _, merr := h.tracker.MarkNeedsRecovery(projectID, err.Error()); merr != nil {
			log.Printf("handlers: failed to mark needs-recovery for %s: %v", projectID, merr)
		}
		respondError(w, http.StatusInternalServerError, "accept failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// runAccept performs the write itself: synthesize, persist the draft
// atomically, snapshot, and mark completed.
func (h *APIHandlers) runAccept(projectID, root string, unit project.Unit,
	tpl *templates.Template, label string) (*AcceptResponse, error) {
	text, err := h.synthesizer.Synthesize(unit, tpl)
	if err != nil {
		return nil, fmt.Errorf("synthesize draft: %w", err)
	}

	draftPath := project.DraftPath(root, unit.ID)
	if err := h.atomic.WriteText(draftPath, text, h.config.Storage.DurableWrites); err != nil {
		return nil, fmt.Errorf("write draft: %w", err)
	}

	if label == "" {
		label = snapshot.DefaultLabel
	}
	created, err := h.engine.Create(projectID, label, nil)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	ref := &snapshot.Ref{SnapshotID: created.Metadata.SnapshotID, Path: created.Path}
	if _, err := h.tracker.MarkCompleted(projectID, ref); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	return &AcceptResponse{
		UnitID:   unit.ID,
		Draft:    draftPath,
		Words:    budget.CountWords(text),
		Snapshot: ref,
	}, nil
}

// acceptTemplate resolves the template for an accept, falling back to
// the built-in default and, when no catalog is wired, to a bare
// pass-through template.
func (h *APIHandlers) acceptTemplate(r *http.Request, templateID string) (*templates.Template, error) {
	if templateID == "" {
		templateID = defaultTemplateID
	}
	if h.catalog == nil {
		return &templates.Template{ID: templateID, Name: templateID, Body: ""}, nil
	}
	return h.catalog.Get(r.Context(), templateID)
}
