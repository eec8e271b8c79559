package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/snapshot"
)

// ListSnapshots handles GET /api/projects/{id}/snapshots.
func (h *APIHandlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, err := h.resolver.Root(projectID); err != nil {
		respondError(w, projectStatus(err), "unknown project", err)
		return
	}

	metas, err := h.engine.List(projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list snapshots", err)
		return
	}
	if metas == nil {
		metas = []*snapshot.Metadata{}
	}
	respondJSON(w, http.StatusOK, SnapshotListResponse{
		ProjectID: projectID,
		Snapshots: metas,
		Total:     len(metas),
	})
}

// CreateSnapshot handles POST /api/projects/{id}/snapshots.
func (h *APIHandlers) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	// An empty body means default label and includes.
	var req SnapshotRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res, err := h.engine.Create(projectID, req.Label, req.Includes)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, snapshot.ErrInvalidInclude) || errors.Is(err, project.ErrNotFound) {
			status = http.StatusBadRequest
		}
		respondError(w, status, "failed to create snapshot", err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// RestoreSnapshot handles POST /api/projects/{id}/snapshots/{snapshotId}/restore.
func (h *APIHandlers) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	snapshotID := r.PathValue("snapshotId")

	res, err := h.engine.Restore(projectID, snapshotID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, snapshot.ErrInvalidSnapshotID):
			status = http.StatusBadRequest
		case errors.Is(err, snapshot.ErrSnapshotNotFound), errors.Is(err, project.ErrNotFound):
			status = http.StatusNotFound
		}
		respondError(w, status, "failed to restore snapshot", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func projectStatus(err error) int {
	if errors.Is(err, project.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
