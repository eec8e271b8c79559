package handlers

import (
	"errors"
	"net/http"

	"github.com/scrypster/inkwell/internal/recovery"
	"github.com/scrypster/inkwell/internal/snapshot"
)

// GetRecovery handles GET /api/projects/{id}/recovery.
//
// Reading the status is itself a check: a stale in-progress marker is
// flipped to needs-recovery before the state is returned.
func (h *APIHandlers) GetRecovery(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, err := h.resolver.Root(projectID); err != nil {
		respondError(w, projectStatus(err), "unknown project", err)
		return
	}

	st, err := h.tracker.Status(projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read recovery state", err)
		return
	}
	respondJSON(w, http.StatusOK, RecoveryResponse{ProjectID: projectID, State: st})
}

// RestoreRecovery handles POST /api/projects/{id}/recovery/restore:
// roll the project back to the recorded snapshot (or the latest one)
// and clear the recovery flag.
func (h *APIHandlers) RestoreRecovery(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, err := h.resolver.Root(projectID); err != nil {
		respondError(w, projectStatus(err), "unknown project", err)
		return
	}

	st, err := h.tracker.Status(projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read recovery state", err)
		return
	}
	if st.Status != recovery.StatusNeedsRecovery {
		respondError(w, http.StatusConflict, "project does not need recovery", nil)
		return
	}

	snapshotID := ""
	if st.LastSnapshot != nil {
		snapshotID = st.LastSnapshot.SnapshotID
	}
	if snapshotID == "" {
		latest, err := h.engine.Latest(projectID)
		if err != nil || latest == nil {
			respondError(w, http.StatusConflict, "no snapshot available to restore", err)
			return
		}
		snapshotID = latest.SnapshotID
	}

	res, err := h.engine.Restore(projectID, snapshotID)
	if err != nil {
		if errors.Is(err, snapshot.ErrSnapshotNotFound) {
			respondError(w, http.StatusConflict, "recorded snapshot is gone", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "restore failed", err)
		return
	}

	ref := &snapshot.Ref{SnapshotID: res.Metadata.SnapshotID}
	if st.LastSnapshot != nil && st.LastSnapshot.SnapshotID == ref.SnapshotID {
		ref.Path = st.LastSnapshot.Path
	}
	cleared, err := h.tracker.MarkCompleted(projectID, ref)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "restore succeeded but clearing state failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"restored":   res,
		"state":      cleared,
	})
}
