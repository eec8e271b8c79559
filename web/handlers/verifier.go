package handlers

import "net/http"

// GetVerifierState handles GET /api/backup-verifier.
func (h *APIHandlers) GetVerifierState(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "backup verifier is not running", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.verifier.State())
}

// RunVerifier handles POST /api/backup-verifier/run: one on-demand cycle.
func (h *APIHandlers) RunVerifier(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "backup verifier is not running", nil)
		return
	}
	st, err := h.verifier.RunCycle(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "verification cycle failed", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
