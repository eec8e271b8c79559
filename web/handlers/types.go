package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/recovery"
	"github.com/scrypster/inkwell/internal/snapshot"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CreateProjectRequest is the request format for POST /api/projects.
type CreateProjectRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}

// AcceptRequest is the request format for POST /api/projects/{id}/accept.
type AcceptRequest struct {
	UnitID     string `json:"unit_id"`
	TemplateID string `json:"template_id,omitempty"`
	Label      string `json:"label,omitempty"`
}

// AcceptResponse reports a completed accept operation.
type AcceptResponse struct {
	UnitID   string        `json:"unit_id"`
	Draft    string        `json:"draft_path"`
	Words    int           `json:"words"`
	Snapshot *snapshot.Ref `json:"snapshot"`
}

// SnapshotRequest is the request format for POST .../snapshots.
type SnapshotRequest struct {
	Label    string   `json:"label,omitempty"`
	Includes []string `json:"includes,omitempty"`
}

// SnapshotListResponse is the response format for GET .../snapshots.
type SnapshotListResponse struct {
	ProjectID string               `json:"project_id"`
	Snapshots []*snapshot.Metadata `json:"snapshots"`
	Total     int                  `json:"total"`
}

// RecoveryResponse is the response format for GET .../recovery.
type RecoveryResponse struct {
	ProjectID string          `json:"project_id"`
	State     *recovery.State `json:"state"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, log but don't try to write another response
		// (headers already sent)
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// decodeJSON decodes a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// readDraft reads a unit's draft file under the project root.
func readDraft(root, unitID string) (string, error) {
	raw, err := os.ReadFile(project.DraftPath(root, unitID))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// parseInt parses s, falling back to defaultValue on empty or bad input.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}
