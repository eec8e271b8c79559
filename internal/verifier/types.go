// Package verifier implements the backup verification daemon: a
// periodic audit that walks every project's snapshots (and, when the
// feature is enabled, voice-note pairs), recomputes checksums,
// cross-checks metadata against on-disk manifests, and persists a
// health report. The verifier only observes and reports; it never
// mutates project content.
package verifier

import "time"

// Cycle and project statuses.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
	StatusIdle    = "idle"
)

// Issue reasons. Content-integrity problems are always recorded as
// issues in a report, never raised as errors.
const (
	ReasonMissingMetadata     = "missing metadata"
	ReasonMalformedMetadata   = "malformed metadata"
	ReasonIDMismatch          = "metadata id mismatch"
	ReasonMissingManifest     = "missing manifest"
	ReasonMalformedManifest   = "malformed manifest"
	ReasonIncludeMismatch     = "include set mismatch"
	ReasonMissingPath         = "missing path"
	ReasonEscapedPath         = "path escapes snapshot"
	ReasonUnreadableFile      = "unreadable file"
	ReasonUnreadableSample    = "unreadable sample file"
	ReasonChecksumDrift       = "content changed since last run"
	ReasonVerificationCrashed = "verification crashed"
	ReasonStorageUnavailable  = "project storage unavailable"

	ReasonMissingTranscript   = "missing transcript"
	ReasonMalformedTranscript = "malformed transcript"
	ReasonMissingAudio        = "missing audio"
	ReasonUnreadableAudio     = "unreadable audio"
)

// Issue is one observed problem. Issues are ephemeral per cycle and
// only persist aggregated into reports.
type Issue struct {
	ProjectID  string `json:"project_id"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Reason     string `json:"reason"`
	Details    string `json:"details,omitempty"`
}

// SnapshotResult is one snapshot's verification outcome in one cycle.
type SnapshotResult struct {
	SnapshotID       string   `json:"snapshot_id"`
	Checksum         string   `json:"checksum"`
	PreviousChecksum string   `json:"previous_checksum,omitempty"`
	CheckedFiles     int      `json:"checked_files"`
	MissingEntries   []string `json:"missing_entries,omitempty"`
	SampleFile       string   `json:"sample_file,omitempty"`
	Issues           []Issue  `json:"issues,omitempty"`
	Retried          bool     `json:"retried"`
}

// ProjectReport aggregates one project's results for one cycle.
type ProjectReport struct {
	ProjectID         string           `json:"project_id"`
	Status            string           `json:"status"`
	Snapshots         []SnapshotResult `json:"snapshots"`
	VoiceNotesChecked int              `json:"voice_notes_checked"`
	VoiceNoteIssues   []Issue          `json:"voice_note_issues,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// issueCount counts all issues across snapshots and voice notes.
func (r *ProjectReport) issueCount() int {
	n := len(r.VoiceNoteIssues)
	for _, s := range r.Snapshots {
		n += len(s.Issues)
	}
	return n
}

// State is the process-wide persisted summary of the most recent
// cycle. It is overwritten atomically after every cycle and reloaded
// at daemon start, which also seeds the checksum-comparison cache.
type State struct {
	Enabled           bool            `json:"enabled"`
	Status            string          `json:"status"`
	Message           string          `json:"message,omitempty"`
	LastRun           *time.Time      `json:"last_run,omitempty"`
	LastSuccess       *time.Time      `json:"last_success,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	CheckedSnapshots  int             `json:"checked_snapshots"`
	FailedSnapshots   int             `json:"failed_snapshots"`
	VoiceNotesChecked int             `json:"voice_notes_checked"`
	VoiceNoteIssues   int             `json:"voice_note_issues"`
	Projects          []ProjectReport `json:"projects"`
}
