// Package snapshot captures and restores bounded, path-sandboxed
// subsets of a project tree under unique timestamp-derived identifiers.
//
// A snapshot lives at {projectRoot}/history/snapshots/{id}_{label}/ and
// contains the copied include paths plus two artifacts written at
// creation time and immutable afterward: metadata.json (Metadata) and
// snapshot.yaml (Manifest).
package snapshot

import "time"

// DefaultLabel is used when the caller supplies no label.
const DefaultLabel = "accept"

// DefaultIncludes is the capture set used when the caller supplies no
// include entries: the drafts directory, the outline artifact, and the
// project metadata file.
var DefaultIncludes = []string{"drafts", "outline.json", "project.json"}

// Metadata is the persisted content of a snapshot's metadata.json.
// It is written once, atomically, alongside the file copies and never
// mutated afterward. Includes lists only the tokens that existed under
// the project root at capture time.
type Metadata struct {
	SnapshotID string    `json:"snapshot_id" yaml:"snapshot_id"`
	ProjectID  string    `json:"project_id" yaml:"project_id"`
	Label      string    `json:"label" yaml:"label"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Includes   []string  `json:"includes" yaml:"includes"`
}

// Ref is a lightweight pointer to a snapshot, embedded in recovery
// state and API responses. Path is project-relative with forward
// slashes.
type Ref struct {
	SnapshotID string `json:"snapshot_id"`
	Path       string `json:"path"`
}

// CreateResult is returned by Engine.Create.
type CreateResult struct {
	Metadata *Metadata `json:"metadata"`
	// Path is the snapshot directory relative to the project root,
	// forward-slash separated.
	Path string `json:"path"`
}

// RestoreResult is returned by Engine.Restore.
type RestoreResult struct {
	Metadata *Metadata `json:"metadata"`
	// Restored lists the include tokens that were actually copied
	// back onto the project root.
	Restored []string `json:"restored"`
}

// IncludeSpec is one resolved include entry during a single create or
// restore call. It is never persisted.
type IncludeSpec struct {
	// Token is the forward-slash relative path that identifies the
	// entry in metadata and manifests.
	Token string
	// SourcePath is the absolute path copied from.
	SourcePath string
	// TargetPath is the absolute path copied to.
	TargetPath string
}
