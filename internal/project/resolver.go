package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/scrypster/inkwell/internal/fsatomic"
)

// ErrNotFound is returned when a project id has no directory.
var ErrNotFound = errors.New("project not found")

// validProjectID constrains ids to filesystem-safe slugs. This is the
// first line of defense against traversal through the id itself.
var validProjectID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Resolver maps project ids to root directories beneath a single base
// directory.
type Resolver struct {
	baseDir string
	atomic  *fsatomic.Writer
}

// NewResolver creates a resolver rooted at baseDir. The directory is
// created if missing.
func NewResolver(baseDir string, atomic *fsatomic.Writer) (*Resolver, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("project: base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("project: resolving base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("project: creating base directory: %w", err)
	}
	if atomic == nil {
		atomic = fsatomic.NewWriter(fsatomic.NewLocks())
	}
	return &Resolver{baseDir: abs, atomic: atomic}, nil
}

// BaseDir returns the absolute projects base directory.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Root resolves a project id to its root directory. The directory must
// exist and carry a project.json.
func (r *Resolver) Root(projectID string) (string, error) {
	if !validProjectID.MatchString(projectID) {
		return "", fmt.Errorf("project: invalid project id %q", projectID)
	}
	root := filepath.Join(r.baseDir, projectID)
	if _, err := os.Stat(filepath.Join(root, "project.json")); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("project: %q: %w", projectID, ErrNotFound)
		}
		return "", fmt.Errorf("project: stat %q: %w", projectID, err)
	}
	return root, nil
}

// List returns the ids of all projects under the base directory,
// sorted. A directory counts as a project when it carries project.json.
func (r *Resolver) List() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("project: reading base directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() || !validProjectID.MatchString(entry.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.baseDir, entry.Name(), "project.json")); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Create scaffolds a new project: project.json, an empty outline, and
// the drafts directory. Fails if the project already exists.
func (r *Resolver) Create(projectID, title string) (*Meta, error) {
	if !validProjectID.MatchString(projectID) {
		return nil, fmt.Errorf("project: invalid project id %q", projectID)
	}
	root := filepath.Join(r.baseDir, projectID)
	if _, err := os.Stat(filepath.Join(root, "project.json")); err == nil {
		return nil, fmt.Errorf("project: %q already exists", projectID)
	}

	now := time.Now().UTC()
	meta := &Meta{
		ProjectID: projectID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := os.MkdirAll(filepath.Join(root, "drafts"), 0o755); err != nil {
		return nil, fmt.Errorf("project: creating drafts directory: %w", err)
	}
	if err := r.atomic.WriteJSON(filepath.Join(root, "project.json"), meta, true); err != nil {
		return nil, fmt.Errorf("project: writing project.json: %w", err)
	}
	if err := r.atomic.WriteJSON(filepath.Join(root, "outline.json"), &Outline{Units: []Unit{}}, true); err != nil {
		return nil, fmt.Errorf("project: writing outline.json: %w", err)
	}
	return meta, nil
}

// LoadMeta reads project.json from a project root.
func LoadMeta(root string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(root, "project.json"))
	if err != nil {
		return nil, fmt.Errorf("project: reading project.json: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("project: parsing project.json: %w", err)
	}
	return &meta, nil
}

// LoadOutline reads outline.json from a project root. A missing file
// yields an empty outline rather than an error.
func LoadOutline(root string) (*Outline, error) {
	data, err := os.ReadFile(filepath.Join(root, "outline.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Outline{}, nil
		}
		return nil, fmt.Errorf("project: reading outline.json: %w", err)
	}
	var outline Outline
	if err := json.Unmarshal(data, &outline); err != nil {
		return nil, fmt.Errorf("project: parsing outline.json: %w", err)
	}
	return &outline, nil
}

// DraftPath returns the draft file path for a unit inside root.
func DraftPath(root, unitID string) string {
	return filepath.Join(root, "drafts", unitID+".md")
}
