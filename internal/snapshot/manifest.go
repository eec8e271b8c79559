package snapshot

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/inkwell/internal/project"
)

// Manifest is the human-readable snapshot.yaml: a richer, derived view
// of a snapshot built once at creation time and read-only afterward.
// It embeds the project metadata file, the outline artifact when the
// snapshot captured one, and a per-scene front-matter listing; units
// whose draft file is absent from the snapshot are recorded in
// MissingDrafts.
type Manifest struct {
	SnapshotID    string         `yaml:"snapshot_id" json:"snapshot_id"`
	ProjectID     string         `yaml:"project_id" json:"project_id"`
	Label         string         `yaml:"label" json:"label"`
	CreatedAt     time.Time      `yaml:"created_at" json:"created_at"`
	Includes      []string       `yaml:"includes" json:"includes"`
	Project       map[string]any `yaml:"project,omitempty" json:"project,omitempty"`
	Outline       *OutlineView   `yaml:"outline,omitempty" json:"outline,omitempty"`
	Scenes        []SceneEntry   `yaml:"scenes" json:"scenes"`
	MissingDrafts []string       `yaml:"missing_drafts" json:"missing_drafts"`
}

// OutlineView is the outline as embedded into a manifest.
type OutlineView struct {
	Title string         `yaml:"title,omitempty" json:"title,omitempty"`
	Units []project.Unit `yaml:"units" json:"units"`
}

// SceneEntry is one scene's draft front matter inside a snapshot.
type SceneEntry struct {
	UnitID      string         `yaml:"unit_id" json:"unit_id"`
	Path        string         `yaml:"path" json:"path"`
	FrontMatter map[string]any `yaml:"front_matter,omitempty" json:"front_matter,omitempty"`
}

// buildManifest derives the manifest from the files just copied into
// snapDir. Unreadable or malformed artifacts degrade to absent fields
// rather than failing the snapshot: the manifest is a derived view,
// metadata.json remains the source of truth.
func buildManifest(snapDir string, meta *Metadata) *Manifest {
	m := &Manifest{
		SnapshotID:    meta.SnapshotID,
		ProjectID:     meta.ProjectID,
		Label:         meta.Label,
		CreatedAt:     meta.CreatedAt,
		Includes:      append([]string(nil), meta.Includes...),
		Scenes:        []SceneEntry{},
		MissingDrafts: []string{},
	}

	if data, err := os.ReadFile(filepath.Join(snapDir, "project.json")); err == nil {
		var projectDoc map[string]any
		if json.Unmarshal(data, &projectDoc) == nil {
			m.Project = projectDoc
		}
	}

	outline := readOutline(snapDir)
	if outline != nil {
		m.Outline = &OutlineView{Title: outline.Title, Units: outline.Units}
		for _, unit := range outline.Units {
			draftRel := path.Join("drafts", unit.ID+".md")
			draftPath := filepath.Join(snapDir, filepath.FromSlash(draftRel))
			fm, err := readFrontMatter(draftPath)
			if err != nil {
				m.MissingDrafts = append(m.MissingDrafts, unit.ID)
				continue
			}
			m.Scenes = append(m.Scenes, SceneEntry{
				UnitID:      unit.ID,
				Path:        draftRel,
				FrontMatter: fm,
			})
		}
	}

	return m
}

func readOutline(snapDir string) *project.Outline {
	data, err := os.ReadFile(filepath.Join(snapDir, "outline.json"))
	if err != nil {
		return nil
	}
	var outline project.Outline
	if err := json.Unmarshal(data, &outline); err != nil {
		return nil
	}
	return &outline
}

// readFrontMatter extracts the YAML front-matter block ("---" fenced)
// from a draft file. Drafts without a block yield an empty map.
func readFrontMatter(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]any{}, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return map[string]any{}, nil
	}

	fm := make(map[string]any)
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		// Broken front matter is not a broken draft.
		return map[string]any{}, nil
	}
	return fm, nil
}
