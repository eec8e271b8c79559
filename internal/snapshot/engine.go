package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/inkwell/internal/fsatomic"
)

const (
	metadataFile = "metadata.json"
	manifestFile = "snapshot.yaml"

	// allocAttempts bounds the snapshot directory allocation loop.
	// Collisions within one microsecond tick are broken by a random
	// suffix, not by blocking.
	allocAttempts = 10
)

var (
	// ErrInvalidSnapshotID is returned for ids that do not match the
	// snapshot id pattern.
	ErrInvalidSnapshotID = errors.New("invalid snapshot id")

	// ErrSnapshotNotFound is returned when no directory matches a
	// requested snapshot id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// snapshotIDPattern: zero-padded UTC timestamp, optional
	// microseconds, optional random collision suffix.
	snapshotIDPattern = regexp.MustCompile(`^\d{8}T\d{6}(\d{6})?Z(-[0-9a-f]{8})?$`)

	// labelInvalid matches runs of characters outside the
	// filesystem-safe label alphabet.
	labelInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// RootResolver maps a project id to its root directory. Implemented by
// the project package; narrowed here so the engine stays decoupled
// from project scaffolding.
type RootResolver interface {
	Root(projectID string) (string, error)
}

// Config configures an Engine.
type Config struct {
	// Roots resolves project ids to root directories. Required.
	Roots RootResolver

	// Atomic performs metadata and manifest writes. Defaults to a
	// writer with its own lock registry.
	Atomic *fsatomic.Writer

	// Codec serializes the manifest. Defaults to YAMLCodec.
	Codec Codec

	// Durable enables fsync on copied files and artifacts.
	Durable bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine creates, restores, and lists project snapshots.
type Engine struct {
	roots   RootResolver
	atomic  *fsatomic.Writer
	codec   Codec
	durable bool
	now     func() time.Time
}

// NewEngine creates a snapshot engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Roots == nil {
		return nil, fmt.Errorf("snapshot: Roots resolver is required")
	}
	if cfg.Atomic == nil {
		cfg.Atomic = fsatomic.NewWriter(fsatomic.NewLocks())
	}
	if cfg.Codec == nil {
		cfg.Codec = YAMLCodec{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		roots:   cfg.Roots,
		atomic:  cfg.Atomic,
		codec:   cfg.Codec,
		durable: cfg.Durable,
		now:     cfg.Now,
	}, nil
}

// ValidSnapshotID reports whether id matches the snapshot id pattern.
func ValidSnapshotID(id string) bool {
	return snapshotIDPattern.MatchString(id)
}

// SanitizeLabel reduces a caller-supplied label to the filesystem-safe
// alphabet [A-Za-z0-9_-], collapsing each invalid run to a single
// hyphen. Empty results fall back to DefaultLabel.
func SanitizeLabel(label string) string {
	s := labelInvalid.ReplaceAllString(label, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return DefaultLabel
	}
	return s
}

// SnapshotsDir returns the snapshots directory for a project root.
func SnapshotsDir(projectRoot string) string {
	return filepath.Join(projectRoot, "history", "snapshots")
}

// Create captures a snapshot of the include entries (DefaultIncludes
// when nil) under a freshly allocated snapshot directory. Every
// failure after allocation removes the partial directory, so failed
// creations never pollute the snapshot listing.
func (e *Engine) Create(projectID, label string, includes []string) (*CreateResult, error) {
	root, err := e.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	label = SanitizeLabel(label)
	entries := includes
	if len(entries) == 0 {
		entries = DefaultIncludes
	}

	snapsDir := SnapshotsDir(root)
	if err := os.MkdirAll(snapsDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: creating snapshots directory: %w", err)
	}

	dir, id, err := e.allocateDir(snapsDir, label)
	if err != nil {
		return nil, err
	}

	fail := func(cause error) (*CreateResult, error) {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Printf("snapshot: cleanup of %s failed: %v", dir, rmErr)
		}
		return nil, cause
	}

	specs, err := collectIncludeSpecs(root, dir, entries)
	if err != nil {
		return fail(err)
	}

	var captured []string
	for _, spec := range specs {
		existed, copyErr := copyPath(spec.SourcePath, spec.TargetPath, e.durable)
		if copyErr != nil {
			return fail(fmt.Errorf("snapshot: copying %s: %w", spec.Token, copyErr))
		}
		if existed {
			captured = append(captured, spec.Token)
		}
	}

	meta := &Metadata{
		SnapshotID: id,
		ProjectID:  projectID,
		Label:      label,
		CreatedAt:  e.now().UTC(),
		Includes:   captured,
	}

	if err := e.atomic.WriteJSON(filepath.Join(dir, metadataFile), meta, e.durable); err != nil {
		return fail(fmt.Errorf("snapshot: writing metadata: %w", err))
	}

	manifest := buildManifest(dir, meta)
	data, err := e.codec.Marshal(manifest)
	if err != nil {
		return fail(fmt.Errorf("snapshot: encoding manifest: %w", err))
	}
	if err := e.atomic.WriteBytes(filepath.Join(dir, manifestFile), data, e.durable); err != nil {
		return fail(fmt.Errorf("snapshot: writing manifest: %w", err))
	}

	return &CreateResult{
		Metadata: meta,
		Path:     "history/snapshots/" + filepath.Base(dir),
	}, nil
}

// allocateDir claims a unique snapshot directory. The first attempt
// uses the bare timestamp id; collision retries append a random 8-hex
// suffix so two snapshots requested within the same tick still get
// distinct ids.
func (e *Engine) allocateDir(snapsDir, label string) (dir, id string, err error) {
	for attempt := 1; attempt <= allocAttempts; attempt++ {
		id = formatSnapshotID(e.now().UTC())
		if attempt > 1 {
			id += "-" + randomSuffix()
		}
		dir = filepath.Join(snapsDir, id+"_"+label)
		mkErr := os.Mkdir(dir, 0o755)
		if mkErr == nil {
			return dir, id, nil
		}
		if !errors.Is(mkErr, fs.ErrExist) {
			return "", "", fmt.Errorf("snapshot: allocating directory: %w", mkErr)
		}
	}
	return "", "", fmt.Errorf("snapshot: could not allocate a unique directory after %d attempts", allocAttempts)
}

// Restore copies a snapshot's includes back onto the project root.
// Each include is swapped in independently and atomically: directories
// are staged into a temp sibling then delete-old/rename-new, files are
// copied to a temp sibling with their bytes fsynced, then renamed over
// the target.
func (e *Engine) Restore(projectID, snapshotID string) (*RestoreResult, error) {
	if !ValidSnapshotID(snapshotID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSnapshotID, snapshotID)
	}
	root, err := e.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	snapDir, err := findSnapshotDir(SnapshotsDir(root), snapshotID)
	if err != nil {
		return nil, err
	}

	meta := loadOrSynthesizeMetadata(snapDir, projectID)

	specs, err := restoreIncludeSpecs(snapDir, root, meta.Includes)
	if err != nil {
		return nil, err
	}

	var restored []string
	for _, spec := range specs {
		info, statErr := os.Stat(spec.SourcePath)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return nil, fmt.Errorf("snapshot: stat %s: %w", spec.Token, statErr)
		}
		if info.IsDir() {
			if err := swapInDir(spec.SourcePath, spec.TargetPath); err != nil {
				return nil, fmt.Errorf("snapshot: restoring %s: %w", spec.Token, err)
			}
		} else {
			if err := swapInFile(spec.SourcePath, spec.TargetPath); err != nil {
				return nil, fmt.Errorf("snapshot: restoring %s: %w", spec.Token, err)
			}
		}
		restored = append(restored, spec.Token)
	}

	return &RestoreResult{Metadata: meta, Restored: restored}, nil
}

// Latest returns metadata for the most recent snapshot, or nil when
// the project has none. Directory names sort chronologically because
// ids are zero-padded UTC timestamps.
func (e *Engine) Latest(projectID string) (*Metadata, error) {
	root, err := e.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	names, err := listSnapshotDirs(SnapshotsDir(root))
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		dir := filepath.Join(SnapshotsDir(root), names[i])
		if meta := loadMetadata(dir); meta != nil {
			return meta, nil
		}
		if meta, ok := metadataFromDirName(names[i], projectID); ok {
			return meta, nil
		}
	}
	return nil, nil
}

// List returns metadata for every snapshot of the project, oldest
// first, skipping directories that yield no usable metadata.
func (e *Engine) List(projectID string) ([]*Metadata, error) {
	root, err := e.roots.Root(projectID)
	if err != nil {
		return nil, err
	}
	names, err := listSnapshotDirs(SnapshotsDir(root))
	if err != nil {
		return nil, err
	}
	metas := make([]*Metadata, 0, len(names))
	for _, name := range names {
		if meta := loadMetadata(filepath.Join(SnapshotsDir(root), name)); meta != nil {
			metas = append(metas, meta)
			continue
		}
		if meta, ok := metadataFromDirName(name, projectID); ok {
			metas = append(metas, meta)
		}
	}
	return metas, nil
}

func listSnapshotDirs(snapsDir string) ([]string, error) {
	entries, err := os.ReadDir(snapsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: reading snapshots directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(entry.Name(), "_") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// findSnapshotDir locates the most recent directory for a snapshot id.
func findSnapshotDir(snapsDir, snapshotID string) (string, error) {
	names, err := listSnapshotDirs(snapsDir)
	if err != nil {
		return "", err
	}
	match := ""
	for _, name := range names {
		if strings.HasPrefix(name, snapshotID+"_") {
			match = name
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %q", ErrSnapshotNotFound, snapshotID)
	}
	return filepath.Join(snapsDir, match), nil
}

// loadMetadata reads and parses metadata.json, returning nil when the
// file is missing or unparseable.
func loadMetadata(snapDir string) *Metadata {
	data, err := os.ReadFile(filepath.Join(snapDir, metadataFile))
	if err != nil {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	if meta.SnapshotID == "" {
		return nil
	}
	return &meta
}

// loadOrSynthesizeMetadata tolerates partially-written legacy
// snapshots: when metadata.json is absent or broken, a minimal
// metadata is derived from the directory name with includes taken from
// the directory's own top-level entries.
func loadOrSynthesizeMetadata(snapDir, projectID string) *Metadata {
	if meta := loadMetadata(snapDir); meta != nil {
		return meta
	}

	meta, _ := metadataFromDirName(filepath.Base(snapDir), projectID)
	if meta == nil {
		meta = &Metadata{SnapshotID: filepath.Base(snapDir), ProjectID: projectID, Label: DefaultLabel}
	}

	entries, err := os.ReadDir(snapDir)
	if err != nil {
		return meta
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == metadataFile || name == manifestFile {
			continue
		}
		meta.Includes = append(meta.Includes, name)
	}
	sort.Strings(meta.Includes)
	return meta
}

// metadataFromDirName derives defaults from a {id}_{label} directory
// name.
func metadataFromDirName(name, projectID string) (*Metadata, bool) {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return nil, false
	}
	id, label := name[:idx], name[idx+1:]
	if !ValidSnapshotID(id) {
		return nil, false
	}
	meta := &Metadata{
		SnapshotID: id,
		ProjectID:  projectID,
		Label:      label,
	}
	if t, err := parseSnapshotIDTime(id); err == nil {
		meta.CreatedAt = t
	}
	return meta, true
}

// formatSnapshotID renders t as 20060102T150405{micros}Z.
func formatSnapshotID(t time.Time) string {
	return fmt.Sprintf("%sT%s%06dZ",
		t.Format("20060102"),
		t.Format("150405"),
		t.Nanosecond()/int(time.Microsecond))
}

// parseSnapshotIDTime recovers the creation time encoded in an id.
func parseSnapshotIDTime(id string) (time.Time, error) {
	base, _, _ := strings.Cut(id, "-")
	base = strings.TrimSuffix(base, "Z")
	if len(base) == 15 {
		return time.Parse("20060102T150405", base)
	}
	if len(base) == 21 {
		t, err := time.Parse("20060102T150405", base[:15])
		if err != nil {
			return time.Time{}, err
		}
		micros := 0
		if _, err := fmt.Sscanf(base[15:], "%06d", &micros); err != nil {
			return time.Time{}, err
		}
		return t.Add(time.Duration(micros) * time.Microsecond), nil
	}
	return time.Time{}, fmt.Errorf("snapshot: unrecognized id timestamp %q", id)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// swapInDir replaces dst with a copy of src: stage into a temp sibling,
// delete the old directory, rename the staged one in. A crash
// mid-restore leaves either the old directory or the staged sibling,
// never a half-replaced target.
func swapInDir(src, dst string) error {
	staging := dst + ".restore-" + randomSuffix()
	if err := copyDir(src, staging, true); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("removing old directory: %w", err)
	}
	if err := os.Rename(staging, dst); err != nil {
		return fmt.Errorf("renaming staged directory: %w", err)
	}
	return nil
}

// swapInFile replaces dst with a copy of src via a fsynced temp
// sibling and rename.
func swapInFile(src, dst string) error {
	staging := dst + ".restore-" + randomSuffix()
	if err := copyFile(src, staging, true); err != nil {
		_ = os.Remove(staging)
		return err
	}
	if err := os.Rename(staging, dst); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("renaming staged file: %w", err)
	}
	return nil
}
