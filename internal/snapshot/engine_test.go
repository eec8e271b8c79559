package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testRoots resolves project ids against a fixed map, standing in for
// the project package's resolver.
type testRoots map[string]string

func (r testRoots) Root(projectID string) (string, error) {
	root, ok := r[projectID]
	if !ok {
		return "", fmt.Errorf("unknown project %q", projectID)
	}
	return root, nil
}

// newTestProject lays out a minimal project tree and returns its root.
func newTestProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "project.json"),
		`{"project_id":"p1","title":"Tidewater","word_budget":80000}`)
	writeFile(t, filepath.Join(root, "outline.json"),
		`{"title":"Tidewater","units":[{"id":"sc_0001","title":"Landfall","words":1200}]}`)
	writeFile(t, filepath.Join(root, "drafts", "sc_0001.md"),
		"---\nunit: sc_0001\ndraft: 3\n---\nThe tide came in before dawn.\n")
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestEngine(t *testing.T, root string) *Engine {
	t.Helper()
	eng, err := NewEngine(Config{Roots: testRoots{"p1": root}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

// TestCreateDefaultIncludes tests the capture of the default include
// set and that only existing entries appear in metadata.
func TestCreateDefaultIncludes(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	result, err := eng.Create("p1", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	meta := result.Metadata
	if meta.Label != "accept" {
		t.Errorf("label = %q, want accept", meta.Label)
	}
	want := []string{"drafts", "outline.json", "project.json"}
	if len(meta.Includes) != len(want) {
		t.Fatalf("includes = %v, want %v", meta.Includes, want)
	}
	for i, token := range want {
		if meta.Includes[i] != token {
			t.Errorf("includes[%d] = %q, want %q", i, meta.Includes[i], token)
		}
	}
	if !ValidSnapshotID(meta.SnapshotID) {
		t.Errorf("snapshot id %q does not match the id pattern", meta.SnapshotID)
	}
	if !strings.HasPrefix(result.Path, "history/snapshots/") {
		t.Errorf("path = %q, want history/snapshots/ prefix", result.Path)
	}

	snapDir := filepath.Join(root, filepath.FromSlash(result.Path))
	for _, name := range []string{"metadata.json", "snapshot.yaml", "project.json", "outline.json"} {
		if _, err := os.Stat(filepath.Join(snapDir, name)); err != nil {
			t.Errorf("expected %s in snapshot dir: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(snapDir, "drafts", "sc_0001.md")); err != nil {
		t.Errorf("expected copied draft: %v", err)
	}
}

// TestCreateSkipsAbsentInclude tests that a missing default include is
// silently skipped and omitted from metadata.
func TestCreateSkipsAbsentInclude(t *testing.T) {
	root := newTestProject(t)
	if err := os.Remove(filepath.Join(root, "project.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// The resolver stub does not require project.json; the engine
	// itself must tolerate its absence.
	eng := newTestEngine(t, root)

	result, err := eng.Create("p1", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, token := range result.Metadata.Includes {
		if token == "project.json" {
			t.Error("absent include should not appear in metadata")
		}
	}
	if len(result.Metadata.Includes) != 2 {
		t.Errorf("includes = %v, want 2 entries", result.Metadata.Includes)
	}
}

// TestCreateSanitizesLabel tests the label slug rules.
func TestCreateSanitizesLabel(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	result, err := eng.Create("p1", "Review Build", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Metadata.Label != "Review-Build" {
		t.Errorf("label = %q, want Review-Build", result.Metadata.Label)
	}

	if got := SanitizeLabel("  ***  "); got != "accept" {
		t.Errorf("SanitizeLabel fallback = %q, want accept", got)
	}
	if got := SanitizeLabel("a  b//c"); got != "a-b-c" {
		t.Errorf("SanitizeLabel = %q, want a-b-c", got)
	}
}

// TestCreateRejectsTraversalAndLeavesNoDirectory tests that an invalid
// include fails the call and removes the just-allocated directory.
func TestCreateRejectsTraversalAndLeavesNoDirectory(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	_, err := eng.Create("p1", "", []string{"drafts", "../escape"})
	if err == nil {
		t.Fatal("expected error for traversal include")
	}
	if !errors.Is(err, ErrInvalidInclude) {
		t.Errorf("error = %v, want ErrInvalidInclude", err)
	}

	entries, readErr := os.ReadDir(SnapshotsDir(root))
	if readErr == nil && len(entries) != 0 {
		t.Errorf("expected no snapshot directories, found %d", len(entries))
	}
}

// TestCreateUniqueWithinSameTick tests that two snapshots requested at
// the same frozen timestamp get distinct ids and directories.
func TestCreateUniqueWithinSameTick(t *testing.T) {
	root := newTestProject(t)
	frozen := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	eng, err := NewEngine(Config{
		Roots: testRoots{"p1": root},
		Now:   func() time.Time { return frozen },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	first, err := eng.Create("p1", "", nil)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := eng.Create("p1", "", nil)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}

	if first.Metadata.SnapshotID == second.Metadata.SnapshotID {
		t.Errorf("expected distinct ids, both %q", first.Metadata.SnapshotID)
	}
	if first.Path == second.Path {
		t.Errorf("expected distinct directories, both %q", first.Path)
	}
	if !ValidSnapshotID(second.Metadata.SnapshotID) {
		t.Errorf("suffixed id %q does not match the id pattern", second.Metadata.SnapshotID)
	}

	entries, err := os.ReadDir(SnapshotsDir(root))
	if err != nil {
		t.Fatalf("read snapshots dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 snapshot directories, got %d", len(entries))
	}
}

// TestRestoreRoundTrip tests that restoring a snapshot reproduces the
// captured bytes even after the live content was mutated.
func TestRestoreRoundTrip(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	original, err := os.ReadFile(filepath.Join(root, "drafts", "sc_0001.md"))
	if err != nil {
		t.Fatalf("read original: %v", err)
	}

	result, err := eng.Create("p1", "before-accept", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutate the live project after the snapshot.
	writeFile(t, filepath.Join(root, "drafts", "sc_0001.md"), "mangled draft\n")
	writeFile(t, filepath.Join(root, "drafts", "sc_0002.md"), "a new scene that must vanish\n")
	writeFile(t, filepath.Join(root, "outline.json"), `{"units":[]}`)

	restores, err := eng.Restore("p1", result.Metadata.SnapshotID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(restores.Restored) != 3 {
		t.Errorf("restored = %v, want 3 tokens", restores.Restored)
	}

	back, err := os.ReadFile(filepath.Join(root, "drafts", "sc_0001.md"))
	if err != nil {
		t.Fatalf("read restored draft: %v", err)
	}
	if string(back) != string(original) {
		t.Errorf("restored draft differs from captured content")
	}

	// The directory swap is whole-replacement: files created after the
	// snapshot are gone.
	if _, err := os.Stat(filepath.Join(root, "drafts", "sc_0002.md")); !os.IsNotExist(err) {
		t.Error("post-snapshot file survived the directory swap")
	}

	outline, err := os.ReadFile(filepath.Join(root, "outline.json"))
	if err != nil {
		t.Fatalf("read restored outline: %v", err)
	}
	if !strings.Contains(string(outline), "sc_0001") {
		t.Error("outline.json was not restored")
	}
}

// TestRestoreRejectsInvalidID tests strict id validation.
func TestRestoreRejectsInvalidID(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	for _, id := range []string{"", "../../etc", "20260314", "20260314T092653Z-XYZ", "latest"} {
		_, err := eng.Restore("p1", id)
		if !errors.Is(err, ErrInvalidSnapshotID) {
			t.Errorf("Restore(%q) error = %v, want ErrInvalidSnapshotID", id, err)
		}
	}
}

// TestRestoreUnknownID tests the not-found path.
func TestRestoreUnknownID(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	_, err := eng.Restore("p1", "20260314T092653589793Z")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("error = %v, want ErrSnapshotNotFound", err)
	}
}

// TestRestoreSynthesizesMetadata tests tolerance for legacy snapshots
// without metadata.json.
func TestRestoreSynthesizesMetadata(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	result, err := eng.Create("p1", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	snapDir := filepath.Join(root, filepath.FromSlash(result.Path))
	if err := os.Remove(filepath.Join(snapDir, "metadata.json")); err != nil {
		t.Fatalf("remove metadata: %v", err)
	}

	writeFile(t, filepath.Join(root, "drafts", "sc_0001.md"), "mutated\n")

	restored, err := eng.Restore("p1", result.Metadata.SnapshotID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Metadata.SnapshotID != result.Metadata.SnapshotID {
		t.Errorf("synthesized id = %q, want %q", restored.Metadata.SnapshotID, result.Metadata.SnapshotID)
	}

	back, err := os.ReadFile(filepath.Join(root, "drafts", "sc_0001.md"))
	if err != nil {
		t.Fatalf("read restored draft: %v", err)
	}
	if string(back) == "mutated\n" {
		t.Error("draft was not restored from the legacy snapshot")
	}
}

// TestLatest tests ordering and the no-snapshots case.
func TestLatest(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	meta, err := eng.Latest("p1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if meta != nil {
		t.Fatalf("expected nil metadata for empty history, got %+v", meta)
	}

	first, err := eng.Create("p1", "one", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := eng.Create("p1", "two", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = first

	meta, err = eng.Latest("p1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if meta == nil || meta.SnapshotID != second.Metadata.SnapshotID {
		t.Errorf("Latest = %+v, want id %q", meta, second.Metadata.SnapshotID)
	}
}

// TestLatestFallsBackToDirName tests name-derived metadata when
// metadata.json is corrupt.
func TestLatestFallsBackToDirName(t *testing.T) {
	root := newTestProject(t)
	eng := newTestEngine(t, root)

	result, err := eng.Create("p1", "draft", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	snapDir := filepath.Join(root, filepath.FromSlash(result.Path))
	writeFile(t, filepath.Join(snapDir, "metadata.json"), "{not json")

	meta, err := eng.Latest("p1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if meta == nil {
		t.Fatal("expected fallback metadata, got nil")
	}
	if meta.SnapshotID != result.Metadata.SnapshotID {
		t.Errorf("fallback id = %q, want %q", meta.SnapshotID, result.Metadata.SnapshotID)
	}
	if meta.Label != "draft" {
		t.Errorf("fallback label = %q, want draft", meta.Label)
	}
}

// TestSnapshotIDFormat pins the id wire format.
func TestSnapshotIDFormat(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	id := formatSnapshotID(ts)
	if id != "20260314T092653589793Z" {
		t.Errorf("formatSnapshotID = %q", id)
	}
	if !ValidSnapshotID(id) {
		t.Errorf("formatted id %q does not match the pattern", id)
	}

	parsed, err := parseSnapshotIDTime(id)
	if err != nil {
		t.Fatalf("parseSnapshotIDTime: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("parsed = %v, want %v", parsed, ts)
	}

	// Suffixed ids parse to the same instant.
	parsed, err = parseSnapshotIDTime(id + "-0a1b2c3d")
	if err != nil {
		t.Fatalf("parseSnapshotIDTime suffixed: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("suffixed parse = %v, want %v", parsed, ts)
	}
}
