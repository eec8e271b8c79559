package verifier

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/inkwell/internal/fsatomic"
	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/snapshot"
)

func newTestEnv(t *testing.T) (*project.Resolver, *snapshot.Engine, string) {
	t.Helper()
	base := t.TempDir()
	atomic := fsatomic.NewWriter(fsatomic.NewLocks())
	resolver, err := project.NewResolver(filepath.Join(base, "projects"), atomic)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	engine, err := snapshot.NewEngine(snapshot.Config{Roots: resolver, Atomic: atomic})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return resolver, engine, filepath.Join(base, "data")
}

func newTestVerifier(t *testing.T, resolver *project.Resolver, dataDir string, mutate func(*Config)) *Verifier {
	t.Helper()
	cfg := Config{
		Projects:     resolver,
		Atomic:       fsatomic.NewWriter(fsatomic.NewLocks()),
		DataDir:      dataDir,
		Enabled:      true,
		BaseInterval: time.Minute,
		MaxInterval:  4 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func seedProject(t *testing.T, resolver *project.Resolver, engine *snapshot.Engine, projectID string) (root, snapDir string) {
	t.Helper()
	if _, err := resolver.Create(projectID, "Test Project"); err != nil {
		t.Fatalf("Create project: %v", err)
	}
	root, err := resolver.Root(projectID)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	draft := project.DraftPath(root, "sc_0001")
	if err := os.WriteFile(draft, []byte("---\npov: mira\n---\n\nOpening scene.\n"), 0644); err != nil {
		t.Fatalf("write draft: %v", err)
	}
	res, err := engine.Create(projectID, "accept", nil)
	if err != nil {
		t.Fatalf("Create snapshot: %v", err)
	}
	return root, filepath.Join(root, filepath.FromSlash(res.Path))
}

func TestNewPersistsWaitingState(t *testing.T) {
	resolver, _, dataDir := newTestEnv(t)
	v := newTestVerifier(t, resolver, dataDir, nil)

	st := v.State()
	if st.Status != StatusWarning {
		t.Errorf("initial status = %q, want %q", st.Status, StatusWarning)
	}
	if st.Message != "waiting for first run" {
		t.Errorf("initial message = %q", st.Message)
	}

	raw, err := os.ReadFile(StatePath(dataDir))
	if err != nil {
		t.Fatalf("state file not persisted: %v", err)
	}
	var onDisk State
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	if onDisk.Status != StatusWarning {
		t.Errorf("persisted status = %q", onDisk.Status)
	}
}

func TestRunCycleIdempotent(t *testing.T) {
	resolver, engine, dataDir := newTestEnv(t)
	seedProject(t, resolver, engine, "novel-1")
	v := newTestVerifier(t, resolver, dataDir, nil)

	first, err := v.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	second, err := v.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	for i, st := range []*State{first, second} {
		if st.Status != StatusOK {
			t.Errorf("cycle %d status = %q, want %q", i+1, st.Status, StatusOK)
		}
		if st.CheckedSnapshots != 1 {
			t.Errorf("cycle %d checked = %d, want 1", i+1, st.CheckedSnapshots)
		}
	}

	c1 := first.Projects[0].Snapshots[0].Checksum
	c2 := second.Projects[0].Snapshots[0].Checksum
	if c1 == "" || c1 != c2 {
		t.Errorf("checksums differ across unchanged cycles: %q vs %q", c1, c2)
	}
	if got := second.Projects[0].Snapshots[0].PreviousChecksum; got != c1 {
		t.Errorf("second cycle previous checksum = %q, want %q", got, c1)
	}
	if second.Projects[0].Snapshots[0].Retried {
		t.Error("clean snapshot should not be retried")
	}
}

func TestRunCycleDetectsMissingInclude(t *testing.T) {
	resolver, engine, dataDir := newTestEnv(t)
	_, snapDir := seedProject(t, resolver, engine, "novel-1")
	v := newTestVerifier(t, resolver, dataDir, nil)

	if err := os.RemoveAll(filepath.Join(snapDir, "drafts")); err != nil {
		t.Fatalf("remove drafts: %v", err)
	}

	st, err := v.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if st.Status != StatusError {
		t.Fatalf("status = %q, want %q", st.Status, StatusError)
	}
	if st.FailedSnapshots != 1 {
		t.Errorf("failed snapshots = %d, want 1", st.FailedSnapshots)
	}

	res := st.Projects[0].Snapshots[0]
	if !res.Retried {
		t.Error("failing snapshot should carry retried = true")
	}
	var found bool
	for _, iss := range res.Issues {
		if iss.Reason == ReasonMissingPath && iss.Details == "drafts" {
			found = true
		}
	}
	if !found {
		t.Errorf("no missing-path issue naming drafts; issues = %+v", res.Issues)
	}
	if len(res.MissingEntries) != 1 || res.MissingEntries[0] != "drafts" {
		t.Errorf("missing entries = %v, want [drafts]", res.MissingEntries)
	}
}

func TestRunCycleDetectsChecksumDrift(t *testing.T) {
	resolver, engine, dataDir := newTestEnv(t)
	_, snapDir := seedProject(t, resolver, engine, "novel-1")
	v := newTestVerifier(t, resolver, dataDir, nil)

	if _, err := v.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	tampered := filepath.Join(snapDir, "drafts", "sc_0001.md")
	if err := os.WriteFile(tampered, []byte("rewritten after capture\n"), 0644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	st, err := v.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if st.Status != StatusError {
		t.Fatalf("status = %q, want %q", st.Status, StatusError)
	}
	res := st.Projects[0].Snapshots[0]
	if res.PreviousChecksum == "" || res.PreviousChecksum == res.Checksum {
		t.Errorf("expected checksum drift, previous=%q current=%q", res.PreviousChecksum, res.Checksum)
	}
	var found bool
	for _, iss := range res.Issues {
		if iss.Reason == ReasonChecksumDrift {
			found = true
		}
	}
	if !found {
		t.Errorf("no drift issue; issues = %+v", res.Issues)
	}
}

func TestAdaptiveIntervalDoublesWhenIdleAndResets(t *testing.T) {
	resolver, engine, dataDir := newTestEnv(t)
	v := newTestVerifier(t, resolver, dataDir, nil)

	ctx := context.Background()
	want := []time.Duration{2 * time.Minute, 4 * time.Minute, 4 * time.Minute}
	for i, w := range want {
		st, err := v.RunCycle(ctx)
		if err != nil {
			t.Fatalf("idle cycle %d: %v", i+1, err)
		}
		if st.Status != StatusWarning {
			t.Errorf("idle cycle %d status = %q, want %q", i+1, st.Status, StatusWarning)
		}
		if got := v.Interval(); got != w {
			t.Errorf("after idle cycle %d interval = %v, want %v", i+1, got, w)
		}
	}

	seedProject(t, resolver, engine, "novel-1")
	st, err := v.RunCycle(ctx)
	if err != nil {
		t.Fatalf("busy cycle: %v", err)
	}
	if st.Status != StatusOK {
		t.Errorf("busy cycle status = %q, want %q", st.Status, StatusOK)
	}
	if got := v.Interval(); got != time.Minute {
		t.Errorf("busy cycle interval = %v, want base %v", got, time.Minute)
	}
}

func TestVoiceNoteVerification(t *testing.T) {
	resolver, engine, dataDir := newTestEnv(t)
	root, _ := seedProject(t, resolver, engine, "novel-1")
	v := newTestVerifier(t, resolver, dataDir, func(cfg *Config) {
		cfg.VoiceNotes = true
	})

	good := filepath.Join(root, "voice_notes", "note-1")
	if err := os.MkdirAll(good, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(good, "transcript.json"), []byte(`{"transcript":"chapter two idea"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(good, "note.webm"), []byte("audio-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	noAudio := filepath.Join(root, "voice_notes", "note-2")
	if err := os.MkdirAll(noAudio, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(noAudio, "transcript.json"), []byte(`{"transcript":""}`), 0644); err != nil {
		t.Fatal(err)
	}

	st, err := v.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if st.VoiceNotesChecked != 2 {
		t.Errorf("voice notes checked = %d, want 2", st.VoiceNotesChecked)
	}
	if st.VoiceNoteIssues != 2 {
		t.Errorf("voice note issues = %d, want 2 (empty transcript, missing audio)", st.VoiceNoteIssues)
	}
	if st.Status != StatusError {
		t.Errorf("status = %q, want %q", st.Status, StatusError)
	}

	reasons := map[string]bool{}
	for _, iss := range st.Projects[0].VoiceNoteIssues {
		reasons[iss.Reason] = true
	}
	if !reasons[ReasonMalformedTranscript] || !reasons[ReasonMissingAudio] {
		t.Errorf("reasons = %v, want malformed transcript and missing audio", reasons)
	}
}

func TestStateReloadSeedsChecksumCache(t *testing.T) {
	resolver, engine, dataDir := newTestEnv(t)
	_, snapDir := seedProject(t, resolver, engine, "novel-1")

	v1 := newTestVerifier(t, resolver, dataDir, nil)
	if _, err := v1.RunCycle(context.Background()); err != nil {
		t.Fatalf("first process cycle: %v", err)
	}

	tampered := filepath.Join(snapDir, "project.json")
	if err := os.WriteFile(tampered, []byte(`{"project_id":"forged"}`), 0644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	// New instance over the same data dir simulates a restart.
	v2 := newTestVerifier(t, resolver, dataDir, nil)
	st, err := v2.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("post-restart cycle: %v", err)
	}

	var found bool
	for _, iss := range st.Projects[0].Snapshots[0].Issues {
		if iss.Reason == ReasonChecksumDrift {
			found = true
		}
	}
	if !found {
		t.Error("drift missed after restart, checksum cache was not reseeded from state")
	}
}

func TestSamplePickDeterministic(t *testing.T) {
	a := samplePick("20260314T092653589793Z", 17)
	for i := 0; i < 10; i++ {
		if b := samplePick("20260314T092653589793Z", 17); b != a {
			t.Fatalf("sample pick not stable: %d vs %d", a, b)
		}
	}
	if a < 0 || a >= 17 {
		t.Fatalf("sample index %d out of range", a)
	}
}

func TestStopWithoutStart(t *testing.T) {
	resolver, _, dataDir := newTestEnv(t)
	v := newTestVerifier(t, resolver, dataDir, nil)
	if err := v.Stop(); err == nil {
		t.Error("Stop on a stopped verifier should error")
	}
}
