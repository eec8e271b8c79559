package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/scrypster/inkwell/internal/diagnostics"
	"github.com/scrypster/inkwell/internal/fsatomic"
	"github.com/scrypster/inkwell/internal/notify"
	"github.com/scrypster/inkwell/internal/snapshot"
)

const (
	metadataFile   = "metadata.json"
	manifestFile   = "snapshot.yaml"
	voiceNotesDir  = "voice_notes"
	transcriptFile = "transcript.json"

	// EventCycleDone is written to the notify stream after each cycle.
	EventCycleDone = "verifier_cycle"
)

// ProjectSource enumerates projects and resolves their roots. The
// project registry satisfies this.
type ProjectSource interface {
	List() ([]string, error)
	Root(projectID string) (string, error)
}

// Config wires a Verifier together.
type Config struct {
	Projects ProjectSource
	Atomic   *fsatomic.Writer
	// DataDir is the service data directory; state is persisted under
	// DataDir/service_state/backup_verifier/.
	DataDir string

	Enabled          bool
	BaseInterval     time.Duration
	MaxInterval      time.Duration
	SampleChunkBytes int
	VoiceNotes       bool
	Durable          bool

	// Optional collaborators.
	Diagnostics diagnostics.Sink
	Notifier    *notify.Writer
	Now         func() time.Time
}

// Verifier walks every project's snapshots, recomputes aggregate
// checksums, cross-checks metadata against manifests, and persists a
// health report after each cycle.
type Verifier struct {
	projects ProjectSource
	atomic   *fsatomic.Writer
	dataDir  string

	enabled bool
	base    time.Duration
	max     time.Duration
	chunk   int
	voice   bool
	durable bool

	diag     diagnostics.Sink
	notifier *notify.Writer
	now      func() time.Time

	// breaker guards storage-level project IO so a dead network mount
	// fails fast instead of hanging every remaining project in a cycle.
	breaker *gobreaker.CircuitBreaker

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	interval  time.Duration
	checksums map[string]string // "projectID/snapshotID" -> aggregate digest
	state     State
}

// New builds a Verifier, reloading persisted state when present. A
// reloaded report seeds the checksum cache so drift detection survives
// process restarts.
func New(cfg Config) (*Verifier, error) {
	if cfg.Projects == nil {
		return nil, fmt.Errorf("project source is required")
	}
	if cfg.Atomic == nil {
		return nil, fmt.Errorf("atomic writer is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 5 * time.Minute
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		cfg.MaxInterval = 12 * cfg.BaseInterval
	}
	if cfg.SampleChunkBytes <= 0 {
		cfg.SampleChunkBytes = 64 * 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	v := &Verifier{
		projects:  cfg.Projects,
		atomic:    cfg.Atomic,
		dataDir:   cfg.DataDir,
		enabled:   cfg.Enabled,
		base:      cfg.BaseInterval,
		max:       cfg.MaxInterval,
		chunk:     cfg.SampleChunkBytes,
		voice:     cfg.VoiceNotes,
		durable:   cfg.Durable,
		diag:      cfg.Diagnostics,
		notifier:  cfg.Notifier,
		now:       cfg.Now,
		interval:  cfg.BaseInterval,
		checksums: make(map[string]string),
	}
	v.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "verifier-storage",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("verifier: breaker %s: %s -> %s", name, from, to)
		},
	})

	v.state = State{
		Enabled: cfg.Enabled,
		Status:  StatusWarning,
		Message: "waiting for first run",
	}
	if loaded, ok := v.loadState(); ok {
		loaded.Enabled = cfg.Enabled
		v.state = *loaded
		v.seedChecksums(loaded)
	} else if err := v.persistState(); err != nil {
		return nil, fmt.Errorf("persist initial state: %w", err)
	}
	return v, nil
}

// StatePath returns where the verifier persists its cycle summary.
func StatePath(dataDir string) string {
	return filepath.Join(dataDir, "service_state", "backup_verifier", "backup_verifier_state.json")
}

// State returns a copy of the most recently persisted state.
func (v *Verifier) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Interval returns the current adaptive sleep interval.
func (v *Verifier) Interval() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.interval
}

// RunCycle verifies every project once and persists the rolled-up
// state. Safe to invoke on demand while the daemon loop is idle.
func (v *Verifier) RunCycle(ctx context.Context) (*State, error) {
	ids, err := v.projects.List()
	if err != nil {
		return v.finishCycle(nil, fmt.Sprintf("list projects: %v", err))
	}

	var reports []ProjectReport
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return v.finishCycle(reports, fmt.Sprintf("cycle interrupted: %v", err))
		}
		rep := v.verifyProject(id)
		reports = append(reports, rep)
		v.logProjectDiagnostic(id, &rep)
	}
	return v.finishCycle(reports, "")
}

// finishCycle rolls the per-project reports into a State, updates the
// checksum cache and adaptive interval, and persists atomically.
func (v *Verifier) finishCycle(reports []ProjectReport, failure string) (*State, error) {
	end := v.now().UTC()

	st := State{
		Enabled:  v.enabled,
		LastRun:  &end,
		Projects: reports,
	}
	anyIssues := failure != ""
	for i := range reports {
		rep := &reports[i]
		st.CheckedSnapshots += len(rep.Snapshots)
		st.VoiceNotesChecked += rep.VoiceNotesChecked
		st.VoiceNoteIssues += len(rep.VoiceNoteIssues)
		for _, sr := range rep.Snapshots {
			if len(sr.Issues) > 0 {
				st.FailedSnapshots++
			}
		}
		if rep.issueCount() > 0 || rep.Error != "" {
			anyIssues = true
		}
	}

	idle := st.CheckedSnapshots == 0 && st.VoiceNotesChecked == 0
	switch {
	case anyIssues:
		st.Status = StatusError
		st.LastError = failure
		if st.LastError == "" {
			st.LastError = fmt.Sprintf("%d snapshot(s) failed verification, %d voice note issue(s)",
				st.FailedSnapshots, st.VoiceNoteIssues)
		}
		st.Message = st.LastError
	case idle:
		st.Status = StatusWarning
		st.Message = "no snapshots or voice notes found"
		st.LastSuccess = &end
	default:
		st.Status = StatusOK
		st.Message = fmt.Sprintf("verified %d snapshot(s)", st.CheckedSnapshots)
		st.LastSuccess = &end
	}

	v.mu.Lock()
	if st.LastSuccess == nil {
		st.LastSuccess = v.state.LastSuccess
	}
	for i := range reports {
		for _, sr := range reports[i].Snapshots {
			if sr.Checksum != "" {
				v.checksums[reports[i].ProjectID+"/"+sr.SnapshotID] = sr.Checksum
			}
		}
	}
	if idle {
		v.interval *= 2
		if v.interval > v.max {
			v.interval = v.max
		}
	} else {
		v.interval = v.base
	}
	v.state = st
	v.mu.Unlock()

	if err := v.persistState(); err != nil {
		log.Printf("verifier: persist state failed: %v", err)
		return &st, err
	}
	if v.notifier != nil {
		if err := v.notifier.Notify(EventCycleDone, "backup-verifier", st.Status); err != nil {
			log.Printf("verifier: notify failed: %v", err)
		}
	}
	return &st, nil
}

// verifyProject verifies one project's snapshots and voice notes. A
// panic or storage failure is contained here so the cycle can move on
// to the next project.
func (v *Verifier) verifyProject(projectID string) (rep ProjectReport) {
	rep = ProjectReport{ProjectID: projectID, Status: StatusOK}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("verifier: panic verifying project %s: %v", projectID, r)
			rep.Status = StatusError
			rep.Error = fmt.Sprintf("%s: %v", ReasonVerificationCrashed, r)
		}
	}()

	type probe struct {
		root string
		dirs []string
	}
	result, err := v.breaker.Execute(func() (interface{}, error) {
		root, err := v.projects.Root(projectID)
		if err != nil {
			return nil, err
		}
		dirs, err := listSnapshotDirs(snapshot.SnapshotsDir(root))
		if err != nil {
			return nil, err
		}
		return probe{root: root, dirs: dirs}, nil
	})
	if err != nil {
		rep.Status = StatusError
		rep.Error = fmt.Sprintf("%s: %v", ReasonStorageUnavailable, err)
		return rep
	}
	p := result.(probe)

	for _, dir := range p.dirs {
		res := v.verifySnapshot(projectID, dir)
		rep.Snapshots = append(rep.Snapshots, res)
	}
	if v.voice {
		rep.VoiceNotesChecked, rep.VoiceNoteIssues = v.verifyVoiceNotes(projectID, p.root)
	}

	switch {
	case rep.issueCount() > 0:
		rep.Status = StatusError
	case len(rep.Snapshots) == 0 && rep.VoiceNotesChecked == 0:
		rep.Status = StatusIdle
	}
	return rep
}

// verifySnapshot runs one full verification pass and, if the pass
// produced any issue, exactly one more before accepting the snapshot
// as failing. The retry absorbs transient filesystem inconsistency
// without masking persistent corruption.
func (v *Verifier) verifySnapshot(projectID, snapDir string) SnapshotResult {
	res := v.verifySnapshotOnce(projectID, snapDir)
	if len(res.Issues) > 0 {
		res = v.verifySnapshotOnce(projectID, snapDir)
		res.Retried = true
	}
	return res
}

func (v *Verifier) verifySnapshotOnce(projectID, snapDir string) SnapshotResult {
	name := filepath.Base(snapDir)
	id := snapshotIDFromDirName(name)
	res := SnapshotResult{SnapshotID: id}
	addIssue := func(reason, details string) {
		res.Issues = append(res.Issues, Issue{
			ProjectID:  projectID,
			SnapshotID: id,
			Reason:     reason,
			Details:    details,
		})
	}

	var md *snapshot.Metadata
	raw, err := os.ReadFile(filepath.Join(snapDir, metadataFile))
	switch {
	case err != nil:
		addIssue(ReasonMissingMetadata, err.Error())
	default:
		md = &snapshot.Metadata{}
		if err := json.Unmarshal(raw, md); err != nil {
			addIssue(ReasonMalformedMetadata, err.Error())
			md = nil
		} else if md.SnapshotID != id {
			addIssue(ReasonIDMismatch,
				fmt.Sprintf("metadata says %q, directory says %q", md.SnapshotID, id))
		}
	}

	var man *snapshot.Manifest
	raw, err = os.ReadFile(filepath.Join(snapDir, manifestFile))
	switch {
	case err != nil:
		addIssue(ReasonMissingManifest, err.Error())
	default:
		man, err = snapshot.ParseManifest(raw)
		if err != nil {
			addIssue(ReasonMalformedManifest, err.Error())
		}
	}

	if md != nil && man != nil {
		if diff := setDiff(md.Includes, man.Includes); diff != "" {
			addIssue(ReasonIncludeMismatch, diff)
		}
	}

	declared := []string(nil)
	if md != nil {
		declared = md.Includes
	} else if man != nil {
		declared = man.Includes
	}
	for _, inc := range declared {
		p, err := snapshot.ResolveInside(snapDir, inc)
		if err != nil {
			addIssue(ReasonEscapedPath, fmt.Sprintf("%s: %v", inc, err))
			continue
		}
		if _, err := os.Stat(p); err != nil {
			res.MissingEntries = append(res.MissingEntries, inc)
			addIssue(ReasonMissingPath, inc)
		}
	}

	files, pairs, readErrs := digestTree(snapDir)
	for _, e := range readErrs {
		addIssue(ReasonUnreadableFile, e)
	}
	res.CheckedFiles = len(pairs)
	res.Checksum = foldDigests(pairs)

	if len(files) > 0 {
		sample := files[samplePick(id, len(files))]
		res.SampleFile = sample
		if err := v.readSample(filepath.Join(snapDir, filepath.FromSlash(sample))); err != nil {
			addIssue(ReasonUnreadableSample, fmt.Sprintf("%s: %v", sample, err))
		}
	}

	v.mu.Lock()
	prev := v.checksums[projectID+"/"+id]
	v.mu.Unlock()
	if prev != "" {
		res.PreviousChecksum = prev
		if prev != res.Checksum {
			addIssue(ReasonChecksumDrift,
				fmt.Sprintf("previous %s, now %s", prev, res.Checksum))
		}
	}
	return res
}

// verifyVoiceNotes pairs each note directory's transcript.json with
// its audio file. Returns the number of notes examined and any issues.
func (v *Verifier) verifyVoiceNotes(projectID, root string) (int, []Issue) {
	notesDir := filepath.Join(root, voiceNotesDir)
	entries, err := os.ReadDir(notesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, []Issue{{ProjectID: projectID, Reason: ReasonStorageUnavailable, Details: err.Error()}}
	}

	var checked int
	var issues []Issue
	add := func(noteID, reason, details string) {
		issues = append(issues, Issue{
			ProjectID: projectID,
			Reason:    reason,
			Details:   fmt.Sprintf("%s: %s", noteID, details),
		})
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		noteID := e.Name()
		noteDir := filepath.Join(notesDir, noteID)
		checked++

		raw, err := os.ReadFile(filepath.Join(noteDir, transcriptFile))
		if err != nil {
			add(noteID, ReasonMissingTranscript, err.Error())
		} else {
			var t struct {
				Transcript string `json:"transcript"`
			}
			if err := json.Unmarshal(raw, &t); err != nil || strings.TrimSpace(t.Transcript) == "" {
				add(noteID, ReasonMalformedTranscript, "transcript field missing or empty")
			}
		}

		audio := firstAudioFile(noteDir)
		if audio == "" {
			add(noteID, ReasonMissingAudio, "no audio file in note directory")
			continue
		}
		if err := v.readSample(filepath.Join(noteDir, audio)); err != nil {
			add(noteID, ReasonUnreadableAudio, fmt.Sprintf("%s: %v", audio, err))
		}
	}
	return checked, issues
}

func (v *Verifier) logProjectDiagnostic(projectID string, rep *ProjectReport) {
	if v.diag == nil {
		return
	}
	root, err := v.projects.Root(projectID)
	if err != nil {
		return
	}
	code := diagnostics.CodeBackupVerifierOK
	msg := fmt.Sprintf("verified %d snapshot(s)", len(rep.Snapshots))
	switch rep.Status {
	case StatusError:
		code = diagnostics.CodeBackupVerifierError
		msg = fmt.Sprintf("%d issue(s) found", rep.issueCount())
		if rep.Error != "" {
			msg = rep.Error
		}
	case StatusIdle:
		code = diagnostics.CodeBackupVerifierIdle
		msg = "nothing to verify"
	}
	if err := v.diag.Log(root, code, msg, map[string]any{
		"snapshots":   len(rep.Snapshots),
		"voice_notes": rep.VoiceNotesChecked,
		"issues":      rep.issueCount(),
	}); err != nil {
		log.Printf("verifier: diagnostics log failed for %s: %v", projectID, err)
	}
}

func (v *Verifier) persistState() error {
	v.mu.Lock()
	st := v.state
	v.mu.Unlock()
	return v.atomic.WriteJSON(StatePath(v.dataDir), &st, v.durable)
}

// loadState reads the persisted state file. Missing or corrupt state
// is not an error; the verifier starts fresh.
func (v *Verifier) loadState() (*State, bool) {
	raw, err := os.ReadFile(StatePath(v.dataDir))
	if err != nil {
		return nil, false
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		log.Printf("verifier: state file unreadable, starting fresh: %v", err)
		return nil, false
	}
	return &st, true
}

func (v *Verifier) seedChecksums(st *State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, rep := range st.Projects {
		for _, sr := range rep.Snapshots {
			if sr.Checksum != "" {
				v.checksums[rep.ProjectID+"/"+sr.SnapshotID] = sr.Checksum
			}
		}
	}
}

// readSample reads a leading chunk of the file to prove it is
// readable without pulling the whole content into memory.
func (v *Verifier) readSample(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, v.chunk)
	if _, err := f.Read(buf); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func listSnapshotDirs(snapsDir string) ([]string, error) {
	entries, err := os.ReadDir(snapsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(snapsDir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// snapshotIDFromDirName strips the label suffix from a snapshot
// directory name ({id}_{label}).
func snapshotIDFromDirName(name string) string {
	if i := strings.Index(name, "_"); i >= 0 {
		return name[:i]
	}
	return name
}

type digestPair struct {
	rel    string
	digest string
}

// digestTree computes per-file SHA-256 digests for every regular file
// under root. Returns the sorted relative paths, the (path, digest)
// pairs, and descriptions of files that could not be read.
func digestTree(root string) (files []string, pairs []digestPair, readErrs []string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			readErrs = append(readErrs, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			readErrs = append(readErrs, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		rel = filepath.ToSlash(rel)
		digest, err := fileDigest(path)
		if err != nil {
			readErrs = append(readErrs, fmt.Sprintf("%s: %v", rel, err))
			return nil
		}
		files = append(files, rel)
		pairs = append(pairs, digestPair{rel: rel, digest: digest})
		return nil
	})
	sort.Strings(files)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].rel < pairs[j].rel })
	return files, pairs, readErrs
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// foldDigests folds sorted (relpath, digest) pairs into one aggregate
// digest for the whole snapshot.
func foldDigests(pairs []digestPair) string {
	h := sha256.New()
	for _, p := range pairs {
		fmt.Fprintf(h, "%s\x00%s\n", p.rel, p.digest)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// samplePick chooses a file index deterministically from the snapshot
// id and file count, so repeated runs over unchanged content sample
// the same file.
func samplePick(snapshotID string, fileCount int) int {
	h := fnv.New64a()
	h.Write([]byte(snapshotID))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(fileCount))
	h.Write(buf[:])
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	return r.Intn(fileCount)
}

// setDiff describes the symmetric difference between two include
// sets, or "" when they match.
func setDiff(a, b []string) string {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var onlyA, onlyB []string
	for s := range inA {
		if !inB[s] {
			onlyA = append(onlyA, s)
		}
	}
	for s := range inB {
		if !inA[s] {
			onlyB = append(onlyB, s)
		}
	}
	if len(onlyA) == 0 && len(onlyB) == 0 {
		return ""
	}
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	var parts []string
	if len(onlyA) > 0 {
		parts = append(parts, fmt.Sprintf("only in metadata: %s", strings.Join(onlyA, ", ")))
	}
	if len(onlyB) > 0 {
		parts = append(parts, fmt.Sprintf("only in manifest: %s", strings.Join(onlyB, ", ")))
	}
	return strings.Join(parts, "; ")
}

// firstAudioFile returns the first non-transcript regular file in a
// note directory.
func firstAudioFile(noteDir string) string {
	entries, err := os.ReadDir(noteDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == transcriptFile {
			continue
		}
		return e.Name()
	}
	return ""
}
