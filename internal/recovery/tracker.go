// Package recovery tracks, per project, whether a risky accept
// operation is safely completed, in flight, or was interrupted.
//
// The persisted state machine has three states: idle (initial and
// terminal success), accept-in-progress (transient), and
// needs-recovery (terminal failure requiring operator action). The
// tracker records interruption, it never retries anything itself.
package recovery

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/inkwell/internal/fsatomic"
	"github.com/scrypster/inkwell/internal/snapshot"
)

// Recovery states.
const (
	StatusIdle             = "idle"
	StatusAcceptInProgress = "accept-in-progress"
	StatusNeedsRecovery    = "needs-recovery"
)

// State is the persisted per-project recovery document. Exactly one
// exists per project; it is the single source of truth for whether an
// accept completed safely. NeedsRecovery is always derived from Status
// on write; legacy documents carrying only the boolean are normalized
// on read.
type State struct {
	Status        string        `json:"status"`
	NeedsRecovery bool          `json:"needs_recovery"`
	PendingUnitID string        `json:"pending_unit_id,omitempty"`
	DraftID       string        `json:"draft_id,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Message       string        `json:"message,omitempty"`
	LastSnapshot  *snapshot.Ref `json:"last_snapshot,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// SnapshotSource provides the latest-snapshot fallback for status
// reads. Satisfied by *snapshot.Engine.
type SnapshotSource interface {
	Latest(projectID string) (*snapshot.Metadata, error)
}

// Tracker persists recovery state under each project's
// history/recovery/state.json.
type Tracker struct {
	roots     snapshot.RootResolver
	snapshots SnapshotSource
	atomic    *fsatomic.Writer
	durable   bool
	now       func() time.Time
	mu        sync.Mutex
}

// Config configures a Tracker.
type Config struct {
	// Roots resolves project ids to root directories. Required.
	Roots snapshot.RootResolver

	// Snapshots supplies the latest-snapshot fallback. Optional.
	Snapshots SnapshotSource

	// Atomic performs state writes. Defaults to a private writer.
	Atomic *fsatomic.Writer

	// Durable enables fsync on state writes.
	Durable bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewTracker creates a recovery tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Roots == nil {
		return nil, fmt.Errorf("recovery: Roots resolver is required")
	}
	if cfg.Atomic == nil {
		cfg.Atomic = fsatomic.NewWriter(fsatomic.NewLocks())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		roots:     cfg.Roots,
		snapshots: cfg.Snapshots,
		atomic:    cfg.Atomic,
		durable:   cfg.Durable,
		now:       cfg.Now,
	}, nil
}

// StatePath returns the recovery state file for a project root.
func StatePath(projectRoot string) string {
	return filepath.Join(projectRoot, "history", "recovery", "state.json")
}

// MarkInProgress records that an accept operation has started.
func (t *Tracker) MarkInProgress(projectID, unitID, draftID, message string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	st := t.load(root, projectID)
	now := t.now().UTC()
	st.Status = StatusAcceptInProgress
	st.PendingUnitID = unitID
	st.DraftID = draftID
	st.Message = message
	st.StartedAt = &now
	st.UpdatedAt = now
	st.FailureReason = ""

	if err := t.persist(root, st); err != nil {
		return nil, err
	}
	return st, nil
}

// MarkCompleted records a successful accept and the snapshot that
// covers it. Clears all in-flight fields from any prior state.
func (t *Tracker) MarkCompleted(projectID string, snap *snapshot.Ref) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	st := t.load(root, projectID)
	st.Status = StatusIdle
	st.PendingUnitID = ""
	st.DraftID = ""
	st.Message = ""
	st.StartedAt = nil
	st.FailureReason = ""
	st.UpdatedAt = t.now().UTC()
	if snap != nil {
		normalized := *snap
		normalized.Path = strings.ReplaceAll(normalized.Path, `\`, "/")
		st.LastSnapshot = &normalized
	}

	if err := t.persist(root, st); err != nil {
		return nil, err
	}
	return st, nil
}

// MarkNeedsRecovery records a detected failure.
func (t *Tracker) MarkNeedsRecovery(projectID, reason string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	st := t.load(root, projectID)
	if reason == "" {
		reason = "unspecified failure"
	}
	st.Status = StatusNeedsRecovery
	st.FailureReason = reason
	st.UpdatedAt = t.now().UTC()

	if err := t.persist(root, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Status reads the current recovery state. The read has a deliberate
// side effect: a persisted accept-in-progress observed here is, by
// itself, evidence of an interrupted process (a live accept completes
// or fails synchronously), so this call transitions it to
// needs-recovery and persists that transition. When no last snapshot
// is recorded the snapshot engine's latest is returned as a fallback
// without being persisted. Backslash snapshot paths are normalized to
// forward slashes and the normalization is persisted.
func (t *Tracker) Status(projectID string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.roots.Root(projectID)
	if err != nil {
		return nil, err
	}

	st := t.load(root, projectID)
	dirty := false

	if st.Status == StatusAcceptInProgress {
		st.Status = StatusNeedsRecovery
		st.FailureReason = "accept interrupted: in-progress marker outlived the operation"
		st.UpdatedAt = t.now().UTC()
		dirty = true
		log.Printf("recovery: project %s: stale accept-in-progress detected, marking needs-recovery", projectID)
	}

	if st.LastSnapshot != nil {
		normalized := strings.ReplaceAll(st.LastSnapshot.Path, `\`, "/")
		if normalized != st.LastSnapshot.Path {
			st.LastSnapshot.Path = normalized
			dirty = true
		}
	}

	if dirty {
		if err := t.persist(root, st); err != nil {
			return nil, err
		}
	}

	if st.LastSnapshot == nil && t.snapshots != nil {
		latest, err := t.snapshots.Latest(projectID)
		if err == nil && latest != nil {
			st.LastSnapshot = &snapshot.Ref{
				SnapshotID: latest.SnapshotID,
				Path:       "history/snapshots/" + latest.SnapshotID + "_" + latest.Label,
			}
		}
	}

	return st, nil
}

// load reads the persisted state, degrading to a fresh idle state when
// the file is missing or malformed. Status reads must never fail the
// caller over a broken state file.
func (t *Tracker) load(projectRoot, projectID string) *State {
	data, err := os.ReadFile(StatePath(projectRoot))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("recovery: project %s: unreadable state file, starting fresh: %v", projectID, err)
		}
		return t.freshState()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("recovery: project %s: malformed state file, starting fresh: %v", projectID, err)
		return t.freshState()
	}

	// Normalize legacy documents that carried needs_recovery without
	// a status, and keep the boolean derived either way.
	if st.Status == "" {
		if st.NeedsRecovery {
			st.Status = StatusNeedsRecovery
		} else {
			st.Status = StatusIdle
		}
	}
	st.NeedsRecovery = st.Status == StatusNeedsRecovery
	return &st
}

func (t *Tracker) freshState() *State {
	return &State{Status: StatusIdle, UpdatedAt: t.now().UTC()}
}

func (t *Tracker) persist(projectRoot string, st *State) error {
	st.NeedsRecovery = st.Status == StatusNeedsRecovery
	if err := t.atomic.WriteJSON(StatePath(projectRoot), st, t.durable); err != nil {
		return fmt.Errorf("recovery: persisting state: %w", err)
	}
	return nil
}
