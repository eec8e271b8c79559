// Package diagnostics writes per-project diagnostic entries as
// individual JSON files under the project's history log. Entries are
// append-only observations; nothing in the system reads them to make
// decisions.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/inkwell/internal/fsatomic"
)

// Diagnostic codes emitted by the backup verifier.
const (
	CodeBackupVerifierOK    = "BACKUP_VERIFIER_OK"
	CodeBackupVerifierError = "BACKUP_VERIFIER_ERROR"
	CodeBackupVerifierIdle  = "BACKUP_VERIFIER_IDLE"
)

// Entry is one persisted diagnostic event.
type Entry struct {
	EventID string         `json:"event_id"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Time    time.Time      `json:"time"`
}

// Sink receives diagnostic entries for a project root.
type Sink interface {
	Log(projectRoot, code, message string, details map[string]any) error
}

// FileSink writes entries under {projectRoot}/history/diagnostics/.
type FileSink struct {
	atomic *fsatomic.Writer
}

// NewFileSink creates a filesystem-backed sink.
func NewFileSink(atomic *fsatomic.Writer) *FileSink {
	if atomic == nil {
		atomic = fsatomic.NewWriter(fsatomic.NewLocks())
	}
	return &FileSink{atomic: atomic}
}

// Dir returns the diagnostics directory for a project root.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, "history", "diagnostics")
}

// Log persists one entry. The filename leads with a nanosecond
// timestamp so lexicographic order is chronological.
func (s *FileSink) Log(projectRoot, code, message string, details map[string]any) error {
	entry := Entry{
		EventID: uuid.NewString(),
		Code:    code,
		Message: message,
		Details: details,
		Time:    time.Now().UTC(),
	}
	name := fmt.Sprintf("%d-%s.json", entry.Time.UnixNano(), sanitizeCode(code))
	if err := s.atomic.WriteJSON(filepath.Join(Dir(projectRoot), name), entry, false); err != nil {
		return fmt.Errorf("diagnostics: writing entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries for a project, newest first. Missing
// directories and unparseable files are skipped silently.
func Recent(projectRoot string, n int) ([]Entry, error) {
	dir := Dir(projectRoot)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("diagnostics: reading directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	entries := make([]Entry, 0, n)
	for _, name := range names {
		if len(entries) == n {
			break
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var entry Entry
		if json.Unmarshal(data, &entry) != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// sanitizeCode replaces characters unsafe for filenames.
func sanitizeCode(code string) string {
	out := make([]byte, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out[i] = c - 'A' + 'a'
		case (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
