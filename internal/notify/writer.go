// Package notify provides cross-process event notification between the
// verifier daemon and the web process using filesystem events: the
// daemon writes one event file per verification cycle, the web side
// watches the directory and re-broadcasts to its WebSocket clients.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is the payload written to an event file.
type Event struct {
	Type   string `json:"type"`
	Ref    string `json:"ref"`
	Status string `json:"status,omitempty"`
	Time   int64  `json:"time"`
}

// Writer writes notification event files to a shared directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer that emits events to
// {dataPath}/.inkwell/events/.
func NewWriter(dataPath string) *Writer {
	return &Writer{dir: filepath.Join(dataPath, ".inkwell", "events")}
}

// Notify writes an event file with the given type and status.
// Safe to call concurrently. Errors are returned but not fatal.
func (w *Writer) Notify(eventType, ref, status string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:   eventType,
		Ref:    ref,
		Status: status,
		Time:   time.Now().UnixNano(),
	}
	data, _ := json.Marshal(evt)
	filename := fmt.Sprintf("%d-%s.event", evt.Time, sanitizeRef(ref))
	path := filepath.Join(w.dir, filename)
	return os.WriteFile(path, data, 0o600)
}

// sanitizeRef replaces characters unsafe for filenames.
func sanitizeRef(ref string) string {
	if ref == "" {
		return "event"
	}
	out := make([]byte, len(ref))
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' || ref[i] == ':' || ref[i] == '\\' {
			out[i] = '_'
		} else {
			out[i] = ref[i]
		}
	}
	return string(out)
}
