// Package fsatomic provides crash-safe file writes: temp-file-then-rename
// with optional fsync durability, per-path serialization, and bounded
// retries on transient rename contention.
//
// Readers of a path written through this package never observe a partial
// file: either the old content is still in place or the new content has
// been renamed in whole. A crash mid-write orphans at most a temp
// sibling, never the target.
package fsatomic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// renameAttempts bounds the retry loop around the final rename.
	// Antivirus-style scanners and concurrent readers on some
	// platforms briefly hold the target open; a handful of short
	// retries absorbs that without masking real permission problems.
	renameAttempts = 5

	// renameBackoff is the base delay between rename attempts,
	// multiplied by the attempt number.
	renameBackoff = 10 * time.Millisecond
)

// Writer performs atomic writes. All writes through the same Writer
// (or any Writer sharing the same Locks) to the same target path are
// serialized.
type Writer struct {
	locks *Locks
}

// NewWriter creates a Writer backed by the given lock registry.
func NewWriter(locks *Locks) *Writer {
	if locks == nil {
		locks = NewLocks()
	}
	return &Writer{locks: locks}
}

// WriteJSON marshals payload with indentation and writes it atomically
// to path. When durable is true the temp file is fsynced before the
// rename.
func (w *Writer) WriteJSON(path string, payload any, durable bool) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return newError(KindValidation, "marshal", path, err)
	}
	data = append(data, '\n')
	return w.writeBytes(path, data, durable)
}

// WriteText writes text atomically to path. When durable is true the
// temp file is fsynced before the rename.
func (w *Writer) WriteText(path string, text string, durable bool) error {
	return w.writeBytes(path, []byte(text), durable)
}

// WriteBytes writes raw bytes atomically to path.
func (w *Writer) WriteBytes(path string, data []byte, durable bool) error {
	return w.writeBytes(path, data, durable)
}

func (w *Writer) writeBytes(path string, data []byte, durable bool) error {
	if path == "" {
		return newError(KindValidation, "write", path, errors.New("empty path"))
	}

	lock := w.locks.ForPath(path)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(KindFatal, "mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return newError(KindFatal, "create temp", path, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return newError(KindFatal, "write", path, err)
	}

	if durable {
		if err := tmp.Sync(); err != nil && !syncUnsupported(err) {
			_ = tmp.Close()
			return newError(KindFatal, "sync", path, err)
		}
	}

	if err := tmp.Close(); err != nil {
		return newError(KindFatal, "close", path, err)
	}

	if err := renameWithRetry(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}

// renameWithRetry performs the rename into place, retrying briefly on
// permission/sharing-violation class errors. Any other failure
// propagates immediately.
func renameWithRetry(oldPath, newPath string) error {
	var lastErr error
	for attempt := 1; attempt <= renameAttempts; attempt++ {
		err := os.Rename(oldPath, newPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if !transientRename(err) {
			return newError(KindFatal, "rename", newPath, err)
		}
		time.Sleep(renameBackoff * time.Duration(attempt))
	}
	return newError(KindTransient, "rename", newPath, fmt.Errorf("after %d attempts: %w", renameAttempts, lastErr))
}

// transientRename reports whether a rename failure is of the
// access-denied/sharing-violation class worth retrying.
func transientRename(err error) bool {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	// Windows reports a concurrently-open target as a sharing
	// violation, which surfaces as ERROR_SHARING_VIOLATION (32) or
	// ERROR_ACCESS_DENIED; both unwrap to fs.ErrPermission above on
	// current Go, so nothing more is needed here.
	return false
}

// syncUnsupported reports whether an fsync failure means the handle
// type cannot sync at all (EBADF/EINVAL/ENOTSUP on some filesystems)
// rather than that data was lost.
func syncUnsupported(err error) bool {
	return errors.Is(err, syscall.EBADF) ||
		errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTSUP)
}

// SyncFile flushes an open file to stable storage, tolerating handle
// types that cannot sync.
func SyncFile(f *os.File) error {
	if err := f.Sync(); err != nil && !syncUnsupported(err) {
		return newError(KindFatal, "sync", f.Name(), err)
	}
	return nil
}
