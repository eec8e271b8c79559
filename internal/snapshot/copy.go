package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/scrypster/inkwell/internal/fsatomic"
)

// copyPath copies a file or directory tree from src to dst. Returns
// false without error when src does not exist, so absent includes are
// skipped rather than fatal.
func copyPath(src, dst string, durable bool) (bool, error) {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		if err := copyDir(src, dst, durable); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := copyFile(src, dst, durable); err != nil {
		return false, err
	}
	return true, nil
}

func copyDir(src, dst string, durable bool) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath, durable); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath, durable); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, durable bool) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	if durable {
		if err := fsatomic.SyncFile(out); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
