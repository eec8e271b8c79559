package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidInclude marks include entries rejected by the sandbox.
var ErrInvalidInclude = errors.New("invalid include entry")

// windowsAnchor matches drive-letter and UNC prefixes so Windows-style
// absolute paths are rejected even on POSIX hosts.
var windowsAnchor = regexp.MustCompile(`^(?:[A-Za-z]:|\\\\|\\)`)

// NormalizeInclude validates one include entry and returns its cleaned
// relative path (native separators) and its token (forward-slash form).
// Empty entries, absolute paths of either flavor, and any ".." segment
// are rejected.
func NormalizeInclude(entry string) (rel string, token string, err error) {
	trimmed := strings.TrimSpace(entry)
	if trimmed == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrInvalidInclude)
	}
	if strings.HasPrefix(trimmed, "/") || filepath.IsAbs(trimmed) || windowsAnchor.MatchString(trimmed) {
		return "", "", fmt.Errorf("%w: absolute path %q", ErrInvalidInclude, entry)
	}

	slashed := strings.ReplaceAll(trimmed, `\`, "/")
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return "", "", fmt.Errorf("%w: traversal segment in %q", ErrInvalidInclude, entry)
		}
	}

	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", "", fmt.Errorf("%w: %q resolves outside the root", ErrInvalidInclude, entry)
	}

	return filepath.FromSlash(cleaned), cleaned, nil
}

// collectIncludeSpecs resolves include entries for snapshot creation:
// sources under the project root, targets inside the snapshot
// directory. Both sides are containment-checked on their resolved
// (symlink-followed) form, not just textually, so a symlinked include
// cannot escape either root.
func collectIncludeSpecs(projectRoot, snapshotDir string, entries []string) ([]IncludeSpec, error) {
	return resolveSpecs(projectRoot, snapshotDir, entries)
}

// restoreIncludeSpecs resolves include entries in the reverse
// direction: sources inside the snapshot directory, targets under the
// project root.
func restoreIncludeSpecs(snapshotDir, projectRoot string, entries []string) ([]IncludeSpec, error) {
	return resolveSpecs(snapshotDir, projectRoot, entries)
}

// ResolveInside validates one entry against root and returns its
// absolute path. Used by verification to re-check declared includes
// with the same traversal defense as capture and restore.
func ResolveInside(root, entry string) (string, error) {
	rel, _, err := NormalizeInclude(entry)
	if err != nil {
		return "", err
	}
	p := filepath.Join(root, rel)
	if err := ensureInside(root, p); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidInclude, entry, err)
	}
	return p, nil
}

func resolveSpecs(sourceRoot, targetRoot string, entries []string) ([]IncludeSpec, error) {
	specs := make([]IncludeSpec, 0, len(entries))
	for _, entry := range entries {
		rel, token, err := NormalizeInclude(entry)
		if err != nil {
			return nil, err
		}

		source := filepath.Join(sourceRoot, rel)
		if err := ensureInside(sourceRoot, source); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidInclude, entry, err)
		}

		target := filepath.Join(targetRoot, rel)
		if err := ensureInside(targetRoot, target); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidInclude, entry, err)
		}

		specs = append(specs, IncludeSpec{Token: token, SourcePath: source, TargetPath: target})
	}
	return specs, nil
}

// ensureInside asserts that candidate, after following symlinks,
// remains strictly inside root. Non-existent suffixes are resolved
// against their deepest existing ancestor so a not-yet-created target
// is still checked.
func ensureInside(root, candidate string) error {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if resolved == resolvedRoot {
		return errors.New("path resolves to the root itself")
	}
	if !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return errors.New("path escapes the root")
	}
	return nil
}

// resolveExisting follows symlinks on the deepest existing ancestor of
// path and rejoins the non-existent remainder.
func resolveExisting(p string) (string, error) {
	p = filepath.Clean(p)
	suffix := ""
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}
