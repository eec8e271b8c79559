package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestNormalizeIncludeValid tests accepted entries and their tokens.
func TestNormalizeIncludeValid(t *testing.T) {
	cases := []struct {
		entry string
		token string
	}{
		{"drafts", "drafts"},
		{"outline.json", "outline.json"},
		{"drafts/sc_0001.md", "drafts/sc_0001.md"},
		{"drafts//sc_0001.md", "drafts/sc_0001.md"},
		{"./drafts", "drafts"},
		{`notes\ideas.md`, "notes/ideas.md"},
		{"  drafts  ", "drafts"},
	}

	for _, tc := range cases {
		_, token, err := NormalizeInclude(tc.entry)
		if err != nil {
			t.Errorf("NormalizeInclude(%q) unexpected error: %v", tc.entry, err)
			continue
		}
		if token != tc.token {
			t.Errorf("NormalizeInclude(%q) token = %q, want %q", tc.entry, token, tc.token)
		}
	}
}

// TestNormalizeIncludeRejected tests entries the sandbox must refuse.
func TestNormalizeIncludeRejected(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"/etc/passwd",
		`C:\Users\me`,
		`c:config`,
		`\\server\share`,
		`\windows`,
		"..",
		"../sibling",
		"drafts/../../escape",
		"a/../..",
	}

	for _, entry := range cases {
		_, _, err := NormalizeInclude(entry)
		if err == nil {
			t.Errorf("NormalizeInclude(%q) expected error, got none", entry)
			continue
		}
		if !errors.Is(err, ErrInvalidInclude) {
			t.Errorf("NormalizeInclude(%q) error = %v, want ErrInvalidInclude", entry, err)
		}
	}
}

// TestCollectIncludeSpecsSymlinkEscape tests that a symlink pointing
// outside the project root is rejected after resolution, even though
// its textual path stays inside.
func TestCollectIncludeSpecsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "project")
	outside := filepath.Join(base, "outside")
	snapDir := filepath.Join(base, "snap")
	for _, dir := range []string{root, outside, snapDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	link := filepath.Join(root, "drafts")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := collectIncludeSpecs(root, snapDir, []string{"drafts"})
	if err == nil {
		t.Fatal("expected symlinked include to be rejected")
	}
	if !errors.Is(err, ErrInvalidInclude) {
		t.Errorf("error = %v, want ErrInvalidInclude", err)
	}
}

// TestCollectIncludeSpecsPaths tests resolved source/target placement.
func TestCollectIncludeSpecsPaths(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "project")
	snapDir := filepath.Join(base, "snap")
	for _, dir := range []string{root, snapDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	specs, err := collectIncludeSpecs(root, snapDir, []string{"drafts", "outline.json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Token != "drafts" {
		t.Errorf("token = %q, want drafts", specs[0].Token)
	}
	wantSource := filepath.Join(root, "drafts")
	if specs[0].SourcePath != wantSource {
		t.Errorf("source = %q, want %q", specs[0].SourcePath, wantSource)
	}
}
