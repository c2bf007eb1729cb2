package tools

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Sandbox enforces the path-safety rules of spec §4.5: absolute paths,
// Windows drive letters, and ".." traversal are rejected; the remaining
// relative path is matched against a glob allow-list using
// bmatcuk/doublestar for real glob semantics (not a prefix check).
type Sandbox struct {
	Root          string
	WritableGlobs []string
}

// NewSandbox builds a Sandbox rooted at root, writable wherever
// writableGlobs (doublestar patterns, relative to root) match.
func NewSandbox(root string, writableGlobs []string) *Sandbox {
	if len(writableGlobs) == 0 {
		writableGlobs = []string{"**"}
	}
	return &Sandbox{Root: root, WritableGlobs: writableGlobs}
}

// ValidateSandboxPath rejects absolute paths, drive letters, and ".."
// traversal, and returns the resolved absolute path on success.
func (s *Sandbox) ValidateSandboxPath(rel string) (string, error) {
	if rel == "" {
		return "", ErrPathEscape
	}
	if filepath.IsAbs(rel) {
		return "", ErrPathEscape
	}
	if len(rel) >= 2 && rel[1] == ':' {
		return "", ErrPathEscape // Windows drive letter, e.g. "C:\..."
	}
	cleaned := filepath.Clean(filepath.ToSlash(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", ErrPathEscape
	}

	abs := filepath.Join(s.Root, cleaned)
	return abs, nil
}

// Writable reports whether rel (already sandbox-validated) matches one of
// the configured writable globs.
func (s *Sandbox) Writable(rel string) bool {
	cleaned := filepath.ToSlash(filepath.Clean(rel))
	for _, pattern := range s.WritableGlobs {
		if ok, _ := doublestar.Match(pattern, cleaned); ok {
			return true
		}
	}
	return false
}

// IsDraftPath reports whether rel resolves to a run's draft.md, the one
// path workers may never write directly while writer mode is active.
func IsDraftPath(rel string) bool {
	cleaned := filepath.ToSlash(filepath.Clean(rel))
	return strings.HasSuffix(cleaned, "/draft.md") || cleaned == "draft.md"
}
