package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// managedContinuityFiles is the fixed set of markdown files the agent
// maintains about itself. In safe mode they live in the device-scoped state
// directory regardless of the path argument a caller supplies, so continuity
// state never scatters across arbitrary locations.
var managedContinuityFiles = []string{"IDENTITY.md", "MEMORY.md", "USER.md"}

// IsManagedContinuityFile reports whether a path names a managed continuity
// file, matching on the base name case-insensitively.
func IsManagedContinuityFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range managedContinuityFiles {
		if strings.EqualFold(base, name) {
			return true
		}
	}
	return false
}

// canonicalManagedName returns the canonical spelling for a managed file.
func canonicalManagedName(path string) string {
	base := filepath.Base(path)
	for _, name := range managedContinuityFiles {
		if strings.EqualFold(base, name) {
			return name
		}
	}
	return base
}

// Sandbox confines path arguments to a workspace root and redirects managed
// continuity files to the state directory.
type Sandbox struct {
	root     string
	stateDir string
}

// NewSandbox creates a Sandbox rooted at workspaceRoot with managed files
// redirected to stateDir. Both directories are created if absent and the
// root is resolved through symlinks once so containment checks compare
// canonical paths.
func NewSandbox(workspaceRoot, stateDir string) (*Sandbox, error) {
	for _, dir := range []string{workspaceRoot, stateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sandbox dir %s: %w", dir, err)
		}
	}

	root, err := filepath.EvalSymlinks(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	state, err := filepath.EvalSymlinks(stateDir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}

	return &Sandbox{root: root, stateDir: state}, nil
}

// Root returns the resolved workspace root.
func (s *Sandbox) Root() string { return s.root }

// StateDir returns the resolved device-scoped state directory.
func (s *Sandbox) StateDir() string { return s.stateDir }

// Resolve normalizes a caller-supplied path. Managed continuity files map
// into the state directory; any other path must land inside the workspace
// root after cleaning and symlink resolution, otherwise ErrOutsideSandbox.
func (s *Sandbox) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideSandbox)
	}

	if IsManagedContinuityFile(path) {
		return filepath.Join(s.stateDir, canonicalManagedName(path)), nil
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	resolved, err := resolveExisting(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, path)
	}
	return resolved, nil
}

// resolveExisting resolves symlinks for the deepest existing ancestor so
// write targets that do not exist yet still get containment-checked against
// their real parent directory.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == path {
		return "", err
	}
	parent, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}
