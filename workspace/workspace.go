package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsafePath indicates a file name that would escape the workspace.
var ErrUnsafePath = errors.New("unsafe file path")

// Workspace is the ephemeral per-execution directory bind-mounted into the
// sandbox container. One workspace belongs to exactly one request or session.
type Workspace struct {
	ID   uuid.UUID
	Root string
}

// New creates a fresh workspace directory under <tmpRoot>/<service>/<uuid>.
// An empty tmpRoot falls back to the OS temp directory.
func New(tmpRoot, service string) (*Workspace, error) {
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}
	id := uuid.New()
	root := filepath.Join(tmpRoot, service, id.String())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", root, err)
	}
	return &Workspace{ID: id, Root: root}, nil
}

// Remove deletes the workspace recursively. Safe to call on all exit paths.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Root)
}

// Path joins elem onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}

// WriteFile writes data to the given workspace-relative path, creating
// parent directories as needed. The path must stay inside the workspace.
func (w *Workspace) WriteFile(rel string, data []byte) error {
	if err := CheckRelPath(rel); err != nil {
		return err
	}
	dst := filepath.Join(w.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", rel, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// AppendLine appends a single newline-terminated line to the given
// workspace-relative file, creating it when absent.
func (w *Workspace) AppendLine(rel, line string) error {
	if err := CheckRelPath(rel); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.Root, rel), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return nil
}

// ReadSidecar returns the content of a workspace file written by the
// container, or the empty string when the file does not exist.
func (w *Workspace) ReadSidecar(name string) string {
	b, err := os.ReadFile(filepath.Join(w.Root, name))
	if err != nil {
		return ""
	}
	return string(b)
}

// CheckRelPath rejects absolute paths and any path containing a ".."
// segment. Names are slash-separated relative paths.
func CheckRelPath(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return fmt.Errorf("%w: parent reference in %q", ErrUnsafePath, name)
		}
	}
	return nil
}
