// Package workspace manages the transient artifact directory a run writes
// imagery and mesh files into. Every artifact is deleted again once its
// upload attempt finishes, on success and failure alike.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FS is the filesystem seam. OSFS backs real runs; MemFS backs tests.
type FS interface {
	WriteFile(name string, data []byte, perm os.FileMode) error
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
}

// Workspace is a single run's artifact directory.
type Workspace struct {
	fs   FS
	root string
}

// New creates the workspace directory on the real filesystem.
func New(root string) (*Workspace, error) {
	return NewWithFS(OSFS{}, root)
}

// NewWithFS creates the workspace directory on the given filesystem.
func NewWithFS(fsys FS, root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace: empty root")
	}
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", root, err)
	}
	return &Workspace{fs: fsys, root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Path returns the absolute path of a named artifact.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.root, name)
}

// Write stores an artifact and returns its path.
func (w *Workspace) Write(name string, data []byte) (string, error) {
	path := w.Path(name)
	if err := w.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return path, nil
}

// Read returns an artifact's contents.
func (w *Workspace) Read(name string) ([]byte, error) {
	data, err := w.fs.ReadFile(w.Path(name))
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", name, err)
	}
	return data, nil
}

// Discard removes an artifact. Removing an already-removed artifact is
// not an error, so cleanup can run unconditionally on every exit path.
func (w *Workspace) Discard(name string) error {
	err := w.fs.Remove(w.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: discard %s: %w", name, err)
	}
	return nil
}

// Destroy removes the workspace directory and everything in it.
func (w *Workspace) Destroy() error {
	return w.fs.RemoveAll(w.root)
}

// OSFS implements FS with the os package.
type OSFS struct{}

func (OSFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (OSFS) ReadFile(name string) ([]byte, error)          { return os.ReadFile(name) }
func (OSFS) Remove(name string) error                      { return os.Remove(name) }
func (OSFS) MkdirAll(path string, perm os.FileMode) error  { return os.MkdirAll(path, perm) }
func (OSFS) RemoveAll(path string) error                   { return os.RemoveAll(path) }

// MemFS is an in-memory FS for tests. It tracks every file ever written
// so tests can assert that artifacts were cleaned up.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[filepath.Clean(name)] = cp
	return nil
}

func (m *MemFS) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemFS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if _, ok := m.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(m.files, name)
	return nil
}

func (m *MemFS) MkdirAll(path string, perm os.FileMode) error { return nil }

func (m *MemFS) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	for name := range m.files {
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			delete(m.files, name)
		}
	}
	return nil
}

// FileCount returns the number of files currently present.
func (m *MemFS) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
