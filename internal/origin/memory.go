package origin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/meigma/mirrorfs/core"
)

// Compile-time interface check.
var _ core.Origin = (*Memory)(nil)

// Call records one origin invocation, for traffic assertions in tests.
type Call struct {
	Op     string
	Path   string
	Size   int64
	Offset int64
}

// Memory is an in-memory origin for tests. Directories are implied by file
// paths; attributes are synthesized deterministically.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	calls []Call

	// Blksize, when set, is reported in every file's attributes.
	Blksize int64

	// Err, when set, is returned by every operation. Tests use it to prove
	// the origin is never consulted.
	Err error
}

// NewMemory returns an empty in-memory origin.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// SetFile creates or replaces a file.
func (m *Memory) SetFile(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
}

// RemoveFile deletes a file.
func (m *Memory) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// Calls returns the recorded invocations in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// ReadBytes returns the total byte count requested through Read calls.
func (m *Memory) ReadBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, c := range m.calls {
		if c.Op == "read" {
			total += c.Size
		}
	}
	return total
}

// Getattr implements core.Origin.
func (m *Memory) Getattr(ctx context.Context, path string) (core.Attr, error) {
	if _, err := resolve(path); err != nil {
		return core.Attr{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "getattr", Path: path})
	if m.Err != nil {
		return core.Attr{}, m.Err
	}

	if data, ok := m.files[path]; ok {
		return m.fileAttr(path, int64(len(data))), nil
	}
	if m.isDirLocked(path) {
		return core.Attr{
			Mode:  syscall.S_IFDIR | 0o755,
			Nlink: 2,
			Ino:   inodeFor(path),
		}, nil
	}
	return core.Attr{}, fmt.Errorf("%s: %w", path, core.ErrNotFound)
}

// Readdir implements core.Origin.
func (m *Memory) Readdir(ctx context.Context, path string) ([]string, error) {
	if _, err := resolve(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "readdir", Path: path})
	if m.Err != nil {
		return nil, m.Err
	}
	if !m.isDirLocked(path) {
		return nil, fmt.Errorf("%s: %w", path, core.ErrNotFound)
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Read implements core.Origin.
func (m *Memory) Read(ctx context.Context, path string, size int64, offset int64) ([]byte, error) {
	if _, err := resolve(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "read", Path: path, Size: size, Offset: offset})
	if m.Err != nil {
		return nil, m.Err
	}

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, core.ErrNotFound)
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := min(offset+size, int64(len(data)))
	return append([]byte(nil), data[offset:end]...), nil
}

func (m *Memory) fileAttr(path string, size int64) core.Attr {
	return core.Attr{
		Mode:    syscall.S_IFREG | 0o644,
		Nlink:   1,
		Size:    size,
		Ino:     inodeFor(path),
		Blksize: m.Blksize,
	}
}

func (m *Memory) isDirLocked(path string) bool {
	if path == "/" {
		return true
	}
	prefix := path + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// inodeFor derives a stable inode number from a path.
func inodeFor(path string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(path); i++ {
		h ^= uint64(path[i])
		h *= 1099511628211
	}
	// Leave zero free; go-fuse treats zero as "unset".
	if h == 0 {
		h = 1
	}
	return h
}
