package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/meigma/mirrorfs/core"
)

// Compile-time interface check.
var _ core.Origin = (*Local)(nil)

// Local serves origin requests from a real directory tree.
type Local struct {
	root string
}

// NewLocal returns an adapter rooted at the given directory.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Getattr implements core.Origin.
func (l *Local) Getattr(ctx context.Context, path string) (core.Attr, error) {
	if err := ctx.Err(); err != nil {
		return core.Attr{}, err
	}
	real, err := l.realPath(path)
	if err != nil {
		return core.Attr{}, err
	}
	info, err := os.Stat(real)
	if err != nil {
		return core.Attr{}, mapError(path, err)
	}
	return attrFromInfo(info), nil
}

// Readdir implements core.Origin. Entries come back sorted by name, which
// keeps captured listings deterministic.
func (l *Local) Readdir(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	real, err := l.realPath(path)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(real)
	if err != nil {
		return nil, mapError(path, err)
	}
	names := make([]string, len(dirents))
	for i, d := range dirents {
		names[i] = d.Name()
	}
	return names, nil
}

// Read implements core.Origin. Fewer bytes than requested come back only at
// end of file.
func (l *Local) Read(ctx context.Context, path string, size int64, offset int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	real, err := l.realPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(real)
	if err != nil {
		return nil, mapError(path, err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf[:n], nil
}

func (l *Local) realPath(path string) (string, error) {
	rel, err := resolve(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, rel), nil
}

func mapError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, core.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", path, core.ErrPermission)
	default:
		return err
	}
}

// attrFromInfo captures a full attribute snapshot from a stat result.
func attrFromInfo(info os.FileInfo) core.Attr {
	attr := core.Attr{
		Size: info.Size(),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		attr.Mode = uint32(st.Mode)
		attr.Nlink = uint32(st.Nlink)
		attr.Atime = st.Atim.Sec
		attr.AtimeNsec = uint32(st.Atim.Nsec)
		attr.Mtime = st.Mtim.Sec
		attr.MtimeNsec = uint32(st.Mtim.Nsec)
		attr.Ctime = st.Ctim.Sec
		attr.CtimeNsec = uint32(st.Ctim.Nsec)
		attr.Dev = uint64(st.Dev)
		attr.Ino = st.Ino
		attr.UID = st.Uid
		attr.GID = st.Gid
		attr.Rdev = uint64(st.Rdev)
		attr.Blksize = int64(st.Blksize)
		return attr
	}

	// Fallback for filesystems without a Stat_t, keeping mode and mtime.
	attr.Mode = uint32(info.Mode().Perm())
	if info.IsDir() {
		attr.Mode |= syscall.S_IFDIR
	} else {
		attr.Mode |= syscall.S_IFREG
	}
	attr.Nlink = 1
	mtime := info.ModTime()
	attr.Mtime = mtime.Unix()
	attr.MtimeNsec = uint32(mtime.Nanosecond())
	return attr
}
