// Package core provides shared data types and errors for mirrorfs.
// The cache machinery lives in internal/cache; this package holds the
// contracts that cross package boundaries.
package core

import (
	"context"
	"errors"
	"syscall"
)

// Sentinel errors for common failure conditions.
var (
	// ErrNotFound indicates the path does not exist on the origin
	// (or, in cache-only mode, in the cache).
	ErrNotFound = errors.New("mirrorfs: not found")

	// ErrPermission indicates an open for write access on a mirrored path.
	ErrPermission = errors.New("mirrorfs: permission denied")

	// ErrReadOnly indicates a mutating operation against the mirror.
	ErrReadOnly = errors.New("mirrorfs: read-only filesystem")

	// ErrNotSupported indicates an operation the control surface does not
	// implement, such as writing an unrecognized byte to a pseudo-file.
	ErrNotSupported = errors.New("mirrorfs: not supported")

	// ErrCacheMiss indicates cache-only mode is active and the request
	// cannot be served without consulting the origin.
	ErrCacheMiss = errors.New("mirrorfs: not in cache")

	// ErrInvalidPath indicates a path that does not begin with a slash.
	ErrInvalidPath = errors.New("mirrorfs: invalid path")

	// ErrShortRead indicates the origin returned fewer bytes than requested
	// somewhere other than end of file.
	ErrShortRead = errors.New("mirrorfs: short read from origin")
)

// Attr is a snapshot of origin-side file attributes. All numeric fields are
// stored as fixed-width integers; times are split into whole seconds and
// nanoseconds so the record round-trips exactly.
type Attr struct {
	// Mode holds the full mode bits, including the file type.
	Mode uint32 `json:"mode"`
	// Nlink is the hard link count.
	Nlink uint32 `json:"nlink"`
	// Size is the file size in bytes.
	Size int64 `json:"size"`

	Atime     int64  `json:"atime"`
	AtimeNsec uint32 `json:"atime_nsec"`
	Mtime     int64  `json:"mtime"`
	MtimeNsec uint32 `json:"mtime_nsec"`
	Ctime     int64  `json:"ctime"`
	CtimeNsec uint32 `json:"ctime_nsec"`

	Dev uint64 `json:"dev"`
	Ino uint64 `json:"ino"`
	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`

	// Rdev is the device number for device nodes.
	Rdev uint64 `json:"rdev,omitempty"`
	// Blksize is the preferred I/O block size, when known.
	Blksize int64 `json:"blksize,omitempty"`
}

// IsDir reports whether the mode bits describe a directory.
func (a Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// IsRegular reports whether the mode bits describe a regular file.
func (a Attr) IsRegular() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFREG
}

// Origin provides access to the directory tree being mirrored. Paths are
// absolute, begin with a slash, and are interpreted relative to the origin
// root. Implementations may block for as long as the backing storage takes;
// the context is the only cancellation mechanism.
type Origin interface {
	// Getattr returns the attributes for the path.
	Getattr(ctx context.Context, path string) (Attr, error)

	// Readdir returns the child names of a directory, excluding "." and
	// "..". The order is captured as observed and must be deterministic for
	// a given directory state.
	Readdir(ctx context.Context, path string) ([]string, error)

	// Read returns up to size bytes at offset. Fewer bytes than requested
	// are returned only at end of file.
	Read(ctx context.Context, path string, size int64, offset int64) ([]byte, error)
}
