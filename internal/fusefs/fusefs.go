// Package fusefs adapts the cache engine and control surface to the kernel
// FUSE interface via go-fuse. The glue holds no state of its own: every
// operation routes to the engine, and all mutations of the mirror are
// refused read-only.
package fusefs

import (
	"context"
	"errors"
	"log/slog"
	"syscall"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/mirrorfs/core"
	"github.com/meigma/mirrorfs/internal/cache"
	"github.com/meigma/mirrorfs/internal/control"
)

// Config carries mount-time settings.
type Config struct {
	// Debug enables kernel request logging.
	Debug bool
	// AllowOther permits access by other users (requires user_allow_other).
	AllowOther bool
}

// Mount mounts the mirror at mountpoint and returns the running server.
// Dispatch is single-threaded; the caller unmounts by calling Unmount on
// the returned server or waits on it with Wait.
func Mount(mountpoint string, eng *cache.Engine, surface *control.Surface, logger *slog.Logger, cfg Config) (*fuse.Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	root := &mirrorNode{
		eng:     eng,
		surface: surface,
		logger:  logger,
		path:    "/",
	}
	opts := &gofusefs.Options{
		MountOptions: fuse.MountOptions{
			FsName:         "mirrorfs",
			Name:           "mirrorfs",
			SingleThreaded: true,
			Debug:          cfg.Debug,
			AllowOther:     cfg.AllowOther,
		},
	}
	return gofusefs.Mount(mountpoint, root, opts)
}

// errnoOf maps engine errors onto kernel error numbers.
func errnoOf(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, core.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, core.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, core.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, core.ErrNotSupported):
		return syscall.ENOSYS
	case errors.Is(err, core.ErrCacheMiss):
		return syscall.EIO
	case errors.Is(err, core.ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

// attrToFuse fills a kernel attribute struct from a cached record.
func attrToFuse(attr core.Attr, out *fuse.Attr) {
	out.Ino = attr.Ino
	out.Size = uint64(attr.Size)
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Atime = uint64(attr.Atime)
	out.Atimensec = attr.AtimeNsec
	out.Mtime = uint64(attr.Mtime)
	out.Mtimensec = attr.MtimeNsec
	out.Ctime = uint64(attr.Ctime)
	out.Ctimensec = attr.CtimeNsec
	out.Owner = fuse.Owner{Uid: attr.UID, Gid: attr.GID}
	out.Rdev = uint32(attr.Rdev)
	if attr.Blksize > 0 {
		out.Blksize = uint32(attr.Blksize)
	}
	out.Blocks = (out.Size + 511) / 512
}

// stableAttr derives the kernel-visible identity of a node.
func stableAttr(attr core.Attr) gofusefs.StableAttr {
	return gofusefs.StableAttr{
		Mode: attr.Mode & syscall.S_IFMT,
		Ino:  attr.Ino,
	}
}
