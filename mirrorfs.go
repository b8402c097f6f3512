package mirrorfs

import (
	"context"
	"log/slog"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/mirrorfs/core"
	"github.com/meigma/mirrorfs/internal/cache"
	"github.com/meigma/mirrorfs/internal/control"
	"github.com/meigma/mirrorfs/internal/fusefs"
	"github.com/meigma/mirrorfs/internal/origin"
)

// Type aliases re-exported from core for callers of the public API.
type (
	// Attr is a snapshot of origin-side file attributes.
	Attr = core.Attr

	// Origin provides access to the directory tree being mirrored.
	Origin = core.Origin
)

// FS is a caching mirror of an origin tree: the engine, its control
// surface, and the glue needed to mount them.
type FS struct {
	engine  *cache.Engine
	surface *control.Surface
	logger  *slog.Logger

	org         core.Origin
	controlName string
	cacheOnly   bool
	zeroFill    bool
}

// New creates a mirror persisting under cacheDir and reading through to
// the directory tree at targetDir. The cache directory is created if
// missing. Options override the origin, logger and engine modes.
func New(cacheDir, targetDir string, opts ...Option) (*FS, error) {
	f := &FS{
		logger:      slog.New(slog.DiscardHandler),
		controlName: control.DefaultName,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.org == nil {
		f.org = origin.NewLocal(targetDir)
	}

	engine, err := cache.New(cacheDir, f.org, f.logger)
	if err != nil {
		return nil, err
	}
	engine.SetCacheOnly(f.cacheOnly)
	engine.SetZeroFill(f.zeroFill)

	f.engine = engine
	f.surface = control.New(engine, f.controlName)
	return f, nil
}

// MountConfig carries mount-time settings.
type MountConfig struct {
	// Debug enables kernel request logging.
	Debug bool
	// AllowOther permits access by other users.
	AllowOther bool
}

// Mount mounts the mirror at mountpoint. The returned server is unmounted
// with Unmount and waited on with Wait.
func (f *FS) Mount(mountpoint string, cfg MountConfig) (*fuse.Server, error) {
	return fusefs.Mount(mountpoint, f.engine, f.surface, f.logger, fusefs.Config{
		Debug:      cfg.Debug,
		AllowOther: cfg.AllowOther,
	})
}

// Getattr returns the attributes of an origin path, from cache when
// available.
func (f *FS) Getattr(ctx context.Context, path string) (Attr, error) {
	return f.engine.Getattr(ctx, path)
}

// Readdir returns the child names of a directory, from cache when
// available.
func (f *FS) Readdir(ctx context.Context, path string) ([]string, error) {
	return f.engine.Readdir(ctx, path, 0)
}

// Read returns the bytes at [offset, offset+size) of a mirrored file,
// filling the cache from the origin as needed.
func (f *FS) Read(ctx context.Context, path string, size, offset int64) ([]byte, error) {
	return f.engine.Read(ctx, path, size, offset)
}

// Prefetch populates the whole blob for a mirrored file.
func (f *FS) Prefetch(ctx context.Context, path string) error {
	return f.engine.Prefetch(ctx, path)
}

// Invalidate drops all cached state for a path.
func (f *FS) Invalidate(path string) error {
	return f.engine.Invalidate(path)
}

// SetCacheOnly toggles cache-only mode on the running engine.
func (f *FS) SetCacheOnly(enabled bool) {
	f.engine.SetCacheOnly(enabled)
}

// CacheOnly reports whether cache-only mode is active.
func (f *FS) CacheOnly() bool {
	return f.engine.CacheOnly()
}
