package mirrorfs

import (
	"log/slog"

	"github.com/meigma/mirrorfs/core"
)

// Option configures an FS.
type Option func(*FS) error

// WithLogger sets the logger used by the engine and the mount glue.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FS) error {
		if logger != nil {
			f.logger = logger
		}
		return nil
	}
}

// WithOrigin replaces the default local-filesystem origin adapter. Tests
// use this to run against an in-memory origin.
func WithOrigin(org core.Origin) Option {
	return func(f *FS) error {
		f.org = org
		return nil
	}
}

// WithCacheOnly starts the mirror in cache-only mode: the origin is never
// consulted and uncached requests fail.
func WithCacheOnly(enabled bool) Option {
	return func(f *FS) error {
		f.cacheOnly = enabled
		return nil
	}
}

// WithZeroFill allocates data blobs by explicit zero fill instead of
// sparse truncation, for cache filesystems without sparse-file support.
func WithZeroFill(enabled bool) Option {
	return func(f *FS) error {
		f.zeroFill = enabled
		return nil
	}
}

// WithControlName overrides the name of the control tree exposed at the
// root of the mount.
func WithControlName(name string) Option {
	return func(f *FS) error {
		if name != "" {
			f.controlName = name
		}
		return nil
	}
}
