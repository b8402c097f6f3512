package mirrorfs

import "github.com/meigma/mirrorfs/core"

// Sentinel errors re-exported from the core package.
var (
	// ErrNotFound indicates the path does not exist on the origin (or in
	// the cache, in cache-only mode).
	ErrNotFound = core.ErrNotFound

	// ErrPermission indicates an open for write access on a mirrored path.
	ErrPermission = core.ErrPermission

	// ErrReadOnly indicates a mutating operation against the mirror.
	ErrReadOnly = core.ErrReadOnly

	// ErrNotSupported indicates an unsupported control operation.
	ErrNotSupported = core.ErrNotSupported

	// ErrCacheMiss indicates cache-only mode could not serve a request.
	ErrCacheMiss = core.ErrCacheMiss

	// ErrInvalidPath indicates a path that does not begin with a slash.
	ErrInvalidPath = core.ErrInvalidPath
)
