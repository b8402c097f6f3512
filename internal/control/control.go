// Package control implements the overlay namespace that exposes per-file
// cache state as virtual pseudo-files. The overlay mirrors the origin tree
// one-for-one beneath a configurable root; each mirrored file appears as a
// directory holding a single pseudo-file that reports and drives the
// engine's state for the corresponding real path.
package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/meigma/mirrorfs/core"
	"github.com/meigma/mirrorfs/internal/cache"
)

// DefaultName is the control root exposed at the top of the mount.
const DefaultName = ".control"

// CachedFile is the pseudo-file name exposed under every mirrored file.
const CachedFile = "cached"

// Surface routes control-tree operations to the engine. It never mutates
// cache entries itself.
type Surface struct {
	engine *cache.Engine
	name   string
}

// New returns a surface over the engine, rooted at name. An empty name
// selects DefaultName.
func New(engine *cache.Engine, name string) *Surface {
	if name == "" {
		name = DefaultName
	}
	return &Surface{engine: engine, name: name}
}

// Name returns the control root name.
func (s *Surface) Name() string {
	return s.name
}

// Resolve maps a mount-relative path to the control tree. It returns the
// corresponding real origin path and whether the final element is the
// cached pseudo-file. ok is false when the path is not under the control
// root.
func (s *Surface) Resolve(path string) (realPath string, isCached, ok bool) {
	prefix := "/" + s.name
	if path == prefix {
		return "/", false, true
	}
	if !strings.HasPrefix(path, prefix+"/") {
		return "", false, false
	}
	rest := strings.TrimPrefix(path, prefix)
	if base := "/" + CachedFile; rest == base || strings.HasSuffix(rest, base) {
		real := strings.TrimSuffix(rest, base)
		if real == "" {
			real = "/"
		}
		return real, true, true
	}
	return rest, false, true
}

// ReadCached renders the fraction of the real file currently populated:
// bytes covered by the range set over the file size, quantized to the
// attribute record's block size when one is present. The text is
// deterministic and grows monotonically with coverage, reaching 1 exactly
// when the blob is fully populated.
func (s *Surface) ReadCached(ctx context.Context, realPath string) (string, error) {
	covered, attr, err := s.engine.Coverage(ctx, realPath)
	if err != nil {
		return "", err
	}
	return renderFraction(covered, attr), nil
}

// WriteCached drives the engine from a pseudo-file write: '1' prefetches
// the whole file, '0' invalidates the entry. Anything else is refused.
func (s *Surface) WriteCached(ctx context.Context, realPath string, payload []byte) error {
	cmd := strings.TrimSpace(string(payload))
	switch cmd {
	case "1":
		return s.engine.Prefetch(ctx, realPath)
	case "0":
		return s.engine.Invalidate(realPath)
	default:
		return fmt.Errorf("control write %q: %w", cmd, core.ErrNotSupported)
	}
}

// Stat returns the attribute record for a real path, for synthesizing
// control-tree directory attributes.
func (s *Surface) Stat(ctx context.Context, realPath string) (core.Attr, error) {
	return s.engine.Getattr(ctx, realPath)
}

// List returns the child names of a real directory, for mirroring it in
// the control tree.
func (s *Surface) List(ctx context.Context, realPath string) ([]string, error) {
	return s.engine.Readdir(ctx, realPath, 0)
}

func renderFraction(covered int64, attr core.Attr) string {
	if attr.Size <= 0 {
		return "1.000000\n"
	}
	frac := float64(covered) / float64(attr.Size)
	if bs := attr.Blksize; bs > 0 {
		blocks := (attr.Size + bs - 1) / bs
		frac = float64(covered*blocks/attr.Size) / float64(blocks)
	}
	return fmt.Sprintf("%.6f\n", frac)
}
