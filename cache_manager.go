package mirrorfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/mirrorfs/internal/cache"
	"github.com/meigma/mirrorfs/internal/export"
)

// CacheInfo contains statistics about a cache directory.
type CacheInfo struct {
	// Path is the absolute path to the cache directory.
	Path string
	// TotalSize is the sum of all mirrored file sizes in bytes.
	TotalSize int64
	// CachedBytes is the sum of blob bytes holding origin data.
	CachedBytes int64
	// EntryCount is the number of cache entries.
	EntryCount int
	// Entries contains detailed information about each entry, in depth-first
	// order of origin paths with names sorted within each directory.
	Entries []CacheEntry
}

// CacheEntry describes a single cache entry.
type CacheEntry struct {
	// Path is the origin path of the entry.
	Path string
	// Dir reports whether the entry is a directory.
	Dir bool
	// Size is the mirrored file size in bytes.
	Size int64
	// CachedBytes is the number of blob bytes holding origin data.
	CachedBytes int64
	// Complete indicates whether the entry is fully populated.
	Complete bool
}

// CacheStats returns statistics about the cache at the given path. A cache
// directory that does not exist yet reports as empty.
func CacheStats(dir string) (*CacheInfo, error) {
	eng, abs, err := openCache(dir)
	if err != nil {
		return nil, err
	}
	info := &CacheInfo{Path: abs}
	if eng == nil {
		return info, nil
	}

	entries, err := eng.Entries()
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", abs, err)
	}
	for _, e := range entries {
		// Directory entries carry no blob, so only files contribute to
		// the byte totals.
		if !e.Attr.IsDir() {
			info.TotalSize += e.Attr.Size
			info.CachedBytes += e.Covered
		}
		info.Entries = append(info.Entries, CacheEntry{
			Path:        e.Path,
			Dir:         e.Attr.IsDir(),
			Size:        e.Attr.Size,
			CachedBytes: e.Covered,
			Complete:    e.Complete,
		})
	}
	info.EntryCount = len(info.Entries)
	return info, nil
}

// CacheClear removes all entries from the cache at the given path. Clearing
// a cache directory that does not exist is a no-op.
func CacheClear(dir string) error {
	eng, abs, err := openCache(dir)
	if err != nil || eng == nil {
		return err
	}
	if clearErr := eng.Clear(); clearErr != nil {
		return fmt.Errorf("clear %s: %w", abs, clearErr)
	}
	return nil
}

// CacheExport streams the cache at the given path into w as a compressed
// snapshot suitable for CacheImport.
func CacheExport(dir string, w io.Writer) error {
	eng, abs, err := openCache(dir)
	if err != nil {
		return err
	}
	if eng == nil {
		return fmt.Errorf("export %s: %w", abs, fs.ErrNotExist)
	}
	return export.Write(w, abs)
}

// CacheImport restores a snapshot produced by CacheExport into the cache
// at the given path, creating it if missing.
func CacheImport(r io.Reader, dir string) error {
	abs, err := cachePath(dir)
	if err != nil {
		return err
	}
	if mkErr := os.MkdirAll(abs, 0o755); mkErr != nil {
		return fmt.Errorf("create cache root: %w", mkErr)
	}
	return export.Read(r, abs)
}

// openCache normalizes dir and opens the engine over it. A nil engine with
// a nil error means no cache exists there yet; abs is valid either way.
func openCache(dir string) (eng *cache.Engine, abs string, err error) {
	abs, err = cachePath(dir)
	if err != nil {
		return nil, "", err
	}
	if _, statErr := os.Stat(abs); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return nil, abs, nil
		}
		return nil, abs, statErr
	}
	eng, err = cache.New(abs, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, abs, fmt.Errorf("open %s: %w", abs, err)
	}
	return eng, abs, nil
}

// cachePath normalizes a user-supplied cache directory: empty values are
// rejected, a leading ~ resolves against the home directory, and the
// result is always absolute.
func cachePath(p string) (string, error) {
	switch {
	case p == "":
		return "", errors.New("cache path is empty")
	case p == "~" || strings.HasPrefix(p, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand ~: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	return filepath.Abs(p)
}
