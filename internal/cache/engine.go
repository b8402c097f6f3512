// Package cache implements the persistent read-through cache for mirrored
// origin trees: per-path attribute and listing memoization, sparse data
// blobs, and byte-range bookkeeping of which blob regions hold origin data.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/meigma/mirrorfs/core"
)

// prefetchChunk bounds how much a single origin read transfers while
// draining gaps during a prefetch.
const prefetchChunk = 1 << 20

// Engine orchestrates reads against the cache, filling missing byte ranges
// from the origin. All mutation of a cache entry happens under that entry's
// lock, so reads of distinct paths proceed in parallel.
type Engine struct {
	layout Layout
	meta   *MetaStore
	origin core.Origin
	logger *slog.Logger

	// zeroFill switches blob allocation from sparse truncation to explicit
	// zero writes, for cache filesystems without sparse-file support.
	zeroFill bool

	cacheOnly atomic.Bool

	locks sync.Map // origin path -> *sync.Mutex
}

// New creates an engine persisting under root and reading through to
// origin. The root directory is created if missing.
func New(root string, origin core.Origin, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	layout := NewLayout(root)
	return &Engine{
		layout: layout,
		meta:   NewMetaStore(layout),
		origin: origin,
		logger: logger,
	}, nil
}

// SetZeroFill controls whether data blobs are allocated by explicit zero
// fill instead of sparse truncation.
func (e *Engine) SetZeroFill(enabled bool) {
	e.zeroFill = enabled
}

// SetCacheOnly toggles cache-only mode. When enabled, any operation that
// would consult the origin fails with core.ErrCacheMiss instead. Toggling
// has no effect on persisted data.
func (e *Engine) SetCacheOnly(enabled bool) {
	e.cacheOnly.Store(enabled)
}

// CacheOnly reports whether cache-only mode is active.
func (e *Engine) CacheOnly() bool {
	return e.cacheOnly.Load()
}

// Layout returns the engine's cache layout.
func (e *Engine) Layout() Layout {
	return e.layout
}

func (e *Engine) lock(path string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Getattr returns the attribute record for a path, fetching and persisting
// it from the origin on first observation.
func (e *Engine) Getattr(ctx context.Context, path string) (core.Attr, error) {
	if err := ValidatePath(path); err != nil {
		return core.Attr{}, err
	}
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()
	return e.getattrLocked(ctx, path)
}

func (e *Engine) getattrLocked(ctx context.Context, path string) (core.Attr, error) {
	attr, ok, err := e.meta.GetAttr(path)
	if err != nil {
		return core.Attr{}, err
	}
	if ok {
		e.logger.Debug("attr cache hit", "path", path)
		return attr, nil
	}
	if e.cacheOnly.Load() {
		return core.Attr{}, fmt.Errorf("getattr %s: %w", path, core.ErrCacheMiss)
	}

	e.logger.Debug("attr cache miss", "path", path)
	attr, err = e.origin.Getattr(ctx, path)
	if err != nil {
		return core.Attr{}, err
	}
	if err := e.meta.PutAttr(path, attr); err != nil {
		return core.Attr{}, fmt.Errorf("persist attr: %w", err)
	}
	return attr, nil
}

// Readdir returns the child names of a directory starting at offset,
// fetching and persisting the listing from the origin on first observation.
// The "." and ".." entries are synthesized by the caller.
func (e *Engine) Readdir(ctx context.Context, path string, offset int) ([]string, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()

	entries, ok, err := e.meta.GetListing(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		if e.cacheOnly.Load() {
			return nil, fmt.Errorf("readdir %s: %w", path, core.ErrCacheMiss)
		}
		e.logger.Debug("listing cache miss", "path", path)
		entries, err = e.origin.Readdir(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := e.meta.PutListing(path, entries); err != nil {
			return nil, fmt.Errorf("persist listing: %w", err)
		}
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil, nil
	}
	return entries[offset:], nil
}

// Open admits read-only access to a mirrored path. Any write, append or
// truncate access bit is denied; no file-descriptor state is retained.
func (e *Engine) Open(path string, flags uint32) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return fmt.Errorf("open %s: %w", path, core.ErrPermission)
	}
	if flags&(syscall.O_TRUNC|syscall.O_APPEND|syscall.O_CREAT) != 0 {
		return fmt.Errorf("open %s: %w", path, core.ErrPermission)
	}
	return nil
}

// Read returns the bytes at [offset, offset+size) of the origin file at
// path as they appeared when each byte was first populated. Missing ranges
// are fetched from the origin and written into the entry's data blob before
// the read is served from the blob.
func (e *Engine) Read(ctx context.Context, path string, size int64, offset int64) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if size <= 0 || offset < 0 {
		return nil, nil
	}
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()

	probe := Range{Start: offset, End: offset + size}

	set, _, err := e.meta.GetRangeSet(path)
	if err != nil {
		return nil, err
	}
	if set == nil {
		set = &RangeSet{}
	}

	if len(set.Gaps(probe)) == 0 {
		// Fully covered: serve from the blob without touching metadata.
		return e.readBlob(path, size, offset)
	}

	if e.cacheOnly.Load() {
		return nil, fmt.Errorf("read %s: %w", path, core.ErrCacheMiss)
	}

	attr, err := e.getattrLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	f, err := e.ensureBlob(path, attr)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Clamp the fill to the recorded size; bytes past end of file do not
	// exist and are not fetched.
	fillEnd := min(probe.End, attr.Size)
	if fillEnd > probe.Start {
		gaps := set.Gaps(Range{Start: probe.Start, End: fillEnd})
		if len(gaps) > 0 {
			if err := e.fillLocked(ctx, path, f, set, gaps); err != nil {
				return nil, err
			}
		}
	}

	return readAt(f, size, offset)
}

// fillLocked fetches each gap from the origin, writes it into the blob and
// records it in the range set. Progress made before an error is persisted,
// so a retry re-fetches only what is still missing. Caller holds the path
// lock.
func (e *Engine) fillLocked(ctx context.Context, path string, f *os.File, set *RangeSet, gaps []Range) error {
	e.logger.Debug("filling gaps", "path", path, "gaps", len(gaps))

	filled := false
	persist := func() error {
		if !filled {
			return nil
		}
		if err := e.meta.PutRangeSet(path, set); err != nil {
			return fmt.Errorf("persist ranges: %w", err)
		}
		return nil
	}

	for _, gap := range gaps {
		if err := ctx.Err(); err != nil {
			persistErr := persist()
			return errors.Join(err, persistErr)
		}

		data, err := e.origin.Read(ctx, path, gap.Size(), gap.Start)
		if err != nil {
			persistErr := persist()
			return errors.Join(fmt.Errorf("origin read at %d: %w", gap.Start, err), persistErr)
		}
		if int64(len(data)) > gap.Size() {
			data = data[:gap.Size()]
		}
		if len(data) > 0 {
			if _, err := f.WriteAt(data, gap.Start); err != nil {
				persistErr := persist()
				return errors.Join(fmt.Errorf("write blob at %d: %w", gap.Start, err), persistErr)
			}
			set.Insert(Range{Start: gap.Start, End: gap.Start + int64(len(data))})
			filled = true
		}
		if int64(len(data)) < gap.Size() {
			// The gap was clamped to the recorded size already, so a short
			// read means the origin file shrank underneath us.
			persistErr := persist()
			return errors.Join(fmt.Errorf("origin read at %d: %w", gap.Start, core.ErrShortRead), persistErr)
		}
	}

	return persist()
}

// ensureBlob opens the entry's data blob, creating it sized to the recorded
// attributes on first use. Creation leaves the file sparse unless zero fill
// is enabled.
func (e *Engine) ensureBlob(path string, attr core.Attr) (*os.File, error) {
	blobPath, err := e.layout.DataPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return nil, fmt.Errorf("create entry directory: %w", err)
	}

	f, err := os.OpenFile(blobPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	if info.Size() != attr.Size {
		if err := e.allocateBlob(f, attr.Size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (e *Engine) allocateBlob(f *os.File, size int64) error {
	if !e.zeroFill {
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("size blob: %w", err)
		}
		return nil
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("size blob: %w", err)
	}
	buf := make([]byte, min(size, prefetchChunk))
	var written int64
	for written < size {
		n := min(size-written, int64(len(buf)))
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("zero-fill blob: %w", err)
		}
		written += n
	}
	return nil
}

// readBlob serves a read from the data blob without opening it for write.
func (e *Engine) readBlob(path string, size, offset int64) ([]byte, error) {
	blobPath, err := e.layout.DataPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(blobPath)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close()
	return readAt(f, size, offset)
}

func readAt(f *os.File, size, offset int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return buf[:n], nil
}

// Prefetch drains every gap of a regular file so the blob becomes fully
// populated. Gaps are fetched in bounded chunks; progress survives errors.
func (e *Engine) Prefetch(ctx context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()

	attr, err := e.getattrLocked(ctx, path)
	if err != nil {
		return err
	}
	if !attr.IsRegular() {
		return fmt.Errorf("prefetch %s: %w", path, core.ErrNotSupported)
	}
	if attr.Size == 0 {
		return nil
	}

	set, _, err := e.meta.GetRangeSet(path)
	if err != nil {
		return err
	}
	if set == nil {
		set = &RangeSet{}
	}
	gaps := set.Gaps(Range{Start: 0, End: attr.Size})
	if len(gaps) == 0 {
		return nil
	}
	if e.cacheOnly.Load() {
		return fmt.Errorf("prefetch %s: %w", path, core.ErrCacheMiss)
	}

	f, err := e.ensureBlob(path, attr)
	if err != nil {
		return err
	}
	defer f.Close()

	var chunks []Range
	for _, gap := range gaps {
		for start := gap.Start; start < gap.End; start += prefetchChunk {
			chunks = append(chunks, Range{Start: start, End: min(start+prefetchChunk, gap.End)})
		}
	}
	return e.fillLocked(ctx, path, f, set, chunks)
}

// Invalidate removes all cached artifacts for a path. The next observation
// re-fetches from the origin.
func (e *Engine) Invalidate(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()

	e.logger.Debug("invalidate", "path", path)
	return e.meta.RemoveEntry(path)
}

// Coverage reports how many bytes of a file's blob hold origin data, along
// with the attribute record the blob was sized against.
func (e *Engine) Coverage(ctx context.Context, path string) (int64, core.Attr, error) {
	attr, err := e.Getattr(ctx, path)
	if err != nil {
		return 0, core.Attr{}, err
	}
	mu := e.lock(path)
	mu.Lock()
	defer mu.Unlock()

	set, ok, err := e.meta.GetRangeSet(path)
	if err != nil {
		return 0, core.Attr{}, err
	}
	if !ok {
		return 0, attr, nil
	}
	return set.Covered(), attr, nil
}

// EntryInfo describes one cache entry, as reported by Entries.
type EntryInfo struct {
	// Path is the origin path of the entry.
	Path string
	// Attr is the cached attribute record.
	Attr core.Attr
	// Covered is the number of blob bytes holding origin data.
	Covered int64
	// Complete reports whether the blob covers the whole file.
	Complete bool
}

// Entries walks the cache root and returns every persisted entry in
// depth-first order, with names sorted within each directory.
func (e *Engine) Entries() ([]EntryInfo, error) {
	var infos []EntryInfo
	root := e.layout.Root()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, statErr := os.Stat(filepath.Join(p, attrFile)); statErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		path := "/"
		if rel != "." {
			path += filepath.ToSlash(rel)
		}

		attr, ok, attrErr := e.meta.GetAttr(path)
		if attrErr != nil || !ok {
			return attrErr
		}
		info := EntryInfo{Path: path, Attr: attr}
		if set, ok, rErr := e.meta.GetRangeSet(path); rErr != nil {
			return rErr
		} else if ok {
			info.Covered = set.Covered()
		}
		info.Complete = attr.IsDir() || info.Covered == attr.Size
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk cache: %w", err)
	}
	return infos, nil
}

// Clear removes every cache entry under the root.
func (e *Engine) Clear() error {
	root := e.layout.Root()
	children, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read cache root: %w", err)
	}
	for _, child := range children {
		if err := os.RemoveAll(filepath.Join(root, child.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", child.Name(), err)
		}
	}
	return nil
}
