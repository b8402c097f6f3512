package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mirrorfs/core"
	"github.com/meigma/mirrorfs/internal/origin"
)

func newTestEngine(t *testing.T) (*Engine, *origin.Memory, string) {
	t.Helper()
	org := origin.NewMemory()
	dir := t.TempDir()
	eng, err := New(dir, org, nil)
	require.NoError(t, err)
	return eng, org, dir
}

func readCalls(org *origin.Memory) []origin.Call {
	var reads []origin.Call
	for _, c := range org.Calls() {
		if c.Op == "read" {
			reads = append(reads, c)
		}
	}
	return reads
}

func TestEngineGetattr(t *testing.T) {
	t.Parallel()

	t.Run("fetches and memoizes", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/a", []byte("hello"))

		attr, err := eng.Getattr(context.Background(), "/a")
		require.NoError(t, err)
		assert.Equal(t, int64(5), attr.Size)
		assert.True(t, attr.IsRegular())

		// Second call is served from cache.
		before := len(org.Calls())
		again, err := eng.Getattr(context.Background(), "/a")
		require.NoError(t, err)
		assert.Equal(t, attr, again)
		assert.Len(t, org.Calls(), before)
	})

	t.Run("not found passes through", func(t *testing.T) {
		t.Parallel()
		eng, _, _ := newTestEngine(t)
		_, err := eng.Getattr(context.Background(), "/missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("rejects relative path", func(t *testing.T) {
		t.Parallel()
		eng, _, _ := newTestEngine(t)
		_, err := eng.Getattr(context.Background(), "relative")
		assert.ErrorIs(t, err, core.ErrInvalidPath)
	})
}

func TestEngineReaddir(t *testing.T) {
	t.Parallel()

	t.Run("fetches and memoizes", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/dir/a", []byte("1"))
		org.SetFile("/dir/b", []byte("2"))
		org.SetFile("/dir/sub/c", []byte("3"))

		names, err := eng.Readdir(context.Background(), "/dir", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "sub"}, names)

		// The listing is captured; later origin changes are not seen.
		org.SetFile("/dir/new", []byte("4"))
		names, err = eng.Readdir(context.Background(), "/dir", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "sub"}, names)
	})

	t.Run("offset is advisory and restartable", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/dir/a", []byte("1"))
		org.SetFile("/dir/b", []byte("2"))

		names, err := eng.Readdir(context.Background(), "/dir", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, names)

		names, err = eng.Readdir(context.Background(), "/dir", 5)
		require.NoError(t, err)
		assert.Empty(t, names)

		names, err = eng.Readdir(context.Background(), "/dir", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)
	})
}

func TestEngineOpen(t *testing.T) {
	t.Parallel()

	eng, org, _ := newTestEngine(t)
	org.SetFile("/a", []byte("x"))

	assert.NoError(t, eng.Open("/a", syscall.O_RDONLY))
	assert.ErrorIs(t, eng.Open("/a", syscall.O_WRONLY), core.ErrPermission)
	assert.ErrorIs(t, eng.Open("/a", syscall.O_RDWR), core.ErrPermission)
	assert.ErrorIs(t, eng.Open("/a", syscall.O_RDONLY|syscall.O_TRUNC), core.ErrPermission)
	assert.ErrorIs(t, eng.Open("/a", syscall.O_RDONLY|syscall.O_APPEND), core.ErrPermission)
}

func TestEngineRead(t *testing.T) {
	t.Parallel()

	t.Run("serves origin bytes", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		content := []byte("the quick brown fox jumps over the lazy dog")
		org.SetFile("/f", content)

		got, err := eng.Read(context.Background(), "/f", int64(len(content)), 0)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		// Arbitrary interior slice.
		got, err = eng.Read(context.Background(), "/f", 5, 4)
		require.NoError(t, err)
		assert.Equal(t, []byte("quick"), got)
	})

	t.Run("zero size reads nothing", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("abc"))

		got, err := eng.Read(context.Background(), "/f", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, readCalls(org))
	})

	t.Run("read beyond end of file is empty", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("abc"))

		got, err := eng.Read(context.Background(), "/f", 10, 100)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("short read at end of file", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("abcde"))

		got, err := eng.Read(context.Background(), "/f", 100, 3)
		require.NoError(t, err)
		assert.Equal(t, []byte("de"), got)

		// Only the existing bytes were requested from the origin.
		reads := readCalls(org)
		require.Len(t, reads, 1)
		assert.Equal(t, int64(2), reads[0].Size)
	})

	t.Run("creates sparse blob sized to the file", func(t *testing.T) {
		t.Parallel()
		eng, org, dir := newTestEngine(t)
		content := make([]byte, 8192)
		for i := range content {
			content[i] = byte(i)
		}
		org.SetFile("/big", content)

		_, err := eng.Read(context.Background(), "/big", 10, 4000)
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(dir, "big", "cache.data"))
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), info.Size())
	})
}

// The origin receives two calls totaling 200 bytes for overlapping reads
// [100,200) then [150,300); the range set ends as a single [100,300).
func TestEngineRead_minimalOriginTraffic(t *testing.T) {
	t.Parallel()

	eng, org, _ := newTestEngine(t)
	content := make([]byte, 1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	org.SetFile("/f", content)

	got, err := eng.Read(context.Background(), "/f", 100, 100)
	require.NoError(t, err)
	assert.Equal(t, content[100:200], got)

	got, err = eng.Read(context.Background(), "/f", 150, 150)
	require.NoError(t, err)
	assert.Equal(t, content[150:300], got)

	reads := readCalls(org)
	require.Len(t, reads, 2)
	assert.Equal(t, origin.Call{Op: "read", Path: "/f", Size: 100, Offset: 100}, reads[0])
	assert.Equal(t, origin.Call{Op: "read", Path: "/f", Size: 100, Offset: 200}, reads[1])
	assert.Equal(t, int64(200), org.ReadBytes())

	set, ok, err := NewMetaStore(eng.Layout()).GetRangeSet("/f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Range{{Start: 100, End: 300}}, set.Ranges())
}

// A fully covered read performs no metadata writes and no origin calls.
func TestEngineRead_cacheHitFastPath(t *testing.T) {
	t.Parallel()

	eng, org, dir := newTestEngine(t)
	org.SetFile("/f", []byte("0123456789"))

	_, err := eng.Read(context.Background(), "/f", 10, 0)
	require.NoError(t, err)

	rangePath := filepath.Join(dir, "f", "cache.data.range")
	before, err := os.Stat(rangePath)
	require.NoError(t, err)
	callsBefore := len(org.Calls())

	got, err := eng.Read(context.Background(), "/f", 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), got)
	assert.Len(t, org.Calls(), callsBefore)

	after, err := os.Stat(rangePath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

// Cached bytes survive origin overwrites: stale data is the contract.
func TestEngineRead_staleCache(t *testing.T) {
	t.Parallel()

	eng, org, _ := newTestEngine(t)
	org.SetFile("/a", []byte("1"))

	got, err := eng.Read(context.Background(), "/a", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	org.SetFile("/a", []byte("2"))
	got, err = eng.Read(context.Background(), "/a", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

// An overwrite before the first read is observed in full: no cache entry
// existed to go stale.
func TestEngineRead_overwriteBeforeFirstRead(t *testing.T) {
	t.Parallel()

	eng, org, _ := newTestEngine(t)
	org.SetFile("/a", []byte("1"))
	org.SetFile("/a", []byte("2"))

	got, err := eng.Read(context.Background(), "/a", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestEngineCacheOnly(t *testing.T) {
	t.Parallel()

	t.Run("serves populated entries without the origin", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("cached bytes"))
		org.SetFile("/dir/x", []byte("y"))

		_, err := eng.Read(context.Background(), "/f", 12, 0)
		require.NoError(t, err)
		_, err = eng.Readdir(context.Background(), "/dir", 0)
		require.NoError(t, err)

		eng.SetCacheOnly(true)
		org.Err = assert.AnError // any origin call would now fail loudly

		got, err := eng.Read(context.Background(), "/f", 12, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("cached bytes"), got)

		names, err := eng.Readdir(context.Background(), "/dir", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, names)

		_, err = eng.Getattr(context.Background(), "/f")
		require.NoError(t, err)
	})

	t.Run("uncached requests fail before any origin call", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("0123456789"))

		_, err := eng.Read(context.Background(), "/f", 4, 0)
		require.NoError(t, err)

		eng.SetCacheOnly(true)
		calls := len(org.Calls())

		_, err = eng.Read(context.Background(), "/f", 4, 6)
		assert.ErrorIs(t, err, core.ErrCacheMiss)
		_, err = eng.Getattr(context.Background(), "/never")
		assert.ErrorIs(t, err, core.ErrCacheMiss)
		_, err = eng.Readdir(context.Background(), "/never", 0)
		assert.ErrorIs(t, err, core.ErrCacheMiss)

		assert.Len(t, org.Calls(), calls)
	})

	t.Run("toggling does not disturb persisted data", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("abc"))
		_, err := eng.Read(context.Background(), "/f", 3, 0)
		require.NoError(t, err)

		eng.SetCacheOnly(true)
		eng.SetCacheOnly(false)

		got, err := eng.Read(context.Background(), "/f", 3, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})
}

// A new engine over the same cache root serves the same bytes with no
// origin traffic.
func TestEnginePersistence(t *testing.T) {
	t.Parallel()

	org := origin.NewMemory()
	org.SetFile("/data/file", []byte("persistent content"))
	dir := t.TempDir()

	eng, err := New(dir, org, nil)
	require.NoError(t, err)
	_, err = eng.Read(context.Background(), "/data/file", 18, 0)
	require.NoError(t, err)
	_, err = eng.Readdir(context.Background(), "/data", 0)
	require.NoError(t, err)

	// Restart with a dead origin.
	dead := origin.NewMemory()
	dead.Err = assert.AnError
	reopened, err := New(dir, dead, nil)
	require.NoError(t, err)

	got, err := reopened.Read(context.Background(), "/data/file", 18, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("persistent content"), got)

	names, err := reopened.Readdir(context.Background(), "/data", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"file"}, names)

	attr, err := reopened.Getattr(context.Background(), "/data/file")
	require.NoError(t, err)
	assert.Equal(t, int64(18), attr.Size)

	assert.Empty(t, dead.Calls())
}

func TestEngineInvalidate(t *testing.T) {
	t.Parallel()

	eng, org, dir := newTestEngine(t)
	org.SetFile("/f", []byte("old"))

	_, err := eng.Read(context.Background(), "/f", 3, 0)
	require.NoError(t, err)

	require.NoError(t, eng.Invalidate("/f"))
	for _, name := range []string{"cache.stat", "cache.data", "cache.data.range"} {
		_, statErr := os.Stat(filepath.Join(dir, "f", name))
		assert.True(t, os.IsNotExist(statErr), "expected %s to be removed", name)
	}

	// The next read observes the current origin content.
	org.SetFile("/f", []byte("new"))
	got, err := eng.Read(context.Background(), "/f", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestEnginePrefetch(t *testing.T) {
	t.Parallel()

	t.Run("drains all gaps", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		content := bytes.Repeat([]byte("abcdefgh"), 1024)
		org.SetFile("/f", content)

		// Partially populate first.
		_, err := eng.Read(context.Background(), "/f", 100, 512)
		require.NoError(t, err)

		require.NoError(t, eng.Prefetch(context.Background(), "/f"))

		covered, attr, err := eng.Coverage(context.Background(), "/f")
		require.NoError(t, err)
		assert.Equal(t, attr.Size, covered)

		// Every byte arrived from the origin exactly once.
		assert.Equal(t, attr.Size, org.ReadBytes())

		// The whole file now serves without origin traffic.
		calls := len(org.Calls())
		got, err := eng.Read(context.Background(), "/f", attr.Size, 0)
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assert.Len(t, org.Calls(), calls)
	})

	t.Run("complete file is a no-op", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/f", []byte("xy"))

		require.NoError(t, eng.Prefetch(context.Background(), "/f"))
		reads := len(readCalls(org))
		require.NoError(t, eng.Prefetch(context.Background(), "/f"))
		assert.Len(t, readCalls(org), reads)
	})

	t.Run("directories are refused", func(t *testing.T) {
		t.Parallel()
		eng, org, _ := newTestEngine(t)
		org.SetFile("/dir/f", []byte("x"))

		err := eng.Prefetch(context.Background(), "/dir")
		assert.ErrorIs(t, err, core.ErrNotSupported)
	})
}

// When the origin shrinks underneath a cached attribute record, the engine
// keeps what it fetched, records only those bytes, and surfaces the short
// read instead of caching zeros as data.
func TestEngineRead_originShrank(t *testing.T) {
	t.Parallel()

	eng, org, _ := newTestEngine(t)
	org.SetFile("/f", bytes.Repeat([]byte{'x'}, 100))

	// Capture attributes at size 100, then shrink to 50.
	_, err := eng.Getattr(context.Background(), "/f")
	require.NoError(t, err)
	org.SetFile("/f", bytes.Repeat([]byte{'x'}, 50))

	_, err = eng.Read(context.Background(), "/f", 100, 0)
	assert.ErrorIs(t, err, core.ErrShortRead)

	set, ok, err := NewMetaStore(eng.Layout()).GetRangeSet("/f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Range{{Start: 0, End: 50}}, set.Ranges())
}

func TestEngineEntriesAndClear(t *testing.T) {
	t.Parallel()

	eng, org, _ := newTestEngine(t)
	org.SetFile("/dir/a", []byte("0123456789"))

	_, err := eng.Read(context.Background(), "/dir/a", 4, 0)
	require.NoError(t, err)
	_, err = eng.Getattr(context.Background(), "/dir")
	require.NoError(t, err)
	_, err = eng.Readdir(context.Background(), "/dir", 0)
	require.NoError(t, err)

	entries, err := eng.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/dir", entries[0].Path)
	assert.True(t, entries[0].Attr.IsDir())
	assert.Equal(t, "/dir/a", entries[1].Path)
	assert.Equal(t, int64(4), entries[1].Covered)
	assert.False(t, entries[1].Complete)

	require.NoError(t, eng.Clear())
	entries, err = eng.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
