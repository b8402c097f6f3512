package mirrorfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mirrorfs/internal/origin"
)

func newTestFS(t *testing.T) (*FS, *origin.Memory, string) {
	t.Helper()
	org := origin.NewMemory()
	dir := t.TempDir()
	fsys, err := New(dir, "", WithOrigin(org))
	require.NoError(t, err)
	return fsys, org, dir
}

func TestFSReadThrough(t *testing.T) {
	t.Parallel()

	fsys, org, _ := newTestFS(t)
	org.SetFile("/docs/readme", []byte("mirrored content"))

	got, err := fsys.Read(context.Background(), "/docs/readme", 16, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("mirrored content"), got)

	names, err := fsys.Readdir(context.Background(), "/docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"readme"}, names)

	attr, err := fsys.Getattr(context.Background(), "/docs/readme")
	require.NoError(t, err)
	assert.Equal(t, int64(16), attr.Size)

	// Origin changes are invisible once cached.
	org.SetFile("/docs/readme", []byte("rewritten so what"))
	got, err = fsys.Read(context.Background(), "/docs/readme", 16, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("mirrored content"), got)
}

func TestFSCacheOnly(t *testing.T) {
	t.Parallel()

	fsys, org, _ := newTestFS(t)
	org.SetFile("/f", []byte("abc"))

	_, err := fsys.Read(context.Background(), "/f", 3, 0)
	require.NoError(t, err)

	fsys.SetCacheOnly(true)
	assert.True(t, fsys.CacheOnly())

	got, err := fsys.Read(context.Background(), "/f", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	_, err = fsys.Getattr(context.Background(), "/unseen")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFSPrefetchAndInvalidate(t *testing.T) {
	t.Parallel()

	fsys, org, _ := newTestFS(t)
	org.SetFile("/f", []byte("0123456789"))

	require.NoError(t, fsys.Prefetch(context.Background(), "/f"))

	info, err := CacheStats(cacheDirOf(t, fsys))
	require.NoError(t, err)
	require.Equal(t, 1, info.EntryCount)
	assert.True(t, info.Entries[0].Complete)

	require.NoError(t, fsys.Invalidate("/f"))
	info, err = CacheStats(cacheDirOf(t, fsys))
	require.NoError(t, err)
	assert.Zero(t, info.EntryCount)
}

func TestCacheManager(t *testing.T) {
	t.Parallel()

	org := origin.NewMemory()
	org.SetFile("/a", bytes.Repeat([]byte("x"), 100))
	dir := t.TempDir()
	fsys, err := New(dir, "", WithOrigin(org))
	require.NoError(t, err)

	_, err = fsys.Read(context.Background(), "/a", 40, 0)
	require.NoError(t, err)

	info, err := CacheStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, info.EntryCount)
	assert.Equal(t, int64(100), info.TotalSize)
	assert.Equal(t, int64(40), info.CachedBytes)

	// Snapshot, clear, restore.
	var snapshot bytes.Buffer
	require.NoError(t, CacheExport(dir, &snapshot))
	require.NoError(t, CacheClear(dir))

	info, err = CacheStats(dir)
	require.NoError(t, err)
	assert.Zero(t, info.EntryCount)

	require.NoError(t, CacheImport(bytes.NewReader(snapshot.Bytes()), dir))
	info, err = CacheStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, info.EntryCount)
	assert.Equal(t, int64(40), info.CachedBytes)
}

func TestCacheStatsMissingDirectory(t *testing.T) {
	t.Parallel()

	info, err := CacheStats("/definitely/not/a/cache/dir")
	require.NoError(t, err)
	assert.Zero(t, info.EntryCount)
	assert.NoError(t, CacheClear("/definitely/not/a/cache/dir"))
}

// cacheDirOf recovers the cache root used by a test FS.
func cacheDirOf(t *testing.T, fsys *FS) string {
	t.Helper()
	return fsys.engine.Layout().Root()
}
