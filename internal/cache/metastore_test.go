package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mirrorfs/core"
)

func newTestStore(t *testing.T) *MetaStore {
	t.Helper()
	return NewMetaStore(NewLayout(t.TempDir()))
}

func TestMetaStoreAttr(t *testing.T) {
	t.Parallel()

	m := newTestStore(t)

	_, ok, err := m.GetAttr("/a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	attr := core.Attr{
		Mode:      0o100644,
		Nlink:     3,
		Size:      4096,
		Atime:     1700000000,
		AtimeNsec: 123456789,
		Mtime:     1700000001,
		MtimeNsec: 987654321,
		Ctime:     1700000002,
		CtimeNsec: 1,
		Dev:       64769,
		Ino:       8675309,
		UID:       1000,
		GID:       1000,
		Rdev:      7,
		Blksize:   4096,
	}
	require.NoError(t, m.PutAttr("/a/b", attr))

	got, ok, err := m.GetAttr("/a/b")
	require.NoError(t, err)
	require.True(t, ok)
	// Every numeric field round-trips exactly.
	assert.Equal(t, attr, got)
}

func TestMetaStoreListing(t *testing.T) {
	t.Parallel()

	m := newTestStore(t)

	_, ok, err := m.GetListing("/dir")
	require.NoError(t, err)
	assert.False(t, ok)

	entries := []string{"a", "b", "sub"}
	require.NoError(t, m.PutListing("/dir", entries))

	got, ok, err := m.GetListing("/dir")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries, got)
}

func TestMetaStoreListing_emptyDirectory(t *testing.T) {
	t.Parallel()

	m := newTestStore(t)
	require.NoError(t, m.PutListing("/empty", nil))

	got, ok, err := m.GetListing("/empty")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestMetaStoreRangeSet(t *testing.T) {
	t.Parallel()

	m := newTestStore(t)

	_, ok, err := m.GetRangeSet("/f")
	require.NoError(t, err)
	assert.False(t, ok)

	set := NewRangeSet(Range{Start: 100, End: 200}, Range{Start: 300, End: 400})
	require.NoError(t, m.PutRangeSet("/f", set))

	got, ok, err := m.GetRangeSet("/f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, set.Ranges(), got.Ranges())
}

func TestMetaStoreRemoveEntry(t *testing.T) {
	t.Parallel()

	m := newTestStore(t)

	require.NoError(t, m.PutAttr("/f", core.Attr{Mode: 0o100644, Size: 10}))
	require.NoError(t, m.PutRangeSet("/f", NewRangeSet(Range{Start: 0, End: 10})))

	require.NoError(t, m.RemoveEntry("/f"))

	_, ok, err := m.GetAttr("/f")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = m.GetRangeSet("/f")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent entry is not an error.
	require.NoError(t, m.RemoveEntry("/f"))
	require.NoError(t, m.RemoveEntry("/never/seen"))
}

func TestMetaStoreArtifactNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewMetaStore(NewLayout(dir))

	require.NoError(t, m.PutAttr("/data/file.bin", core.Attr{Mode: 0o100644}))
	require.NoError(t, m.PutListing("/data", []string{"file.bin"}))
	require.NoError(t, m.PutRangeSet("/data/file.bin", NewRangeSet(Range{Start: 0, End: 1})))

	// On-disk names are part of the external interface.
	for _, p := range []string{
		filepath.Join(dir, "data", "file.bin", "cache.stat"),
		filepath.Join(dir, "data", "file.bin", "cache.data.range"),
		filepath.Join(dir, "data", "cache.list"),
	} {
		_, err := os.Stat(p)
		assert.NoError(t, err, "expected artifact %s", p)
	}
}
