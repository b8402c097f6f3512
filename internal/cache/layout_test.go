package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mirrorfs/core"
)

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	l := NewLayout("/cache")

	tests := []struct {
		name     string
		path     string
		artifact func(string) (string, error)
		expected string
	}{
		{
			name:     "data blob",
			path:     "/dir/file.txt",
			artifact: l.DataPath,
			expected: filepath.Join("/cache", "dir", "file.txt", "cache.data"),
		},
		{
			name:     "range set",
			path:     "/dir/file.txt",
			artifact: l.RangePath,
			expected: filepath.Join("/cache", "dir", "file.txt", "cache.data.range"),
		},
		{
			name:     "attr record",
			path:     "/file",
			artifact: l.AttrPath,
			expected: filepath.Join("/cache", "file", "cache.stat"),
		},
		{
			name:     "directory listing",
			path:     "/dir",
			artifact: l.ListingPath,
			expected: filepath.Join("/cache", "dir", "cache.list"),
		},
		{
			name:     "root entry",
			path:     "/",
			artifact: l.AttrPath,
			expected: filepath.Join("/cache", "cache.stat"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.artifact(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLayoutRejectsRelativePaths(t *testing.T) {
	t.Parallel()

	l := NewLayout("/cache")
	for _, path := range []string{"", "relative/path", "no-slash", "/up/../and/out", "/./x"} {
		_, err := l.EntryDir(path)
		assert.ErrorIs(t, err, core.ErrInvalidPath, "path %q", path)
	}
}

func TestValidatePath(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidatePath("/"))
	assert.NoError(t, ValidatePath("/a/b/c"))
	assert.ErrorIs(t, ValidatePath("a/b"), core.ErrInvalidPath)
	assert.ErrorIs(t, ValidatePath("/a/../b"), core.ErrInvalidPath)
}
