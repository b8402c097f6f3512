package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/meigma/mirrorfs/core"
)

// Artifact file names inside a cache entry directory. These names are part
// of the on-disk interface and must not change between versions.
const (
	dataFile    = "cache.data"
	rangeFile   = "cache.data.range"
	attrFile    = "cache.stat"
	listingFile = "cache.list"
)

// Layout maps origin paths to locations under the cache root. It performs
// no filesystem access.
type Layout struct {
	root string
}

// NewLayout returns a layout rooted at the given cache directory.
func NewLayout(root string) Layout {
	return Layout{root: root}
}

// Root returns the cache root directory.
func (l Layout) Root() string {
	return l.root
}

// EntryDir returns the directory holding all artifacts for an origin path.
func (l Layout) EntryDir(path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(l.root, strings.TrimPrefix(path, "/")), nil
}

// DataPath returns the location of the entry's data blob.
func (l Layout) DataPath(path string) (string, error) {
	return l.artifact(path, dataFile)
}

// RangePath returns the location of the entry's range set.
func (l Layout) RangePath(path string) (string, error) {
	return l.artifact(path, rangeFile)
}

// AttrPath returns the location of the entry's attribute record.
func (l Layout) AttrPath(path string) (string, error) {
	return l.artifact(path, attrFile)
}

// ListingPath returns the location of the entry's directory listing.
func (l Layout) ListingPath(path string) (string, error) {
	return l.artifact(path, listingFile)
}

func (l Layout) artifact(path, name string) (string, error) {
	dir, err := l.EntryDir(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ValidatePath checks that an origin path is absolute and free of relative
// components. Anything else is a caller bug.
func ValidatePath(path string) error {
	if path == "" || path[0] != '/' {
		return fmt.Errorf("%w: %q", core.ErrInvalidPath, path)
	}
	for _, part := range strings.Split(path[1:], "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q", core.ErrInvalidPath, path)
		}
	}
	return nil
}
