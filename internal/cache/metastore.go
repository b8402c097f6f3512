package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/mirrorfs/core"
)

// metaVersion is the format version stamped into every metadata artifact.
const metaVersion = 1

// attrRecord is the serialized form of an attribute snapshot.
type attrRecord struct {
	Version int       `json:"version"`
	Attr    core.Attr `json:"attr"`
}

// listingRecord is the serialized form of a directory listing.
type listingRecord struct {
	Version int      `json:"version"`
	Entries []string `json:"entries"`
}

// rangeRecord is the serialized form of a range set.
type rangeRecord struct {
	Version int     `json:"version"`
	Ranges  []Range `json:"ranges"`
}

// MetaStore persists attribute records, directory listings and range sets,
// one JSON artifact per (path, kind) under the cache root.
type MetaStore struct {
	layout Layout
}

// NewMetaStore returns a store writing beneath the layout's root.
func NewMetaStore(layout Layout) *MetaStore {
	return &MetaStore{layout: layout}
}

// GetAttr loads the attribute record for a path. The second return is false
// when no record exists.
func (m *MetaStore) GetAttr(path string) (core.Attr, bool, error) {
	p, err := m.layout.AttrPath(path)
	if err != nil {
		return core.Attr{}, false, err
	}
	var rec attrRecord
	ok, err := loadRecord(p, &rec)
	if err != nil || !ok {
		return core.Attr{}, false, err
	}
	return rec.Attr, true, nil
}

// PutAttr stores the attribute record for a path.
func (m *MetaStore) PutAttr(path string, attr core.Attr) error {
	p, err := m.layout.AttrPath(path)
	if err != nil {
		return err
	}
	return saveRecord(p, attrRecord{Version: metaVersion, Attr: attr})
}

// GetListing loads the directory listing for a path.
func (m *MetaStore) GetListing(path string) ([]string, bool, error) {
	p, err := m.layout.ListingPath(path)
	if err != nil {
		return nil, false, err
	}
	var rec listingRecord
	ok, err := loadRecord(p, &rec)
	if err != nil || !ok {
		return nil, false, err
	}
	if rec.Entries == nil {
		rec.Entries = []string{}
	}
	return rec.Entries, true, nil
}

// PutListing stores the directory listing for a path.
func (m *MetaStore) PutListing(path string, entries []string) error {
	p, err := m.layout.ListingPath(path)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []string{}
	}
	return saveRecord(p, listingRecord{Version: metaVersion, Entries: entries})
}

// GetRangeSet loads the range set for a path.
func (m *MetaStore) GetRangeSet(path string) (*RangeSet, bool, error) {
	p, err := m.layout.RangePath(path)
	if err != nil {
		return nil, false, err
	}
	var rec rangeRecord
	ok, err := loadRecord(p, &rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return NewRangeSet(rec.Ranges...), true, nil
}

// PutRangeSet stores the range set for a path.
func (m *MetaStore) PutRangeSet(path string, set *RangeSet) error {
	p, err := m.layout.RangePath(path)
	if err != nil {
		return err
	}
	return saveRecord(p, rangeRecord{Version: metaVersion, Ranges: set.Ranges()})
}

// RemoveEntry deletes all artifacts for a path. Absent artifacts are not an
// error.
func (m *MetaStore) RemoveEntry(path string) error {
	dir, err := m.layout.EntryDir(path)
	if err != nil {
		return err
	}
	for _, name := range []string{attrFile, listingFile, dataFile, rangeFile} {
		if rmErr := os.Remove(filepath.Join(dir, name)); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, rmErr)
		}
	}
	return nil
}

// loadRecord reads a JSON artifact into rec. Returns false when the
// artifact does not exist.
func loadRecord(path string, rec any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// saveRecord writes a JSON artifact atomically: write to temp, fsync,
// rename. The containing directory is created first.
func saveRecord(path string, rec any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create entry directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write record: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync record: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close record: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename record: %w", err)
	}

	return nil
}
