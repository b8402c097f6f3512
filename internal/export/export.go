// Package export moves cache snapshots between machines as zstd-compressed
// tar streams. Data blobs are written as plain members (zstd collapses the
// zero regions); on import, zero blocks become holes again so restored
// blobs stay sparse.
package export

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zeroChunk is the granularity at which import detects holes.
const zeroChunk = 64 * 1024

// Write streams the cache tree rooted at cacheRoot into w as a
// zstd-compressed tar snapshot.
func Write(w io.Writer, cacheRoot string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(cacheRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(cacheRoot, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     rel + "/",
				Mode:     int64(info.Mode().Perm()),
			})
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     rel,
			Mode:     int64(info.Mode().Perm()),
			Size:     info.Size(),
		}); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(tw, f)
		f.Close()
		return copyErr
	})
	if walkErr != nil {
		return fmt.Errorf("snapshot cache: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish compression: %w", err)
	}
	return nil
}

// Read restores a snapshot produced by Write into cacheRoot. Existing
// artifacts with the same paths are overwritten.
func Read(r io.Reader, cacheRoot string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("open compressed stream: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		target, err := safeJoin(cacheRoot, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return fmt.Errorf("restore directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("restore directory: %w", err)
			}
			if err := restoreFile(target, hdr, tr); err != nil {
				return err
			}
		default:
			// Snapshots only ever contain directories and regular files.
			return fmt.Errorf("restore %s: unexpected entry type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

// restoreFile writes a member, turning zero blocks into holes.
func restoreFile(target string, hdr *tar.Header, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
	if err != nil {
		return fmt.Errorf("restore %s: %w", hdr.Name, err)
	}

	buf := make([]byte, zeroChunk)
	var offset int64
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			if !isZero(chunk) {
				if _, err := f.WriteAt(chunk, offset); err != nil {
					f.Close()
					return fmt.Errorf("restore %s: %w", hdr.Name, err)
				}
			}
			offset += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			f.Close()
			return fmt.Errorf("restore %s: %w", hdr.Name, readErr)
		}
	}

	// Holes at the tail still need the full length recorded.
	if err := f.Truncate(hdr.Size); err != nil {
		f.Close()
		return fmt.Errorf("restore %s: %w", hdr.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("restore %s: %w", hdr.Name, err)
	}
	return nil
}

func isZero(b []byte) bool {
	return bytes.Count(b, []byte{0}) == len(b)
}

// safeJoin resolves a member name beneath root, refusing traversal.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("restore %s: path escapes cache root", name)
	}
	return filepath.Join(root, clean), nil
}
