// Package origin provides adapters for the directory tree being mirrored:
// a local-filesystem implementation and an in-memory fake for tests.
package origin

import (
	"fmt"
	"strings"

	"github.com/meigma/mirrorfs/core"
)

// resolve validates an origin path and returns it without the leading
// slash, suitable for joining onto a root.
func resolve(path string) (string, error) {
	if path == "" || path[0] != '/' {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidPath, path)
	}
	return strings.TrimPrefix(path, "/"), nil
}
