// Command mirrorfs mounts a persistently caching read-only mirror of a
// directory tree.
package main

import (
	"os"

	"github.com/meigma/mirrorfs/cmd/mirrorfs/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
