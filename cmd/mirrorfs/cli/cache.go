package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/mirrorfs"
	"github.com/meigma/mirrorfs/cmd/mirrorfs/cli/config"
)

// Cache command flags
var (
	cacheDir     string
	cacheLong    bool
	clearConfirm bool
	exportOutput string
	importInput  string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the mirror cache",
	Long: `Manage the local mirror cache.

The cache stores attribute records, directory listings and file data for
every path observed through a mount. Use subcommands to inspect, clear,
or move the cache between machines.

The cache directory can be specified with --dir. If not specified,
the default location is $XDG_CACHE_HOME/mirrorfs (typically ~/.cache/mirrorfs).`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long: `Display information about the mirror cache.

Shows the entry count, mirrored and cached byte totals, and optionally
per-entry coverage.

Examples:
  mirrorfs cache stats
  mirrorfs cache stats --long
  mirrorfs cache stats --dir /path/to/cache`,
	Args: cobra.NoArgs,
	RunE: runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cache entries",
	Long: `Remove all entries from the mirror cache.

This permanently deletes all cached data. Use --yes to skip confirmation.

Examples:
  mirrorfs cache clear
  mirrorfs cache clear --yes`,
	Args: cobra.NoArgs,
	RunE: runCacheClear,
}

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the cache as a compressed snapshot",
	Long: `Stream the entire cache into a zstd-compressed tar snapshot.

A snapshot restored with 'cache import' serves the same cached reads,
which makes a populated cache portable to machines with no access to
the origin.

Examples:
  mirrorfs cache export --output mirror-cache.tar.zst
  mirrorfs cache export --output - > snapshot.tar.zst`,
	Args: cobra.NoArgs,
	RunE: runCacheExport,
}

var cacheImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Restore a cache snapshot",
	Long: `Restore a snapshot produced by 'cache export' into the cache
directory, creating it if missing. Existing entries with the same paths
are overwritten.

Examples:
  mirrorfs cache import --input mirror-cache.tar.zst
  cat snapshot.tar.zst | mirrorfs cache import --input -`,
	Args: cobra.NoArgs,
	RunE: runCacheImport,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDir, "dir", defaultCacheDir(), "Cache directory path")

	cacheStatsCmd.Flags().BoolVarP(&cacheLong, "long", "l", false, "Show per-entry coverage")
	cacheClearCmd.Flags().BoolVarP(&clearConfirm, "yes", "y", false, "Skip confirmation prompt")
	cacheExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Snapshot file to write, or - for stdout")
	cacheImportCmd.Flags().StringVarP(&importInput, "input", "i", "", "Snapshot file to read, or - for stdin")

	//nolint:errcheck // flags are defined above, so MarkFlagRequired cannot fail
	cacheExportCmd.MarkFlagRequired("output")
	//nolint:errcheck
	cacheImportCmd.MarkFlagRequired("input")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheExportCmd)
	cacheCmd.AddCommand(cacheImportCmd)
	rootCmd.AddCommand(cacheCmd)
}

func defaultCacheDir() string {
	dir, err := config.CacheDir()
	if err != nil {
		return ""
	}
	return dir
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	info, err := mirrorfs.CacheStats(cacheDir)
	if err != nil {
		return err
	}

	fmt.Printf("Cache: %s\n", info.Path)
	fmt.Printf("Entries: %d\n", info.EntryCount)
	fmt.Printf("Mirrored: %s (%d bytes)\n", humanize.Bytes(safeUint64(info.TotalSize)), info.TotalSize)
	fmt.Printf("Cached: %s (%d bytes)\n", humanize.Bytes(safeUint64(info.CachedBytes)), info.CachedBytes)

	if cacheLong && len(info.Entries) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tSIZE\tCACHED\tCOMPLETE")
		for _, e := range info.Entries {
			if e.Dir {
				fmt.Fprintf(w, "%s\t-\t-\tdir\n", e.Path)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n",
				e.Path,
				humanize.Bytes(safeUint64(e.Size)),
				humanize.Bytes(safeUint64(e.CachedBytes)),
				e.Complete,
			)
		}
		return w.Flush()
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if !clearConfirm {
		fmt.Printf("Remove all entries from %s? [y/N] ", cacheDir)
		var answer string
		//nolint:errcheck // empty answer means no
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}
	if err := mirrorfs.CacheClear(cacheDir); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}

func runCacheExport(cmd *cobra.Command, args []string) error {
	out := os.Stdout
	if exportOutput != "-" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		defer f.Close()
		out = f
	}
	return mirrorfs.CacheExport(cacheDir, out)
}

func runCacheImport(cmd *cobra.Command, args []string) error {
	in := os.Stdin
	if importInput != "-" {
		f, err := os.Open(importInput)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		in = f
	}
	return mirrorfs.CacheImport(in, cacheDir)
}

func safeUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
