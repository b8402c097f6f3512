package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixge/fgprof"
	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/mirrorfs"
)

// Mount command flags
var (
	mountCacheDir  string
	mountTargetDir string
	mountDebug     bool
	mountCacheOnly bool
	mountAllow     bool
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount a caching mirror of a directory tree",
	Long: `Mount a read-only mirror of --target-dir at the given mountpoint,
persisting everything read into --cache-dir.

The mount runs in the foreground until interrupted or unmounted with
fusermount -u. Requests are dispatched single-threaded.

Examples:
  mirrorfs mount --cache-dir ~/.cache/mirror --target-dir /mnt/slow /mnt/mirror
  mirrorfs mount -d --cache-dir /tmp/cache --target-dir /srv/data /mnt/mirror`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	mountCmd.Flags().StringVar(&mountCacheDir, "cache-dir", "", "Directory where cached data is stored (created if missing)")
	mountCmd.Flags().StringVar(&mountTargetDir, "target-dir", "", "Directory to mirror; all reads are cached")
	mountCmd.Flags().BoolVarP(&mountDebug, "debug", "d", false, "Foreground kernel debug logging")
	mountCmd.Flags().BoolVar(&mountCacheOnly, "cache-only", false, "Never consult the origin; uncached reads fail")
	mountCmd.Flags().BoolVar(&mountAllow, "allow-other", false, "Allow other users to access the mount")

	//nolint:errcheck // flags are defined above, so MarkFlagRequired cannot fail
	mountCmd.MarkFlagRequired("cache-dir")
	//nolint:errcheck
	mountCmd.MarkFlagRequired("target-dir")

	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	logger := slog.New(slog.DiscardHandler)
	if viper.GetBool("verbose") || mountDebug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	opts := []mirrorfs.Option{
		mirrorfs.WithLogger(logger),
		mirrorfs.WithCacheOnly(mountCacheOnly),
		mirrorfs.WithZeroFill(viper.GetBool("cache.zero-fill")),
	}

	fsys, err := mirrorfs.New(mountCacheDir, mountTargetDir, opts...)
	if err != nil {
		return fmt.Errorf("create mirror: %w", err)
	}

	stopProfiling, err := startProfiling(logger)
	if err != nil {
		return err
	}
	defer stopProfiling()

	server, err := fsys.Mount(mountpoint, mirrorfs.MountConfig{
		Debug:      mountDebug,
		AllowOther: mountAllow,
	})
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountpoint, err)
	}

	logger.Debug("mounted", "mountpoint", mountpoint, "target", mountTargetDir, "cache", mountCacheDir)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		//nolint:errcheck // best-effort unmount on signal; Wait returns either way
		server.Unmount()
	}()

	server.Wait()
	return nil
}

// startProfiling wires the optional profiling endpoints: an HTTP listener
// with pprof and fgprof handlers, and a Pyroscope push profiler. Both are
// off unless configured.
func startProfiling(logger *slog.Logger) (stop func(), err error) {
	stop = func() {}

	if addr := viper.GetString("profiling.pprof-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.Handle("/debug/fgprof", fgprof.Handler())
		go func() {
			if serveErr := http.ListenAndServe(addr, mux); serveErr != nil {
				logger.Debug("profiling listener stopped", "error", serveErr)
			}
		}()
		logger.Debug("profiling endpoints up", "addr", addr)
	}

	if server := viper.GetString("profiling.pyroscope-server"); server != "" {
		profiler, startErr := pyroscope.Start(pyroscope.Config{
			ApplicationName: "mirrorfs",
			ServerAddress:   server,
			Logger:          nil,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if startErr != nil {
			return stop, fmt.Errorf("start pyroscope: %w", startErr)
		}
		stop = func() {
			//nolint:errcheck // flush on shutdown is best effort
			profiler.Stop()
		}
	}

	return stop, nil
}
