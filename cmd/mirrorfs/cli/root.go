// Package cli implements the mirrorfs command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/mirrorfs"
	"github.com/meigma/mirrorfs/cmd/mirrorfs/cli/config"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cfgFile is the path to the config file (set via --config flag).
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mirrorfs",
	Short: "Persistently caching read-only mirror filesystem",
	Long: `mirrorfs mounts a read-only mirror of a directory tree and persistently
caches every byte read, every directory listing and every attribute queried.

Cached data is served without consulting the origin again, so mirrors of
slow or intermittently connected storage stay fast and keep working offline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose debug logging")

	//nolint:errcheck // flags are defined above, so Lookup will never return nil
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Set defaults
	viper.SetDefault("cache.dir", "") // Not read by any command; cache commands use --dir
	viper.SetDefault("cache.zero-fill", false)

	rootCmd.Version = version
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := config.Dir()
		if err == nil {
			viper.AddConfigPath(configDir)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables: MIRRORFS_VERBOSE, MIRRORFS_CACHE_ZERO_FILL,
	// MIRRORFS_PROFILING_PPROF_ADDR, etc. The cache directory is not taken
	// from the environment; it comes from --cache-dir or --dir.
	viper.SetEnvPrefix("MIRRORFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Config file is optional - don't fail if missing
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config:", viper.ConfigFileUsed())
		}
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// formatError converts mirrorfs errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, mirrorfs.ErrNotFound):
		return "Error: path not found"
	case errors.Is(err, mirrorfs.ErrCacheMiss):
		return "Error: not in cache (cache-only mode is active)"
	case errors.Is(err, mirrorfs.ErrInvalidPath):
		return "Error: invalid path (origin paths must start with '/')"
	default:
		return "Error: " + err.Error()
	}
}
