// Package config provides configuration management for the mirrorfs CLI.
package config

import (
	"os"
	"path/filepath"
)

// CacheDir returns the default mirrorfs cache directory.
// Uses XDG_CACHE_HOME/mirrorfs, defaulting to ~/.cache/mirrorfs.
func CacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "mirrorfs"), nil
}

// Dir returns the mirrorfs config directory.
// Uses XDG_CONFIG_HOME/mirrorfs, defaulting to ~/.config/mirrorfs.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mirrorfs"), nil
}
