package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "dngsync"
	configFileName = "config.toml"
)

// platformDir resolves an application directory. On Linux the XDG variable
// wins over ~/<linuxRel>; on macOS ~/<darwinRel> is used; other platforms
// fall back to the Linux layout. Returns "" when the home directory is
// unknown.
func platformDir(xdgVar, linuxRel, darwinRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	case "darwin":
		return filepath.Join(home, darwinRel, appName)
	}

	return filepath.Join(home, linuxRel, appName)
}

// DefaultConfigDir returns the directory holding config.toml.
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", ".config", filepath.Join("Library", "Application Support"))
}

// DefaultDataDir returns the directory holding per-project ledgers and
// snapshot caches.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"), filepath.Join("Library", "Application Support"))
}

// DefaultCacheDir returns the directory for temporary crawl dumps.
func DefaultCacheDir() string {
	return platformDir("XDG_CACHE_HOME", ".cache", filepath.Join("Library", "Caches"))
}

// DefaultConfigPath returns the config file used when neither
// DNGSYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
