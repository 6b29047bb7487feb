package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	env.apply(cfg)
	cli.apply(cfg)

	cfg.Sync.DataDir = expandTilde(cfg.Sync.DataDir)
	cfg.Logging.LogFile = expandTilde(cfg.Logging.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if cfg.Sync.DataDir == "" || !filepath.IsAbs(cfg.Sync.DataDir) {
		return nil, fmt.Errorf("config validation: sync.data_dir: must be absolute after expansion, got %q",
			cfg.Sync.DataDir)
	}

	return cfg, nil
}

func (c CLIOverrides) apply(cfg *Config) {
	if c.DataDir != nil {
		cfg.Sync.DataDir = *c.DataDir
	}

	if c.SourceProject != nil {
		cfg.Source.Project = *c.SourceProject
	}

	if c.TargetProject != nil {
		cfg.Target.Project = *c.TargetProject
	}

	if c.Depth != nil {
		cfg.Source.CrawlDepth = *c.Depth
	}

	if c.Concurrency != nil {
		cfg.Crawl.Concurrency = *c.Concurrency
	}

	if c.Reset != nil {
		cfg.Sync.Reset = *c.Reset
	}

	if c.SkipHead != nil {
		cfg.Sync.SkipHead = *c.SkipHead
	}

	if len(c.Modules) > 0 {
		cfg.Source.Modules = c.Modules
	}

	if len(c.Folders) > 0 {
		cfg.Source.Folders = c.Folders
	}
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
