// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for dngsync. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import (
	"errors"
	"path/filepath"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Source  SourceConfig  `toml:"source"`
	Target  TargetConfig  `toml:"target"`
	Crawl   CrawlConfig   `toml:"crawl"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// SourceConfig names the requirements server and what to crawl from it.
// Modules and Folders narrow the crawl seeds; when both are empty every
// requirement of the project is a seed.
type SourceConfig struct {
	Server     string   `toml:"server"`
	Project    string   `toml:"project"`
	User       string   `toml:"user"`
	Password   string   `toml:"-"` // environment only
	CrawlDepth int      `toml:"crawl_depth"`
	Modules    []string `toml:"modules"`
	Folders    []string `toml:"folders"`
}

// TargetConfig names the model server project baselines are replayed onto.
type TargetConfig struct {
	Server    string `toml:"server"`
	Org       string `toml:"org"`
	Project   string `toml:"project"`
	Ref       string `toml:"ref"`
	User      string `toml:"user"`
	Password  string `toml:"-"` // environment only
	BatchSize int    `toml:"batch_size"`
	SafeLoad  bool   `toml:"safe_load"`

	// IndexServer is the query server re-indexed by the trigger command.
	IndexServer string `toml:"index_server"`
}

// CrawlConfig bounds the resource crawler. Blacklist adds path prefixes to
// the built-in list.
type CrawlConfig struct {
	Concurrency  int      `toml:"concurrency"`
	RetryBackoff string   `toml:"retry_backoff"`
	MaxRetries   int      `toml:"max_retries"`
	Blacklist    []string `toml:"blacklist"`
}

// SyncConfig controls where state lives and how a run behaves.
type SyncConfig struct {
	DataDir  string `toml:"data_dir"`
	Reset    bool   `toml:"reset"`
	SkipHead bool   `toml:"skip_head"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior for both servers.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	MaxSockets     int    `toml:"max_sockets"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value": --reset=false must be able to undo
// reset = true in the file.
type CLIOverrides struct {
	ConfigPath    string
	DataDir       *string
	SourceProject *string
	TargetProject *string
	Depth         *int
	Concurrency   *int
	Reset         *bool
	SkipHead      *bool
	Modules       []string
	Folders       []string
}

// RetryBackoffDuration returns the parsed crawl.retry_backoff. Validate has
// already rejected malformed values.
func (c *CrawlConfig) RetryBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	return d
}

// Timeouts returns the parsed connect and data timeouts.
func (n *NetworkConfig) Timeouts() (connect, data time.Duration) {
	connect, _ = time.ParseDuration(n.ConnectTimeout)
	data, _ = time.ParseDuration(n.DataTimeout)

	return connect, data
}

// ProjectDir is the state directory of the target project:
// <data_dir>/<target project>.
func (c *Config) ProjectDir() string {
	return filepath.Join(c.Sync.DataDir, c.Target.Project)
}

// SnapshotDir holds cached baseline snapshots.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.ProjectDir(), "baselines")
}

// LedgerPath is the SQLite database recording sync runs.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.ProjectDir(), "state.db")
}

// RequireSource reports every missing setting needed to talk to the
// requirements server.
func (c *Config) RequireSource() error {
	var errs []error

	if c.Source.Server == "" {
		errs = append(errs, errors.New("source.server: required (or set "+EnvSourceServer+")"))
	}

	if c.Source.Project == "" {
		errs = append(errs, errors.New("source.project: required"))
	}

	if c.Source.User == "" {
		errs = append(errs, errors.New("source.user: required (or set "+EnvSourceUser+")"))
	}

	return errors.Join(errs...)
}

// RequireTarget reports every missing setting needed to talk to the model
// server.
func (c *Config) RequireTarget() error {
	var errs []error

	if c.Target.Server == "" {
		errs = append(errs, errors.New("target.server: required (or set "+EnvTargetServer+")"))
	}

	if c.Target.Project == "" {
		errs = append(errs, errors.New("target.project: required"))
	}

	if c.Target.User == "" {
		errs = append(errs, errors.New("target.user: required (or set "+EnvTargetUser+")"))
	}

	return errors.Join(errs...)
}
