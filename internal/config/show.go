package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration to w in TOML layout,
// passwords masked. It powers the "config" command.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	ew.printf("[source]\n")
	ew.printf("  server      = %q\n", cfg.Source.Server)
	ew.printf("  project     = %q\n", cfg.Source.Project)
	ew.printf("  user        = %q\n", cfg.Source.User)
	ew.printf("  # password  %s\n", masked(cfg.Source.Password, EnvSourcePassword))
	ew.printf("  crawl_depth = %d\n", cfg.Source.CrawlDepth)
	ew.list("  modules     = [%s]\n", cfg.Source.Modules)
	ew.list("  folders     = [%s]\n", cfg.Source.Folders)
	ew.printf("\n")

	ew.printf("[target]\n")
	ew.printf("  server       = %q\n", cfg.Target.Server)
	ew.printf("  org          = %q\n", cfg.Target.Org)
	ew.printf("  project      = %q\n", cfg.Target.Project)
	ew.printf("  ref          = %q\n", cfg.Target.Ref)
	ew.printf("  user         = %q\n", cfg.Target.User)
	ew.printf("  # password %s\n", masked(cfg.Target.Password, EnvTargetPassword))
	ew.printf("  batch_size   = %d\n", cfg.Target.BatchSize)
	ew.printf("  safe_load    = %t\n", cfg.Target.SafeLoad)
	ew.printf("  index_server = %q\n", cfg.Target.IndexServer)
	ew.printf("\n")

	ew.printf("[crawl]\n")
	ew.printf("  concurrency   = %d\n", cfg.Crawl.Concurrency)
	ew.printf("  retry_backoff = %q\n", cfg.Crawl.RetryBackoff)
	ew.printf("  max_retries   = %d\n", cfg.Crawl.MaxRetries)
	ew.list("  blacklist     = [%s]\n", cfg.Crawl.Blacklist)
	ew.printf("\n")

	ew.printf("[sync]\n")
	ew.printf("  data_dir  = %q\n", cfg.Sync.DataDir)
	ew.printf("  reset     = %t\n", cfg.Sync.Reset)
	ew.printf("  skip_head = %t\n", cfg.Sync.SkipHead)
	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", cfg.Logging.LogLevel)

	if cfg.Logging.LogFile != "" {
		ew.printf("  log_file           = %q\n", cfg.Logging.LogFile)
	}

	ew.printf("  log_format         = %q\n", cfg.Logging.LogFormat)
	ew.printf("  log_retention_days = %d\n", cfg.Logging.LogRetentionDays)
	ew.printf("\n")

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", cfg.Network.DataTimeout)

	if cfg.Network.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", cfg.Network.UserAgent)
	}

	ew.printf("  max_sockets     = %d\n", cfg.Network.MaxSockets)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// list prints a string slice line, or nothing when items is empty.
func (ew *errWriter) list(format string, items []string) {
	if len(items) == 0 {
		return
	}

	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	ew.printf(format, strings.Join(quoted, ", "))
}

func masked(password, envVar string) string {
	if password == "" {
		return "not set (" + envVar + ")"
	}

	return "set from " + envVar
}
