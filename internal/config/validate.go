package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Validation range constants.
const (
	maxCrawlDepth      = 32
	minBatchSize       = 1
	maxBatchSize       = 1_000_000
	minConcurrency     = 1
	maxConcurrency     = 1024
	minMaxRetries      = 1
	maxMaxRetries      = 100
	minLogRetention    = 1
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minMaxSockets      = 1
	maxRetryBackoffCap = 5 * time.Minute
)

// projectIDPattern matches the ids the model server accepts for projects
// and refs.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSource(&cfg.Source)...)
	errs = append(errs, validateTarget(&cfg.Target)...)
	errs = append(errs, validateCrawl(&cfg.Crawl)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	errs = append(errs, validateServer("source.server", s.Server)...)

	if s.CrawlDepth < 0 || s.CrawlDepth > maxCrawlDepth {
		errs = append(errs, fmt.Errorf("source.crawl_depth: must be between 0 and %d, got %d",
			maxCrawlDepth, s.CrawlDepth))
	}

	for _, m := range s.Modules {
		errs = append(errs, validateAbsoluteURL("source.modules", m)...)
	}

	for _, f := range s.Folders {
		errs = append(errs, validateAbsoluteURL("source.folders", f)...)
	}

	return errs
}

func validateTarget(t *TargetConfig) []error {
	var errs []error

	errs = append(errs, validateServer("target.server", t.Server)...)
	errs = append(errs, validateServer("target.index_server", t.IndexServer)...)

	if t.Project != "" && !projectIDPattern.MatchString(t.Project) {
		errs = append(errs, fmt.Errorf("target.project: %q may only contain letters, digits, '.', '_' and '-'", t.Project))
	}

	if !projectIDPattern.MatchString(t.Ref) {
		errs = append(errs, fmt.Errorf("target.ref: invalid ref id %q", t.Ref))
	}

	if t.BatchSize < minBatchSize || t.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("target.batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, t.BatchSize))
	}

	return errs
}

func validateCrawl(c *CrawlConfig) []error {
	var errs []error

	if c.Concurrency < minConcurrency || c.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("crawl.concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, c.Concurrency))
	}

	if c.MaxRetries < minMaxRetries || c.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("crawl.max_retries: must be between %d and %d, got %d",
			minMaxRetries, maxMaxRetries, c.MaxRetries))
	}

	errs = append(errs, validateDurationRange("crawl.retry_backoff", c.RetryBackoff, 0, maxRetryBackoffCap)...)

	for _, prefix := range c.Blacklist {
		if !strings.HasPrefix(prefix, "/") {
			errs = append(errs, fmt.Errorf("crawl.blacklist: prefix %q must start with /", prefix))
		}
	}

	return errs
}

func validateServer(field, value string) []error {
	if value == "" {
		return nil
	}

	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateAbsoluteURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return []error{fmt.Errorf("%s: %q is not an absolute URL", field, value)}
	}

	return nil
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationRange(field, value string, minimum, maximum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	if d, _ := time.ParseDuration(value); d > maximum {
		return []error{fmt.Errorf("%s: must be <= %s, got %s", field, maximum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.MaxSockets < minMaxSockets {
		errs = append(errs, fmt.Errorf("network.max_sockets: must be >= %d, got %d", minMaxSockets, n.MaxSockets))
	}

	return errs
}
