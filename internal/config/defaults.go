package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultCrawlDepth       = 3
	defaultRef              = "master"
	defaultBatchSize        = 100_000
	defaultConcurrency      = 64
	defaultRetryBackoff     = "1500ms"
	defaultMaxRetries       = 5
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"
	defaultMaxSockets       = 64
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			CrawlDepth: defaultCrawlDepth,
		},
		Target: TargetConfig{
			Ref:       defaultRef,
			BatchSize: defaultBatchSize,
		},
		Crawl: CrawlConfig{
			Concurrency:  defaultConcurrency,
			RetryBackoff: defaultRetryBackoff,
			MaxRetries:   defaultMaxRetries,
		},
		Sync: SyncConfig{
			DataDir: DefaultDataDir(),
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			MaxSockets:     defaultMaxSockets,
		},
	}
}
