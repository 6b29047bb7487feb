package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"source server scheme", func(c *Config) { c.Source.Server = "ftp://dng" }, "source.server"},
		{"source server relative", func(c *Config) { c.Source.Server = "dng.example.org" }, "source.server"},
		{"negative depth", func(c *Config) { c.Source.CrawlDepth = -1 }, "source.crawl_depth"},
		{"huge depth", func(c *Config) { c.Source.CrawlDepth = 100 }, "source.crawl_depth"},
		{"relative module", func(c *Config) { c.Source.Modules = []string{"/rm/resources/MD"} }, "source.modules"},
		{"relative folder", func(c *Config) { c.Source.Folders = []string{"F1"} }, "source.folders"},
		{"target server", func(c *Config) { c.Target.Server = "mms" }, "target.server"},
		{"project id", func(c *Config) { c.Target.Project = "has space" }, "target.project"},
		{"empty ref", func(c *Config) { c.Target.Ref = "" }, "target.ref"},
		{"batch size", func(c *Config) { c.Target.BatchSize = 0 }, "target.batch_size"},
		{"index server", func(c *Config) { c.Target.IndexServer = "ftp://iqs" }, "target.index_server"},
		{"concurrency", func(c *Config) { c.Crawl.Concurrency = 5000 }, "crawl.concurrency"},
		{"max retries", func(c *Config) { c.Crawl.MaxRetries = 0 }, "crawl.max_retries"},
		{"backoff syntax", func(c *Config) { c.Crawl.RetryBackoff = "soon" }, "crawl.retry_backoff"},
		{"backoff negative", func(c *Config) { c.Crawl.RetryBackoff = "-1s" }, "crawl.retry_backoff"},
		{"backoff huge", func(c *Config) { c.Crawl.RetryBackoff = "1h" }, "crawl.retry_backoff"},
		{"blacklist prefix", func(c *Config) { c.Crawl.Blacklist = []string{"rm/x"} }, "crawl.blacklist"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"log retention", func(c *Config) { c.Logging.LogRetentionDays = 0 }, "logging.log_retention_days"},
		{"connect timeout", func(c *Config) { c.Network.ConnectTimeout = "10ms" }, "network.connect_timeout"},
		{"data timeout", func(c *Config) { c.Network.DataTimeout = "x" }, "network.data_timeout"},
		{"max sockets", func(c *Config) { c.Network.MaxSockets = 0 }, "network.max_sockets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsZeroDepthAndBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.CrawlDepth = 0
	cfg.Crawl.RetryBackoff = "0s"
	cfg.Target.Project = "PROJ_1.a-b"

	assert.NoError(t, Validate(cfg))
}

func decodeUnknown(t *testing.T, doc string) error {
	t.Helper()

	md, err := toml.Decode(doc, DefaultConfig())
	require.NoError(t, err)

	return checkUnknownKeys(&md)
}

func TestCheckUnknownKeys(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"misspelled key", "[target]\nbatchsize = 1\n", `did you mean "target.batch_size"?`},
		{"misspelled section", "[sourc]\nserver = \"x\"\n", "did you mean [source]?"},
		{"unknown section", "[frobnicate]\nx = 1\n", "unknown config section [frobnicate]"},
		{"top-level key", "server = \"x\"\n", "keys belong in a section"},
		{"password in file", "[source]\npassword = \"x\"\n", "passwords are read from the environment"},
		{"no suggestion", "[crawl]\nzzzzzzzzzz = 1\n", `unknown config key "crawl.zzzzzzzzzz"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeUnknown(t, tt.doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckUnknownKeys_ReportsAll(t *testing.T) {
	err := decodeUnknown(t, "[crawl]\nconcurency = 1\nmax_retry = 2\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.concurency")
	assert.Contains(t, err.Error(), "crawl.max_retry")
}

func TestCheckUnknownKeys_Clean(t *testing.T) {
	assert.NoError(t, decodeUnknown(t, "[sync]\nreset = true\n"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("concurency", "concurrency"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
