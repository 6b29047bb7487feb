package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[source]
server = "https://dng.example.org/rm"
project = "Flight Software"
user = "alice"
crawl_depth = 2
modules = ["https://dng.example.org/rm/resources/MD_1"]
folders = ["https://dng.example.org/rm/folders/F1"]

[target]
server = "https://mms.example.org"
org = "jpl"
project = "PROJ-1"
ref = "master"
user = "bob"
batch_size = 5000
safe_load = true

[crawl]
concurrency = 16
retry_backoff = "2s"
max_retries = 3
blacklist = ["/rm/reports/"]

[sync]
data_dir = "/var/lib/dngsync"
reset = true
skip_head = true

[logging]
log_level = "debug"
log_file = "/var/log/dngsync.log"
log_format = "json"
log_retention_days = 7

[network]
connect_timeout = "5s"
data_timeout = "2m"
user_agent = "dngsync-test"
max_sockets = 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Flight Software", cfg.Source.Project)
	assert.Equal(t, 2, cfg.Source.CrawlDepth)
	assert.Len(t, cfg.Source.Modules, 1)
	assert.Equal(t, "PROJ-1", cfg.Target.Project)
	assert.Equal(t, 5000, cfg.Target.BatchSize)
	assert.True(t, cfg.Target.SafeLoad)
	assert.Equal(t, 16, cfg.Crawl.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Crawl.RetryBackoffDuration())
	assert.Equal(t, []string{"/rm/reports/"}, cfg.Crawl.Blacklist)
	assert.True(t, cfg.Sync.Reset)
	assert.True(t, cfg.Sync.SkipHead)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 8, cfg.Network.MaxSockets)

	connect, data := cfg.Network.Timeouts()
	assert.Equal(t, 5*time.Second, connect)
	assert.Equal(t, 2*time.Minute, data)

	assert.Equal(t, "/var/lib/dngsync/PROJ-1", cfg.ProjectDir())
	assert.Equal(t, "/var/lib/dngsync/PROJ-1/baselines", cfg.SnapshotDir())
	assert.Equal(t, "/var/lib/dngsync/PROJ-1/state.db", cfg.LedgerPath())
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, "[target]\nproject = \"P\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "P", cfg.Target.Project)
	assert.Equal(t, defaultRef, cfg.Target.Ref)
	assert.Equal(t, defaultBatchSize, cfg.Target.BatchSize)
	assert.Equal(t, defaultConcurrency, cfg.Crawl.Concurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.Crawl.RetryBackoffDuration())
	assert.Equal(t, defaultCrawlDepth, cfg.Source.CrawlDepth)
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[source\nserver = "))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[crawl]\nconcurency = 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"crawl.concurency"`)
	assert.Contains(t, err.Error(), `"crawl.concurrency"`)
}

func TestLoad_ValidationAccumulates(t *testing.T) {
	_, err := Load(writeTestConfig(t, `
[crawl]
concurrency = 0
max_retries = 0

[logging]
log_level = "loud"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.concurrency")
	assert.Contains(t, err.Error(), "crawl.max_retries")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
[source]
server = "https://file.example.org"
project = "From File"
user = "file-user"

[target]
project = "FILE"

[sync]
data_dir = "/from/file"
reset = true
`)

	env := EnvOverrides{
		ConfigPath:     filepath.Join(t.TempDir(), "ignored.toml"),
		DataDir:        "/from/env",
		SourceServer:   "https://env.example.org",
		SourcePassword: "s3cret",
		TargetServer:   "https://mms.example.org",
		TargetUser:     "env-user",
		TargetPassword: "pw",
	}

	dataDir := "/from/cli"
	target := "CLI"
	reset := false
	depth := 0

	cfg, err := Resolve(env, CLIOverrides{
		ConfigPath:    path,
		DataDir:       &dataDir,
		TargetProject: &target,
		Reset:         &reset,
		Depth:         &depth,
		Modules:       []string{"https://env.example.org/rm/resources/MD_9"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.org", cfg.Source.Server, "env beats file")
	assert.Equal(t, "file-user", cfg.Source.User, "empty env keeps file")
	assert.Equal(t, "s3cret", cfg.Source.Password)
	assert.Equal(t, "From File", cfg.Source.Project)
	assert.Equal(t, "CLI", cfg.Target.Project, "CLI beats file")
	assert.Equal(t, "env-user", cfg.Target.User)
	assert.Equal(t, "/from/cli", cfg.Sync.DataDir, "CLI beats env")
	assert.False(t, cfg.Sync.Reset, "explicit false flag beats file")
	assert.Equal(t, 0, cfg.Source.CrawlDepth)
	assert.Equal(t, []string{"https://env.example.org/rm/resources/MD_9"}, cfg.Source.Modules)

	require.NoError(t, cfg.RequireSource())
	require.NoError(t, cfg.RequireTarget())
}

func TestResolve_EnvConfigPath(t *testing.T) {
	path := writeTestConfig(t, "[target]\nproject = \"ENV\"\n")

	cfg, err := Resolve(EnvOverrides{ConfigPath: path, DataDir: "/data"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "ENV", cfg.Target.Project)
}

func TestResolve_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	dir := "~/dngsync-data"

	cfg, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		DataDir:    &dir,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "dngsync-data"), cfg.Sync.DataDir)
}

func TestResolve_RelativeDataDir(t *testing.T) {
	dir := "relative/data"

	_, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		DataDir:    &dir,
	})
	assert.ErrorContains(t, err, "sync.data_dir")
}

func TestResolve_ValidatesOverrides(t *testing.T) {
	conc := 0

	_, err := Resolve(EnvOverrides{DataDir: "/data"}, CLIOverrides{
		ConfigPath:  filepath.Join(t.TempDir(), "none.toml"),
		Concurrency: &conc,
	})
	assert.ErrorContains(t, err, "crawl.concurrency")
}

func TestRequire_ListsEveryMissingSetting(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.RequireSource()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.server")
	assert.Contains(t, err.Error(), "source.project")
	assert.Contains(t, err.Error(), EnvSourceUser)

	err = cfg.RequireTarget()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.server")
	assert.Contains(t, err.Error(), "target.project")
	assert.Contains(t, err.Error(), "target.user")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/dngsync.toml")
	t.Setenv(EnvDataDir, "/data")
	t.Setenv(EnvSourceServer, "https://dng")
	t.Setenv(EnvSourceUser, "u1")
	t.Setenv(EnvSourcePassword, "p1")
	t.Setenv(EnvTargetServer, "https://mms")
	t.Setenv(EnvTargetUser, "u2")
	t.Setenv(EnvTargetPassword, "p2")

	assert.Equal(t, EnvOverrides{
		ConfigPath:     "/etc/dngsync.toml",
		DataDir:        "/data",
		SourceServer:   "https://dng",
		SourceUser:     "u1",
		SourcePassword: "p1",
		TargetServer:   "https://mms",
		TargetUser:     "u2",
		TargetPassword: "p2",
	}, ReadEnvOverrides())
}
