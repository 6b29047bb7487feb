package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmbee/dngsync/internal/config"
	"github.com/openmbee/dngsync/internal/oslc"
)

func testCLIContext(t *testing.T) *CLIContext {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Sync.DataDir = t.TempDir()

	return &CLIContext{Cfg: cfg, Logger: discardLogger()}
}

func TestUserAgent(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "dngsync/"+version, userAgent(cfg))

	cfg.Network.UserAgent = "migrator/1.0"
	assert.Equal(t, "migrator/1.0", userAgent(cfg))
}

func TestOpenTarget(t *testing.T) {
	cc := testCLIContext(t)

	_, err := openTarget(cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.server")

	cc.Cfg.Target.Server = "https://mms.example.org/alfresco"
	cc.Cfg.Target.Project = "PROJ"
	cc.Cfg.Target.User = "bob"

	client, err := openTarget(cc)
	require.NoError(t, err)
	assert.Equal(t, "PROJ", client.Project())
}

func TestOpenSource_RequiresSettings(t *testing.T) {
	_, _, err := openSource(context.Background(), testCLIContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.server")
	assert.Contains(t, err.Error(), "source.project")
}

func TestCrawlOptions(t *testing.T) {
	cc := testCLIContext(t)
	cc.Cfg.Crawl.Concurrency = 8
	cc.Cfg.Crawl.MaxRetries = 2
	cc.Cfg.Crawl.Blacklist = []string{"/rm/reports/"}

	opts, err := crawlOptions(cc)
	require.NoError(t, err)

	assert.Equal(t, 8, opts.Concurrency)
	assert.Equal(t, 2, opts.MaxRetries)
	assert.Equal(t, cc.Cfg.Crawl.RetryBackoffDuration(), opts.RetryBackoff)
	assert.Nil(t, opts.Metrics, "no registry without --metrics-file")

	_, blocked := opts.Blacklist.Match("/rm/reports/R1")
	assert.True(t, blocked)
}

func TestNewSource_CreatesCacheDir(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "xdg-cache")
	t.Setenv("XDG_CACHE_HOME", cache)

	cc := testCLIContext(t)

	client, err := oslc.NewClient("https://dng.example.org/rm", nil, oslc.Credentials{}, cc.Logger, "")
	require.NoError(t, err)

	// No target project: the source project id names the root element.
	source, err := newSource(cc, client, &oslc.Project{ID: "_abc", Name: "Flight"})
	require.NoError(t, err)
	assert.Equal(t, "Flight", source.ProjectName())

	info, err := os.Stat(config.DefaultCacheDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
