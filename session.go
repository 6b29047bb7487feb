package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/openmbee/dngsync/internal/config"
	"github.com/openmbee/dngsync/internal/crawl"
	"github.com/openmbee/dngsync/internal/mms"
	"github.com/openmbee/dngsync/internal/oslc"
	"github.com/openmbee/dngsync/internal/sync"
)

// userAgent is sent to both servers unless network.user_agent overrides it.
func userAgent(cfg *config.Config) string {
	if cfg.Network.UserAgent != "" {
		return cfg.Network.UserAgent
	}

	return "dngsync/" + version
}

func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	connect, data := cfg.Network.Timeouts()
	return oslc.NewHTTPClient(connect, data, cfg.Network.MaxSockets)
}

// openSource logs in to the requirements server and resolves the source
// project by title.
func openSource(ctx context.Context, cc *CLIContext) (*oslc.Client, *oslc.Project, error) {
	cfg := cc.Cfg

	if err := cfg.RequireSource(); err != nil {
		return nil, nil, err
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := oslc.NewClient(cfg.Source.Server, httpClient,
		oslc.Credentials{Username: cfg.Source.User, Password: cfg.Source.Password},
		cc.Logger, userAgent(cfg))
	if err != nil {
		return nil, nil, err
	}

	if err := client.Authenticate(ctx); err != nil {
		return nil, nil, err
	}

	project, err := client.FindProject(ctx, cfg.Source.Project)
	if err != nil {
		return nil, nil, err
	}

	return client, project, nil
}

// openTarget builds the model server client for target.project.
func openTarget(cc *CLIContext) (*mms.Client, error) {
	cfg := cc.Cfg

	if err := cfg.RequireTarget(); err != nil {
		return nil, err
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	return mms.NewClient(cfg.Target.Server, httpClient,
		mms.Credentials{Username: cfg.Target.User, Password: cfg.Target.Password},
		mms.Options{
			Org:       cfg.Target.Org,
			Project:   cfg.Target.Project,
			BatchSize: cfg.Target.BatchSize,
			UserAgent: userAgent(cfg),
			SafeLoad:  cfg.Target.SafeLoad,
		},
		cc.Logger)
}

// crawlOptions turns the crawl section into crawler options. The origin is
// filled in by the source.
func crawlOptions(cc *CLIContext) (crawl.Options, error) {
	opts := crawl.Options{
		Concurrency:  cc.Cfg.Crawl.Concurrency,
		RetryBackoff: cc.Cfg.Crawl.RetryBackoffDuration(),
		MaxRetries:   cc.Cfg.Crawl.MaxRetries,
		Blacklist:    crawl.NewBlacklist(cc.Cfg.Crawl.Blacklist...),
	}

	if cc.Registry != nil {
		m, err := crawl.NewMetrics(cc.Registry)
		if err != nil {
			return opts, fmt.Errorf("registering crawl metrics: %w", err)
		}

		opts.Metrics = m
	}

	return opts, nil
}

// newSource wires a DNGSource for the resolved project. Crawl dumps are
// staged in the user cache directory.
func newSource(cc *CLIContext, client *oslc.Client, project *oslc.Project) (*sync.DNGSource, error) {
	opts, err := crawlOptions(cc)
	if err != nil {
		return nil, err
	}

	workDir := config.DefaultCacheDir()
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	// export needs no target; the source project id then names the root.
	target := cc.Cfg.Target.Project
	if target == "" {
		target = project.ID
	}

	return sync.NewDNGSource(sync.DNGSourceConfig{
		Client:        client,
		Project:       project,
		TargetProject: target,
		Modules:       cc.Cfg.Source.Modules,
		Folders:       cc.Cfg.Source.Folders,
		Depth:         cc.Cfg.Source.CrawlDepth,
		Crawl:         opts,
		WorkDir:       workDir,
		Logger:        cc.Logger,
	})
}
