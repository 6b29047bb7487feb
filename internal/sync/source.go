package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/openmbee/dngsync/internal/crawl"
	"github.com/openmbee/dngsync/internal/delta"
	"github.com/openmbee/dngsync/internal/oslc"
	"github.com/openmbee/dngsync/internal/translate"
)

// Source is where baselines come from: the configurations of one component
// and the translated snapshot of any of them. An empty configuration URI
// reads the live head.
type Source interface {
	ProjectName() string
	Configurations(ctx context.Context) (*oslc.Configurations, error)
	Snapshot(ctx context.Context, configURI string) (delta.Snapshot, error)
}

// DNGSourceConfig holds the inputs of a DNGSource. Client must already be
// authenticated and Project resolved.
type DNGSourceConfig struct {
	Client  *oslc.Client
	Project *oslc.Project

	// TargetProject is the model server project id; it names the root
	// element of every snapshot.
	TargetProject string

	Modules []string
	Folders []string
	Depth   int
	Crawl   crawl.Options

	// WorkDir receives temporary crawl dumps. Empty uses os.TempDir.
	WorkDir string
	Logger  *slog.Logger
}

// DNGSource crawls a requirements project and translates the result.
type DNGSource struct {
	cfg        DNGSourceConfig
	translator *translate.Translator
	logger     *slog.Logger
}

// NewDNGSource validates cfg and builds the translator.
func NewDNGSource(cfg DNGSourceConfig) (*DNGSource, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Client == nil || cfg.Project == nil {
		return nil, errors.New("sync: source needs a client and a resolved project")
	}

	if cfg.Depth < 0 {
		cfg.Depth = crawl.DefaultDepth
	}

	cfg.Crawl.Origin = cfg.Client.Origin()

	tr, err := translate.New(cfg.TargetProject, cfg.Client.Origin(), cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	return &DNGSource{cfg: cfg, translator: tr, logger: cfg.Logger}, nil
}

// ProjectName returns the source project's title.
func (s *DNGSource) ProjectName() string {
	return s.cfg.Project.Name
}

// Configurations lists the baselines and streams of the project component.
func (s *DNGSource) Configurations(ctx context.Context) (*oslc.Configurations, error) {
	component, err := s.cfg.Project.Component()
	if err != nil {
		return nil, err
	}

	return s.cfg.Client.Configurations(ctx, component)
}

// Export crawls configURI into w as N-Triples.
func (s *DNGSource) Export(ctx context.Context, configURI string, w io.Writer) (crawl.Stats, error) {
	client := s.cfg.Client
	if configURI != "" {
		client = client.WithConfiguration(configURI)
	}

	seeds, err := client.Seeds(ctx, s.cfg.Project, s.cfg.Modules, s.cfg.Folders)
	if err != nil {
		return crawl.Stats{}, fmt.Errorf("sync: gathering seeds: %w", err)
	}

	sink := crawl.NewNTriplesSink(w)

	crawler, err := crawl.New(client, sink, s.cfg.Crawl, s.logger)
	if err != nil {
		return crawl.Stats{}, err
	}

	runErr := crawler.Run(ctx, seeds, s.cfg.Depth)
	closeErr := sink.Close()

	if runErr != nil {
		return crawler.Stats(), fmt.Errorf("sync: crawling: %w", runErr)
	}

	if closeErr != nil {
		return crawler.Stats(), fmt.Errorf("sync: flushing dump: %w", closeErr)
	}

	return crawler.Stats(), nil
}

// Snapshot crawls configURI to a temporary dump and translates it.
func (s *DNGSource) Snapshot(ctx context.Context, configURI string) (delta.Snapshot, error) {
	start := time.Now()

	f, err := os.CreateTemp(s.cfg.WorkDir, ".dump-*.nt")
	if err != nil {
		return nil, fmt.Errorf("sync: creating dump: %w", err)
	}

	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	stats, err := s.Export(ctx, configURI, f)
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("sync: rewinding dump: %w", err)
	}

	snap, err := s.translator.Translate(f)
	if err != nil {
		return nil, fmt.Errorf("sync: translating %s: %w", configLabel(configURI), err)
	}

	s.logger.Info("snapshot built",
		slog.String("configuration", configLabel(configURI)),
		slog.Int64("fetched", stats.Fetched),
		slog.Int("elements", len(snap)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return snap, nil
}

func configLabel(configURI string) string {
	if configURI == "" {
		return "head"
	}

	return configURI
}
