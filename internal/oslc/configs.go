package oslc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmbee/dngsync/internal/lineage"
	"github.com/openmbee/dngsync/internal/triple"
)

// Configurations is the set of baselines and streams published for one
// component, keyed by configuration URI.
type Configurations struct {
	Baselines map[string]lineage.Baseline
	Streams   map[string]lineage.Stream

	// Deleted counts members listed by the component that no longer exist.
	Deleted int
}

// Configurations discovers every baseline and stream of a component:
// component -> configurations container -> rdfs:member. Members answering
// 404 are counted as deleted and skipped.
func (c *Client) Configurations(ctx context.Context, component string) (*Configurations, error) {
	g, err := c.Load(ctx, component)
	if err != nil {
		return nil, fmt.Errorf("oslc: loading component <%s>: %w", component, err)
	}

	container, ok := g.First(triple.IRI(component), triple.ConfigConfigurations)
	if !ok {
		objs := g.ObjectsOf(triple.ConfigConfigurations)
		if len(objs) == 0 {
			return nil, fmt.Errorf("oslc: component <%s> lists no configurations", component)
		}

		container = objs[0]
	}

	cg, err := c.Load(ctx, container.Value)
	if err != nil {
		return nil, fmt.Errorf("oslc: loading configurations <%s>: %w", container.Value, err)
	}

	out := &Configurations{
		Baselines: make(map[string]lineage.Baseline),
		Streams:   make(map[string]lineage.Stream),
	}

	for _, member := range cg.Objects(container, triple.RDFSMember) {
		if !member.IsIRI() {
			continue
		}

		if err := c.loadConfiguration(ctx, member.Value, out); err != nil {
			return nil, err
		}
	}

	c.logger.Info("discovered configurations",
		slog.Int("baselines", len(out.Baselines)),
		slog.Int("streams", len(out.Streams)),
		slog.Int("deleted_streams", out.Deleted),
	)

	return out, nil
}

func (c *Client) loadConfiguration(ctx context.Context, uri string, into *Configurations) error {
	if _, ok := into.Baselines[uri]; ok {
		return nil
	}

	if _, ok := into.Streams[uri]; ok {
		return nil
	}

	g, err := c.Load(ctx, uri)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Warn("configuration does not exist", slog.String("uri", uri))
			into.Deleted++

			return nil
		}

		return fmt.Errorf("oslc: loading configuration <%s>: %w", uri, err)
	}

	subj := triple.IRI(uri)

	created, err := parseTime(g.Value(subj, triple.DCTCreated))
	if err != nil {
		return fmt.Errorf("oslc: configuration <%s>: %w", uri, err)
	}

	switch {
	case g.HasType(subj, triple.ConfigBaseline):
		b := lineage.Baseline{
			ID:          g.Value(subj, triple.DCTIdentifier),
			URI:         uri,
			Title:       g.Value(subj, triple.DCTTitle),
			Created:     created,
			Creator:     g.Value(subj, triple.DCTCreator),
			Overrides:   g.Value(subj, triple.ConfigOverrides),
			Previous:    g.Value(subj, triple.ConfigPreviousBaseline),
			Streams:     g.Value(subj, triple.ConfigStreams),
			Description: g.Value(subj, triple.DCTDescription),
			StreamURI:   g.Value(subj, triple.ConfigBaselineOfStream),
		}

		into.Baselines[uri] = b

		c.logger.Debug("baseline", slog.String("uri", uri), slog.String("title", b.Title))
	case g.HasType(subj, triple.ConfigStream):
		s := lineage.Stream{
			ID:          g.Value(subj, triple.DCTIdentifier),
			URI:         uri,
			Title:       g.Value(subj, triple.DCTTitle),
			Created:     created,
			Creator:     g.Value(subj, triple.DCTCreator),
			Description: g.Value(subj, triple.DCTDescription),
		}

		into.Streams[uri] = s

		c.logger.Debug("stream", slog.String("uri", uri), slog.String("title", s.Title))
	default:
		c.logger.Warn("configuration is neither baseline nor stream", slog.String("uri", uri))
	}

	return nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created %q: %w", v, err)
	}

	return t.UTC(), nil
}
