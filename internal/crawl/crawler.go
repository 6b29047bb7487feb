// Package crawl discovers and downloads the resource graph reachable from a
// set of seed requirements under a fixed concurrency budget.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	gosync "sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/openmbee/dngsync/internal/oslc"
	"github.com/openmbee/dngsync/internal/triple"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultConcurrency  = 64
	DefaultRetryBackoff = 1500 * time.Millisecond
	DefaultMaxRetries   = 5
	DefaultDepth        = 3
)

// Fetcher retrieves one resource as a triple stream. Errors are classified
// by type: *oslc.SkipError, *oslc.HTTPError, transient network errors
// (oslc.IsTransient), anything else is fatal.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (triple.Stream, error)
}

// Options configures a Crawler.
type Options struct {
	// Origin is scheme://host of the server; other origins are never fetched.
	Origin       string
	Concurrency  int
	RetryBackoff time.Duration
	MaxRetries   int
	Blacklist    *Blacklist

	// Mandatory lists predicates whose objects are followed regardless of
	// depth. Defaults to oslc:instanceShape.
	Mandatory []string

	Metrics *Metrics
}

// Crawler holds the state of one crawl. It is not reusable: the visited
// set and blank-node labels are scoped to its lifetime.
type Crawler struct {
	fetcher Fetcher
	sink    Sink
	logger  *slog.Logger

	origin     *url.URL
	originStr  string
	typePrefix string

	pool      *Pool
	visited   *VisitedSet
	blacklist *Blacklist
	labels    *triple.LabelSource
	mandatory map[string]bool

	backoff    time.Duration
	maxRetries int

	mu            gosync.Mutex
	warnedOrigins map[string]bool
	prefixes      map[string]bool

	stats   counters
	metrics *Metrics
}

// New creates a crawler writing subgraphs to sink.
func New(fetcher Fetcher, sink Sink, opts Options, logger *slog.Logger) (*Crawler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	origin, err := url.Parse(opts.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("crawl: invalid origin %q", opts.Origin)
	}

	originStr := origin.Scheme + "://" + origin.Host

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	if opts.Blacklist == nil {
		opts.Blacklist = NewBlacklist()
	}

	if len(opts.Mandatory) == 0 {
		opts.Mandatory = []string{triple.OSLCInstanceShape}
	}

	mandatory := make(map[string]bool, len(opts.Mandatory))
	for _, p := range opts.Mandatory {
		mandatory[p] = true
	}

	return &Crawler{
		fetcher:       fetcher,
		sink:          sink,
		logger:        logger,
		origin:        &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"},
		originStr:     originStr,
		typePrefix:    originStr + "/rm/types/",
		pool:          NewPool(opts.Concurrency),
		visited:       NewVisitedSet(),
		blacklist:     opts.Blacklist,
		labels:        triple.NewLabelSource("b"),
		mandatory:     mandatory,
		backoff:       opts.RetryBackoff,
		maxRetries:    opts.MaxRetries,
		warnedOrigins: make(map[string]bool),
		prefixes:      make(map[string]bool),
		metrics:       opts.Metrics,
	}, nil
}

// Stats returns a snapshot of the crawl counters.
func (c *Crawler) Stats() Stats {
	return c.stats.snapshot()
}

// Visited returns the number of distinct URIs claimed so far.
func (c *Crawler) Visited() int {
	return c.visited.Len()
}

// Run crawls from every seed concurrently and returns once the whole
// reachable graph within depthMax has been written to the sink.
func (c *Crawler) Run(ctx context.Context, seeds []string, depthMax int) error {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	for _, seed := range seeds {
		g.Go(func() error {
			return c.Spawn(gctx, seed, depthMax, 0, false)
		})
	}

	err := g.Wait()

	st := c.Stats()
	c.logger.Info("crawl finished",
		slog.Int("seeds", len(seeds)),
		slog.Int64("fetched", st.Fetched),
		slog.Int64("skipped", st.Skipped),
		slog.Int64("http_failed", st.HTTPFailed),
		slog.Int64("retried", st.Retried),
		slog.Int64("triples", st.Triples),
		slog.Duration("elapsed", time.Since(start)),
	)

	return err
}

// Spawn crawls uri and everything reachable from it. depthCurrent below
// depthMax follows every link; at depthMax only mandatory links are
// followed. isRetry bypasses the visited check. Spawn returns after every
// descendant branch has returned; only fatal errors are returned.
func (c *Crawler) Spawn(ctx context.Context, uri string, depthMax, depthCurrent int, isRetry bool) error {
	target, ok := c.admit(uri, isRetry)
	if !ok {
		return nil
	}

	sg, err := c.fetchWithRetry(ctx, target)
	if err != nil {
		return c.classify(ctx, target, err)
	}

	if err := c.sink.Write(*sg); err != nil {
		return fmt.Errorf("crawl: writing <%s>: %w", target, err)
	}

	c.count(outcomeFetched)
	c.stats.triples.Add(int64(len(sg.Triples)))
	c.metrics.addTriples(len(sg.Triples))

	c.logger.Debug("fetched",
		slog.String("uri", target),
		slog.Int("depth", depthCurrent),
		slog.Int("triples", len(sg.Triples)),
	)

	next := sg.Mandatory
	if depthCurrent < depthMax {
		next = sg.Optional
	}

	if len(next) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, link := range next {
		g.Go(func() error {
			return c.Spawn(gctx, link, depthMax, depthCurrent+1, false)
		})
	}

	return g.Wait()
}

// admit normalizes uri and applies dedup, origin and blacklist checks.
func (c *Crawler) admit(uri string, isRetry bool) (string, bool) {
	u, err := c.origin.Parse(uri)
	if err != nil {
		c.count(outcomeInvalid)
		c.logger.Warn("skipping invalid URL", slog.String("uri", uri), slog.String("error", err.Error()))

		return "", false
	}

	u.Fragment = ""
	u.RawFragment = ""
	target := u.String()

	if isRetry {
		return target, true
	}

	if !c.visited.Claim(target) {
		return "", false
	}

	if origin := u.Scheme + "://" + u.Host; origin != c.originStr {
		c.count(outcomeForeign)

		c.mu.Lock()
		first := !c.warnedOrigins[origin]
		c.warnedOrigins[origin] = true
		c.mu.Unlock()

		if first {
			c.logger.Warn("skipping outside domain", slog.String("origin", origin))
		}

		return "", false
	}

	if prefix, ok := c.blacklist.Match(u.RequestURI()); ok {
		c.count(outcomeBlacklisted)
		c.logger.Warn("skipping blacklisted", slog.String("path", u.RequestURI()), slog.String("prefix", prefix))

		return "", false
	}

	return target, true
}

// fetchWithRetry fetches target, retrying transient failures after a
// fixed delay. The permit is released before every wait.
func (c *Crawler) fetchWithRetry(ctx context.Context, target string) (*Subgraph, error) {
	var (
		sg      *Subgraph
		retries int
	)

	b := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewConstant(c.backoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		got, err := c.fetchOnce(ctx, target)
		if err != nil {
			if ctx.Err() == nil && oslc.IsTransient(err) && retries < c.maxRetries {
				retries++
				c.count(outcomeRetried)
				c.logger.Warn("transient error, retrying",
					slog.String("uri", target),
					slog.Duration("backoff", c.backoff),
					slog.String("error", err.Error()),
				)

				return retry.RetryableError(err)
			}

			return err
		}

		sg = got

		return nil
	})

	return sg, err
}

// fetchOnce holds a permit for one fetch, consuming and closing the stream
// before the permit is released.
func (c *Crawler) fetchOnce(ctx context.Context, target string) (*Subgraph, error) {
	release, err := c.pool.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	sg := &Subgraph{URI: target}
	optional := newLinkSet()
	mandatory := newLinkSet()
	remap := triple.NewRemapper(c.labels)

	for {
		t, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		t.Subject = c.node(t.Subject, remap, optional)

		if t.Predicate.IsIRI() {
			optional.add(t.Predicate.Value)

			// The object also lands in the optional set below. The remapper
			// returns the same label for a blank node on both calls.
			if c.mandatory[t.Predicate.Value] {
				c.node(t.Object, remap, mandatory)
			}
		}

		t.Object = c.node(t.Object, remap, optional)

		sg.Triples = append(sg.Triples, t)
	}

	sg.Optional = optional.list
	sg.Mandatory = mandatory.list

	return sg, nil
}

// node records named terms as links and rewrites blank nodes.
func (c *Crawler) node(t triple.Term, remap *triple.Remapper, links *linkSet) triple.Term {
	switch {
	case t.IsBlank():
		return remap.Term(t)
	case t.IsIRI():
		if links.add(t.Value) {
			c.notePrefix(t.Value)
		}
	}

	return t
}

// notePrefix writes a dng_type_<id> prefix the first time a custom type
// namespace is seen.
func (c *Crawler) notePrefix(iri string) {
	pw, ok := c.sink.(PrefixWriter)
	if !ok || !strings.HasPrefix(iri, c.typePrefix) {
		return
	}

	frag := strings.IndexByte(iri, '#')
	if frag < 0 {
		return
	}

	slice := iri[len(c.typePrefix):frag]
	if slice == "" || strings.Contains(slice, "/") {
		return
	}

	name := "dng_type_" + slice

	c.mu.Lock()
	seen := c.prefixes[name]
	c.prefixes[name] = true
	c.mu.Unlock()

	if seen {
		return
	}

	if err := pw.WritePrefix(name, iri[:frag+1]); err != nil {
		c.logger.Warn("writing prefix", slog.String("prefix", name), slog.String("error", err.Error()))
	}
}

// classify turns a failed fetch into either a logged, abandoned branch
// (nil) or a fatal error.
func (c *Crawler) classify(ctx context.Context, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("crawl: <%s>: %w", target, ctxErr)
	}

	var (
		skip    *oslc.SkipError
		httpErr *oslc.HTTPError
	)

	switch {
	case errors.As(err, &skip):
		c.count(outcomeSkipped)
		c.logger.Debug("skipped", slog.String("uri", target), slog.String("content_type", skip.ContentType))

		return nil
	case errors.As(err, &httpErr):
		c.count(outcomeHTTPFailed)
		c.logger.Error("fetch failed",
			slog.String("uri", target),
			slog.Int("status", httpErr.StatusCode),
			slog.Any("headers", httpErr.Header),
			slog.String("body", httpErr.Body),
		)

		return nil
	case oslc.IsTransient(err):
		c.count(outcomeAbandoned)
		c.logger.Error("giving up after retries",
			slog.String("uri", target),
			slog.Int("retries", c.maxRetries),
			slog.String("error", err.Error()),
		)

		return nil
	case errors.Is(err, triple.ErrDecode):
		c.count(outcomeMalformed)
		c.logger.Error("malformed document", slog.String("uri", target), slog.String("error", err.Error()))

		return nil
	default:
		return fmt.Errorf("crawl: fetching <%s>: %w", target, err)
	}
}

func (c *Crawler) count(outcome string) {
	switch outcome {
	case outcomeFetched:
		c.stats.fetched.Add(1)
	case outcomeSkipped:
		c.stats.skipped.Add(1)
	case outcomeHTTPFailed:
		c.stats.httpFailed.Add(1)
	case outcomeMalformed:
		c.stats.malformed.Add(1)
	case outcomeRetried:
		c.stats.retried.Add(1)
	case outcomeAbandoned:
		c.stats.abandoned.Add(1)
	case outcomeBlacklisted:
		c.stats.blacklisted.Add(1)
	case outcomeForeign:
		c.stats.foreign.Add(1)
	case outcomeInvalid:
		c.stats.invalid.Add(1)
	}

	c.metrics.observe(outcome)
}

// linkSet is an insertion-ordered string set local to one subgraph.
type linkSet struct {
	seen map[string]bool
	list []string
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]bool)}
}

func (l *linkSet) add(s string) bool {
	if l.seen[s] {
		return false
	}

	l.seen[s] = true
	l.list = append(l.list, s)

	return true
}
