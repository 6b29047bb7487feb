package crawl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	gosync "sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmbee/dngsync/internal/oslc"
	"github.com/openmbee/dngsync/internal/triple"
)

const origin = "https://dng.example.org"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func res(id string) string { return origin + "/rm/resources/" + id }

func link(from, pred, to string) triple.Triple {
	return triple.Triple{Subject: triple.IRI(from), Predicate: triple.IRI(pred), Object: triple.IRI(to)}
}

const (
	pLink  = "http://example.org/link"
	pTitle = "http://purl.org/dc/terms/title"
)

// fakeFetcher serves a fixed graph. errs holds per-URI error sequences
// consumed before the graph is served.
type fakeFetcher struct {
	mu     gosync.Mutex
	graph  map[string][]triple.Triple
	errs   map[string][]error
	calls  map[string]int
	always map[string]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFakeFetcher(graph map[string][]triple.Triple) *fakeFetcher {
	return &fakeFetcher{
		graph:  graph,
		errs:   make(map[string][]error),
		calls:  make(map[string]int),
		always: make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, uri string) (triple.Stream, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[uri]++

	if err, ok := f.always[uri]; ok {
		return nil, err
	}

	if seq := f.errs[uri]; len(seq) > 0 {
		f.errs[uri] = seq[1:]
		return nil, seq[0]
	}

	ts, ok := f.graph[uri]
	if !ok {
		return nil, &oslc.HTTPError{URL: uri, StatusCode: http.StatusNotFound, Err: oslc.ErrNotFound}
	}

	return triple.NewSliceStream(ts), nil
}

func (f *fakeFetcher) callCount(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[uri]
}

// recordingSink keeps every subgraph written.
type recordingSink struct {
	mu       gosync.Mutex
	writes   []Subgraph
	prefixes map[string]string
}

func (s *recordingSink) Write(sg Subgraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes = append(s.writes, sg)

	return nil
}

func (s *recordingSink) WritePrefix(name, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefixes == nil {
		s.prefixes = make(map[string]string)
	}

	s.prefixes[name] = ns

	return nil
}

func (s *recordingSink) uris() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.writes))
	for i, w := range s.writes {
		out[i] = w.URI
	}

	return out
}

func (s *recordingSink) subgraph(uri string) (Subgraph, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.writes {
		if w.URI == uri {
			return w, true
		}
	}

	return Subgraph{}, false
}

func newTestCrawler(t *testing.T, f Fetcher, sink Sink, opts Options) *Crawler {
	t.Helper()

	if opts.Origin == "" {
		opts.Origin = origin
	}

	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}

	c, err := New(f, sink, opts, testLogger(t))
	require.NoError(t, err)

	return c
}

func TestNew_RejectsBadOrigin(t *testing.T) {
	_, err := New(newFakeFetcher(nil), &recordingSink{}, Options{Origin: "not a url"}, nil)
	require.Error(t, err)
}

func TestCrawl_CycleTerminates(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B"))},
		res("B"): {link(res("B"), pLink, res("C"))},
		res("C"): {link(res("C"), pLink, res("A"))},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 5))

	assert.ElementsMatch(t, []string{res("A"), res("B"), res("C")}, sink.uris())
	assert.Equal(t, int64(3), c.Stats().Fetched)
}

func TestCrawl_FetchesEachURIOnce(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B")), link(res("A"), pLink, res("C"))},
		res("B"): {link(res("B"), pLink, res("D")), link(res("B"), pLink, res("D") + "#frag")},
		res("C"): {link(res("C"), pLink, res("D"))},
		res("D"): {link(res("D"), pLink, res("A"))},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{Concurrency: 4})
	require.NoError(t, c.Run(context.Background(), []string{res("A"), res("D")}, 10))

	counts := make(map[string]int)
	for _, u := range sink.uris() {
		counts[u]++
	}

	for _, id := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, 1, counts[res(id)], id)
		assert.Equal(t, 1, f.callCount(res(id)), id)
	}
}

func TestCrawl_MandatoryLinksIgnoreDepth(t *testing.T) {
	shape := origin + "/rm/types/S1"

	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B"))},
		res("B"): {
			link(res("B"), triple.OSLCInstanceShape, shape),
			link(res("B"), pLink, res("X")),
		},
		shape:    {{Subject: triple.IRI(shape), Predicate: triple.IRI(pTitle), Object: triple.Literal("Shape", "", "")}},
		res("X"): {},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 1))

	assert.ElementsMatch(t, []string{res("A"), res("B"), shape}, sink.uris())
	assert.Zero(t, f.callCount(res("X")))
}

func TestCrawl_DepthZeroFetchesOnlySeedAndShape(t *testing.T) {
	shape := origin + "/rm/types/S1"

	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {
			link(res("A"), triple.OSLCInstanceShape, shape),
			link(res("A"), pLink, res("B")),
		},
		shape:    {},
		res("B"): {},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 0))

	assert.ElementsMatch(t, []string{res("A"), shape}, sink.uris())
}

func TestCrawl_BlankNodesIsolatedBetweenSubgraphs(t *testing.T) {
	blank := func(subj string) []triple.Triple {
		return []triple.Triple{
			{Subject: triple.IRI(subj), Predicate: triple.IRI(pLink), Object: triple.Blank("b1")},
			{Subject: triple.Blank("b1"), Predicate: triple.IRI(pTitle), Object: triple.Literal(subj, "", "")},
		}
	}

	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): blank(res("A")),
		res("B"): blank(res("B")),
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A"), res("B")}, 0))

	a, ok := sink.subgraph(res("A"))
	require.True(t, ok)
	b, ok := sink.subgraph(res("B"))
	require.True(t, ok)

	// Within a subgraph, the same source label maps to the same node.
	assert.Equal(t, a.Triples[0].Object, a.Triples[1].Subject)
	assert.Equal(t, b.Triples[0].Object, b.Triples[1].Subject)

	// Across subgraphs, the labels never collide.
	assert.NotEqual(t, a.Triples[0].Object.Value, b.Triples[0].Object.Value)
}

func TestCrawl_RetriesTransientErrors(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B"))},
		res("B"): {},
	})
	f.errs[res("A")] = []error{syscall.ECONNRESET, syscall.EPIPE}
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 3))

	assert.ElementsMatch(t, []string{res("A"), res("B")}, sink.uris())
	assert.Equal(t, 3, f.callCount(res("A")))
	assert.Equal(t, int64(2), c.Stats().Retried)
}

// truncatingFetcher serves N-Triples bodies whose first resets connections
// partway through.
type truncatingFetcher struct {
	mu     gosync.Mutex
	bodies map[string]string
	resets map[string]int
	calls  map[string]int
}

// resetReader serves data, then fails the way a dropped connection does.
type resetReader struct {
	data string
}

func (r *resetReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, syscall.ECONNRESET
	}

	n := copy(p, r.data)
	r.data = r.data[n:]

	return n, nil
}

func (f *truncatingFetcher) Fetch(_ context.Context, uri string) (triple.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[uri]++
	body := f.bodies[uri]

	if f.resets[uri] > 0 {
		f.resets[uri]--
		return triple.NewDecoder(&resetReader{data: body[:len(body)/2]}, triple.FormatNTriples, nil), nil
	}

	return triple.NewDecoder(strings.NewReader(body), triple.FormatNTriples, nil), nil
}

func TestCrawl_RetriesConnectionResetMidBody(t *testing.T) {
	f := &truncatingFetcher{
		bodies: map[string]string{
			res("A"): "<" + res("A") + "> <" + pLink + "> <" + res("B") + "> .\n" +
				"<" + res("A") + "> <" + pTitle + "> \"Requirement A\" .\n",
			res("B"): "<" + res("B") + "> <" + pTitle + "> \"Requirement B\" .\n",
		},
		resets: map[string]int{res("A"): 1},
		calls:  make(map[string]int),
	}
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 3))

	assert.ElementsMatch(t, []string{res("A"), res("B")}, sink.uris())
	assert.Equal(t, 2, f.calls[res("A")])

	st := c.Stats()
	assert.Equal(t, int64(1), st.Retried)
	assert.Zero(t, st.Malformed)

	sg, ok := sink.subgraph(res("A"))
	require.True(t, ok)
	assert.Len(t, sg.Triples, 2)
}

func TestCrawl_RetriesAreBounded(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B"))},
		res("B"): {},
	})
	f.always[res("B")] = syscall.ETIMEDOUT
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{MaxRetries: 2})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 3))

	assert.Equal(t, []string{res("A")}, sink.uris())
	assert.Equal(t, 3, f.callCount(res("B")))

	st := c.Stats()
	assert.Equal(t, int64(2), st.Retried)
	assert.Equal(t, int64(1), st.Abandoned)
}

func TestCrawl_SkipAndHTTPErrorsDropBranchOnly(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {
			link(res("A"), pLink, res("img")),
			link(res("A"), pLink, res("missing")),
			link(res("A"), pLink, res("bad")),
			link(res("A"), pLink, res("C")),
		},
		res("C"): {},
	})
	f.always[res("img")] = &oslc.SkipError{URL: res("img"), ContentType: "image/png"}
	f.always[res("bad")] = errors.Join(triple.ErrDecode, errors.New("unexpected token"))
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 3))

	assert.ElementsMatch(t, []string{res("A"), res("C")}, sink.uris())

	st := c.Stats()
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, int64(1), st.Malformed)
	assert.Equal(t, int64(1), st.HTTPFailed)
}

func TestCrawl_FatalErrorPropagates(t *testing.T) {
	boom := errors.New("boom")

	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B"))},
	})
	f.always[res("B")] = boom

	c := newTestCrawler(t, f, &recordingSink{}, Options{})
	err := c.Run(context.Background(), []string{res("A")}, 3)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), res("B"))
}

func TestCrawl_ForeignOriginAndBlacklist(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {
			link(res("A"), "https://other.example.org/vocab#p", "https://other.example.org/x"),
			link(res("A"), "https://other.example.org/vocab#p", "https://other.example.org/y"),
			link(res("A"), pLink, origin+"/rm/accessControl/123"),
			link(res("A"), pLink, origin+"/rm/views?oslc.query=true"),
		},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 3))

	assert.Zero(t, f.callCount(origin+"/rm/accessControl/123"))
	assert.Zero(t, f.callCount("https://other.example.org/x"))

	st := c.Stats()
	assert.Equal(t, int64(2), st.Blacklisted)
	// Both other-origin links, their predicate and pLink.
	assert.Equal(t, int64(4), st.Foreign)
}

func TestCrawl_RelativeLinksResolveAgainstOrigin(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, "/rm/resources/B")},
		res("B"): {},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{"/rm/resources/A"}, 3))

	assert.ElementsMatch(t, []string{res("A"), res("B")}, sink.uris())
}

func TestCrawl_CustomTypePrefixWrittenOnce(t *testing.T) {
	typ := origin + "/rm/types/T1#"

	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), typ+"p1", res("B")), link(res("A"), typ+"p2", res("B"))},
		res("B"): {link(res("B"), typ+"p1", res("A"))},
	})
	sink := &recordingSink{}

	c := newTestCrawler(t, f, sink, Options{})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 0))

	assert.Equal(t, map[string]string{"dng_type_T1": typ}, sink.prefixes)
}

func TestCrawl_RespectsConcurrency(t *testing.T) {
	graph := map[string][]triple.Triple{}
	var fan []triple.Triple

	for i := range 20 {
		id := string(rune('a' + i))
		fan = append(fan, link(res("root"), pLink, res(id)))
		graph[res(id)] = nil
	}

	graph[res("root")] = fan

	f := newFakeFetcher(graph)
	f.delay = 2 * time.Millisecond

	c := newTestCrawler(t, f, &recordingSink{}, Options{Concurrency: 3})
	require.NoError(t, c.Run(context.Background(), []string{res("root")}, 1))

	assert.LessOrEqual(t, f.maxInFlight.Load(), int32(3))
}

func TestCrawl_CanceledContext(t *testing.T) {
	f := newFakeFetcher(map[string][]triple.Triple{res("A"): {}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCrawler(t, f, &recordingSink{}, Options{})
	err := c.Run(ctx, []string{res("A")}, 3)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCrawl_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newFakeFetcher(map[string][]triple.Triple{
		res("A"): {link(res("A"), pLink, res("B"))},
		res("B"): {},
	})

	c := newTestCrawler(t, f, &recordingSink{}, Options{Metrics: m})
	require.NoError(t, c.Run(context.Background(), []string{res("A")}, 0))

	assert.InDelta(t, 1, testutil.ToFloat64(m.resources.WithLabelValues(outcomeFetched)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.triples), 0)
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// Disabled metrics are safe to use.
	m.observe(outcomeFetched)
	m.addTriples(3)
}

func TestNTriplesSink(t *testing.T) {
	var buf bytes.Buffer

	sink := NewNTriplesSink(&buf)
	require.NoError(t, sink.WritePrefix("dng_type_T1", origin+"/rm/types/T1#"))
	require.NoError(t, sink.Write(Subgraph{
		URI:     res("A"),
		Triples: []triple.Triple{link(res("A"), pLink, res("B"))},
	}))
	require.NoError(t, sink.Close())

	out := buf.String()
	assert.Equal(t, 1, sink.Count())
	assert.True(t, strings.HasPrefix(out, "# @prefix dng_type_T1: <"+origin+"/rm/types/T1#> ."))
	assert.Contains(t, out, "<"+res("A")+"> <"+pLink+"> <"+res("B")+"> .")

	ts, err := triple.Collect(triple.NewDecoder(strings.NewReader(out), triple.FormatNTriples, nil))
	require.NoError(t, err)
	assert.Len(t, ts, 1)
}
