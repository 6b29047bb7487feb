// Package translate turns a crawled N-Triples dump into target element
// records: one Class per requirement, one Property per requirement
// attribute, plus the synthetic project root class.
package translate

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/openmbee/dngsync/internal/delta"
	"github.com/openmbee/dngsync/internal/triple"
)

// ErrForeignURI reports a resource on another origin; it has no element id.
var ErrForeignURI = errors.New("translate: resource is not on the source origin")

// skippedPaths are local resources that carry no requirement data.
var skippedPaths = regexp.MustCompile(`^/rm/(process|cm|accessControl)/`)

// Predicates consumed by the element itself rather than becoming attributes.
var structural = map[string]bool{
	triple.RDFType:           true,
	triple.DCTTitle:          true,
	triple.OSLCInstanceShape: true,
}

// RootID returns the id of the synthetic root class of a project.
func RootID(project string) string {
	return project + "_pm"
}

// Translator converts crawl dumps for one project.
type Translator struct {
	project string
	origin  string
	logger  *slog.Logger

	mu     gosync.Mutex
	warned map[string]bool
}

// New creates a translator. origin is scheme://host of the source server.
func New(project, origin string, logger *slog.Logger) (*Translator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("translate: invalid origin %q", origin)
	}

	if project == "" {
		return nil, errors.New("translate: empty project id")
	}

	return &Translator{
		project: project,
		origin:  u.Scheme + "://" + u.Host,
		logger:  logger,
		warned:  make(map[string]bool),
	}, nil
}

// ElementID derives an element id from a source URI: its path with every
// "/" replaced by "_".
func (t *Translator) ElementID(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("translate: parsing <%s>: %w", uri, err)
	}

	if u.Scheme+"://"+u.Host != t.origin {
		return "", fmt.Errorf("%w: <%s>", ErrForeignURI, uri)
	}

	return strings.ReplaceAll(u.Path, "/", "_"), nil
}

// Translate reads an N-Triples dump and returns the snapshot of elements it
// describes, including the project root.
func (t *Translator) Translate(r io.Reader) (delta.Snapshot, error) {
	ts, err := triple.Collect(triple.NewDecoder(r, triple.FormatNTriples, nil))
	if err != nil {
		return nil, fmt.Errorf("translate: reading dump: %w", err)
	}

	return t.TranslateGraph(triple.NewGraph(ts))
}

// TranslateGraph builds the snapshot from an already loaded graph.
func (t *Translator) TranslateGraph(g *triple.Graph) (delta.Snapshot, error) {
	snap := make(delta.Snapshot)

	root := newClass(RootID(t.project), t.project, t.project)
	for _, rec := range root.elements() {
		snap[rec.ID()] = rec
	}

	reqs := g.Subjects(triple.RDFType, triple.IRI(triple.RMRequirement))
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Value < reqs[j].Value })

	for _, req := range reqs {
		if !req.IsIRI() {
			continue
		}

		recs, err := t.requirement(g, req)
		if errors.Is(err, ErrForeignURI) {
			t.warnOnce("skipping foreign requirement", req.Value)
			continue
		}

		if err != nil {
			return nil, err
		}

		for _, rec := range recs {
			snap[rec.ID()] = rec
		}
	}

	t.logger.Debug("translated",
		slog.String("project", t.project),
		slog.Int("requirements", len(reqs)),
		slog.Int("elements", len(snap)),
	)

	return snap, nil
}

func (t *Translator) requirement(g *triple.Graph, req triple.Term) ([]delta.Record, error) {
	id, err := t.ElementID(req.Value)
	if err != nil {
		return nil, err
	}

	c := newClass(id, RootID(t.project), normalize(g.Value(req, triple.DCTTitle)))
	c.addValue(kindString, "source", "Source", req.Value)

	for _, p := range g.Predicates(req) {
		if structural[p] {
			continue
		}

		// Objects form a set; fix their order so ids are stable.
		objs := append([]triple.Term(nil), g.Objects(req, p)...)
		sort.Slice(objs, func(i, j int) bool { return objs[i].Value < objs[j].Value })

		if err := t.property(g, c, p, objs); err != nil {
			return nil, fmt.Errorf("translate: <%s> %s: %w", req.Value, p, err)
		}
	}

	return c.elements(), nil
}

func (t *Translator) property(g *triple.Graph, c *class, pred string, objs []triple.Term) error {
	label := t.title(g, pred)
	first := objs[0]

	switch {
	case first.IsIRI():
		if t.isArtifact(first.Value) {
			return t.relations(c, pred, label, objs)
		}

		if u, err := url.Parse(first.Value); err == nil && t.isLocal(first.Value) && skippedPaths.MatchString(u.Path) {
			t.logger.Debug("skipping property", slog.String("predicate", pred), slog.String("object", first.Value))
			return nil
		}

		values := make([]any, 0, len(objs))
		for _, o := range objs {
			if o.IsIRI() {
				values = append(values, t.title(g, o.Value))
			} else {
				values = append(values, o.Value)
			}
		}

		addValues(c, kindString, pred, label, values)

		return nil
	case first.IsLiteral():
		kind := literalKind(first.Datatype)

		values := make([]any, 0, len(objs))
		for _, o := range objs {
			v, err := literalValue(kind, o)
			if err != nil {
				return err
			}

			values = append(values, v)
		}

		addValues(c, kind, pred, label, values)

		return nil
	default:
		t.warnOnce("skipping blank-node property", pred)
		return nil
	}
}

func addValues(c *class, kind, key, label string, values []any) {
	if len(values) == 1 {
		c.addValue(kind, key, label, values[0])
		return
	}

	c.addValues(kind, key, label, values)
}

func (t *Translator) relations(c *class, pred, label string, objs []triple.Term) error {
	var targets []string

	for _, o := range objs {
		if !o.IsIRI() || !t.isArtifact(o.Value) {
			t.warnOnce("dropping non-artifact relation value", pred)
			continue
		}

		id, err := t.ElementID(o.Value)
		if err != nil {
			return err
		}

		targets = append(targets, id)
	}

	if len(targets) == 1 {
		c.addRelation(pred, label, targets[0])
		return nil
	}

	for i, target := range targets {
		c.addRelation(pred+"_"+strconv.Itoa(i), label, target)
	}

	return nil
}

func (t *Translator) isLocal(uri string) bool {
	return strings.HasPrefix(uri, t.origin+"/")
}

func (t *Translator) isArtifact(uri string) bool {
	return strings.HasPrefix(uri, t.origin+"/rm/resources/")
}

// title returns a human-readable name for a resource: its dct:title,
// rdfs:label, foaf:nick or foaf:name, else the IRI's local name.
func (t *Translator) title(g *triple.Graph, iri string) string {
	s := triple.IRI(iri)

	for _, p := range []string{triple.DCTTitle, triple.RDFSLabel, triple.FOAFNick, triple.FOAFName} {
		if v := g.Value(s, p); v != "" {
			return normalize(v)
		}
	}

	return localName(iri)
}

func localName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}

	return iri
}

func (t *Translator) warnOnce(msg, subject string) {
	t.mu.Lock()
	first := !t.warned[msg+subject]
	t.warned[msg+subject] = true
	t.mu.Unlock()

	if first {
		t.logger.Warn(msg, slog.String("iri", subject))
	}
}

// normalize returns s in NFC with surrounding whitespace trimmed and inner
// runs collapsed, so names compare equal across serializations.
func normalize(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func literalKind(datatype string) string {
	switch strings.TrimPrefix(datatype, triple.NSXSD) {
	case "integer", "int", "long", "short", "nonNegativeInteger", "positiveInteger":
		return kindInteger
	case "double", "float", "decimal":
		return kindReal
	case "boolean":
		return kindBoolean
	default:
		return kindString
	}
}

func literalValue(kind string, o triple.Term) (any, error) {
	switch kind {
	case kindInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(o.Value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer literal %q: %w", o.Value, err)
		}

		return n, nil
	case kindReal:
		f, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("real literal %q: %w", o.Value, err)
		}

		return f, nil
	case kindBoolean:
		return strings.EqualFold(strings.TrimSpace(o.Value), "true") || o.Value == "1", nil
	}

	if o.Datatype == triple.NSXSD+"dateTime" {
		if ts, err := time.Parse(time.RFC3339Nano, o.Value); err == nil {
			return ts.UTC().Format("2006-01-02T15:04:05.000Z"), nil
		}
	}

	return norm.NFC.String(o.Value), nil
}
