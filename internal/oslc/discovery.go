package oslc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/openmbee/dngsync/internal/triple"
)

// ErrNoProject is returned when no service provider carries the requested
// project title.
var ErrNoProject = errors.New("oslc: no such project")

var projectIDPattern = regexp.MustCompile(`^.+/rm/oslc_rm/([^/]+)/services\.xml$`)

// Project describes one requirements project as advertised by its service
// provider document.
type Project struct {
	ID         string
	Name       string
	URI        string
	Components []string

	// RequirementQuery is the query base of the requirement capability,
	// FolderQuery that of the folder capability. Either may be empty.
	RequirementQuery string
	FolderQuery      string
}

// Component returns the single configuration component of the project.
func (p *Project) Component() (string, error) {
	switch len(p.Components) {
	case 0:
		return "", fmt.Errorf("oslc: project %s has no components", p.Name)
	case 1:
		return p.Components[0], nil
	default:
		return "", fmt.Errorf("oslc: project %s has multiple components", p.Name)
	}
}

// ServiceProviders lists the catalog URIs published in rootservices.
func (c *Client) ServiceProviders(ctx context.Context) ([]string, error) {
	g, err := c.Load(ctx, c.origin+"/rm/rootservices")
	if err != nil {
		return nil, fmt.Errorf("oslc: loading rootservices: %w", err)
	}

	var out []string

	for _, o := range g.ObjectsOf(triple.RMServiceProviders) {
		if o.IsIRI() {
			out = append(out, o.Value)
		}
	}

	return out, nil
}

// FindProject resolves a project by title through the service provider
// catalogs and loads its service description.
func (c *Client) FindProject(ctx context.Context, name string) (*Project, error) {
	catalogs, err := c.ServiceProviders(ctx)
	if err != nil {
		return nil, err
	}

	titles := make(map[string]string)

	for _, catalog := range catalogs {
		g, err := c.Load(ctx, catalog)
		if err != nil {
			return nil, fmt.Errorf("oslc: loading catalog <%s>: %w", catalog, err)
		}

		for _, t := range triplesWith(g, triple.DCTTitle) {
			titles[t.Object.Value] = t.Subject.Value
		}
	}

	uri, ok := titles[name]
	if !ok {
		known := make([]string, 0, len(titles))
		for title := range titles {
			known = append(known, title)
		}

		sort.Strings(known)

		return nil, fmt.Errorf("%w named %q (found: %s)", ErrNoProject, name, strings.Join(known, ", "))
	}

	m := projectIDPattern.FindStringSubmatch(uri)
	if m == nil {
		return nil, fmt.Errorf("oslc: cannot parse project id from <%s>", uri)
	}

	g, err := c.Load(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("oslc: loading project <%s>: %w", uri, err)
	}

	p := &Project{ID: m[1], Name: name, URI: uri}

	seen := make(map[string]bool)

	for _, o := range g.ObjectsOf(triple.ConfigComponent) {
		if o.IsIRI() && !seen[o.Value] {
			seen[o.Value] = true
			p.Components = append(p.Components, o.Value)
		}
	}

	for _, capability := range g.Subjects(triple.RDFType, triple.IRI(triple.OSLCQueryCapability)) {
		base := g.Value(capability, triple.OSLCQueryBase)

		for _, rt := range g.Objects(capability, triple.OSLCResourceType) {
			switch rt.Value {
			case triple.RMRequirement, triple.RMRequirementCollection:
				if p.RequirementQuery == "" {
					p.RequirementQuery = base
				}
			case triple.NavFolder:
				if p.FolderQuery == "" {
					p.FolderQuery = base
				}
			}
		}
	}

	c.logger.Info("resolved project",
		slog.String("name", name),
		slog.String("id", p.ID),
		slog.Int("components", len(p.Components)),
	)

	return p, nil
}

// Seeds gathers the requirement URIs a crawl starts from: the requirements
// used by the given modules, the requirements whose parent is one of the
// given folders, or, when neither is given, every requirement returned by
// the project's requirement query.
func (c *Client) Seeds(ctx context.Context, p *Project, modules, folders []string) ([]string, error) {
	set := make(map[string]bool)

	for _, module := range modules {
		g, err := c.Load(ctx, module)
		if err != nil {
			return nil, fmt.Errorf("oslc: loading module <%s>: %w", module, err)
		}

		for _, o := range g.ObjectsOf(triple.RMUses) {
			if o.IsIRI() {
				set[o.Value] = true
			}
		}
	}

	for _, folder := range folders {
		if p.RequirementQuery == "" {
			return nil, fmt.Errorf("oslc: project %s has no requirement query capability", p.Name)
		}

		q := url.Values{
			"oslc.prefix": {"nav=<" + triple.NSJazzNav + ">"},
			"oslc.where":  {"nav:parent=<" + folder + ">"},
		}

		if err := c.collectRequirements(ctx, withQuery(p.RequirementQuery, q), set); err != nil {
			return nil, fmt.Errorf("oslc: querying folder <%s>: %w", folder, err)
		}
	}

	if len(modules) == 0 && len(folders) == 0 {
		if p.RequirementQuery == "" {
			return nil, fmt.Errorf("oslc: project %s has no requirement query capability", p.Name)
		}

		if err := c.collectRequirements(ctx, p.RequirementQuery, set); err != nil {
			return nil, fmt.Errorf("oslc: querying requirements: %w", err)
		}
	}

	out := make([]string, 0, len(set))
	for uri := range set {
		out = append(out, uri)
	}

	sort.Strings(out)

	c.logger.Info("gathered seeds", slog.Int("requirements", len(out)))

	return out, nil
}

func (c *Client) collectRequirements(ctx context.Context, queryURL string, into map[string]bool) error {
	g, err := c.Load(ctx, queryURL)
	if err != nil {
		return err
	}

	for _, s := range g.Subjects(triple.RDFType, triple.IRI(triple.RMRequirement)) {
		if s.IsIRI() {
			into[s.Value] = true
		}
	}

	return nil
}

func withQuery(base string, q url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	return base + sep + q.Encode()
}

func triplesWith(g *triple.Graph, predicate string) []triple.Triple {
	var out []triple.Triple

	for _, t := range g.Triples() {
		if t.Predicate.Value == predicate && t.Subject.IsIRI() {
			out = append(out, t)
		}
	}

	return out
}
