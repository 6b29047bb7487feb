package mms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Index names one index of the model query server.
type Index string

// Indexes of the query server, in the order a compartment is loaded.
const (
	IndexPersistent    Index = "persistent"
	IndexInMemory      Index = "inmemory"
	IndexElasticSearch Index = "elasticSearch"
	IndexNeptune       Index = "neptune"
)

// AllIndexes lists every index in load order.
var AllIndexes = []Index{IndexPersistent, IndexInMemory, IndexElasticSearch, IndexNeptune}

var indexLoadPaths = map[Index]string{
	IndexPersistent:    "/api/persistent-index.indexModelCompartment",
	IndexInMemory:      "/api/inmemory-index.loadModelCompartment",
	IndexElasticSearch: "/api/elastic-search-integration.loadModelCompartment",
	IndexNeptune:       "/api/amazon-neptune-integration.loadModelCompartment",
}

// ErrNoCommits is returned when the query server knows no commit of the
// requested ref.
var ErrNoCommits = errors.New("mms: no indexed commits")

// commitTimeLayouts are tried in order when parsing a commit name.
var commitTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

// IndexClient drives the query server that indexes model server commits.
// Requests share the Client retry loop and Basic authentication.
type IndexClient struct {
	c *Client
}

// Commit is one model server commit known to the query server.
type Commit struct {
	ID      string
	Created time.Time
}

// ReindexResult describes what Reindex changed.
type ReindexResult struct {
	Compartment string
	Loaded      []Index
	Deleted     []string
}

// NewIndexClient creates a client for the query server at server. Unlike
// NewClient, the path of server is kept as the API base.
func NewIndexClient(server string, httpClient *http.Client, creds Credentials, userAgent string, logger *slog.Logger) (*IndexClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mms: invalid query server URL %q", server)
	}

	return &IndexClient{c: &Client{
		service:    u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"),
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}}, nil
}

// CompartmentPrefix is the IRI prefix of every commit compartment of one
// ref of a project.
func CompartmentPrefix(org, project, ref string) string {
	return "mms-index:/orgs/" + org + "/projects/" + project + "/refs/" + ref + "/commits/"
}

// RefreshRepositories makes the query server pick up new commits and
// returns the compartments it created.
func (ic *IndexClient) RefreshRepositories(ctx context.Context) ([]string, error) {
	var body struct {
		NewModelCompartments []string `json:"newModelCompartments"`
	}

	err := ic.c.postJSON(ctx, ic.c.service+"/api/mms-repository.update",
		map[string]any{"returnListOfNewCompartments": true}, &body)
	if err != nil {
		return nil, err
	}

	return body.NewModelCompartments, nil
}

type repositoryInfo struct {
	RepositoryStructure struct {
		Orgs []struct {
			OrgID    string `json:"orgId"`
			Projects []struct {
				ProjectID string `json:"projectId"`
				Refs      []struct {
					RefID   string `json:"refId"`
					Commits []struct {
						CommitID string `json:"commitId"`
						Name     string `json:"name"`
					} `json:"commits"`
				} `json:"refs"`
			} `json:"projects"`
		} `json:"orgs"`
	} `json:"repositoryStructure"`
}

// LatestCommit returns the newest commit of ref known to the query server.
// Commit names carry the commit time; unparsable names are skipped.
func (ic *IndexClient) LatestCommit(ctx context.Context, org, project, ref string) (Commit, error) {
	var info repositoryInfo

	target := ic.c.service + "/api/mms-repository.info?returnAsListOfDescriptors=true"
	if err := ic.c.getJSON(ctx, target, &info); err != nil {
		return Commit{}, err
	}

	var (
		latest Commit
		found  bool
	)

	for _, o := range info.RepositoryStructure.Orgs {
		if o.OrgID != org {
			continue
		}

		for _, p := range o.Projects {
			if p.ProjectID != project {
				continue
			}

			for _, r := range p.Refs {
				if r.RefID != ref {
					continue
				}

				for _, c := range r.Commits {
					created, ok := parseCommitTime(c.Name)
					if !ok {
						ic.c.logger.Warn("skipping commit with unparsable name",
							slog.String("commit", c.CommitID),
							slog.String("name", c.Name),
						)

						continue
					}

					if !found || created.After(latest.Created) {
						latest = Commit{ID: c.CommitID, Created: created}
						found = true
					}
				}
			}
		}
	}

	if !found {
		return Commit{}, fmt.Errorf("%w: %s/%s ref %s", ErrNoCommits, org, project, ref)
	}

	return latest, nil
}

func parseCommitTime(name string) (time.Time, bool) {
	for _, layout := range commitTimeLayouts {
		if t, err := time.Parse(layout, name); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// PersistedCompartments lists the compartments in the persistent index.
func (ic *IndexClient) PersistedCompartments(ctx context.Context) ([]string, error) {
	var body struct {
		PersistedModelCompartments []string `json:"persistedModelCompartments"`
	}

	if err := ic.c.getJSON(ctx, ic.c.service+"/api/persistent-index.listModelCompartments", &body); err != nil {
		return nil, err
	}

	return body.PersistedModelCompartments, nil
}

// LoadCompartment loads compartment into one index.
func (ic *IndexClient) LoadCompartment(ctx context.Context, idx Index, compartment string) error {
	path, ok := indexLoadPaths[idx]
	if !ok {
		return fmt.Errorf("mms: unknown index %q", idx)
	}

	var body any = map[string]any{"compartmentURI": compartment}
	if idx == IndexNeptune {
		body = map[string]any{
			"modelCompartment": map[string]any{"compartmentURI": compartment},
			"format":           "RDF_TURTLE",
		}
	}

	if err := ic.c.postJSON(ctx, ic.c.service+path, body, nil); err != nil {
		return fmt.Errorf("mms: loading %s into %s index: %w", compartment, idx, err)
	}

	return nil
}

// DeleteCompartment drops compartment from every index.
func (ic *IndexClient) DeleteCompartment(ctx context.Context, compartment string) error {
	body := map[string]any{
		"modelCompartment": map[string]any{"compartmentURI": compartment},
		"indexes":          AllIndexes,
	}

	if err := ic.c.postJSON(ctx, ic.c.service+"/api/demo.deleteModelCompartment", body, nil); err != nil {
		return fmt.Errorf("mms: deleting %s: %w", compartment, err)
	}

	return nil
}

// Reindex loads the newest commit of ref into every index and deletes the
// older compartments of that ref.
func (ic *IndexClient) Reindex(ctx context.Context, org, project, ref string) (*ReindexResult, error) {
	logger := ic.c.logger
	prefix := CompartmentPrefix(org, project, ref)

	logger.Info("refreshing repositories")

	created, err := ic.RefreshRepositories(ctx)
	if err != nil {
		return nil, err
	}

	var fresh []string

	for _, c := range created {
		if strings.HasPrefix(c, prefix) {
			fresh = append(fresh, c)
		}
	}

	res := &ReindexResult{}

	if len(fresh) == 1 {
		res.Compartment = fresh[0]
	} else {
		logger.Info("scanning commits", slog.Int("new_compartments", len(fresh)))

		latest, err := ic.LatestCommit(ctx, org, project, ref)
		if err != nil {
			return nil, err
		}

		logger.Info("selected most recent commit",
			slog.String("commit", latest.ID),
			slog.Time("created", latest.Created),
		)

		res.Compartment = prefix + latest.ID
	}

	persisted, err := ic.PersistedCompartments(ctx)
	if err != nil {
		return nil, err
	}

	for _, idx := range AllIndexes {
		logger.Info("loading compartment", slog.String("index", string(idx)), slog.String("compartment", res.Compartment))

		if err := ic.LoadCompartment(ctx, idx, res.Compartment); err != nil {
			return res, err
		}

		res.Loaded = append(res.Loaded, idx)
	}

	for _, old := range persisted {
		if !strings.HasPrefix(old, prefix) || old == res.Compartment {
			continue
		}

		logger.Info("deleting old compartment", slog.String("compartment", old))

		if err := ic.DeleteCompartment(ctx, old); err != nil {
			return res, err
		}

		res.Deleted = append(res.Deleted, old)
	}

	return res, nil
}
