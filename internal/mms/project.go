package mms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openmbee/dngsync/internal/delta"
	"github.com/openmbee/dngsync/internal/lineage"
)

// Ref is a branch or tag of a project. Tags created for baselines carry
// the baseline's metadata.
type Ref struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ParentRefID string `json:"parentRefId,omitempty"`
	Type        string `json:"type"`

	URI           string `json:"uri,omitempty"`
	Created       string `json:"created,omitempty"`
	Creator       string `json:"creator,omitempty"`
	Overrides     string `json:"overrides,omitempty"`
	Previous      string `json:"previous,omitempty"`
	Streams       string `json:"streams,omitempty"`
	Description   string `json:"description,omitempty"`
	BasedOnStream string `json:"basedOnStream,omitempty"`
}

// ProjectInfo describes a project to create.
type ProjectInfo struct {
	Type  string `json:"type"`
	OrgID string `json:"orgId"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

// Applied counts what ApplyDeltas sent.
type Applied struct {
	Added   int
	Deleted int
}

// TagID returns the ref id of the tag for a baseline. It depends only on
// the baseline id, so re-running a sync finds the tag it created before.
func TagID(baselineID string) string {
	sum := sha256.Sum256([]byte("baseline." + baselineID))
	return hex.EncodeToString(sum[:])
}

// Version returns the server's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var body struct {
		Version string `json:"mmsVersion"`
	}

	if err := c.getJSON(ctx, c.service+"/mmsversion", &body); err != nil {
		return "", err
	}

	return body.Version, nil
}

// Create ensures the project exists. With reset, an existing project is
// deleted first. It reports whether the project was (re)created.
func (c *Client) Create(ctx context.Context, name string, reset bool) (bool, error) {
	err := c.send(ctx, http.MethodGet, c.projectURL(), nil)

	switch {
	case errors.Is(err, ErrNotFound):
		c.logger.Warn("project does not exist; creating", slog.String("project", c.project))
	case err != nil:
		return false, fmt.Errorf("mms: checking project: %w", err)
	case reset:
		c.logger.Info("deleting project for reset", slog.String("project", c.project))

		if err := c.send(ctx, http.MethodDelete, c.projectURL(), nil); err != nil {
			return false, fmt.Errorf("mms: deleting project: %w", err)
		}
	default:
		return false, nil
	}

	if c.org == "" {
		return false, errors.New("mms: creating project: no organization configured")
	}

	p := ProjectsPayload{Projects: []ProjectInfo{{
		Type:  "Project",
		OrgID: c.org,
		ID:    c.project,
		Name:  strings.Join(strings.Fields(name), " "),
	}}}

	if err := c.Upload(ctx, p, ""); err != nil {
		return false, fmt.Errorf("mms: creating project: %w", err)
	}

	return true, nil
}

// Refs returns the project's refs keyed by id.
func (c *Client) Refs(ctx context.Context) (map[string]Ref, error) {
	var body struct {
		Refs []Ref `json:"refs"`
	}

	if err := c.getJSON(ctx, c.refsURL(), &body); err != nil {
		return nil, fmt.Errorf("mms: listing refs: %w", err)
	}

	out := make(map[string]Ref, len(body.Refs))
	for _, r := range body.Refs {
		out[r.ID] = r
	}

	return out, nil
}

// Upload sends one payload. ref is ignored by payloads that are not
// scoped to a ref.
func (c *Client) Upload(ctx context.Context, p Payload, ref string) error {
	start := time.Now()
	method, target := p.method(), p.endpoint(c, ref)

	if err := c.send(ctx, method, target, p.body()); err != nil {
		return err
	}

	c.logger.Debug("uploaded",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("items", p.size()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// ApplyDeltas sends deletions and then additions to ref in batches.
func (c *Client) ApplyDeltas(ctx context.Context, d delta.Delta, ref string) (Applied, error) {
	c.logger.Info("applying delta",
		slog.String("ref", ref),
		slog.Int("deleted", len(d.Deleted)),
		slog.Int("added", len(d.Added)),
	)

	var applied Applied

	for start := 0; start < len(d.Deleted); start += c.batchSize {
		batch := d.Deleted[start:min(start+c.batchSize, len(d.Deleted))]

		if err := c.Upload(ctx, DeletionsPayload{IDs: batch}, ref); err != nil {
			return applied, fmt.Errorf("mms: deleting elements: %w", err)
		}

		applied.Deleted += len(batch)
	}

	for start := 0; start < len(d.Added); start += c.batchSize {
		batch := d.Added[start:min(start+c.batchSize, len(d.Added))]

		if err := c.Upload(ctx, ElementsPayload{Elements: batch}, ref); err != nil {
			return applied, fmt.Errorf("mms: adding elements: %w", err)
		}

		applied.Added += len(batch)
	}

	return applied, nil
}

// TagHeadAsBaseline tags the current head of ref as b and returns the tag
// id.
func (c *Client) TagHeadAsBaseline(ctx context.Context, b lineage.Baseline, ref string) (string, error) {
	tag := Ref{
		ID:            TagID(b.ID),
		Name:          b.Title,
		ParentRefID:   ref,
		Type:          "Tag",
		URI:           b.URI,
		Creator:       b.Creator,
		Overrides:     b.Overrides,
		Previous:      b.Previous,
		Streams:       b.Streams,
		Description:   b.Description,
		BasedOnStream: b.StreamURI,
	}

	if !b.Created.IsZero() {
		tag.Created = b.Created.UTC().Format(time.RFC3339Nano)
	}

	if err := c.Upload(ctx, RefsPayload{Refs: []Ref{tag}}, ref); err != nil {
		return "", fmt.Errorf("mms: tagging baseline %s: %w", b.ID, err)
	}

	return tag.ID, nil
}

// Load returns the elements of ref as a snapshot, without the Project
// element, the project's Holding Bin and View Instances Bin packages, and
// server metadata keys.
func (c *Client) Load(ctx context.Context, ref string) (delta.Snapshot, error) {
	if c.safeLoad {
		ids, err := c.elementIDs(ctx, ref)
		if err != nil {
			return nil, err
		}

		if len(ids) > c.batchSize {
			return c.loadBatches(ctx, ref, ids)
		}
	}

	resp, err := c.do(ctx, http.MethodGet, c.elementsURL(ref, false), nil)
	if err != nil {
		return nil, fmt.Errorf("mms: loading %s: %w", ref, err)
	}
	defer resp.Body.Close()

	snap := make(delta.Snapshot)
	if err := c.collect(snap, resp.Body); err != nil {
		return nil, fmt.Errorf("mms: loading %s: %w", ref, err)
	}

	return snap, nil
}

func (c *Client) elementIDs(ctx context.Context, ref string) ([]string, error) {
	var body struct {
		CommitID string   `json:"commitId"`
		Elements []string `json:"elements"`
	}

	target := c.refsURL() + "/" + url.PathEscape(ref) + "/elementIds"
	if err := c.getJSON(ctx, target, &body); err != nil {
		return nil, fmt.Errorf("mms: listing element ids: %w", err)
	}

	return body.Elements, nil
}

func (c *Client) loadBatches(ctx context.Context, ref string, ids []string) (delta.Snapshot, error) {
	snap := make(delta.Snapshot, len(ids))

	for start := 0; start < len(ids); start += c.batchSize {
		batch := ids[start:min(start+c.batchSize, len(ids))]

		recs := make([]delta.Record, len(batch))
		for i, id := range batch {
			recs[i] = delta.Record{"id": id}
		}

		body := pipeBody(func(w io.Writer) error { return delta.WriteElements(w, recs) })

		resp, err := c.do(ctx, http.MethodPut, c.elementsURL(ref, false), body)
		if err != nil {
			return nil, fmt.Errorf("mms: loading batch at %d: %w", start, err)
		}

		err = c.collect(snap, resp.Body)
		resp.Body.Close()

		if err != nil {
			return nil, fmt.Errorf("mms: loading batch at %d: %w", start, err)
		}

		c.logger.Debug("loaded batch", slog.Int("offset", start), slog.Int("size", len(batch)))
	}

	return snap, nil
}

// collect streams an elements document into snap, filtering as Load
// describes.
func (c *Client) collect(snap delta.Snapshot, r io.Reader) error {
	src := delta.NewJSONRecordSource(r)

	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		if c.skipElement(rec) {
			continue
		}

		snap[rec.ID()] = delta.Record(removeMeta(rec))
	}
}

func (c *Client) skipElement(rec delta.Record) bool {
	typ, _ := rec["type"].(string)
	if typ == "Project" {
		return true
	}

	if typ != "Package" || rec["ownerId"] != c.project {
		return false
	}

	name, _ := rec["name"].(string)

	return name == "Holding Bin" || name == "View Instances Bin"
}

// removeMeta drops "_"-prefixed keys other than _appliedStereotypeIds from
// m and every nested object, in place.
func removeMeta(m map[string]any) map[string]any {
	for k, v := range m {
		if strings.HasPrefix(k, "_") && k != "_appliedStereotypeIds" {
			delete(m, k)
			continue
		}

		switch nested := v.(type) {
		case map[string]any:
			removeMeta(nested)
		case delta.Record:
			removeMeta(nested)
		}
	}

	return m
}
