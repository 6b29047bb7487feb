package mms

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openmbee/dngsync/internal/delta"
)

// Payload is the body of an upload. The variants are ElementsPayload,
// DeletionsPayload, SnapshotFile, RefsPayload and ProjectsPayload; each
// knows its method and endpoint, so Upload never inspects the body.
type Payload interface {
	method() string
	endpoint(c *Client, ref string) string
	body() bodyFunc
	size() int
}

// ElementsPayload adds or overwrites elements on a ref.
type ElementsPayload struct {
	Elements []delta.Record
}

func (ElementsPayload) method() string { return http.MethodPost }

func (ElementsPayload) endpoint(c *Client, ref string) string { return c.elementsURL(ref, true) }

func (p ElementsPayload) body() bodyFunc {
	return pipeBody(func(w io.Writer) error {
		return delta.WriteElements(w, p.Elements)
	})
}

func (p ElementsPayload) size() int { return len(p.Elements) }

// DeletionsPayload removes elements by id from a ref.
type DeletionsPayload struct {
	IDs []string
}

func (DeletionsPayload) method() string { return http.MethodDelete }

func (DeletionsPayload) endpoint(c *Client, ref string) string { return c.elementsURL(ref, true) }

func (p DeletionsPayload) body() bodyFunc {
	return pipeBody(func(w io.Writer) error {
		recs := make([]delta.Record, len(p.IDs))
		for i, id := range p.IDs {
			recs[i] = delta.Record{"id": id}
		}

		return delta.WriteElements(w, recs)
	})
}

func (p DeletionsPayload) size() int { return len(p.IDs) }

// SnapshotFile uploads a cached {"elements":[...]} document from disk as
// additions. The file is reopened on every attempt.
type SnapshotFile struct {
	Path string
}

func (SnapshotFile) method() string { return http.MethodPost }

func (SnapshotFile) endpoint(c *Client, ref string) string { return c.elementsURL(ref, true) }

func (p SnapshotFile) body() bodyFunc {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(p.Path)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot: %w", err)
		}

		return f, nil
	}
}

func (SnapshotFile) size() int { return -1 }

// RefsPayload creates refs (branches or tags) on the project.
type RefsPayload struct {
	Refs []Ref `json:"refs"`
}

func (RefsPayload) method() string { return http.MethodPost }

func (RefsPayload) endpoint(c *Client, _ string) string { return c.refsURL() }

func (p RefsPayload) body() bodyFunc { return jsonBody(p) }

func (p RefsPayload) size() int { return len(p.Refs) }

// ProjectsPayload creates projects in the client's organization.
type ProjectsPayload struct {
	Projects []ProjectInfo `json:"projects"`
}

func (ProjectsPayload) method() string { return http.MethodPost }

func (ProjectsPayload) endpoint(c *Client, _ string) string {
	return c.service + "/orgs/" + c.org + "/projects"
}

func (p ProjectsPayload) body() bodyFunc { return jsonBody(p) }

func (p ProjectsPayload) size() int { return len(p.Projects) }

// pipeBody streams what write produces. The writer goroutine exits when
// the transport closes the reader, even mid-write.
func pipeBody(write func(io.Writer) error) bodyFunc {
	return func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()

		go func() {
			pw.CloseWithError(write(pw))
		}()

		return pr, nil
	}
}
