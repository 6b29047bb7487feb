package crawl

import (
	"fmt"
	"io"
	gosync "sync"

	"github.com/openmbee/dngsync/internal/triple"
)

// Subgraph is the content of one fetched resource with its blank nodes
// already rewritten to crawl-unique labels.
type Subgraph struct {
	URI       string
	Triples   []triple.Triple
	Optional  []string
	Mandatory []string
}

// Sink receives subgraphs from concurrent branches. Implementations must
// be safe for concurrent use.
type Sink interface {
	Write(Subgraph) error
}

// PrefixWriter is implemented by sinks that record namespace prefixes
// discovered during a crawl.
type PrefixWriter interface {
	WritePrefix(name, namespace string) error
}

// NTriplesSink serializes subgraphs as N-Triples. A single mutex keeps
// writes from concurrent branches whole.
type NTriplesSink struct {
	mu  gosync.Mutex
	enc *triple.Encoder
	n   int
}

// NewNTriplesSink writes to w. Close flushes but does not close w.
func NewNTriplesSink(w io.Writer) *NTriplesSink {
	return &NTriplesSink{enc: triple.NewEncoder(w)}
}

// Write appends one subgraph, preceded by a comment naming its source.
func (s *NTriplesSink) Write(sg Subgraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Comment("<" + sg.URI + ">"); err != nil {
		return err
	}

	for _, t := range sg.Triples {
		if err := s.enc.Encode(t); err != nil {
			return fmt.Errorf("crawl: writing <%s>: %w", sg.URI, err)
		}
	}

	s.n++

	return nil
}

// WritePrefix records a prefix declaration as a comment line.
func (s *NTriplesSink) WritePrefix(name, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Comment(fmt.Sprintf("@prefix %s: <%s> .", name, namespace))
}

// Count returns the number of subgraphs written.
func (s *NTriplesSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.n
}

// Close flushes buffered output.
func (s *NTriplesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Close()
}
