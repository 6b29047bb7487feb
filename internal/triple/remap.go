package triple

import (
	"strconv"
	"sync/atomic"
)

// LabelSource hands out blank-node labels that are unique for the lifetime
// of the source. One LabelSource is shared by every subgraph of a crawl so
// that independently remapped subgraphs never collide.
type LabelSource struct {
	prefix string
	n      atomic.Uint64
}

// NewLabelSource returns a LabelSource whose labels start with prefix.
func NewLabelSource(prefix string) *LabelSource {
	if prefix == "" {
		prefix = "b"
	}

	return &LabelSource{prefix: prefix}
}

// Next returns a fresh label.
func (s *LabelSource) Next() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

// Remapper rewrites the blank nodes of one subgraph. The first occurrence
// of a label allocates a fresh label from the shared source; later
// occurrences within the same subgraph reuse it. A Remapper is used by a
// single goroutine and must not be shared across subgraphs.
type Remapper struct {
	source *LabelSource
	table  map[string]string
}

// NewRemapper returns an empty per-subgraph remap table.
func NewRemapper(source *LabelSource) *Remapper {
	return &Remapper{source: source, table: make(map[string]string)}
}

// Term returns t with its blank label rewritten. Non-blank terms are
// returned unchanged.
func (r *Remapper) Term(t Term) Term {
	if !t.IsBlank() {
		return t
	}

	fresh, ok := r.table[t.Value]
	if !ok {
		fresh = r.source.Next()
		r.table[t.Value] = fresh
	}

	return Blank(fresh)
}

// Len returns the number of distinct blank labels seen so far.
func (r *Remapper) Len() int {
	return len(r.table)
}
