package triple

import "sort"

// Graph is a small in-memory index over a fetched document, sufficient for
// reading service descriptions and configuration records. Crawled content
// never goes through a Graph; it streams.
type Graph struct {
	triples []Triple
	bySubj  map[Term]map[string][]Term
}

// NewGraph indexes ts by subject and predicate.
func NewGraph(ts []Triple) *Graph {
	g := &Graph{triples: ts, bySubj: make(map[Term]map[string][]Term)}

	for _, t := range ts {
		preds, ok := g.bySubj[t.Subject]
		if !ok {
			preds = make(map[string][]Term)
			g.bySubj[t.Subject] = preds
		}

		preds[t.Predicate.Value] = append(preds[t.Predicate.Value], t.Object)
	}

	return g
}

// Len returns the number of triples in the graph.
func (g *Graph) Len() int { return len(g.triples) }

// Triples returns the indexed triples in document order.
func (g *Graph) Triples() []Triple { return g.triples }

// Objects returns every object of (subject, predicate) in document order.
func (g *Graph) Objects(subject Term, predicate string) []Term {
	return g.bySubj[subject][predicate]
}

// First returns the first object of (subject, predicate).
func (g *Graph) First(subject Term, predicate string) (Term, bool) {
	objs := g.bySubj[subject][predicate]
	if len(objs) == 0 {
		return Term{}, false
	}

	return objs[0], true
}

// Value returns the lexical value of the first object of (subject,
// predicate), or "" when there is none.
func (g *Graph) Value(subject Term, predicate string) string {
	t, _ := g.First(subject, predicate)
	return t.Value
}

// Predicates returns the distinct predicates used with subject, sorted.
func (g *Graph) Predicates(subject Term) []string {
	preds := make([]string, 0, len(g.bySubj[subject]))
	for p := range g.bySubj[subject] {
		preds = append(preds, p)
	}

	sort.Strings(preds)

	return preds
}

// ObjectsOf returns the objects of predicate across all subjects.
func (g *Graph) ObjectsOf(predicate string) []Term {
	var out []Term

	for _, t := range g.triples {
		if t.Predicate.Value == predicate {
			out = append(out, t.Object)
		}
	}

	return out
}

// Subjects returns every subject having (predicate, object), without
// duplicates, in document order.
func (g *Graph) Subjects(predicate string, object Term) []Term {
	var out []Term

	seen := make(map[Term]bool)

	for _, t := range g.triples {
		if t.Predicate.Value != predicate || t.Object != object || seen[t.Subject] {
			continue
		}

		seen[t.Subject] = true
		out = append(out, t.Subject)
	}

	return out
}

// HasType reports whether subject is declared an instance of class.
func (g *Graph) HasType(subject Term, class string) bool {
	for _, o := range g.Objects(subject, RDFType) {
		if o.IsIRI() && o.Value == class {
			return true
		}
	}

	return false
}
