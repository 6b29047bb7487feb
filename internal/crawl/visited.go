package crawl

import gosync "sync"

// VisitedSet records normalized URIs claimed by one crawl.
type VisitedSet struct {
	mu   gosync.Mutex
	seen map[string]struct{}
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[string]struct{})}
}

// Claim marks uri visited and reports whether this call was the first.
func (v *VisitedSet) Claim(uri string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.seen[uri]; ok {
		return false
	}

	v.seen[uri] = struct{}{}

	return true
}

// Has reports whether uri has been claimed.
func (v *VisitedSet) Has(uri string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.seen[uri]

	return ok
}

// Len returns the number of claimed URIs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.seen)
}
