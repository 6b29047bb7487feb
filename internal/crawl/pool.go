package crawl

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of in-flight fetches. Permits are not handed out
// in any particular order.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu      gosync.Mutex
	holders map[string]int
}

// NewPool creates a pool of n permits. n < 1 is treated as 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}

	return &Pool{
		sem:     semaphore.NewWeighted(int64(n)),
		size:    n,
		holders: make(map[string]int),
	}
}

// Size returns the number of permits.
func (p *Pool) Size() int {
	return p.size
}

// Acquire blocks until a permit is free or ctx is done. The returned
// release is idempotent and must be called on every exit path.
func (p *Pool) Acquire(ctx context.Context, key string) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("crawl: waiting for permit for <%s>: %w", key, err)
	}

	p.mu.Lock()
	p.holders[key]++
	p.mu.Unlock()

	var once gosync.Once

	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.holders[key]--; p.holders[key] <= 0 {
				delete(p.holders, key)
			}
			p.mu.Unlock()

			p.sem.Release(1)
		})
	}, nil
}

// Holders returns the keys currently holding a permit, sorted.
func (p *Pool) Holders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.holders))
	for k := range p.holders {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
