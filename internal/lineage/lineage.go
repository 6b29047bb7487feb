// Package lineage orders the baselines of a source project into a strictly
// time-ordered history rooted at the unique baseline without a parent.
package lineage

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Structural errors. Any of these aborts a sync: continuing would apply
// deltas against the wrong parent snapshot.
var (
	ErrMultipleRoots = errors.New("lineage: multiple root baselines")
	ErrChronology    = errors.New("lineage: child baseline precedes its parent")
	ErrBranching     = errors.New("lineage: branching baselines not supported")
)

// Baseline is an immutable snapshot record as published by the source
// server. Previous is the URI of the parent baseline, empty for a root.
type Baseline struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	Title       string    `json:"title"`
	Created     time.Time `json:"created"`
	Creator     string    `json:"creator"`
	Overrides   string    `json:"overrides,omitempty"`
	Previous    string    `json:"previous,omitempty"`
	Streams     string    `json:"streams,omitempty"`
	Description string    `json:"description,omitempty"`
	StreamURI   string    `json:"bos"`
}

// Stream is a named lineage line owning zero or one baseline history.
type Stream struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	Title       string    `json:"title"`
	Created     time.Time `json:"created"`
	Creator     string    `json:"creator,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Result maps a stream URI to its ordered baseline URIs. When no root
// baseline exists, Fallback is set and the single entry under the empty key
// holds every baseline sorted by creation time. That order is not a lineage.
type Result struct {
	Histories map[string][]string `json:"histories"`
	Fallback  bool                `json:"fallback,omitempty"`
}

// Reconstruct validates and orders baselines.
func Reconstruct(baselines map[string]Baseline, streams map[string]Stream, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{Histories: make(map[string][]string)}
	if len(baselines) == 0 {
		return res, nil
	}

	var roots []Baseline

	for _, uri := range sortedKeys(baselines) {
		if b := baselines[uri]; b.Previous == "" {
			roots = append(roots, b)
		}
	}

	switch {
	case len(roots) == 0:
		logger.Warn("no root baseline found, ordering baselines by creation time",
			slog.Int("baselines", len(baselines)),
			slog.String("streams", strings.Join(sortedKeys(streams), ", ")),
		)

		res.Fallback = true
		res.Histories[""] = byCreation(baselines)

		return res, nil
	case len(roots) > 1:
		return Result{}, fmt.Errorf("%w: <%s> and <%s>", ErrMultipleRoots, roots[0].URI, roots[1].URI)
	}

	root := roots[0]

	chain, err := walk(root, baselines)
	if err != nil {
		return Result{}, err
	}

	res.Histories[root.StreamURI] = chain

	return res, nil
}

func walk(root Baseline, baselines map[string]Baseline) ([]string, error) {
	chain := []string{root.URI}
	parent := root

	// A chain can be no longer than the baseline set.
	for range baselines {
		var children []Baseline

		for _, uri := range sortedKeys(baselines) {
			b := baselines[uri]
			if b.Previous != parent.URI || b.StreamURI != root.StreamURI {
				continue
			}

			if !b.Created.After(parent.Created) {
				return nil, fmt.Errorf("%w: <%s> created %s, parent <%s> created %s",
					ErrChronology, b.URI, b.Created.Format(time.RFC3339), parent.URI, parent.Created.Format(time.RFC3339))
			}

			children = append(children, b)
		}

		switch len(children) {
		case 0:
			return chain, nil
		case 1:
			parent = children[0]
			chain = append(chain, parent.URI)
		default:
			ids := make([]string, len(children))
			for i, c := range children {
				ids[i] = c.ID
			}

			return nil, fmt.Errorf("%w: <%s> has children %s", ErrBranching, parent.URI, strings.Join(ids, ", "))
		}
	}

	return chain, nil
}

func byCreation(baselines map[string]Baseline) []string {
	all := make([]Baseline, 0, len(baselines))
	for _, b := range baselines {
		all = append(all, b)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Created.Equal(all[j].Created) {
			return all[i].URI < all[j].URI
		}

		return all[i].Created.Before(all[j].Created)
	})

	out := make([]string, len(all))
	for i, b := range all {
		out[i] = b.URI
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
