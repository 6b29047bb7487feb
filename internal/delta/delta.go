package delta

import (
	"fmt"
	"sort"
)

// Record is one element: a JSON object carrying at least an "id".
type Record map[string]any

// ID returns the record's "id" field, or "" when it is missing or not a
// string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Snapshot maps element ids to records.
type Snapshot map[string]Record

// IDs returns the snapshot's ids in sorted order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Delta is the change set between two snapshots. Added records are
// upserts: the target overwrites an existing element with the same id.
type Delta struct {
	Added   []Record `json:"added"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Deleted) == 0
}

// Diff computes the delta from old to next. The element rootID is left
// out of the comparison on both sides. Neither snapshot is modified.
//
// Added holds changed records in id order followed by inserted records in
// id order; Deleted is sorted.
func Diff(old, next Snapshot, rootID string) (Delta, error) {
	var (
		d        Delta
		inserted []Record
	)

	for _, id := range old.IDs() {
		if id == rootID {
			continue
		}

		rec, ok := next[id]
		if !ok {
			d.Deleted = append(d.Deleted, id)
			continue
		}

		same, err := Equal(old[id], rec)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: comparing %q: %w", id, err)
		}

		if !same {
			d.Added = append(d.Added, rec)
		}
	}

	for _, id := range next.IDs() {
		if id == rootID {
			continue
		}

		if _, ok := old[id]; !ok {
			inserted = append(inserted, next[id])
		}
	}

	d.Added = append(d.Added, inserted...)

	return d, nil
}
