package delta

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// RecordSource yields records one at a time and io.EOF after the last.
type RecordSource interface {
	Next() (Record, error)
}

// StreamDiff is the streaming form of Diff: old stays in memory while next
// is consumed one record at a time, so the new snapshot is never
// materialized. Added records keep their arrival order; Deleted is sorted.
// old is not modified.
func StreamDiff(ctx context.Context, old Snapshot, next RecordSource, rootID string) (Delta, error) {
	var d Delta

	remaining := make(map[string]struct{}, len(old))
	for id := range old {
		if id != rootID {
			remaining[id] = struct{}{}
		}
	}

	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return Delta{}, err
		}

		rec, err := next.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return Delta{}, err
		}

		id := rec.ID()
		if id == "" {
			return Delta{}, fmt.Errorf("%w: record without string id", ErrMalformed)
		}

		if id == rootID {
			continue
		}

		if _, dup := seen[id]; dup {
			return Delta{}, fmt.Errorf("%w: duplicate id %q", ErrMalformed, id)
		}

		seen[id] = struct{}{}

		prev, ok := old[id]
		if !ok {
			d.Added = append(d.Added, rec)
			continue
		}

		delete(remaining, id)

		same, err := Equal(prev, rec)
		if err != nil {
			return Delta{}, fmt.Errorf("delta: comparing %q: %w", id, err)
		}

		if !same {
			d.Added = append(d.Added, rec)
		}
	}

	for id := range remaining {
		d.Deleted = append(d.Deleted, id)
	}

	sort.Strings(d.Deleted)

	return d, nil
}

// JSONRecordSource streams the records of an {"elements":[...]} document.
// Other top-level keys before "elements" are skipped; anything after the
// array is ignored.
type JSONRecordSource struct {
	dec     *json.Decoder
	started bool
	done    bool
}

// NewJSONRecordSource reads an elements document from r.
func NewJSONRecordSource(r io.Reader) *JSONRecordSource {
	return &JSONRecordSource{dec: json.NewDecoder(bufio.NewReader(r))}
}

// Next returns the next element of the array.
func (s *JSONRecordSource) Next() (Record, error) {
	if s.done {
		return nil, io.EOF
	}

	if !s.started {
		if err := s.seek(); err != nil {
			return nil, err
		}

		s.started = true
	}

	if !s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			return nil, malformed(err)
		}

		s.done = true

		return nil, io.EOF
	}

	var rec Record
	if err := s.dec.Decode(&rec); err != nil {
		return nil, malformed(err)
	}

	if rec == nil {
		return nil, fmt.Errorf("%w: null element", ErrMalformed)
	}

	return rec, nil
}

// seek advances the decoder to just inside the "elements" array.
func (s *JSONRecordSource) seek() error {
	if err := s.expectDelim('{'); err != nil {
		return err
	}

	for s.dec.More() {
		tok, err := s.dec.Token()
		if err != nil {
			return malformed(err)
		}

		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected token %v", ErrMalformed, tok)
		}

		if key == "elements" {
			return s.expectDelim('[')
		}

		var skip json.RawMessage
		if err := s.dec.Decode(&skip); err != nil {
			return malformed(err)
		}
	}

	return fmt.Errorf("%w: no elements array", ErrMalformed)
}

func (s *JSONRecordSource) expectDelim(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		return malformed(err)
	}

	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformed, want, tok)
	}

	return nil
}

func malformed(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return fmt.Errorf("%w: %w", ErrMalformed, err)
}
