package delta

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ReadSnapshot loads a whole {"elements":[...]} document keyed by id.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	src := NewJSONRecordSource(r)
	snap := make(Snapshot)

	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return snap, nil
		}

		if err != nil {
			return nil, err
		}

		id := rec.ID()
		if id == "" {
			return nil, fmt.Errorf("%w: record without string id", ErrMalformed)
		}

		snap[id] = rec
	}
}

// WriteSnapshot writes s as an {"elements":[...]} document, one record
// per line in id order, so equal snapshots produce identical files.
func WriteSnapshot(w io.Writer, s Snapshot) error {
	ids := s.IDs()
	recs := make([]Record, len(ids))

	for i, id := range ids {
		recs[i] = s[id]
	}

	return WriteElements(w, recs)
}

// WriteElements writes records as an {"elements":[...]} document in the
// given order.
func WriteElements(w io.Writer, recs []Record) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(`{"elements":[`); err != nil {
		return err
	}

	for i, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encoding %q: %w", ErrMalformed, rec.ID(), err)
		}

		sep := "\n"
		if i > 0 {
			sep = ",\n"
		}

		if _, err := bw.WriteString(sep); err != nil {
			return err
		}

		if _, err := bw.Write(b); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString("\n]}\n"); err != nil {
		return err
	}

	return bw.Flush()
}
