// Package delta computes the add/delete sets that turn one snapshot of
// element records into another. Records are compared in a canonical form,
// so key order and array order coming from upstream serializers do not
// produce spurious changes.
package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrMalformed reports input that cannot be compared: values with no JSON
// form, records without an id, or documents that are not element lists.
var ErrMalformed = errors.New("delta: malformed input")

// Canonicalize returns a deep copy of v in which objects have their values
// canonicalized, arrays of objects are sorted by id and all other arrays
// are sorted by their canonical encoding. Numbers become float64. Scalars
// are returned unchanged.
func Canonicalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: number %v", ErrMalformed, t)
		}

		return t, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrMalformed, t)
		}

		return f, nil
	case Record:
		return canonObject(t)
	case map[string]any:
		return canonObject(t)
	case []any:
		return canonArray(t)
	default:
		return canonForeign(v)
	}
}

// Equal reports whether a and b have the same canonical form.
func Equal(a, b any) (bool, error) {
	ea, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}

	eb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}

	return bytes.Equal(ea, eb), nil
}

func canonicalJSON(v any) ([]byte, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}

	return encode(c)
}

func canonObject(m map[string]any) (any, error) {
	out := make(map[string]any, len(m))

	for k, v := range m {
		c, err := Canonicalize(v)
		if err != nil {
			return nil, fmt.Errorf("%w (key %q)", err, k)
		}

		out[k] = c
	}

	return out, nil
}

type sortItem struct {
	value any
	id    []byte
	enc   []byte
}

func canonArray(a []any) (any, error) {
	items := make([]sortItem, len(a))
	objects := len(a) > 0

	for i, v := range a {
		c, err := Canonicalize(v)
		if err != nil {
			return nil, err
		}

		enc, err := encode(c)
		if err != nil {
			return nil, err
		}

		items[i] = sortItem{value: c, enc: enc}

		obj, ok := c.(map[string]any)
		if !ok {
			objects = false
			continue
		}

		if items[i].id, err = encode(obj["id"]); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if objects {
			if c := bytes.Compare(items[i].id, items[j].id); c != 0 {
				return c < 0
			}
		}

		return bytes.Compare(items[i].enc, items[j].enc) < 0
	})

	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.value
	}

	return out, nil
}

// canonForeign brings typed Go values (ints, structs, typed slices) into
// the generic JSON shape before canonicalizing them.
func canonForeign(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return Canonicalize(generic)
}

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return b, nil
}
