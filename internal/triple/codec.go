package triple

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/knakk/rdf"
)

// Format names an RDF serialization understood by the codec.
type Format int

// Supported serializations.
const (
	FormatNTriples Format = iota
	FormatTurtle
	FormatRDFXML
)

func (f Format) String() string {
	switch f {
	case FormatNTriples:
		return "ntriples"
	case FormatTurtle:
		return "turtle"
	case FormatRDFXML:
		return "rdfxml"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

func (f Format) rdf() rdf.Format {
	switch f {
	case FormatTurtle:
		return rdf.Turtle
	case FormatRDFXML:
		return rdf.RDFXML
	default:
		return rdf.NTriples
	}
}

// FormatForContentType maps an HTTP Content-Type to a Format. The second
// result is false for content types that are not RDF.
func FormatForContentType(contentType string) (Format, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case strings.HasPrefix(ct, "application/rdf+xml"):
		return FormatRDFXML, true
	case strings.HasPrefix(ct, "text/turtle"), strings.HasPrefix(ct, "application/x-turtle"):
		return FormatTurtle, true
	case strings.HasPrefix(ct, "application/n-triples"):
		return FormatNTriples, true
	default:
		return 0, false
	}
}

// decodeStream adapts a knakk/rdf decoder to Stream.
type decodeStream struct {
	dec    rdf.TripleDecoder
	src    *readErrReader
	body   io.Closer
	closed bool
}

// NewDecoder returns a Stream parsing r in the given format. body, when
// non-nil, is closed by Close.
func NewDecoder(r io.Reader, f Format, body io.Closer) Stream {
	src := &readErrReader{r: r}

	return &decodeStream{dec: rdf.NewTripleDecoder(src, f.rdf()), src: src, body: body}
}

// readErrReader remembers the first read error other than io.EOF. The
// Turtle and N-Triples lexers report a truncated body as a syntax error and
// drop the cause.
type readErrReader struct {
	r io.Reader

	mu  sync.Mutex
	err error
}

func (r *readErrReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}

	return n, err
}

func (r *readErrReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

func (s *decodeStream) Next() (Triple, error) {
	if s.closed {
		return Triple{}, ErrClosed
	}

	t, err := s.dec.Decode()
	if err != nil {
		// The lexers end the stream on any read error, so a body cut at a
		// line boundary also surfaces here as io.EOF.
		if readErr := s.src.Err(); readErr != nil {
			return Triple{}, fmt.Errorf("%w: reading body: %w", ErrDecode, readErr)
		}

		if errors.Is(err, io.EOF) {
			return Triple{}, io.EOF
		}

		return Triple{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return fromRDF(t), nil
}

func (s *decodeStream) Close() error {
	if s.closed || s.body == nil {
		s.closed = true
		return nil
	}

	s.closed = true

	return s.body.Close()
}

func fromRDF(t rdf.Triple) Triple {
	return Triple{
		Subject:   termFromRDF(t.Subj),
		Predicate: termFromRDF(t.Pred),
		Object:    termFromRDF(t.Obj),
	}
}

func termFromRDF(t rdf.Term) Term {
	switch v := t.(type) {
	case rdf.IRI:
		return IRI(v.String())
	case rdf.Blank:
		return Blank(strings.TrimPrefix(v.String(), "_:"))
	case rdf.Literal:
		lang := v.Lang()
		dt := ""

		if lang == "" {
			dt = v.DataType.String()
		}

		return Literal(v.String(), lang, dt)
	default:
		return Term{}
	}
}

// Encoder writes triples as N-Triples. It is not safe for concurrent use;
// callers serialize access.
type Encoder struct {
	w   io.Writer
	enc *rdf.TripleEncoder
}

// NewEncoder returns an N-Triples encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, enc: rdf.NewTripleEncoder(w, rdf.NTriples)}
}

// Encode writes one triple.
func (e *Encoder) Encode(t Triple) error {
	rt, err := toRDF(t)
	if err != nil {
		return err
	}

	if err := e.enc.Encode(rt); err != nil {
		return fmt.Errorf("triple: encoding %s: %w", t.Subject, err)
	}

	return nil
}

// Comment writes a "# ..." line. N-Triples readers ignore comments; the
// crawl dump uses them to carry prefix declarations.
func (e *Encoder) Comment(text string) error {
	// The rdf encoder buffers; TripleEncoder.Close only flushes, so it is
	// safe to keep encoding afterwards.
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("triple: flushing: %w", err)
	}

	if _, err := fmt.Fprintf(e.w, "# %s\n", text); err != nil {
		return fmt.Errorf("triple: writing comment: %w", err)
	}

	return nil
}

// Close flushes buffered output.
func (e *Encoder) Close() error {
	return e.enc.Close()
}

func toRDF(t Triple) (rdf.Triple, error) {
	st, err := termToRDF(t.Subject)
	if err != nil {
		return rdf.Triple{}, err
	}

	subj, ok := st.(rdf.Subject)
	if !ok {
		return rdf.Triple{}, fmt.Errorf("triple: %s is not valid as subject", t.Subject)
	}

	pred, err := rdf.NewIRI(t.Predicate.Value)
	if err != nil {
		return rdf.Triple{}, fmt.Errorf("triple: predicate %q: %w", t.Predicate.Value, err)
	}

	ot, err := termToRDF(t.Object)
	if err != nil {
		return rdf.Triple{}, err
	}

	obj, ok := ot.(rdf.Object)
	if !ok {
		return rdf.Triple{}, fmt.Errorf("triple: %s is not valid as object", t.Object)
	}

	return rdf.Triple{Subj: subj, Pred: pred, Obj: obj}, nil
}

func termToRDF(t Term) (rdf.Term, error) {
	var (
		out rdf.Term
		err error
	)

	switch t.Kind {
	case KindIRI:
		out, err = rdf.NewIRI(t.Value)
	case KindBlank:
		out, err = rdf.NewBlank(t.Value)
	case KindLiteral:
		switch {
		case t.Lang != "":
			out, err = rdf.NewLangLiteral(t.Value, t.Lang)
		case t.Datatype != "":
			dt, dtErr := rdf.NewIRI(t.Datatype)
			if dtErr != nil {
				return nil, fmt.Errorf("triple: datatype %q: %w", t.Datatype, dtErr)
			}

			out = rdf.NewTypedLiteral(t.Value, dt)
		default:
			out, err = rdf.NewLiteral(t.Value)
		}
	default:
		return nil, fmt.Errorf("triple: cannot encode term of %s", t.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("triple: term %s: %w", t, err)
	}

	return out, nil
}
