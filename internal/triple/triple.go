// Package triple is the minimal RDF term model shared by the crawler, the
// translator and the source client. It treats terms opaquely: a term is a
// named resource, a blank node or a literal, and nothing more.
package triple

import (
	"errors"
	"fmt"
	"io"
)

// Kind distinguishes the three RDF term kinds.
type Kind uint8

// Term kinds. The zero value is invalid so that an unset Term is detectable.
const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Term is one position of a triple. Value holds the IRI, the blank-node
// label (without the "_:" prefix) or the literal's lexical form.
type Term struct {
	Kind     Kind
	Value    string
	Lang     string
	Datatype string
}

// IRI returns a named-resource term.
func IRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

// Blank returns a blank-node term with the given local label.
func Blank(label string) Term {
	return Term{Kind: KindBlank, Value: label}
}

// Literal returns a literal term. Lang and datatype are optional; when both
// are set the language tag wins, as in RDF 1.1.
func Literal(v, lang, datatype string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: lang, Datatype: datatype}
}

// IsIRI reports whether t is a named resource.
func (t Term) IsIRI() bool { return t.Kind == KindIRI }

// IsBlank reports whether t is a blank node.
func (t Term) IsBlank() bool { return t.Kind == KindBlank }

// IsLiteral reports whether t is a literal.
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		switch {
		case t.Lang != "":
			return fmt.Sprintf("%q@%s", t.Value, t.Lang)
		case t.Datatype != "":
			return fmt.Sprintf("%q^^<%s>", t.Value, t.Datatype)
		default:
			return fmt.Sprintf("%q", t.Value)
		}
	default:
		return "<invalid>"
	}
}

// Triple is a subject-predicate-object edge.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

func (t Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}

// Stream yields triples one at a time. Next returns io.EOF once the stream
// is exhausted. Close releases the underlying transport and is safe to call
// more than once.
type Stream interface {
	Next() (Triple, error)
	Close() error
}

// Stream errors.
var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("triple: stream closed")

	// ErrDecode wraps syntax errors in a served document.
	ErrDecode = errors.New("triple: decoding")
)

// sliceStream is an in-memory Stream.
type sliceStream struct {
	triples []Triple
	pos     int
	closed  bool
}

// NewSliceStream returns a Stream over an in-memory slice.
func NewSliceStream(ts []Triple) Stream {
	return &sliceStream{triples: ts}
}

func (s *sliceStream) Next() (Triple, error) {
	if s.closed {
		return Triple{}, ErrClosed
	}

	if s.pos >= len(s.triples) {
		return Triple{}, io.EOF
	}

	t := s.triples[s.pos]
	s.pos++

	return t, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains a stream into a slice and closes it.
func Collect(s Stream) ([]Triple, error) {
	defer s.Close()

	var out []Triple

	for {
		t, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return out, err
		}

		out = append(out, t)
	}
}
