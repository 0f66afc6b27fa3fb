package rdfio

import (
	"bufio"
	"io"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
)

// parseNTriples reads an N-Triples document (RDF 1.1's strictest syntax,
// here extended to accept an inline <<...>> quoted-triple term so RDF-star
// documents round-trip) and feeds each resulting quad, in the default
// graph, to sink.
func parseNTriples(input string, opts Options, sink QuadSink) error {
	return parseLineOriented(input, opts, false, sink)
}

// parseNQuads extends parseNTriples with an optional 4th (graph) term per
// line.
func parseNQuads(input string, opts Options, sink QuadSink) error {
	return parseLineOriented(input, opts, true, sink)
}

func parseLineOriented(input string, opts Options, allowGraph bool, sink QuadSink) error {
	s := newScanner(input)
	for {
		s.skipWS()
		if s.eof() {
			return nil
		}
		if err := parseStatement(s, allowGraph, sink); err != nil {
			if se, ok := err.(*sinkError); ok {
				return se.err
			}
			if opts.Lenient {
				skipToNextLine(s)
				continue
			}
			return err
		}
	}
}

// parseLineOrientedStream reads statements one physical line at a time, so
// an arbitrarily large N-Triples/N-Quads document is parsed in constant
// memory. N-Triples forbids raw newlines inside literals, so every
// statement is contained in one line.
func parseLineOrientedStream(r io.Reader, opts Options, allowGraph bool, sink QuadSink) error {
	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, rerr := br.ReadString('\n')
		if line != "" {
			lineNo++
			s := newScanner(line)
			s.line = lineNo
			s.skipWS()
			if !s.eof() {
				if err := parseStatement(s, allowGraph, sink); err != nil {
					if se, fatal := err.(*sinkError); fatal {
						return se.err
					}
					if !opts.Lenient {
						return err
					}
				}
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return qdberr.Wrap(qdberr.Io, rerr, "rdfio: reading input")
		}
	}
}

// sinkError marks a failure raised by the caller's sink, which must abort
// parsing even in lenient mode.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }

// parseStatement parses exactly one subject-predicate-object(-graph) "."
// statement at the scanner's position.
func parseStatement(s *scanner, allowGraph bool, sink QuadSink) error {
	subject, err := parseSubjectTerm(s)
	if err != nil {
		return err
	}
	s.skipWS()
	predIRI, err := s.parseIRIRef()
	if err != nil {
		return err
	}
	predicate := rdf.NewNamedNode(predIRI)
	s.skipWS()
	object, err := parseObjectTerm(s)
	if err != nil {
		return err
	}
	s.skipWS()

	var graph rdf.Term = rdf.NewDefaultGraph()
	if allowGraph && !s.eof() && s.peek() != '.' {
		g, err := parseSubjectTerm(s)
		if err != nil {
			return err
		}
		graph = g
		s.skipWS()
	}

	if err := s.expect('.'); err != nil {
		return err
	}
	if err := sink(rdf.NewQuad(subject, predicate, object, graph)); err != nil {
		return &sinkError{err: err}
	}
	return nil
}

func skipToNextLine(s *scanner) {
	for !s.eof() && s.peek() != '\n' {
		s.advance()
	}
}

// parseSubjectTerm parses an IRI, blank node, or (RDF-star) quoted triple
// term in subject/graph position.
func parseSubjectTerm(s *scanner) (rdf.Term, error) {
	switch {
	case s.peek() == '<' && s.peekAt(1) == '<':
		return parseQuotedTriple(s)
	case s.peek() == '<':
		iri, err := s.parseIRIRef()
		if err != nil {
			return nil, err
		}
		return rdf.NewNamedNode(iri), nil
	case s.peek() == '_':
		label, err := s.parseBlankNodeLabel()
		if err != nil {
			return nil, err
		}
		return rdf.NewBlankNode(label), nil
	default:
		line, col := s.pos3()
		return nil, syntaxf(line, col, "expected IRI or blank node")
	}
}

// parseObjectTerm additionally accepts literals.
func parseObjectTerm(s *scanner) (rdf.Term, error) {
	if s.peek() == '"' {
		return parseLiteralTerm(s)
	}
	if s.peek() == '<' && s.peekAt(1) == '<' {
		return parseQuotedTriple(s)
	}
	return parseSubjectTerm(s)
}

func parseLiteralTerm(s *scanner) (rdf.Term, error) {
	s.advance() // opening quote
	value, err := s.parseLiteralBody('"', false)
	if err != nil {
		return nil, err
	}
	switch {
	case s.peek() == '@':
		s.advance()
		start := s.pos
		for !s.eof() && (isNameChar(s.peek()) || s.peek() == '-') {
			s.advance()
		}
		return rdf.NewLiteralWithLanguage(value, s.input[start:s.pos]), nil
	case s.peek() == '^' && s.peekAt(1) == '^':
		s.advance()
		s.advance()
		dtIRI, err := s.parseIRIRef()
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(value, rdf.NewNamedNode(dtIRI)), nil
	default:
		return rdf.NewLiteral(value), nil
	}
}

// parseQuotedTriple parses "<< s p o >>" RDF-star syntax.
func parseQuotedTriple(s *scanner) (rdf.Term, error) {
	line, col := s.pos3()
	s.advance()
	s.advance() // consume "<<"
	s.skipWS()
	subj, err := parseSubjectTerm(s)
	if err != nil {
		return nil, err
	}
	s.skipWS()
	predIRI, err := s.parseIRIRef()
	if err != nil {
		return nil, err
	}
	s.skipWS()
	obj, err := parseObjectTerm(s)
	if err != nil {
		return nil, err
	}
	s.skipWS()
	if s.peek() != '>' || s.peekAt(1) != '>' {
		return nil, syntaxf(line, col, "expected '>>' to close quoted triple")
	}
	s.advance()
	s.advance()
	return rdf.NewQuotedTriple(subj, rdf.NewNamedNode(predIRI), obj)
}
