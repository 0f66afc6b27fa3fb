// Package rdfio implements streaming parsers and serializers for the RDF
// concrete syntaxes the store accepts and emits: N-Triples, N-Quads,
// Turtle, TriG, and a lenient-mode RDF/XML reader. Grounded on the
// teacher's pkg/rdf/{nquads,turtle,trig,rdfxml}.go parsers and on
// knakk-rdf's lexer-driven design for the tokenizing approach; generalized
// to emit/consume rdf.Quad (not just rdf.Triple) throughout, and to carry
// the adversarial-input nesting-depth bound spec.md §4.8 requires.
package rdfio

import (
	"io"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
)

// Format identifies a concrete RDF syntax.
type Format int

const (
	FormatNTriples Format = iota
	FormatNQuads
	FormatTurtle
	FormatTriG
	FormatRDFXML
)

func (f Format) String() string {
	switch f {
	case FormatNTriples:
		return "ntriples"
	case FormatNQuads:
		return "nquads"
	case FormatTurtle:
		return "turtle"
	case FormatTriG:
		return "trig"
	case FormatRDFXML:
		return "rdfxml"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name (CLI flag value, media type slug) to a
// Format, accepting common aliases.
func ParseFormat(name string) (Format, bool) {
	switch name {
	case "nt", "ntriples", "N-Triples":
		return FormatNTriples, true
	case "nq", "nquads", "N-Quads":
		return FormatNQuads, true
	case "ttl", "turtle", "Turtle":
		return FormatTurtle, true
	case "trig", "TriG":
		return FormatTriG, true
	case "rdf", "rdfxml", "RDF/XML":
		return FormatRDFXML, true
	default:
		return 0, false
	}
}

// Options controls parser leniency and safety bounds (spec.md §4.8).
type Options struct {
	BaseIRI string
	// Lenient skips a statement that fails to parse instead of raising a
	// syntax error: N-Triples/N-Quads drop the offending line, RDF/XML
	// drops the offending node element and stops quietly at a malformed
	// XML token. The Turtle/TriG parser does not consult it and always
	// parses strictly.
	Lenient bool
	// MaxNestingDepth bounds Turtle/TriG blank-node property-list and
	// collection nesting, and RDF/XML element nesting, against adversarial
	// input. 0 means DefaultMaxNestingDepth.
	MaxNestingDepth int
}

const DefaultMaxNestingDepth = 128

func (o Options) maxDepth() int {
	if o.MaxNestingDepth <= 0 {
		return DefaultMaxNestingDepth
	}
	return o.MaxNestingDepth
}

// QuadSink receives quads as a parser produces them, for streaming use
// (bulk load) without materializing the whole document in memory.
type QuadSink func(*rdf.Quad) error

// Parse dispatches to the format-specific parser and streams every
// resulting quad to sink.
func Parse(format Format, input string, opts Options, sink QuadSink) error {
	switch format {
	case FormatNTriples:
		return parseNTriples(input, opts, sink)
	case FormatNQuads:
		return parseNQuads(input, opts, sink)
	case FormatTurtle:
		return parseTurtle(input, opts, false, sink)
	case FormatTriG:
		return parseTurtle(input, opts, true, sink)
	case FormatRDFXML:
		return parseRDFXML(input, opts, sink)
	default:
		return unsupportedFormat(format)
	}
}

// ParseReader parses straight off a byte stream. The line-oriented formats
// and RDF/XML are decoded incrementally, never holding the whole document in
// memory; Turtle/TriG (whose grammar is not line-delimited and whose prefix
// declarations can appear anywhere) are buffered before parsing.
func ParseReader(format Format, r io.Reader, opts Options, sink QuadSink) error {
	switch format {
	case FormatNTriples:
		return parseLineOrientedStream(r, opts, false, sink)
	case FormatNQuads:
		return parseLineOrientedStream(r, opts, true, sink)
	case FormatRDFXML:
		return parseRDFXMLReader(r, opts, sink)
	case FormatTurtle, FormatTriG:
		data, err := io.ReadAll(r)
		if err != nil {
			return qdberr.Wrap(qdberr.Io, err, "rdfio: reading input")
		}
		return parseTurtle(string(data), opts, format == FormatTriG, sink)
	default:
		return unsupportedFormat(format)
	}
}
