package rdfio

import (
	"fmt"
	"io"
	"strings"

	"github.com/relique/qdb/pkg/rdf"
)

// ContentType returns the MIME type for format, grounded on the teacher's
// pkg/rdf/io.go NewParser content-type table.
func (f Format) ContentType() string {
	switch f {
	case FormatNTriples:
		return "application/n-triples"
	case FormatNQuads:
		return "application/n-quads"
	case FormatTurtle:
		return "text/turtle"
	case FormatTriG:
		return "application/trig"
	case FormatRDFXML:
		return "application/rdf+xml"
	default:
		return "application/octet-stream"
	}
}

// FormatFromContentType reverses Format.ContentType. Media-type parameters
// (charset etc.) are stripped here before matching.
func FormatFromContentType(ct string) (Format, bool) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/n-triples", "text/plain":
		return FormatNTriples, true
	case "application/n-quads":
		return FormatNQuads, true
	case "text/turtle", "application/x-turtle":
		return FormatTurtle, true
	case "application/trig", "application/x-trig":
		return FormatTriG, true
	case "application/rdf+xml":
		return FormatRDFXML, true
	default:
		return 0, false
	}
}

// Writer serializes quads in one of the line-oriented or block syntaxes.
// Turtle/TriG output here always writes expanded IRIs (no prefix
// compaction): simpler, and always round-trips regardless of what prefixes
// the input declared. Consecutive triples sharing a subject collapse into
// one ";"-continued statement, and a repeated subject+predicate pair into a
// ","-separated object list.
type Writer struct {
	w      io.Writer
	format Format
	// openGraph tracks the TriG graph currently open, so consecutive
	// quads in the same graph share one GRAPH block.
	openGraph rdf.Term
	// lastSubj/lastPred track the open grouped statement in Turtle/TriG.
	lastSubj rdf.Term
	lastPred rdf.Term
	stmtOpen bool
}

func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format}
}

func (wr *Writer) WriteQuad(q *rdf.Quad) error {
	switch wr.format {
	case FormatNTriples:
		_, isDefault := q.Graph.(*rdf.DefaultGraph)
		if !isDefault {
			return fmt.Errorf("rdfio: N-Triples cannot represent a named graph quad")
		}
		_, err := fmt.Fprintf(wr.w, "%s %s %s .\n", termStr(q.Subject), termStr(q.Predicate), termStr(q.Object))
		return err
	case FormatNQuads:
		if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
			_, err := fmt.Fprintf(wr.w, "%s %s %s .\n", termStr(q.Subject), termStr(q.Predicate), termStr(q.Object))
			return err
		}
		_, err := fmt.Fprintf(wr.w, "%s %s %s %s .\n", termStr(q.Subject), termStr(q.Predicate), termStr(q.Object), termStr(q.Graph))
		return err
	case FormatTurtle:
		_, isDefault := q.Graph.(*rdf.DefaultGraph)
		if !isDefault {
			return fmt.Errorf("rdfio: Turtle cannot represent a named graph quad; use TriG")
		}
		return wr.writeGrouped(q, "")
	case FormatTriG:
		return wr.writeTrigQuad(q)
	default:
		return unsupportedFormat(wr.format)
	}
}

func (wr *Writer) writeTrigQuad(q *rdf.Quad) error {
	sameGraph := wr.openGraph != nil && wr.openGraph.Equals(q.Graph)
	if !sameGraph {
		if err := wr.endStatement(); err != nil {
			return err
		}
		if wr.openGraph != nil {
			if _, isDefault := wr.openGraph.(*rdf.DefaultGraph); !isDefault {
				if _, err := fmt.Fprintln(wr.w, "}"); err != nil {
					return err
				}
			}
		}
		if _, isDefault := q.Graph.(*rdf.DefaultGraph); !isDefault {
			if _, err := fmt.Fprintf(wr.w, "GRAPH %s {\n", termStr(q.Graph)); err != nil {
				return err
			}
		}
		wr.openGraph = q.Graph
	}
	return wr.writeGrouped(q, "  ")
}

// writeGrouped appends one triple to the open grouped statement: a repeated
// subject continues with ";", a repeated subject+predicate appends the
// object with ",", anything else terminates the statement and starts fresh.
func (wr *Writer) writeGrouped(q *rdf.Quad, indent string) error {
	if wr.stmtOpen && wr.lastSubj.Equals(q.Subject) {
		if wr.lastPred.Equals(q.Predicate) {
			_, err := fmt.Fprintf(wr.w, " , %s", termStr(q.Object))
			return err
		}
		wr.lastPred = q.Predicate
		_, err := fmt.Fprintf(wr.w, " ;\n%s    %s %s", indent, termStr(q.Predicate), termStr(q.Object))
		return err
	}
	if err := wr.endStatement(); err != nil {
		return err
	}
	wr.stmtOpen = true
	wr.lastSubj = q.Subject
	wr.lastPred = q.Predicate
	_, err := fmt.Fprintf(wr.w, "%s%s %s %s", indent, termStr(q.Subject), termStr(q.Predicate), termStr(q.Object))
	return err
}

// endStatement terminates the open grouped statement, if any.
func (wr *Writer) endStatement() error {
	if !wr.stmtOpen {
		return nil
	}
	wr.stmtOpen = false
	wr.lastSubj, wr.lastPred = nil, nil
	_, err := fmt.Fprintln(wr.w, " .")
	return err
}

// Close terminates the open grouped statement and any still-open TriG
// GRAPH block.
func (wr *Writer) Close() error {
	if err := wr.endStatement(); err != nil {
		return err
	}
	if wr.format == FormatTriG && wr.openGraph != nil {
		if _, isDefault := wr.openGraph.(*rdf.DefaultGraph); !isDefault {
			_, err := fmt.Fprintln(wr.w, "}")
			return err
		}
	}
	return nil
}

func termStr(t rdf.Term) string {
	if qt, ok := t.(*rdf.QuotedTriple); ok {
		return fmt.Sprintf("<< %s %s %s >>", termStr(qt.Subject), termStr(qt.Predicate), termStr(qt.Object))
	}
	return t.String()
}
