package rdfio

import (
	"strings"
	"testing"

	"github.com/relique/qdb/pkg/rdf"
)

func collect(t *testing.T, format Format, input string, opts Options) []*rdf.Quad {
	t.Helper()
	var out []*rdf.Quad
	err := Parse(format, input, opts, func(q *rdf.Quad) error {
		out = append(out, q)
		return nil
	})
	if err != nil {
		t.Fatalf("Parse(%s): %v", format, err)
	}
	return out
}

func TestParseNTriples_Basic(t *testing.T) {
	input := `<http://ex/a> <http://ex/p> "hello" .
<http://ex/a> <http://ex/p> <http://ex/b> .
`
	quads := collect(t, FormatNTriples, input, Options{})
	if len(quads) != 2 {
		t.Fatalf("got %d quads, want 2", len(quads))
	}
	if _, ok := quads[0].Graph.(*rdf.DefaultGraph); !ok {
		t.Error("N-Triples quads must be in the default graph")
	}
	lit, ok := quads[0].Object.(*rdf.Literal)
	if !ok || lit.Value != "hello" {
		t.Errorf("object = %v, want literal %q", quads[0].Object, "hello")
	}
}

func TestParseNTriples_LanguageAndDatatype(t *testing.T) {
	input := `<http://ex/a> <http://ex/p> "bonjour"@fr .
<http://ex/a> <http://ex/q> "42"^^<http://www.w3.org/2001/XMLSchema#integer> .
`
	quads := collect(t, FormatNTriples, input, Options{})
	if len(quads) != 2 {
		t.Fatalf("got %d quads, want 2", len(quads))
	}
	lit := quads[0].Object.(*rdf.Literal)
	if lit.Language != "fr" {
		t.Errorf("Language = %q, want %q", lit.Language, "fr")
	}
	lit2 := quads[1].Object.(*rdf.Literal)
	if lit2.Datatype.IRI != rdf.XSDInteger.IRI {
		t.Errorf("Datatype = %s, want %s", lit2.Datatype, rdf.XSDInteger)
	}
}

func TestParseNTriples_BlankNode(t *testing.T) {
	quads := collect(t, FormatNTriples, `_:b1 <http://ex/p> <http://ex/o> .`, Options{})
	if len(quads) != 1 {
		t.Fatalf("got %d quads, want 1", len(quads))
	}
	bn, ok := quads[0].Subject.(*rdf.BlankNode)
	if !ok || bn.ID != "b1" {
		t.Errorf("subject = %v, want blank node b1", quads[0].Subject)
	}
}

func TestParseNTriples_QuotedTriple(t *testing.T) {
	quads := collect(t, FormatNTriples, `<< <http://ex/a> <http://ex/p> <http://ex/b> >> <http://ex/says> "x" .`, Options{})
	if len(quads) != 1 {
		t.Fatalf("got %d quads, want 1", len(quads))
	}
	qt, ok := quads[0].Subject.(*rdf.QuotedTriple)
	if !ok {
		t.Fatalf("subject = %T, want *rdf.QuotedTriple", quads[0].Subject)
	}
	if qt.Predicate.(*rdf.NamedNode).IRI != "http://ex/p" {
		t.Errorf("quoted triple predicate = %s, want http://ex/p", qt.Predicate)
	}
}

func TestParseNTriples_RejectsMalformedByDefault(t *testing.T) {
	err := Parse(FormatNTriples, `this is not ntriples`, Options{}, func(*rdf.Quad) error { return nil })
	if err == nil {
		t.Fatal("expected a syntax error for malformed input in strict mode")
	}
}

func TestParseNTriples_LenientSkipsBadLines(t *testing.T) {
	input := "garbage line that is not valid\n<http://ex/a> <http://ex/p> <http://ex/b> .\n"
	quads := collect(t, FormatNTriples, input, Options{Lenient: true})
	if len(quads) != 1 {
		t.Fatalf("lenient mode: got %d quads, want 1 (bad line skipped)", len(quads))
	}
}

func TestParseNQuads_NamedGraph(t *testing.T) {
	quads := collect(t, FormatNQuads, `<http://ex/a> <http://ex/p> <http://ex/b> <http://ex/g> .`, Options{})
	if len(quads) != 1 {
		t.Fatalf("got %d quads, want 1", len(quads))
	}
	g, ok := quads[0].Graph.(*rdf.NamedNode)
	if !ok || g.IRI != "http://ex/g" {
		t.Errorf("graph = %v, want http://ex/g", quads[0].Graph)
	}
}

func TestParseTurtle_PrefixedNames(t *testing.T) {
	input := `@prefix ex: <http://ex/> .
ex:a ex:p ex:b .
`
	quads := collect(t, FormatTurtle, input, Options{})
	if len(quads) != 1 {
		t.Fatalf("got %d quads, want 1", len(quads))
	}
	if quads[0].Subject.(*rdf.NamedNode).IRI != "http://ex/a" {
		t.Errorf("subject = %s, want http://ex/a", quads[0].Subject)
	}
}

func TestParseTurtle_PredicateObjectListAndCollection(t *testing.T) {
	input := `@prefix ex: <http://ex/> .
ex:a ex:p ex:b , ex:c ;
     ex:q ( ex:x ex:y ) .
`
	quads := collect(t, FormatTurtle, input, Options{})
	if len(quads) < 3 {
		t.Fatalf("got %d quads, want at least 3 for the shared-subject list and collection", len(quads))
	}
}

func TestParseTriG_GraphBlock(t *testing.T) {
	input := `@prefix ex: <http://ex/> .
GRAPH ex:g {
  ex:a ex:p ex:b .
}
`
	quads := collect(t, FormatTriG, input, Options{})
	if len(quads) != 1 {
		t.Fatalf("got %d quads, want 1", len(quads))
	}
	g, ok := quads[0].Graph.(*rdf.NamedNode)
	if !ok || g.IRI != "http://ex/g" {
		t.Errorf("graph = %v, want http://ex/g", quads[0].Graph)
	}
}

func TestTurtle_NestingDepthBoundIsEnforced(t *testing.T) {
	var b strings.Builder
	b.WriteString("@prefix ex: <http://ex/> .\nex:a ex:p ")
	depth := DefaultMaxNestingDepth + 10
	for i := 0; i < depth; i++ {
		b.WriteString("[ ex:q ")
	}
	b.WriteString("ex:z")
	for i := 0; i < depth; i++ {
		b.WriteString(" ]")
	}
	b.WriteString(" .\n")

	err := Parse(FormatTurtle, b.String(), Options{}, func(*rdf.Quad) error { return nil })
	if err == nil {
		t.Fatal("expected an error for blank-node property-list nesting beyond the configured bound")
	}
}

func TestWriter_NTriplesRejectsNamedGraph(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, FormatNTriples)
	q := rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewNamedNode("http://ex/b"), rdf.NewNamedNode("http://ex/g"))
	if err := w.WriteQuad(q); err == nil {
		t.Fatal("expected an error writing a named-graph quad as N-Triples")
	}
}

func TestWriter_RoundTripsThroughNQuads(t *testing.T) {
	original := []*rdf.Quad{
		rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewLiteral("hi"), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewNamedNode("http://ex/b"), rdf.NewNamedNode("http://ex/g")),
	}
	var sb strings.Builder
	w := NewWriter(&sb, FormatNQuads)
	for _, q := range original {
		if err := w.WriteQuad(q); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got := collect(t, FormatNQuads, sb.String(), Options{})
	if len(got) != len(original) {
		t.Fatalf("round trip got %d quads, want %d", len(got), len(original))
	}
	for i := range original {
		if !got[i].Equals(original[i]) {
			t.Errorf("quad %d: got %s, want %s", i, got[i], original[i])
		}
	}
}

func TestWriter_TriGGroupsConsecutiveQuadsByGraph(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, FormatTriG)
	q1 := rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewNamedNode("http://ex/b"), rdf.NewNamedNode("http://ex/g"))
	q2 := rdf.NewQuad(rdf.NewNamedNode("http://ex/c"), rdf.NewNamedNode("http://ex/p"), rdf.NewNamedNode("http://ex/d"), rdf.NewNamedNode("http://ex/g"))
	if err := w.WriteQuad(q1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteQuad(q2); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if strings.Count(out, "GRAPH") != 1 {
		t.Errorf("expected exactly one GRAPH block for two consecutive same-graph quads, got output:\n%s", out)
	}
}

func TestWriter_TurtleGroupsBySubjectAndPredicate(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, FormatTurtle)
	quads := []*rdf.Quad{
		rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewLiteral("1"), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewLiteral("2"), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/q"), rdf.NewLiteral("3"), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/b"), rdf.NewNamedNode("http://ex/p"), rdf.NewLiteral("4"), rdf.NewDefaultGraph()),
	}
	for _, q := range quads {
		if err := w.WriteQuad(q); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if strings.Count(out, "<http://ex/a>") != 1 {
		t.Errorf("a repeated subject must be written once, got:\n%s", out)
	}
	if !strings.Contains(out, ",") || !strings.Contains(out, ";") {
		t.Errorf("expected predicate (;) and object (,) grouping, got:\n%s", out)
	}

	// The grouped form must still parse back to the same four triples.
	got := collect(t, FormatTurtle, out, Options{})
	if len(got) != len(quads) {
		t.Fatalf("round trip got %d quads, want %d", len(got), len(quads))
	}
}

func TestParseFormat_AcceptsAliases(t *testing.T) {
	cases := map[string]Format{
		"nt":     FormatNTriples,
		"ttl":    FormatTurtle,
		"trig":   FormatTriG,
		"nq":     FormatNQuads,
		"rdfxml": FormatRDFXML,
	}
	for name, want := range cases {
		got, ok := ParseFormat(name)
		if !ok || got != want {
			t.Errorf("ParseFormat(%q) = (%v, %v), want (%v, true)", name, got, ok, want)
		}
	}
	if _, ok := ParseFormat("bogus"); ok {
		t.Error("ParseFormat(\"bogus\") should report false")
	}
}

func TestFormatFromContentType_StripsParameters(t *testing.T) {
	got, ok := FormatFromContentType("text/turtle; charset=utf-8")
	if !ok || got != FormatTurtle {
		t.Errorf("FormatFromContentType() = (%v, %v), want (FormatTurtle, true)", got, ok)
	}
}
