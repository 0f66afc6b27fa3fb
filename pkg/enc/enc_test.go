package enc

import (
	"testing"

	"github.com/relique/qdb/pkg/dict"
	"github.com/relique/qdb/pkg/rdf"
)

// memDict is a trivial dict.Store backing the encoder/decoder round trip
// tests, independent of any storage backend.
type memDict struct {
	m map[dict.Hash]string
}

func newMemDict() *memDict { return &memDict{m: make(map[dict.Hash]string)} }

func (d *memDict) Lookup(h dict.Hash) (string, bool, error) {
	v, ok := d.m[h]
	return v, ok, nil
}

func (d *memDict) Insert(h dict.Hash, v string) error {
	d.m[h] = v
	return nil
}

// roundTrip encodes term, interns any dictionary string it produced, then
// decodes and returns the result.
func roundTrip(t *testing.T, d *memDict, term rdf.Term) rdf.Term {
	t.Helper()
	e := NewEncoder()
	encoded, str, err := e.Encode(term)
	if err != nil {
		t.Fatalf("Encode(%s): %v", term, err)
	}
	if str != nil {
		h := encoded.Ref()
		if err := d.Insert(h, *str); err != nil {
			t.Fatalf("dict insert: %v", err)
		}
	}
	dec := NewDecoder(d)
	got, err := dec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestEncodeDecode_Bijection(t *testing.T) {
	d := newMemDict()
	terms := []rdf.Term{
		rdf.NewNamedNode("http://example.org/resource"),
		rdf.NewBlankNode("b1"),
		rdf.NewBlankNode("not-a-number"), // non-numeric id takes the dictionary-ref path
		rdf.NewLiteral("short"),
		rdf.NewLiteral("this literal is much longer than sixteen bytes"),
		rdf.NewLiteralWithLanguage("chat", "fr"),
		rdf.NewIntegerLiteral(42),
		rdf.NewIntegerLiteral(-1),
		rdf.NewBooleanLiteral(true),
		rdf.NewBooleanLiteral(false),
		rdf.NewLiteralWithDatatype("1.5", rdf.XSDDecimal), // already-canonical lexical form
		rdf.NewLiteralWithDatatype("2024-01-02T03:04:05Z", rdf.XSDDateTime),
		rdf.NewDefaultGraph(),
	}
	for _, term := range terms {
		got := roundTrip(t, d, term)
		if !got.Equals(term) {
			t.Errorf("round trip for %s: got %s", term, got)
		}
	}
}

// TestEncode_DecimalCanonicalizesNonCanonicalLexicalForm documents the
// encoder's spec.md §4.1 tradeoff: a non-canonical but valid decimal
// lexical form is canonicalized when it takes the inline id path, so its
// round-tripped Value differs lexically (though not in value) from the
// input.
func TestEncode_DecimalCanonicalizesNonCanonicalLexicalForm(t *testing.T) {
	d := newMemDict()
	got := roundTrip(t, d, rdf.NewLiteralWithDatatype("1.50", rdf.XSDDecimal))
	lit, ok := got.(*rdf.Literal)
	if !ok {
		t.Fatalf("expected a literal, got %T", got)
	}
	if lit.Value != "1.5" {
		t.Errorf("decoded decimal Value = %q, want canonical %q", lit.Value, "1.5")
	}
}

func TestEncode_ShortStringInlinesWithoutDictionary(t *testing.T) {
	e := NewEncoder()
	term := rdf.NewLiteral("0123456789ABCDEF") // exactly 16 bytes
	_, str, err := e.Encode(term)
	if err != nil {
		t.Fatal(err)
	}
	if str != nil {
		t.Error("a 16-byte string literal must inline, not reference the dictionary")
	}
}

func TestEncode_LongStringUsesDictionary(t *testing.T) {
	e := NewEncoder()
	term := rdf.NewLiteral("0123456789ABCDEFG") // 17 bytes, one over the threshold
	_, str, err := e.Encode(term)
	if err != nil {
		t.Fatal(err)
	}
	if str == nil {
		t.Error("a 17-byte string literal must take the dictionary path")
	}
}

func TestEncode_SameTermSameID(t *testing.T) {
	e := NewEncoder()
	a, _, err := e.Encode(rdf.NewNamedNode("http://example.org/x"))
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := e.Encode(rdf.NewNamedNode("http://example.org/x"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("encoding the same term twice must produce the same id")
	}
}

func TestEncode_DifferentTermsDifferentIDs(t *testing.T) {
	e := NewEncoder()
	a, _, err := e.Encode(rdf.NewNamedNode("http://example.org/x"))
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := e.Encode(rdf.NewNamedNode("http://example.org/y"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("distinct IRIs must encode to distinct ids")
	}
}

func TestEncode_IntegerInlinesWithoutDictionary(t *testing.T) {
	e := NewEncoder()
	_, str, err := e.Encode(rdf.NewIntegerLiteral(12345))
	if err != nil {
		t.Fatal(err)
	}
	if str != nil {
		t.Error("an in-range xsd:integer must inline and never touch the dictionary")
	}
}

func TestDecode_DanglingReferenceIsCorruption(t *testing.T) {
	e := NewEncoder()
	encoded, _, err := e.Encode(rdf.NewNamedNode("http://example.org/never-interned"))
	if err != nil {
		t.Fatal(err)
	}
	dec := NewDecoder(newMemDict()) // empty dictionary: the hash was never inserted
	if _, err := dec.Decode(encoded); err == nil {
		t.Fatal("expected a corruption error decoding a dangling dictionary reference")
	}
}
