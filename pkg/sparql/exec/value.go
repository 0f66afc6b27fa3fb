package exec

import (
	"math"
	"strconv"
	"strings"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/xsd"
)

// numericKindOf classifies a literal's datatype for arithmetic promotion,
// mirroring pkg/xsd's NumericKind lattice (integer < decimal < float < double).
func numericKindOf(l *rdf.Literal) (xsd.NumericKind, bool) {
	if l == nil || l.Datatype == nil {
		return 0, false
	}
	switch l.Datatype.IRI {
	case rdf.XSDInteger.IRI:
		return xsd.KindInteger, true
	case rdf.XSDDecimal.IRI:
		return xsd.KindDecimal, true
	case rdf.XSDFloat.IRI:
		return xsd.KindFloat, true
	case rdf.XSDDouble.IRI:
		return xsd.KindDouble, true
	}
	return 0, false
}

// isNumeric reports whether term is a literal with a numeric XSD datatype.
func isNumeric(t rdf.Term) bool {
	l, ok := t.(*rdf.Literal)
	if !ok {
		return false
	}
	_, ok = numericKindOf(l)
	return ok
}

// asFloat64 converts any numeric literal's lexical form to a float64 for
// comparison and for arithmetic that doesn't need to stay decimal-exact.
func asFloat64(t rdf.Term) (float64, error) {
	l, ok := t.(*rdf.Literal)
	if !ok {
		return 0, qdberr.Evalf("value is not numeric")
	}
	kind, ok := numericKindOf(l)
	if !ok {
		return 0, qdberr.Evalf("literal datatype %s is not numeric", l.Datatype)
	}
	switch kind {
	case xsd.KindInteger:
		v, err := xsd.ParseInteger(l.Value)
		return float64(v), err
	case xsd.KindDecimal:
		d, err := xsd.ParseDecimal(l.Value)
		if err != nil {
			return 0, err
		}
		return d.Float64(), nil
	default:
		return xsd.ParseDouble(l.Value)
	}
}

// numericResult builds a literal of the promoted datatype for the result of
// an arithmetic operation between two numeric terms.
func numericResult(a, b rdf.Term, op func(x, y float64) float64) (rdf.Term, error) {
	al, aok := a.(*rdf.Literal)
	bl, bok := b.(*rdf.Literal)
	if !aok || !bok {
		return nil, qdberr.Evalf("arithmetic requires numeric operands")
	}
	ak, aok := numericKindOf(al)
	bk, bok := numericKindOf(bl)
	if !aok || !bok {
		return nil, qdberr.Evalf("arithmetic requires numeric operands")
	}
	kind := xsd.Promote(ak, bk)
	x, err := asFloat64(a)
	if err != nil {
		return nil, err
	}
	y, err := asFloat64(b)
	if err != nil {
		return nil, err
	}
	r := op(x, y)
	switch kind {
	case xsd.KindInteger:
		return rdf.NewIntegerLiteral(int64(r)), nil
	case xsd.KindDecimal:
		d, err := xsd.ParseDecimal(strconv.FormatFloat(r, 'f', -1, 64))
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(d.String(), rdf.XSDDecimal), nil
	case xsd.KindFloat:
		return rdf.NewLiteralWithDatatype(xsd.CanonicalDouble(r), rdf.XSDFloat), nil
	default:
		return rdf.NewDoubleLiteral(xsd.CanonicalDouble(r)), nil
	}
}

// compareValues implements SPARQL's op= / op< ordering over terms of the
// same effective comparison category (numeric, string/plain literal, or
// dateTime); returns (-1,0,1) or an error if the terms aren't order-comparable.
func compareValues(a, b rdf.Term) (int, error) {
	if isNumeric(a) && isNumeric(b) {
		x, err := asFloat64(a)
		if err != nil {
			return 0, err
		}
		y, err := asFloat64(b)
		if err != nil {
			return 0, err
		}
		return xsd.CompareNumeric(x, y), nil
	}
	al, aok := a.(*rdf.Literal)
	bl, bok := b.(*rdf.Literal)
	if aok && bok {
		if al.Datatype != nil && al.Datatype.IRI == rdf.XSDDateTime.IRI &&
			bl.Datatype != nil && bl.Datatype.IRI == rdf.XSDDateTime.IRI {
			da, err := xsd.ParseDateTime(al.Value)
			if err != nil {
				return 0, err
			}
			db, err := xsd.ParseDateTime(bl.Value)
			if err != nil {
				return 0, err
			}
			return da.Cmp(db), nil
		}
		if sameStringLike(al, bl) {
			return strings.Compare(al.Value, bl.Value), nil
		}
		return 0, qdberr.Evalf("terms %s and %s are not comparable", al, bl)
	}
	return 0, qdberr.Evalf("terms %s and %s are not order-comparable", a, b)
}

// sameStringLike reports whether two literals are both plain/xsd:string or
// share the same language tag, the set SPARQL allows relational ops over.
func sameStringLike(a, b *rdf.Literal) bool {
	plain := func(l *rdf.Literal) bool {
		return l.Datatype == nil || l.Datatype.IRI == rdf.XSDString.IRI
	}
	if plain(a) && plain(b) {
		return true
	}
	return a.Language != "" && a.Language == b.Language
}

// sameTerm implements sameTerm(): stricter than value equality, exact term
// identity including datatype/language.
func sameTerm(a, b rdf.Term) bool { return a.Equals(b) }

// valueEquals implements the SPARQL "=" operator's semantics: numeric and
// dateTime compare by value, everything else falls back to sameTerm.
func valueEquals(a, b rdf.Term) (bool, error) {
	if isNumeric(a) && isNumeric(b) {
		c, err := compareValues(a, b)
		return c == 0 && err == nil, err
	}
	al, aok := a.(*rdf.Literal)
	bl, bok := b.(*rdf.Literal)
	if aok && bok && al.Datatype != nil && bl.Datatype != nil &&
		al.Datatype.IRI == rdf.XSDDateTime.IRI && bl.Datatype.IRI == rdf.XSDDateTime.IRI {
		c, err := compareValues(a, b)
		return c == 0 && err == nil, err
	}
	if aok && bok {
		if !sameStringLike(al, bl) && al.Language != bl.Language {
			return false, qdberr.Evalf("literals %s and %s are not comparable by =", al, bl)
		}
		return al.Value == bl.Value && al.Language == bl.Language &&
			datatypeIRI(al) == datatypeIRI(bl), nil
	}
	return sameTerm(a, b), nil
}

func datatypeIRI(l *rdf.Literal) string {
	if l.Datatype == nil {
		return rdf.XSDString.IRI
	}
	return l.Datatype.IRI
}

// ebv computes the SPARQL Effective Boolean Value of term, per the XQuery
// fn:boolean rules spec.md §4.6 requires.
func ebv(t rdf.Term) (bool, error) {
	l, ok := t.(*rdf.Literal)
	if !ok {
		return false, qdberr.Evalf("EBV undefined for non-literal term %s", t)
	}
	if l.Datatype != nil && l.Datatype.IRI == rdf.XSDBoolean.IRI {
		return l.Value == "true" || l.Value == "1", nil
	}
	if isNumeric(l) {
		v, err := asFloat64(l)
		if err != nil {
			return false, err
		}
		return v != 0 && !math.IsNaN(v), nil
	}
	if l.Datatype == nil || l.Datatype.IRI == rdf.XSDString.IRI || l.Language != "" {
		return l.Value != "", nil
	}
	return false, qdberr.Evalf("EBV undefined for literal with datatype %s", l.Datatype)
}
