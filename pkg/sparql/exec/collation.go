package exec

import (
	"encoding/binary"
	"math"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/xsd"
)

// Term kind discriminators for the ORDER BY collation key, spec.md §4.7.
const (
	collBlank byte = 0x01
	collIRI   byte = 0x02
	collLit   byte = 0x03
	collNum   byte = 0x04
	collTime  byte = 0x05
	collDur   byte = 0x06
	collQuad  byte = 0xFF
	collUnset byte = 0x00
)

// collationKey builds a total-order byte string for t, used both to break
// ORDER BY ties deterministically and to compare across term kinds that
// aren't SPARQL-comparable via "<" (spec.md §4.7's Open Question: NUL bytes
// embedded in a lexical form must not corrupt ordering, so every
// variable-length segment below carries an explicit 4-byte big-endian
// length prefix instead of being NUL-terminated).
func collationKey(t rdf.Term) []byte {
	if t == nil {
		return []byte{collUnset}
	}
	switch v := t.(type) {
	case *rdf.BlankNode:
		return append([]byte{collBlank}, lenPrefixed(v.ID)...)
	case *rdf.NamedNode:
		return append([]byte{collIRI}, lenPrefixed(v.IRI)...)
	case *rdf.Literal:
		return literalCollationKey(v)
	case *rdf.QuotedTriple:
		var out []byte
		out = append(out, collQuad)
		out = append(out, collationKey(v.Subject)...)
		out = append(out, collationKey(v.Predicate)...)
		out = append(out, collationKey(v.Object)...)
		return out
	default:
		return append([]byte{collLit}, lenPrefixed(t.String())...)
	}
}

func literalCollationKey(l *rdf.Literal) []byte {
	if isNumeric(l) {
		f, err := asFloat64(l)
		if err == nil {
			return append([]byte{collNum}, floatSortKey(f)...)
		}
	}
	if l.Datatype != nil {
		switch l.Datatype.IRI {
		case rdf.XSDDateTime.IRI:
			if dt, err := xsd.ParseDateTime(l.Value); err == nil {
				return append([]byte{collTime}, int64SortKey(dt.UnixNanoOrdering())...)
			}
		case rdf.XSDDuration.IRI:
			if d, err := xsd.ParseDuration(l.Value); err == nil {
				key := append([]byte{collDur}, int64SortKey(d.Months)...)
				return append(key, int64SortKey(d.Nanos)...)
			}
		}
	}
	var out []byte
	out = append(out, collLit)
	out = append(out, lenPrefixed(l.Value)...)
	out = append(out, lenPrefixed(l.Language)...)
	if l.Datatype != nil {
		out = append(out, lenPrefixed(l.Datatype.IRI)...)
	} else {
		out = append(out, lenPrefixed("")...)
	}
	return out
}

func lenPrefixed(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(out, uint32(len(s)))
	copy(out[4:], s)
	return out
}

// floatSortKey maps IEEE-754 bit patterns to a byte order matching numeric
// order: flip the sign bit always, and for negative values flip every
// other bit too so two's-complement-style comparison of the raw bytes
// matches float comparison (including NaN sorting before -Inf, matching
// xsd.CompareNumeric's NaN-sorts-first rule).
func floatSortKey(f float64) []byte {
	bits := math.Float64bits(f)
	if math.IsNaN(f) {
		bits = 0 // NaN sorts lowest of all
	} else if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, bits)
	return out
}

func int64SortKey(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v)^(1<<63))
	return out
}
