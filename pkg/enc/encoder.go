package enc

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/relique/qdb/pkg/dict"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/xsd"
)

// MaxInlineStringLen is the inline-string threshold in bytes. An on-disk
// format invariant per spec.md §4.1.
const MaxInlineStringLen = 16

// Encoder turns RDF terms into EncodedTerm values, returning a string to be
// interned in the dictionary whenever the encoding references one.
type Encoder struct{}

func NewEncoder() *Encoder { return &Encoder{} }

// Encode returns the encoded term and, when the term requires a dictionary
// entry, the string to insert under the term's hash (nil otherwise).
func (enc *Encoder) Encode(term rdf.Term) (EncodedTerm, *string, error) {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return enc.encodeNamedNode(t)
	case *rdf.BlankNode:
		return enc.encodeBlankNode(t)
	case *rdf.Literal:
		return enc.encodeLiteral(t)
	case *rdf.DefaultGraph:
		return enc.encodeDefaultGraph()
	case *rdf.QuotedTriple:
		return enc.encodeQuotedTriple(t)
	default:
		var zero EncodedTerm
		return zero, nil, fmt.Errorf("enc: unknown term type %T", term)
	}
}

func (enc *Encoder) encodeNamedNode(n *rdf.NamedNode) (EncodedTerm, *string, error) {
	var out EncodedTerm
	out[0] = byte(KindNamedNodeRef)
	h := dict.Hash128(n.IRI)
	copy(out[1:], h[:])
	return out, &n.IRI, nil
}

func (enc *Encoder) encodeBlankNode(b *rdf.BlankNode) (EncodedTerm, *string, error) {
	var out EncodedTerm
	if v, ok := new(big.Int).SetString(b.ID, 10); ok && v.Sign() >= 0 && v.BitLen() <= 128 && v.String() == b.ID {
		out[0] = byte(KindBlankNodeInline)
		raw := v.Bytes()
		copy(out[17-len(raw):], raw)
		return out, nil, nil
	}
	out[0] = byte(KindBlankNodeRef)
	h := dict.Hash128(b.ID)
	copy(out[1:], h[:])
	return out, &b.ID, nil
}

func (enc *Encoder) encodeDefaultGraph() (EncodedTerm, *string, error) {
	var out EncodedTerm
	out[0] = byte(KindDefaultGraph)
	return out, nil, nil
}

func (enc *Encoder) encodeQuotedTriple(q *rdf.QuotedTriple) (EncodedTerm, *string, error) {
	var out EncodedTerm
	out[0] = byte(KindQuotedTripleRef)
	s := q.String()
	h := dict.Hash128(s)
	copy(out[1:], h[:])
	return out, &s, nil
}

func (enc *Encoder) encodeLiteral(l *rdf.Literal) (EncodedTerm, *string, error) {
	if l.Language != "" {
		combined := l.Value + "\x00" + l.Language
		var out EncodedTerm
		out[0] = byte(KindLangStringRef)
		h := dict.Hash128(combined)
		copy(out[1:], h[:])
		return out, &combined, nil
	}
	if l.Datatype != nil {
		switch l.Datatype.IRI {
		case xsd.IntegerIRI:
			if v, err := xsd.ParseInteger(l.Value); err == nil {
				return encodeInt64(KindInteger, v), nil, nil
			}
		case xsd.BooleanIRI:
			if v, err := xsd.ParseBoolean(l.Value); err == nil {
				var out EncodedTerm
				out[0] = byte(KindBoolean)
				if v {
					out[1] = 1
				}
				return out, nil, nil
			}
		case xsd.DoubleIRI:
			if v, err := xsd.ParseDouble(l.Value); err == nil {
				return encodeFloat64(KindDouble, v), nil, nil
			}
		case xsd.FloatIRI:
			if v, err := xsd.ParseDouble(l.Value); err == nil {
				return encodeFloat64(KindFloat, v), nil, nil
			}
		case xsd.DecimalIRI:
			if v, err := xsd.ParseDecimal(l.Value); err == nil {
				var out EncodedTerm
				out[0] = byte(KindDecimal)
				b := v.Bytes128()
				copy(out[1:], b[:])
				return out, nil, nil
			}
		case xsd.DateTimeIRI:
			if v, err := xsd.ParseDateTime(l.Value); err == nil {
				return encodeInt64(KindDateTime, v.UnixNanoOrdering()), nil, nil
			}
		case xsd.DateIRI:
			if v, err := xsd.ParseDate(l.Value); err == nil {
				return encodeInt64(KindDate, v.DaysSinceEpoch()), nil, nil
			}
		case xsd.TimeIRI:
			if v, err := xsd.ParseTimeOfDay(l.Value); err == nil {
				return encodeInt64(KindTime, v.NanosSinceMidnight()), nil, nil
			}
		case xsd.GYearIRI:
			if v, err := xsd.ParseGYear(l.Value); err == nil {
				return encodeInt64(KindGYear, int64(v)), nil, nil
			}
		case xsd.DurationIRI, xsd.YMDurIRI, xsd.DTDurIRI:
			if v, err := xsd.ParseDuration(l.Value); err == nil {
				var out EncodedTerm
				out[0] = byte(KindDuration)
				binary.BigEndian.PutUint64(out[1:9], uint64(v.Months))
				binary.BigEndian.PutUint64(out[9:17], uint64(v.Nanos))
				return out, nil, nil
			}
		case xsd.StringIRI:
			return enc.encodeStringLiteral(l.Value)
		}
		// Any other datatype, or a value whose lexical form didn't parse
		// under its declared datatype (lenient-mode literal): hash
		// value+datatype together so distinct datatypes never collide.
		combined := l.Value + "\x00" + l.Datatype.IRI
		var out EncodedTerm
		out[0] = byte(KindTypedLiteralRef)
		h := dict.Hash128(combined)
		copy(out[1:], h[:])
		return out, &combined, nil
	}
	return enc.encodeStringLiteral(l.Value)
}

func (enc *Encoder) encodeStringLiteral(value string) (EncodedTerm, *string, error) {
	var out EncodedTerm
	if len(value) <= MaxInlineStringLen {
		out[0] = byte(KindStringInline)
		copy(out[1:], []byte(value))
		return out, nil, nil
	}
	out[0] = byte(KindStringRef)
	h := dict.Hash128(value)
	copy(out[1:], h[:])
	return out, &value, nil
}

func encodeInt64(kind TermKind, v int64) EncodedTerm {
	var out EncodedTerm
	out[0] = byte(kind)
	binary.BigEndian.PutUint64(out[1:9], uint64(v))
	return out
}

func encodeFloat64(kind TermKind, v float64) EncodedTerm {
	var out EncodedTerm
	out[0] = byte(kind)
	binary.BigEndian.PutUint64(out[1:9], math.Float64bits(v))
	return out
}

// EncodeQuadKey concatenates encoded terms into the big-endian byte string
// used as an index key, in the order the caller supplies (already
// permuted to the target index's column order).
func EncodeQuadKey(terms ...EncodedTerm) []byte {
	out := make([]byte, 0, len(terms)*EncodedTermSize)
	for _, t := range terms {
		out = append(out, t[:]...)
	}
	return out
}

// ParseIntegerFallback exposes strconv for callers building big-literal
// fallbacks outside the hot inline path (e.g. bulk loader pre-validation).
func ParseIntegerFallback(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
