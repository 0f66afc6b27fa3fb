package enc

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/relique/qdb/pkg/dict"
	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/xsd"
)

// Decoder turns an EncodedTerm back into an rdf.Term, resolving reference
// kinds through a dict.Store.
type Decoder struct {
	Dict dict.Store
}

func NewDecoder(store dict.Store) *Decoder { return &Decoder{Dict: store} }

func (dec *Decoder) Decode(e EncodedTerm) (rdf.Term, error) {
	switch e.Kind() {
	case KindNamedNodeRef:
		s, err := dec.lookup(e)
		if err != nil {
			return nil, err
		}
		return rdf.NewNamedNode(s), nil

	case KindBlankNodeInline:
		return rdf.NewBlankNode(decodeInlineU128(e)), nil

	case KindBlankNodeRef:
		s, err := dec.lookup(e)
		if err != nil {
			return nil, err
		}
		return rdf.NewBlankNode(s), nil

	case KindDefaultGraph:
		return rdf.NewDefaultGraph(), nil

	case KindQuotedTripleRef:
		// The dictionary holds the canonical string form only, so decoding
		// recovers only that display string; the component terms are not
		// reconstructed.
		s, err := dec.lookup(e)
		if err != nil {
			return nil, err
		}
		return rdf.NewNamedNode(s), nil

	case KindStringInline:
		return rdf.NewLiteral(decodeInlineString(e)), nil

	case KindStringRef:
		s, err := dec.lookup(e)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteral(s), nil

	case KindLangStringRef:
		combined, err := dec.lookup(e)
		if err != nil {
			return nil, err
		}
		value, lang, ok := splitCombined(combined)
		if !ok {
			return nil, qdberr.Corruptf("enc: malformed lang-string dictionary entry %q", combined)
		}
		return rdf.NewLiteralWithLanguage(value, lang), nil

	case KindTypedLiteralRef:
		combined, err := dec.lookup(e)
		if err != nil {
			return nil, err
		}
		value, dt, ok := splitCombined(combined)
		if !ok {
			return nil, qdberr.Corruptf("enc: malformed typed-literal dictionary entry %q", combined)
		}
		return rdf.NewLiteralWithDatatype(value, rdf.NewNamedNode(dt)), nil

	case KindBoolean:
		return rdf.NewBooleanLiteral(e[1] != 0), nil

	case KindInteger:
		v := decodeInt64(e)
		return rdf.NewIntegerLiteral(v), nil

	case KindFloat:
		v := decodeFloat64(e)
		return rdf.NewLiteralWithDatatype(xsd.CanonicalDouble(v), rdf.XSDFloat), nil

	case KindDouble:
		v := decodeFloat64(e)
		return rdf.NewDoubleLiteral(xsd.CanonicalDouble(v)), nil

	case KindDecimal:
		var b [16]byte
		copy(b[:], e[1:17])
		d := xsd.DecimalFromBytes128(b)
		return rdf.NewLiteralWithDatatype(d.String(), rdf.XSDDecimal), nil

	case KindDateTime:
		nanos := decodeInt64(e)
		t := time.Unix(0, nanos).UTC()
		dt := xsd.DateTime{T: t, HasZone: true}
		return rdf.NewLiteralWithDatatype(dt.String(), rdf.XSDDateTime), nil

	case KindDate:
		days := decodeInt64(e)
		t := time.Unix(days*86400, 0).UTC()
		d := xsd.Date{T: t, HasZone: false}
		return rdf.NewLiteralWithDatatype(d.String(), rdf.XSDDate), nil

	case KindTime:
		nanos := decodeInt64(e)
		t := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(nanos))
		tod := xsd.TimeOfDay{T: t, HasZone: false}
		return rdf.NewLiteralWithDatatype(tod.String(), rdf.XSDTime), nil

	case KindGYear:
		y := xsd.GYear(decodeInt64(e))
		return rdf.NewLiteralWithDatatype(y.String(), rdf.XSDGYear), nil

	case KindDuration:
		months := int64(binary.BigEndian.Uint64(e[1:9]))
		nanos := int64(binary.BigEndian.Uint64(e[9:17]))
		d := xsd.Duration{Months: months, Nanos: nanos}
		return rdf.NewLiteralWithDatatype(d.String(), rdf.XSDDuration), nil

	default:
		return nil, qdberr.Corruptf("enc: unknown encoded term kind %d", e.Kind())
	}
}

func (dec *Decoder) lookup(e EncodedTerm) (string, error) {
	h := e.Ref()
	s, ok, err := dec.Dict.Lookup(h)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", qdberr.Corruptf("enc: dangling dictionary reference %x", h[:])
	}
	return s, nil
}

func decodeInt64(e EncodedTerm) int64 {
	return int64(binary.BigEndian.Uint64(e[1:9]))
}

func decodeFloat64(e EncodedTerm) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(e[1:9]))
}

func decodeInlineString(e EncodedTerm) string {
	end := 1
	for end < len(e) && e[end] != 0 {
		end++
	}
	return string(e[1:end])
}

func decodeInlineU128(e EncodedTerm) string {
	return new(big.Int).SetBytes(e[1:17]).String()
}

// splitCombined reverses the "value\x00suffix" packing used for lang
// strings and arbitrary-datatype literals before they are hashed.
func splitCombined(s string) (value, suffix string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
