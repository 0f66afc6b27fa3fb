// Package xsd implements the XML Schema value space used by typed RDF
// literals: parsing, arithmetic, comparison, and canonicalization for
// xsd:integer, decimal, float, double, boolean, the date/time family, and
// duration. Grounded on knakk-rdf/xsd/xsd.go for the datatype IRI table and
// on original_source/lib/src/model/xsd/decimal.rs for the fixed-point
// decimal encoding that spec.md §3.2 calls for without pinning its scale.
package xsd

// Datatype IRIs, mirroring knakk-rdf/xsd/xsd.go's export shape.
const (
	StringIRI   = "http://www.w3.org/2001/XMLSchema#string"
	BooleanIRI  = "http://www.w3.org/2001/XMLSchema#boolean"
	DecimalIRI  = "http://www.w3.org/2001/XMLSchema#decimal"
	IntegerIRI  = "http://www.w3.org/2001/XMLSchema#integer"
	DoubleIRI   = "http://www.w3.org/2001/XMLSchema#double"
	FloatIRI    = "http://www.w3.org/2001/XMLSchema#float"
	DateIRI     = "http://www.w3.org/2001/XMLSchema#date"
	TimeIRI     = "http://www.w3.org/2001/XMLSchema#time"
	DateTimeIRI = "http://www.w3.org/2001/XMLSchema#dateTime"
	GYearIRI    = "http://www.w3.org/2001/XMLSchema#gYear"
	DurationIRI = "http://www.w3.org/2001/XMLSchema#duration"
	YMDurIRI    = "http://www.w3.org/2001/XMLSchema#yearMonthDuration"
	DTDurIRI    = "http://www.w3.org/2001/XMLSchema#dayTimeDuration"
)

// Numeric is the common shape the SPARQL function library operates on.
// Kind distinguishes integer/decimal/float/double so arithmetic promotes
// per the XSD op:numeric-* type-promotion rules (integer < decimal < float
// < double).
type NumericKind int

const (
	KindInteger NumericKind = iota
	KindDecimal
	KindFloat
	KindDouble
)

// Promote returns the wider of two numeric kinds.
func Promote(a, b NumericKind) NumericKind {
	if a > b {
		return a
	}
	return b
}
