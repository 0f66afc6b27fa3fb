package xsd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseInteger parses an xsd:integer lexical form into an int64. Values
// outside int64 range are rejected here; the encoder takes the big-literal
// path for those (spec.md §4.1).
func ParseInteger(s string) (int64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("xsd:integer: %w", err)
	}
	return v, nil
}

// CanonicalInteger renders the canonical lexical form (no leading zeros, no
// leading '+').
func CanonicalInteger(v int64) string { return strconv.FormatInt(v, 10) }

// ParseDouble accepts the XSD double/float lexical space, including INF,
// -INF, and NaN, plus the boundary values the spec's property generators
// exercise (subnormals, ±0).
func ParseDouble(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "INF", "+INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	case "NaN":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("xsd:double: %w", err)
	}
	return v, nil
}

// CanonicalDouble renders the XSD canonical form for double/float: INF,
// -INF, NaN, or scientific notation with a mantissa that always carries a
// decimal point.
func CanonicalDouble(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "INF"
	case math.IsInf(v, -1):
		return "-INF"
	}
	s := strconv.FormatFloat(v, 'E', -1, 64)
	// Go emits "1E+02"; XSD wants "1.0E2" (mantissa always has a dot, no
	// '+' on the exponent unless the value itself needs the padding).
	parts := strings.SplitN(s, "E", 2)
	mantissa, exp := parts[0], parts[1]
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	return mantissa + "E" + exp
}

// CompareNumeric orders two float64 values per XSD's total order over the
// numeric value space, used by ORDER BY and the relational operators.
// NaN is defined to compare equal only to itself, and unordered versus
// everything else is resolved by NaN sorting before all other values so
// ORDER BY is still a total, stable order (spec.md §4.7 requires a total
// order for collation).
func CompareNumeric(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	case math.IsNaN(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
