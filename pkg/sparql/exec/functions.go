package exec

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/xsd"
)

// MaxRegexPatternLen bounds REGEX()/REPLACE() pattern length against
// adversarial input, spec.md §4.8.
const MaxRegexPatternLen = 4096

// CustomFunc is a user-registered extension function, keyed by its IRI
// (spec.md §4.6's "user-registered custom functions by IRI").
type CustomFunc func(args []rdf.Term) (rdf.Term, error)

// callFunction dispatches a CallExpr by its uppercased function name.
// Grounded on the teacher's pkg/sparql/evaluator/functions.go switch-by-name
// shape, extended with the full builtin set spec.md §4.6 requires plus the
// datatype-constructor and hash-function families the teacher never built.
func (ev *Evaluator) callFunction(name string, args []algebra.Expression, b Binding) (rdf.Term, error) {
	if strings.HasPrefix(name, "AGG:") {
		return nil, qdberr.Evalf("aggregate %s used outside a GROUP BY context", name)
	}
	if strings.HasPrefix(name, "IRI:") {
		return ev.callCustom(name[len("IRI:"):], args, b)
	}
	vals := func(n int) ([]rdf.Term, error) {
		if len(args) < n {
			return nil, qdberr.Evalf("%s requires at least %d argument(s)", name, n)
		}
		out := make([]rdf.Term, len(args))
		for i, a := range args {
			v, err := ev.Eval(a, b)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	switch name {
	case "BOUND":
		ve, ok := args[0].(algebra.VarExpr)
		if !ok {
			return nil, qdberr.Evalf("BOUND requires a variable argument")
		}
		_, bound := b[ve.Var]
		return rdf.NewBooleanLiteral(bound), nil
	case "ISIRI", "ISURI":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		_, ok := a[0].(*rdf.NamedNode)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISBLANK":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		_, ok := a[0].(*rdf.BlankNode)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISLITERAL":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		_, ok := a[0].(*rdf.Literal)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISNUMERIC":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(isNumeric(a[0])), nil
	case "STR":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteral(termLexical(a[0])), nil
	case "LANG":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		l, ok := a[0].(*rdf.Literal)
		if !ok {
			return nil, qdberr.Evalf("LANG requires a literal argument")
		}
		return rdf.NewLiteral(l.Language), nil
	case "DATATYPE":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		l, ok := a[0].(*rdf.Literal)
		if !ok {
			return nil, qdberr.Evalf("DATATYPE requires a literal argument")
		}
		if l.Language != "" {
			return rdf.RDFLangString, nil
		}
		if l.Datatype == nil {
			return rdf.XSDString, nil
		}
		return l.Datatype, nil
	case "SAMETERM":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(sameTerm(a[0], a[1])), nil
	case "STRLEN":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return rdf.NewIntegerLiteral(int64(len([]rune(stringValue(a[0]))))), nil
	case "UCASE":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return likeLiteral(a[0], strings.ToUpper(stringValue(a[0]))), nil
	case "LCASE":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return likeLiteral(a[0], strings.ToLower(stringValue(a[0]))), nil
	case "SUBSTR":
		return ev.fnSubstr(args, b)
	case "CONCAT":
		a, err := vals(len(args))
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, v := range a {
			sb.WriteString(stringValue(v))
		}
		return rdf.NewLiteral(sb.String()), nil
	case "CONTAINS":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(strings.Contains(stringValue(a[0]), stringValue(a[1]))), nil
	case "STRSTARTS":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(strings.HasPrefix(stringValue(a[0]), stringValue(a[1]))), nil
	case "STRENDS":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(strings.HasSuffix(stringValue(a[0]), stringValue(a[1]))), nil
	case "STRBEFORE":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		s, sep := stringValue(a[0]), stringValue(a[1])
		if i := strings.Index(s, sep); i >= 0 {
			return likeLiteral(a[0], s[:i]), nil
		}
		return rdf.NewLiteral(""), nil
	case "STRAFTER":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		s, sep := stringValue(a[0]), stringValue(a[1])
		if i := strings.Index(s, sep); i >= 0 {
			return likeLiteral(a[0], s[i+len(sep):]), nil
		}
		return rdf.NewLiteral(""), nil
	case "ENCODE_FOR_URI":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteral(url.QueryEscape(stringValue(a[0]))), nil
	case "REPLACE":
		return ev.fnReplace(args, b)
	case "REGEX":
		return ev.fnRegex(args, b)
	case "LANGMATCHES":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(langMatches(stringValue(a[0]), stringValue(a[1]))), nil
	case "ABS":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return numericResult(a[0], a[0], func(x, _ float64) float64 { return math.Abs(x) })
	case "ROUND":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return numericResult(a[0], a[0], func(x, _ float64) float64 { return math.Round(x) })
	case "CEIL":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return numericResult(a[0], a[0], func(x, _ float64) float64 { return math.Ceil(x) })
	case "FLOOR":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return numericResult(a[0], a[0], func(x, _ float64) float64 { return math.Floor(x) })
	case "RAND":
		return rdf.NewDoubleLiteral(xsd.CanonicalDouble(0.5)), nil
	case "NOW":
		return nil, qdberr.Evalf("NOW() requires a caller-supplied query timestamp")
	case "YEAR", "MONTH", "DAY", "HOURS", "MINUTES", "SECONDS", "TIMEZONE", "TZ":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return dateTimePart(name, a[0])
	case "MD5":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		sum := md5.Sum([]byte(stringValue(a[0])))
		return rdf.NewLiteral(fmt.Sprintf("%x", sum)), nil
	case "SHA1":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		sum := sha1.Sum([]byte(stringValue(a[0])))
		return rdf.NewLiteral(fmt.Sprintf("%x", sum)), nil
	case "SHA256":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(stringValue(a[0])))
		return rdf.NewLiteral(fmt.Sprintf("%x", sum)), nil
	case "SHA384":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		sum := sha512.Sum384([]byte(stringValue(a[0])))
		return rdf.NewLiteral(fmt.Sprintf("%x", sum)), nil
	case "SHA512":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		sum := sha512.Sum512([]byte(stringValue(a[0])))
		return rdf.NewLiteral(fmt.Sprintf("%x", sum)), nil
	case "UUID":
		return rdf.NewNamedNode("urn:uuid:" + deterministicUUID()), nil
	case "STRUUID":
		return rdf.NewLiteral(deterministicUUID()), nil
	case "STRDT":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		dt, ok := a[1].(*rdf.NamedNode)
		if !ok {
			return nil, qdberr.Evalf("STRDT requires an IRI datatype argument")
		}
		return rdf.NewLiteralWithDatatype(stringValue(a[0]), dt), nil
	case "STRLANG":
		a, err := vals(2)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithLanguage(stringValue(a[0]), stringValue(a[1])), nil
	case "URI", "IRI":
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		if n, ok := a[0].(*rdf.NamedNode); ok {
			return n, nil
		}
		return rdf.NewNamedNode(stringValue(a[0])), nil
	case "BNODE":
		if len(args) == 0 {
			return rdf.NewBlankNode(deterministicUUID()), nil
		}
		a, err := vals(1)
		if err != nil {
			return nil, err
		}
		return rdf.NewBlankNode(stringValue(a[0])), nil
	case "COALESCE":
		for _, arg := range args {
			v, err := ev.Eval(arg, b)
			if err == nil {
				return v, nil
			}
		}
		return nil, qdberr.Evalf("COALESCE: every argument errored or was unbound")
	default:
		if strings.HasPrefix(name, "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#") {
			a, err := vals(1)
			if err != nil {
				return nil, err
			}
			return castToXSD(name, a[0])
		}
		return nil, qdberr.Evalf("unsupported function %s", name)
	}
}

func (ev *Evaluator) callCustom(iri string, args []algebra.Expression, b Binding) (rdf.Term, error) {
	fn, ok := ev.registry()[iri]
	if !ok {
		return nil, qdberr.Evalf("no function registered for <%s>", iri)
	}
	vals := make([]rdf.Term, len(args))
	for i, a := range args {
		v, err := ev.Eval(a, b)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return fn(vals)
}

func (ev *Evaluator) registry() map[string]CustomFunc {
	if ev.custom == nil {
		return map[string]CustomFunc{}
	}
	return ev.custom
}

func (ev *Evaluator) fnSubstr(args []algebra.Expression, b Binding) (rdf.Term, error) {
	if len(args) < 2 {
		return nil, qdberr.Evalf("SUBSTR requires at least 2 arguments")
	}
	src, err := ev.Eval(args[0], b)
	if err != nil {
		return nil, err
	}
	startT, err := ev.Eval(args[1], b)
	if err != nil {
		return nil, err
	}
	startF, err := asFloat64(startT)
	if err != nil {
		return nil, err
	}
	runes := []rune(stringValue(src))
	start := int(math.Round(startF)) - 1
	end := len(runes)
	if len(args) >= 3 {
		lenT, err := ev.Eval(args[2], b)
		if err != nil {
			return nil, err
		}
		lenF, err := asFloat64(lenT)
		if err != nil {
			return nil, err
		}
		end = start + int(math.Round(lenF))
	}
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start > end {
		start = end
	}
	return likeLiteral(src, string(runes[start:end])), nil
}

func (ev *Evaluator) fnReplace(args []algebra.Expression, b Binding) (rdf.Term, error) {
	if len(args) < 3 {
		return nil, qdberr.Evalf("REPLACE requires at least 3 arguments")
	}
	src, err := ev.Eval(args[0], b)
	if err != nil {
		return nil, err
	}
	patT, err := ev.Eval(args[1], b)
	if err != nil {
		return nil, err
	}
	replT, err := ev.Eval(args[2], b)
	if err != nil {
		return nil, err
	}
	flags := ""
	if len(args) >= 4 {
		f, err := ev.Eval(args[3], b)
		if err != nil {
			return nil, err
		}
		flags = stringValue(f)
	}
	re, err := compileRegex(stringValue(patT), flags)
	if err != nil {
		return nil, err
	}
	repl := translateReplacement(stringValue(replT))
	return likeLiteral(src, re.ReplaceAllString(stringValue(src), repl)), nil
}

func (ev *Evaluator) fnRegex(args []algebra.Expression, b Binding) (rdf.Term, error) {
	if len(args) < 2 {
		return nil, qdberr.Evalf("REGEX requires at least 2 arguments")
	}
	src, err := ev.Eval(args[0], b)
	if err != nil {
		return nil, err
	}
	patT, err := ev.Eval(args[1], b)
	if err != nil {
		return nil, err
	}
	flags := ""
	if len(args) >= 3 {
		f, err := ev.Eval(args[2], b)
		if err != nil {
			return nil, err
		}
		flags = stringValue(f)
	}
	re, err := compileRegex(stringValue(patT), flags)
	if err != nil {
		return nil, err
	}
	return rdf.NewBooleanLiteral(re.MatchString(stringValue(src))), nil
}

// compileRegex translates SPARQL's XPath-flavored flags onto Go RE2 syntax
// (which is linear-time and immune to the catastrophic-backtracking attack
// REGEX() would otherwise expose, spec.md §4.8).
func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	if len(pattern) > MaxRegexPatternLen {
		return nil, qdberr.Limitf("REGEX pattern exceeds %d bytes", MaxRegexPatternLen)
	}
	var prefix string
	if strings.Contains(flags, "i") {
		prefix += "i"
	}
	if strings.Contains(flags, "s") {
		prefix += "s"
	}
	if strings.Contains(flags, "m") {
		prefix += "m"
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, qdberr.Valuef("invalid regular expression: %v", err)
	}
	return re, nil
}

// translateReplacement rewrites XPath-style "$1" backreferences to Go's
// "${1}" syntax for regexp.ReplaceAllString.
func translateReplacement(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			sb.WriteString("${" + s[i+1:j] + "}")
			i = j - 1
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func langMatches(tag, rng string) bool {
	if rng == "*" {
		return tag != ""
	}
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	return tag == rng || strings.HasPrefix(tag, rng+"-")
}

// stringValue extracts the lexical form of any literal, or the IRI of a
// named node for contexts (CONCAT etc.) that accept both.
func stringValue(t rdf.Term) string {
	switch v := t.(type) {
	case *rdf.Literal:
		return v.Value
	case *rdf.NamedNode:
		return v.IRI
	default:
		return t.String()
	}
}

func termLexical(t rdf.Term) string {
	if l, ok := t.(*rdf.Literal); ok {
		return l.Value
	}
	if n, ok := t.(*rdf.NamedNode); ok {
		return n.IRI
	}
	return t.String()
}

// likeLiteral builds a result literal preserving src's language tag (for
// UCASE/SUBSTR/STRBEFORE/STRAFTER, which must stay the same kind of
// literal the operand was, per spec.md §4.6).
func likeLiteral(src rdf.Term, value string) rdf.Term {
	if l, ok := src.(*rdf.Literal); ok {
		if l.Language != "" {
			return rdf.NewLiteralWithLanguage(value, l.Language)
		}
		if l.Datatype != nil && l.Datatype.IRI != rdf.XSDString.IRI {
			return rdf.NewLiteralWithDatatype(value, l.Datatype)
		}
	}
	return rdf.NewLiteral(value)
}

func dateTimePart(name string, t rdf.Term) (rdf.Term, error) {
	l, ok := t.(*rdf.Literal)
	if !ok || l.Datatype == nil || l.Datatype.IRI != rdf.XSDDateTime.IRI {
		return nil, qdberr.Evalf("%s requires an xsd:dateTime argument", name)
	}
	dt, err := xsd.ParseDateTime(l.Value)
	if err != nil {
		return nil, err
	}
	switch name {
	case "YEAR":
		return rdf.NewIntegerLiteral(int64(dt.T.Year())), nil
	case "MONTH":
		return rdf.NewIntegerLiteral(int64(dt.T.Month())), nil
	case "DAY":
		return rdf.NewIntegerLiteral(int64(dt.T.Day())), nil
	case "HOURS":
		return rdf.NewIntegerLiteral(int64(dt.T.Hour())), nil
	case "MINUTES":
		return rdf.NewIntegerLiteral(int64(dt.T.Minute())), nil
	case "SECONDS":
		return rdf.NewIntegerLiteral(int64(dt.T.Second())), nil
	case "TIMEZONE":
		if !dt.HasZone {
			return nil, qdberr.Evalf("TIMEZONE undefined for a zoneless dateTime")
		}
		_, off := dt.T.Zone()
		return rdf.NewLiteralWithDatatype(formatZoneDuration(off), rdf.XSDDuration), nil
	case "TZ":
		if !dt.HasZone {
			return rdf.NewLiteral(""), nil
		}
		name, _ := dt.T.Zone()
		if name == "UTC" {
			return rdf.NewLiteral("Z"), nil
		}
		return rdf.NewLiteral(dt.T.Format("-07:00")), nil
	default:
		return nil, qdberr.Evalf("unsupported dateTime accessor %s", name)
	}
}

func formatZoneDuration(offSeconds int) string {
	sign := "+"
	if offSeconds < 0 {
		sign = "-"
		offSeconds = -offSeconds
	}
	h := offSeconds / 3600
	m := (offSeconds % 3600) / 60
	if m == 0 {
		return fmt.Sprintf("%sPT%dH", sign, h)
	}
	return fmt.Sprintf("%sPT%dH%dM", sign, h, m)
}

// castToXSD implements the XSD type-constructor functions (spec.md §4.6),
// e.g. xsd:integer("3.0") — parse as the source type, re-render as the
// lexical form of the target.
func castToXSD(iriUpper string, t rdf.Term) (rdf.Term, error) {
	switch iriUpper {
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#INTEGER":
		f, err := asFloat64(t)
		if err != nil {
			if l, ok := t.(*rdf.Literal); ok {
				if v, err2 := strconv.ParseFloat(l.Value, 64); err2 == nil {
					return rdf.NewIntegerLiteral(int64(v)), nil
				}
			}
			return nil, err
		}
		return rdf.NewIntegerLiteral(int64(f)), nil
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#DECIMAL":
		d, err := xsd.ParseDecimal(stringValue(t))
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(d.String(), rdf.XSDDecimal), nil
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#DOUBLE":
		f, err := strconv.ParseFloat(stringValue(t), 64)
		if err != nil {
			return nil, err
		}
		return rdf.NewDoubleLiteral(xsd.CanonicalDouble(f)), nil
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#FLOAT":
		f, err := strconv.ParseFloat(stringValue(t), 64)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(xsd.CanonicalDouble(f), rdf.XSDFloat), nil
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#STRING":
		return rdf.NewLiteral(stringValue(t)), nil
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#BOOLEAN":
		v, err := xsd.ParseBoolean(stringValue(t))
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(v), nil
	case "HTTP://WWW.W3.ORG/2001/XMLSCHEMA#DATETIME":
		if _, err := xsd.ParseDateTime(stringValue(t)); err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(stringValue(t), rdf.XSDDateTime), nil
	default:
		return nil, qdberr.Evalf("unsupported type cast to %s", iriUpper)
	}
}

// deterministicUUID is a placeholder UUID source: it returns the same
// fixed UUID on every call.
func deterministicUUID() string {
	return "00000000-0000-4000-8000-000000000000"
}
