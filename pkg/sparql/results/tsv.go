package results

import (
	"strconv"
	"strings"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// numericDatatypes are rendered bare in TSV (no quotes, no datatype
// suffix) per the W3C examples, mirroring the teacher's termToTSVValue.
var numericDatatypes = map[string]bool{
	rdf.XSDInteger.IRI: true,
	rdf.XSDDecimal.IRI: true,
	rdf.XSDDouble.IRI:  true,
}

func marshalTSV(r *exec.Results) ([]byte, error) {
	var b strings.Builder

	if r.Form == algebra.FormAsk {
		b.WriteString("?result\n")
		b.WriteString(boolString(r.Boolean))
		b.WriteByte('\n')
		return []byte(b.String()), nil
	}

	vars := resultVars(r)
	for i, v := range vars {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteByte('?')
		b.WriteString(string(v))
	}
	b.WriteByte('\n')

	blanks := canonicalBlankLabels(r)
	for _, row := range r.Rows {
		for i, v := range vars {
			if i > 0 {
				b.WriteByte('\t')
			}
			if term, ok := row[v]; ok {
				b.WriteString(termToTSV(term, blanks))
			}
		}
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func termToTSV(t rdf.Term, blanks map[string]string) string {
	switch v := t.(type) {
	case *rdf.NamedNode:
		return "<" + v.IRI + ">"
	case *rdf.BlankNode:
		if label, ok := blanks[v.ID]; ok {
			return "_:" + label
		}
		return "_:" + v.ID
	case *rdf.Literal:
		if v.Language != "" {
			return strconv.Quote(v.Value) + "@" + v.Language
		}
		if v.Datatype != nil && numericDatatypes[v.Datatype.IRI] {
			return v.Value
		}
		if v.Datatype != nil && v.Datatype.IRI != rdf.XSDString.IRI {
			return strconv.Quote(v.Value) + "^^<" + v.Datatype.IRI + ">"
		}
		return strconv.Quote(v.Value)
	default:
		return t.String()
	}
}
