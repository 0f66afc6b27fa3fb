package results

import (
	"encoding/csv"
	"strings"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// marshalCSV renders r per the SPARQL 1.1 CSV format
// (https://www.w3.org/TR/sparql11-results-csv-tsv/): lossy, no datatype
// information (a language-tagged literal is written as value@tag), a
// serializer-only format per spec.md §6.4.
func marshalCSV(r *exec.Results) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if r.Form == algebra.FormAsk {
		if err := w.Write([]string{"result"}); err != nil {
			return nil, err
		}
		if err := w.Write([]string{boolString(r.Boolean)}); err != nil {
			return nil, err
		}
		w.Flush()
		return []byte(b.String()), w.Error()
	}

	vars := resultVars(r)
	header := make([]string, len(vars))
	for i, v := range vars {
		header[i] = string(v)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	blanks := canonicalBlankLabels(r)
	for _, row := range r.Rows {
		rec := make([]string, len(vars))
		for i, v := range vars {
			if term, ok := row[v]; ok {
				rec[i] = termToCSV(term, blanks)
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return []byte(b.String()), w.Error()
}

func termToCSV(t rdf.Term, blanks map[string]string) string {
	switch v := t.(type) {
	case *rdf.NamedNode:
		return v.IRI
	case *rdf.BlankNode:
		if label, ok := blanks[v.ID]; ok {
			return "_:" + label
		}
		return "_:" + v.ID
	case *rdf.Literal:
		if v.Language != "" {
			return v.Value + "@" + v.Language
		}
		return v.Value
	default:
		return t.String()
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
