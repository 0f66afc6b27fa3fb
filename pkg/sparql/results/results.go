// Package results serializes exec.Results (SELECT/ASK solutions) into the
// four SPARQL query-results formats spec.md §6.4 names: XML (W3C), JSON
// (W3C), CSV, and TSV. Grounded on the teacher's pkg/server/results
// package (one file per format, a shared BindingValue-shaped conversion),
// generalized from the teacher's executor.SelectResult/AskResult shapes to
// exec.Results/exec.Binding and extended with the TSV format the teacher
// never implemented.
package results

import (
	"sort"

	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// Format identifies a SPARQL query-results serialization.
type Format int

const (
	FormatXML Format = iota
	FormatJSON
	FormatCSV
	FormatTSV
)

func (f Format) ContentType() string {
	switch f {
	case FormatXML:
		return "application/sparql-results+xml"
	case FormatJSON:
		return "application/sparql-results+json"
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat maps a format name (CLI flag value, media type slug) to a
// Format.
func ParseFormat(name string) (Format, bool) {
	switch name {
	case "xml", "srx":
		return FormatXML, true
	case "json", "srj":
		return FormatJSON, true
	case "csv":
		return FormatCSV, true
	case "tsv":
		return FormatTSV, true
	default:
		return 0, false
	}
}

// Marshal serializes r in format, dispatching to the format-specific
// encoder. Only SELECT and ASK results (r.Form) carry a tabular shape;
// CONSTRUCT/DESCRIBE results are RDF graphs and serialize through
// pkg/rdfio instead.
func Marshal(r *exec.Results, format Format) ([]byte, error) {
	switch format {
	case FormatXML:
		return marshalXML(r)
	case FormatJSON:
		return marshalJSON(r)
	case FormatCSV:
		return marshalCSV(r)
	case FormatTSV:
		return marshalTSV(r)
	default:
		return nil, unsupportedFormat(format)
	}
}

// resultVars recovers the ordered variable list to project: r.Vars when
// the query named one, else (SELECT *, which arrives with nil Vars) every
// variable seen across the solution set, sorted by name for determinism
// (mirrors the teacher's SELECT * fallback in each results/*.go file).
func resultVars(r *exec.Results) []algebra.Var {
	if r.Vars != nil {
		return r.Vars
	}
	seen := map[algebra.Var]bool{}
	var vars []algebra.Var
	for _, row := range r.Rows {
		for v := range row {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	return vars
}

func unsupportedFormat(f Format) error {
	return &unsupportedFormatError{f}
}

type unsupportedFormatError struct{ f Format }

func (e *unsupportedFormatError) Error() string {
	return "sparql/results: unsupported results format"
}
