package results

import (
	"encoding/json"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// jsonDoc mirrors the W3C SPARQL 1.1 Query Results JSON Format
// (https://www.w3.org/TR/sparql11-results-json/).
type jsonDoc struct {
	Head    jsonHead     `json:"head"`
	Results *jsonResults `json:"results,omitempty"`
	Boolean *bool        `json:"boolean,omitempty"`
}

type jsonHead struct {
	Vars []string `json:"vars,omitempty"`
}

type jsonResults struct {
	Bindings []map[string]jsonValue `json:"bindings"`
}

type jsonValue struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

func marshalJSON(r *exec.Results) ([]byte, error) {
	if r.Form == algebra.FormAsk {
		b := r.Boolean
		return json.MarshalIndent(jsonDoc{Head: jsonHead{}, Boolean: &b}, "", "  ")
	}

	vars := resultVars(r)
	varNames := make([]string, len(vars))
	for i, v := range vars {
		varNames[i] = string(v)
	}

	bindings := make([]map[string]jsonValue, 0, len(r.Rows))
	for _, row := range r.Rows {
		b := make(map[string]jsonValue, len(row))
		for v, term := range row {
			b[string(v)] = termToJSON(term)
		}
		bindings = append(bindings, b)
	}

	return json.MarshalIndent(jsonDoc{
		Head:    jsonHead{Vars: varNames},
		Results: &jsonResults{Bindings: bindings},
	}, "", "  ")
}

func termToJSON(t rdf.Term) jsonValue {
	switch v := t.(type) {
	case *rdf.NamedNode:
		return jsonValue{Type: "uri", Value: v.IRI}
	case *rdf.BlankNode:
		return jsonValue{Type: "bnode", Value: v.ID}
	case *rdf.Literal:
		jv := jsonValue{Type: "literal", Value: v.Value}
		if v.Language != "" {
			jv.Lang = v.Language
		} else if v.Datatype != nil && v.Datatype.IRI != rdf.XSDString.IRI {
			jv.Datatype = v.Datatype.IRI
		}
		return jv
	case *rdf.QuotedTriple:
		// No standard JSON results encoding for rdf-star triple terms yet;
		// fall back to the N-Triples-style string form so the value at
		// least round-trips through STR().
		return jsonValue{Type: "triple", Value: v.String()}
	default:
		return jsonValue{Type: "literal", Value: t.String()}
	}
}
