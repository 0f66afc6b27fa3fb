package results

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

func selectResults() *exec.Results {
	return &exec.Results{
		Form: algebra.FormSelect,
		Vars: algebra.Vars{"name", "age"},
		Rows: []exec.Binding{
			{"name": rdf.NewLiteral("alice"), "age": rdf.NewIntegerLiteral(30)},
			{"name": rdf.NewNamedNode("http://ex/bob")},
		},
	}
}

func TestParseFormat_AcceptsAliases(t *testing.T) {
	cases := map[string]Format{
		"xml":  FormatXML,
		"srx":  FormatXML,
		"json": FormatJSON,
		"srj":  FormatJSON,
		"csv":  FormatCSV,
		"tsv":  FormatTSV,
	}
	for name, want := range cases {
		got, ok := ParseFormat(name)
		if !ok || got != want {
			t.Errorf("ParseFormat(%q) = (%v, %v), want (%v, true)", name, got, ok, want)
		}
	}
	if _, ok := ParseFormat("bogus"); ok {
		t.Error("ParseFormat(\"bogus\") should report false")
	}
}

func TestMarshalJSON_SelectIncludesVarsAndBindings(t *testing.T) {
	out, err := Marshal(selectResults(), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	head := doc["head"].(map[string]any)
	vars := head["vars"].([]any)
	if len(vars) != 2 || vars[0] != "name" || vars[1] != "age" {
		t.Errorf("head.vars = %v, want [name age]", vars)
	}
	results := doc["results"].(map[string]any)
	bindings := results["bindings"].([]any)
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}
	row0 := bindings[0].(map[string]any)
	name := row0["name"].(map[string]any)
	if name["type"] != "literal" || name["value"] != "alice" {
		t.Errorf("row 0 name = %v, want literal alice", name)
	}
}

func TestMarshalJSON_AskEmitsBooleanNoResults(t *testing.T) {
	r := &exec.Results{Form: algebra.FormAsk, Boolean: true}
	out, err := Marshal(r, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["boolean"] != true {
		t.Errorf("boolean = %v, want true", doc["boolean"])
	}
	if _, ok := doc["results"]; ok {
		t.Error("an ASK document must not carry a results key")
	}
}

func TestMarshalJSON_LiteralDatatypeOmittedForPlainString(t *testing.T) {
	r := &exec.Results{
		Form: algebra.FormSelect,
		Vars: algebra.Vars{"s"},
		Rows: []exec.Binding{{"s": rdf.NewLiteral("plain")}},
	}
	out, err := Marshal(r, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "datatype") {
		t.Errorf("a plain xsd:string literal must not carry a datatype key, got:\n%s", out)
	}
}

func TestMarshalCSV_HeaderAndRows(t *testing.T) {
	out, err := Marshal(selectResults(), FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\r\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (header + 2 rows), output:\n%s", len(lines), out)
	}
	if strings.TrimRight(lines[0], "\r") != "name,age" {
		t.Errorf("header = %q, want %q", lines[0], "name,age")
	}
}

func TestMarshalCSV_Ask(t *testing.T) {
	r := &exec.Results{Form: algebra.FormAsk, Boolean: false}
	out, err := Marshal(r, FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "false") {
		t.Errorf("expected the boolean false in the CSV output, got:\n%s", out)
	}
}

func TestMarshalTSV_URIsAreAngleBracketed(t *testing.T) {
	out, err := Marshal(selectResults(), FormatTSV)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "<http://ex/bob>") {
		t.Errorf("TSV must render URIs in angle brackets, got:\n%s", out)
	}
	if !strings.HasPrefix(string(out), "?name\t?age\n") {
		t.Errorf("TSV header must prefix each variable with '?', got:\n%s", out)
	}
}

func TestMarshalTSV_NumericLiteralHasNoDatatypeSuffix(t *testing.T) {
	r := &exec.Results{
		Form: algebra.FormSelect,
		Vars: algebra.Vars{"n"},
		Rows: []exec.Binding{{"n": rdf.NewIntegerLiteral(7)}},
	}
	out, err := Marshal(r, FormatTSV)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "\n7\n") {
		t.Errorf("a numeric literal must render bare in TSV, got:\n%s", out)
	}
}

func TestMarshalXML_RoundTripsThroughStdlibDecoder(t *testing.T) {
	out, err := Marshal(selectResults(), FormatXML)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `<?xml version="1.0"`) {
		t.Error("expected an XML declaration header")
	}
	if !strings.Contains(string(out), "alice") {
		t.Errorf("expected the literal value in the XML output, got:\n%s", out)
	}
}

func TestCanonicalBlankLabels_StableFirstAppearanceOrder(t *testing.T) {
	r := &exec.Results{
		Form: algebra.FormSelect,
		Vars: algebra.Vars{"s"},
		Rows: []exec.Binding{
			{"s": rdf.NewBlankNode("xyz")},
			{"s": rdf.NewBlankNode("abc")},
			{"s": rdf.NewBlankNode("xyz")},
		},
	}
	labels := canonicalBlankLabels(r)
	if labels["xyz"] != "b0" {
		t.Errorf("first-seen blank node xyz = %q, want b0", labels["xyz"])
	}
	if labels["abc"] != "b1" {
		t.Errorf("second-seen blank node abc = %q, want b1", labels["abc"])
	}
}

func TestMarshal_UnsupportedFormatErrors(t *testing.T) {
	if _, err := Marshal(selectResults(), Format(99)); err == nil {
		t.Error("expected an error for an unrecognized Format value")
	}
}

func TestResultVars_FallsBackToSortedUnionWhenUnset(t *testing.T) {
	r := &exec.Results{
		Form: algebra.FormSelect,
		Rows: []exec.Binding{
			{"z": rdf.NewLiteral("1")},
			{"a": rdf.NewLiteral("2")},
		},
	}
	vars := resultVars(r)
	if len(vars) != 2 || vars[0] != "a" || vars[1] != "z" {
		t.Errorf("resultVars() = %v, want sorted [a z]", vars)
	}
}
