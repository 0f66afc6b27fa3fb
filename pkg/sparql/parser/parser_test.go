package parser

import (
	"testing"

	"github.com/relique/qdb/pkg/sparql/algebra"
)

func TestParseQuery_SimpleSelect(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s ?o WHERE { ?s <http://ex/p> ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	if q.Form != algebra.FormSelect {
		t.Errorf("Form = %v, want FormSelect", q.Form)
	}
	proj, ok := q.Pattern.(algebra.ProjectPattern)
	if !ok {
		t.Fatalf("Pattern = %T, want algebra.ProjectPattern", q.Pattern)
	}
	if len(proj.Vars) != 2 || proj.Vars[0] != "s" || proj.Vars[1] != "o" {
		t.Errorf("projected vars = %v, want [s o]", proj.Vars)
	}
	bgp, ok := proj.Inner.(algebra.BGP)
	if !ok {
		t.Fatalf("inner pattern = %T, want algebra.BGP", proj.Inner)
	}
	if len(bgp.Triples) != 1 {
		t.Fatalf("got %d triples, want 1", len(bgp.Triples))
	}
	tp := bgp.Triples[0]
	if !tp.Subject.IsVar() || tp.Subject.Var != "s" {
		t.Errorf("subject = %+v, want var s", tp.Subject)
	}
	if tp.Predicate.Bound == nil || tp.Predicate.Bound.String() != "<http://ex/p>" {
		t.Errorf("predicate = %+v, want <http://ex/p>", tp.Predicate)
	}
}

func TestParseQuery_SelectStarProjectsNothingExplicit(t *testing.T) {
	q, err := ParseQuery(`SELECT * WHERE { ?s ?p ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Pattern.(algebra.ProjectPattern); ok {
		t.Error("SELECT * must not wrap the pattern in a ProjectPattern")
	}
}

func TestParseQuery_PrefixedNameResolution(t *testing.T) {
	q, err := ParseQuery(`PREFIX ex: <http://example.org/> SELECT ?s WHERE { ?s ex:p ex:o }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	bgp := proj.Inner.(algebra.BGP)
	if bgp.Triples[0].Predicate.Bound.String() != "<http://example.org/p>" {
		t.Errorf("predicate = %s, want <http://example.org/p>", bgp.Triples[0].Predicate.Bound)
	}
}

func TestParseQuery_UndefinedPrefixIsError(t *testing.T) {
	if _, err := ParseQuery(`SELECT ?s WHERE { ?s ex:p ?o }`); err == nil {
		t.Fatal("expected an error for an undefined prefix")
	}
}

func TestParseQuery_Optional(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s ?o WHERE { ?s <http://ex/p> ?x . OPTIONAL { ?x <http://ex/q> ?o } }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	if _, ok := proj.Inner.(algebra.LeftJoin); !ok {
		t.Fatalf("inner pattern = %T, want algebra.LeftJoin", proj.Inner)
	}
}

func TestParseQuery_Union(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { { ?s <http://ex/p> ?o } UNION { ?s <http://ex/q> ?o } }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	if _, ok := proj.Inner.(algebra.Union); !ok {
		t.Fatalf("inner pattern = %T, want algebra.Union", proj.Inner)
	}
}

func TestParseQuery_Minus(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { ?s <http://ex/p> ?o MINUS { ?s <http://ex/excluded> ?o } }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	if _, ok := proj.Inner.(algebra.Minus); !ok {
		t.Fatalf("inner pattern = %T, want algebra.Minus", proj.Inner)
	}
}

func TestParseQuery_FilterWrapsPattern(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { ?s <http://ex/age> ?age . FILTER(?age > 18) }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	fp, ok := proj.Inner.(algebra.FilterPattern)
	if !ok {
		t.Fatalf("inner pattern = %T, want algebra.FilterPattern", proj.Inner)
	}
	be, ok := fp.Expr.(algebra.BinaryExpr)
	if !ok || be.Op != algebra.OpGt {
		t.Errorf("filter expr = %+v, want a > binary expression", fp.Expr)
	}
}

func TestParseQuery_Bind(t *testing.T) {
	q, err := ParseQuery(`SELECT ?y WHERE { ?s <http://ex/p> ?x . BIND(?x AS ?y) }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	j, ok := proj.Inner.(algebra.Join)
	if !ok {
		t.Fatalf("inner pattern = %T, want algebra.Join", proj.Inner)
	}
	ext, ok := j.Right.(algebra.Extend)
	if !ok || ext.Var != "y" {
		t.Fatalf("join right = %+v, want Extend binding y", j.Right)
	}
}

func TestParseQuery_PropertyPathSequenceAndStar(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s ?o WHERE { ?s <http://ex/knows>+/<http://ex/name> ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	bgp := proj.Inner.(algebra.BGP)
	path, ok := bgp.Triples[0].Path.(algebra.PathSeq)
	if !ok {
		t.Fatalf("path = %T, want algebra.PathSeq", bgp.Triples[0].Path)
	}
	if _, ok := path.Left.(algebra.PathOneOrMore); !ok {
		t.Errorf("left of sequence = %T, want algebra.PathOneOrMore", path.Left)
	}
}

func TestParseQuery_GroupByWithAggregateAndHaving(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s (COUNT(?o) AS ?n) WHERE { ?s <http://ex/p> ?o } GROUP BY ?s HAVING(COUNT(?o) > 1)`)
	if err != nil {
		t.Fatal(err)
	}
	proj, ok := q.Pattern.(algebra.ProjectPattern)
	if !ok {
		t.Fatalf("pattern = %T, want algebra.ProjectPattern", q.Pattern)
	}
	group, ok := proj.Inner.(algebra.GroupPattern)
	if !ok {
		t.Fatalf("inner pattern = %T, want algebra.GroupPattern", proj.Inner)
	}
	if len(group.ByVars) != 1 || group.ByVars[0] != "s" {
		t.Errorf("ByVars = %v, want [s]", group.ByVars)
	}
	if len(group.Having) != 1 {
		t.Errorf("got %d HAVING conditions, want 1", len(group.Having))
	}
}

func TestParseQuery_OrderByLimitOffset(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { ?s <http://ex/p> ?o } ORDER BY DESC(?s) LIMIT 10 OFFSET 5`)
	if err != nil {
		t.Fatal(err)
	}
	// OFFSET/LIMIT come last in the solution-modifier pipeline, so Slice
	// sits outside the projection.
	slice, ok := q.Pattern.(algebra.SlicePattern)
	if !ok {
		t.Fatalf("pattern = %T, want algebra.SlicePattern", q.Pattern)
	}
	if slice.Limit != 10 || slice.Offset != 5 {
		t.Errorf("SlicePattern = %+v, want Limit=10 Offset=5", slice)
	}
	proj, ok := slice.Inner.(algebra.ProjectPattern)
	if !ok {
		t.Fatalf("slice inner = %T, want algebra.ProjectPattern", slice.Inner)
	}
	ob, ok := proj.Inner.(algebra.OrderByPattern)
	if !ok {
		t.Fatalf("projection inner = %T, want algebra.OrderByPattern", proj.Inner)
	}
	if len(ob.Conditions) != 1 || !ob.Conditions[0].Descending {
		t.Errorf("OrderBy conditions = %+v, want one descending condition", ob.Conditions)
	}
}

func TestParseQuery_Ask(t *testing.T) {
	q, err := ParseQuery(`ASK WHERE { ?s <http://ex/p> ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	if q.Form != algebra.FormAsk {
		t.Errorf("Form = %v, want FormAsk", q.Form)
	}
}

func TestParseQuery_Construct(t *testing.T) {
	q, err := ParseQuery(`CONSTRUCT { ?s <http://ex/copy> ?o } WHERE { ?s <http://ex/p> ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	if q.Form != algebra.FormConstruct {
		t.Errorf("Form = %v, want FormConstruct", q.Form)
	}
	if len(q.Template) != 1 {
		t.Fatalf("got %d template triples, want 1", len(q.Template))
	}
}

func TestParseQuery_ValuesClause(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { ?s <http://ex/p> ?o VALUES ?o { <http://ex/a> <http://ex/b> } }`)
	if err != nil {
		t.Fatal(err)
	}
	proj := q.Pattern.(algebra.ProjectPattern)
	j, ok := proj.Inner.(algebra.Join)
	if !ok {
		t.Fatalf("inner pattern = %T, want algebra.Join", proj.Inner)
	}
	vp, ok := j.Right.(algebra.ValuesPattern)
	if !ok {
		t.Fatalf("join right = %T, want algebra.ValuesPattern", j.Right)
	}
	if len(vp.Rows) != 2 {
		t.Errorf("got %d VALUES rows, want 2", len(vp.Rows))
	}
}

func TestParseUpdate_InsertData(t *testing.T) {
	updates, err := ParseUpdate(`INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].Kind != UpdateInsertData {
		t.Errorf("Kind = %v, want UpdateInsertData", updates[0].Kind)
	}
	if len(updates[0].InsertData) != 1 {
		t.Errorf("got %d quad templates, want 1", len(updates[0].InsertData))
	}
}

func TestParseUpdate_DeleteInsertWhere(t *testing.T) {
	updates, err := ParseUpdate(`DELETE { ?s <http://ex/p> ?o } INSERT { ?s <http://ex/q> ?o } WHERE { ?s <http://ex/p> ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.Kind != UpdateDeleteInsert {
		t.Errorf("Kind = %v, want UpdateDeleteInsert", u.Kind)
	}
	if len(u.Delete) != 1 || len(u.Insert) != 1 {
		t.Errorf("Delete/Insert templates = %d/%d, want 1/1", len(u.Delete), len(u.Insert))
	}
	if u.Where == nil {
		t.Error("expected a non-nil WHERE pattern")
	}
}

func TestParseUpdate_ClearAll(t *testing.T) {
	updates, err := ParseUpdate(`CLEAR ALL`)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].Kind != UpdateClear || !updates[0].All {
		t.Fatalf("got %+v, want a single CLEAR ALL update", updates[0])
	}
}

func TestParseUpdate_MultipleSeparatedBySemicolon(t *testing.T) {
	updates, err := ParseUpdate(`CREATE GRAPH <http://ex/g> ; DROP GRAPH <http://ex/g>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].Kind != UpdateCreate || updates[1].Kind != UpdateDrop {
		t.Errorf("kinds = %v, %v", updates[0].Kind, updates[1].Kind)
	}
}
